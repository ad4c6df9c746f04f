package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaVariableDefinitions = `
CREATE TABLE IF NOT EXISTS variable_definitions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    category TEXT,
    data_type TEXT NOT NULL,
    default_weight REAL NOT NULL DEFAULT 0,
    bands TEXT NOT NULL,
    rationale TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_variable_definitions_enabled ON variable_definitions(enabled);
CREATE INDEX IF NOT EXISTS idx_variable_definitions_category ON variable_definitions(category);
`

const schemaWeightConfigs = `
CREATE TABLE IF NOT EXISTS weight_configs (
    company_id TEXT PRIMARY KEY,
    weights TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaFallbackTables = `
CREATE TABLE IF NOT EXISTS fallback_tables (
    company_id TEXT PRIMARY KEY,
    fallbacks TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaFieldMappings = `
CREATE TABLE IF NOT EXISTS field_mappings (
    company_id TEXT NOT NULL,
    partner_id TEXT NOT NULL,
    mapping TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (company_id, partner_id)
);

CREATE INDEX IF NOT EXISTS idx_field_mappings_company ON field_mappings(company_id);
`

const schemaClearanceRules = `
CREATE TABLE IF NOT EXISTS clearance_rules (
    id TEXT NOT NULL,
    company_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT,
    expression TEXT NOT NULL,
    reason TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, company_id)
);

CREATE INDEX IF NOT EXISTS idx_clearance_rules_company ON clearance_rules(company_id);
CREATE INDEX IF NOT EXISTS idx_clearance_rules_enabled ON clearance_rules(company_id, enabled);
`

const schemaScoredRecords = `
CREATE TABLE IF NOT EXISTS scored_records (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    partner_id TEXT,
    final_score REAL NOT NULL,
    total_weight REAL NOT NULL,
    scores TEXT NOT NULL,
    decision TEXT,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scored_records_company ON scored_records(company_id);
CREATE INDEX IF NOT EXISTS idx_scored_records_partner ON scored_records(company_id, partner_id);
CREATE INDEX IF NOT EXISTS idx_scored_records_timestamp ON scored_records(company_id, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaVariableDefinitions,
		schemaWeightConfigs,
		schemaFallbackTables,
		schemaFieldMappings,
		schemaClearanceRules,
		schemaScoredRecords,
	}
}
