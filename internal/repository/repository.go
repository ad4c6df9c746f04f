// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveVariableDefinition upserts a variable definition in the shared catalog.
func (r *SQLRepository) SaveVariableDefinition(ctx context.Context, def *domain.VariableDefinition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("%w: variable id is required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(def.Bands)

	enabled := 0
	if def.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO variable_definitions (
			id, name, category, data_type, default_weight, bands, rationale, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			data_type = excluded.data_type,
			default_weight = excluded.default_weight,
			bands = excluded.bands,
			rationale = excluded.rationale,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		def.ID, def.Name, def.Category, def.DataType,
		def.DefaultWeight, string(bands), def.Rationale, enabled,
		now, now,
	)
	return err
}

// GetVariableDefinition retrieves a variable definition by id.
func (r *SQLRepository) GetVariableDefinition(ctx context.Context, id string) (*domain.VariableDefinition, error) {
	query := `
		SELECT id, name, category, data_type, default_weight, bands, rationale, enabled, created_at, updated_at
		FROM variable_definitions
		WHERE id = ?
	`

	var def domain.VariableDefinition
	var bands string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&def.ID, &def.Name, &def.Category, &def.DataType,
		&def.DefaultWeight, &bands, &def.Rationale, &enabled,
		&def.CreatedAt, &def.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	def.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(bands), &def.Bands); err != nil {
		return nil, fmt.Errorf("failed to parse bands for %s: %w", def.ID, err)
	}

	return &def, nil
}

// ListVariableDefinitions retrieves all variable definitions.
func (r *SQLRepository) ListVariableDefinitions(ctx context.Context) ([]*domain.VariableDefinition, error) {
	query := `
		SELECT id, name, category, data_type, default_weight, bands, rationale, enabled, created_at, updated_at
		FROM variable_definitions
		ORDER BY category, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*domain.VariableDefinition
	for rows.Next() {
		var def domain.VariableDefinition
		var bands string
		var enabled int

		if err := rows.Scan(
			&def.ID, &def.Name, &def.Category, &def.DataType,
			&def.DefaultWeight, &bands, &def.Rationale, &enabled,
			&def.CreatedAt, &def.UpdatedAt,
		); err != nil {
			return nil, err
		}

		def.Enabled = enabled == 1
		if err := json.Unmarshal([]byte(bands), &def.Bands); err != nil {
			return nil, fmt.Errorf("failed to parse bands for %s: %w", def.ID, err)
		}
		defs = append(defs, &def)
	}

	return defs, rows.Err()
}

// SaveWeightConfig stores a company's weight configuration.
func (r *SQLRepository) SaveWeightConfig(ctx context.Context, companyID string, weights domain.WeightConfiguration) error {
	if companyID == "" {
		return fmt.Errorf("%w: companyID is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(weights)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}

	query := `
		INSERT INTO weight_configs (company_id, weights, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(company_id) DO UPDATE SET
			weights = excluded.weights,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), companyID, string(payload), time.Now().UTC())
	return err
}

// GetWeightConfig retrieves a company's weight configuration.
func (r *SQLRepository) GetWeightConfig(ctx context.Context, companyID string) (domain.WeightConfiguration, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: companyID is required", ErrInvalidInput)
	}

	query := `SELECT weights FROM weight_configs WHERE company_id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), companyID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var weights domain.WeightConfiguration
	if err := json.Unmarshal([]byte(payload), &weights); err != nil {
		return nil, fmt.Errorf("failed to parse weight configuration: %w", err)
	}
	return weights, nil
}

// SaveFallbackTable stores a company's fallback-score table.
func (r *SQLRepository) SaveFallbackTable(ctx context.Context, companyID string, fallbacks domain.FallbackTable) error {
	if companyID == "" {
		return fmt.Errorf("%w: companyID is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(fallbacks)
	if err != nil {
		return fmt.Errorf("failed to encode fallbacks: %w", err)
	}

	query := `
		INSERT INTO fallback_tables (company_id, fallbacks, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(company_id) DO UPDATE SET
			fallbacks = excluded.fallbacks,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), companyID, string(payload), time.Now().UTC())
	return err
}

// GetFallbackTable retrieves a company's fallback-score table.
func (r *SQLRepository) GetFallbackTable(ctx context.Context, companyID string) (domain.FallbackTable, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: companyID is required", ErrInvalidInput)
	}

	query := `SELECT fallbacks FROM fallback_tables WHERE company_id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), companyID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var fallbacks domain.FallbackTable
	if err := json.Unmarshal([]byte(payload), &fallbacks); err != nil {
		return nil, fmt.Errorf("failed to parse fallback table: %w", err)
	}
	return fallbacks, nil
}

// SaveFieldMapping stores a partner's field mapping with company isolation.
func (r *SQLRepository) SaveFieldMapping(ctx context.Context, companyID string, partnerID string, mapping domain.FieldMapping) error {
	if companyID == "" || partnerID == "" {
		return fmt.Errorf("%w: companyID and partnerID are required", ErrInvalidInput)
	}

	payload, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to encode mapping: %w", err)
	}

	query := `
		INSERT INTO field_mappings (company_id, partner_id, mapping, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(company_id, partner_id) DO UPDATE SET
			mapping = excluded.mapping,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), companyID, partnerID, string(payload), time.Now().UTC())
	return err
}

// GetFieldMapping retrieves a partner's field mapping with company isolation.
func (r *SQLRepository) GetFieldMapping(ctx context.Context, companyID string, partnerID string) (domain.FieldMapping, error) {
	if companyID == "" || partnerID == "" {
		return nil, fmt.Errorf("%w: companyID and partnerID are required", ErrInvalidInput)
	}

	query := `SELECT mapping FROM field_mappings WHERE company_id = ? AND partner_id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), companyID, partnerID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var mapping domain.FieldMapping
	if err := json.Unmarshal([]byte(payload), &mapping); err != nil {
		return nil, fmt.Errorf("failed to parse field mapping: %w", err)
	}
	return mapping, nil
}

// SaveClearanceRule upserts a clearance rule with company isolation.
func (r *SQLRepository) SaveClearanceRule(ctx context.Context, companyID string, rule *domain.ClearanceRule) error {
	if companyID == "" {
		return fmt.Errorf("%w: companyID is required", ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO clearance_rules (
			id, company_id, name, description, version, expression, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, company_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, companyID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Reason, enabled,
		now, now,
	)
	return err
}

// GetClearanceRule retrieves a clearance rule with company isolation.
func (r *SQLRepository) GetClearanceRule(ctx context.Context, companyID string, ruleID string) (*domain.ClearanceRule, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: companyID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, company_id, name, description, version, expression, reason, enabled
		FROM clearance_rules
		WHERE company_id = ? AND id = ?
	`

	var rule domain.ClearanceRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), companyID, ruleID).Scan(
		&rule.ID, &rule.CompanyID, &rule.Name, &rule.Description,
		&rule.Version, &rule.Expression, &rule.Reason, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	return &rule, nil
}

// ListClearanceRules retrieves all active clearance rules for a company.
func (r *SQLRepository) ListClearanceRules(ctx context.Context, companyID string) ([]*domain.ClearanceRule, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: companyID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, company_id, name, description, version, expression, reason, enabled
		FROM clearance_rules
		WHERE company_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ClearanceRule
	for rows.Next() {
		var rule domain.ClearanceRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.CompanyID, &rule.Name, &rule.Description,
			&rule.Version, &rule.Expression, &rule.Reason, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteClearanceRule soft-deletes a rule by setting enabled = 0.
func (r *SQLRepository) DeleteClearanceRule(ctx context.Context, companyID string, ruleID string) error {
	if companyID == "" {
		return fmt.Errorf("%w: companyID is required", ErrInvalidInput)
	}

	query := `
		UPDATE clearance_rules
		SET enabled = 0, updated_at = ?
		WHERE company_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), companyID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveScoredRecord stores a scored record with company isolation.
func (r *SQLRepository) SaveScoredRecord(ctx context.Context, companyID string, record *domain.ScoredRecord) error {
	if companyID == "" {
		return fmt.Errorf("%w: companyID is required", ErrInvalidInput)
	}
	if record == nil || record.ID == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidInput)
	}

	scores, _ := json.Marshal(record.Scores)
	decision, _ := json.Marshal(record.Decision)
	metadata, _ := json.Marshal(record.Metadata)

	query := `
		INSERT INTO scored_records (
			id, company_id, partner_id, final_score, total_weight,
			scores, decision, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		record.ID, companyID, record.PartnerID,
		record.FinalScore, record.TotalWeight,
		string(scores), string(decision), record.Timestamp, string(metadata),
	)
	return err
}

// GetScoredRecord retrieves a scored record by id with company isolation.
func (r *SQLRepository) GetScoredRecord(ctx context.Context, companyID string, recordID string) (*domain.ScoredRecord, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: companyID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, company_id, partner_id, final_score, total_weight,
			   scores, decision, timestamp, metadata
		FROM scored_records
		WHERE company_id = ? AND id = ?
	`

	var record domain.ScoredRecord
	var scores, decision, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), companyID, recordID).Scan(
		&record.ID, &record.CompanyID, &record.PartnerID,
		&record.FinalScore, &record.TotalWeight,
		&scores, &decision, &record.Timestamp, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(scores), &record.Scores); err != nil {
		return nil, fmt.Errorf("failed to parse scores for %s: %w", record.ID, err)
	}
	if decision != "" && decision != "null" {
		json.Unmarshal([]byte(decision), &record.Decision)
	}
	json.Unmarshal([]byte(metadata), &record.Metadata)

	return &record, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
