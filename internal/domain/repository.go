package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All per-company methods require companyID for strict multi-tenancy
// isolation; variable definitions are shared across companies.
type Repository interface {
	// Variable definition operations (shared scorecard catalog)
	SaveVariableDefinition(ctx context.Context, def *VariableDefinition) error
	GetVariableDefinition(ctx context.Context, id string) (*VariableDefinition, error)
	ListVariableDefinitions(ctx context.Context) ([]*VariableDefinition, error)

	// Weight configuration operations
	SaveWeightConfig(ctx context.Context, companyID string, weights WeightConfiguration) error
	GetWeightConfig(ctx context.Context, companyID string) (WeightConfiguration, error)

	// Fallback score table operations
	SaveFallbackTable(ctx context.Context, companyID string, fallbacks FallbackTable) error
	GetFallbackTable(ctx context.Context, companyID string) (FallbackTable, error)

	// Field mapping operations, keyed by partner
	SaveFieldMapping(ctx context.Context, companyID string, partnerID string, mapping FieldMapping) error
	GetFieldMapping(ctx context.Context, companyID string, partnerID string) (FieldMapping, error)

	// Clearance rule operations
	SaveClearanceRule(ctx context.Context, companyID string, rule *ClearanceRule) error
	GetClearanceRule(ctx context.Context, companyID string, ruleID string) (*ClearanceRule, error)
	ListClearanceRules(ctx context.Context, companyID string) ([]*ClearanceRule, error)
	DeleteClearanceRule(ctx context.Context, companyID string, ruleID string) error

	// Scored record operations
	SaveScoredRecord(ctx context.Context, companyID string, record *ScoredRecord) error
	GetScoredRecord(ctx context.Context, companyID string, recordID string) (*ScoredRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
