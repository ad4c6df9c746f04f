package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require companyID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, companyID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, companyID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, companyID string, key string) error

	// GetSnapshot retrieves a cached scoring snapshot.
	GetSnapshot(ctx context.Context, companyID string, partnerID string) (*ScoringSnapshot, error)

	// SetSnapshot caches a scoring snapshot for request processing.
	SetSnapshot(ctx context.Context, companyID string, partnerID string, snap *ScoringSnapshot, ttl time.Duration) error

	// DeleteSnapshot invalidates a cached snapshot after a configuration write.
	DeleteSnapshot(ctx context.Context, companyID string, partnerID string) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for windowed volume counters (e.g., records scored per day).
	IncrementCounter(ctx context.Context, companyID string, key string, window time.Duration) (int64, error)

	// GetCounter reads a counter without incrementing it.
	// Returns 0 for an expired or never-incremented counter.
	GetCounter(ctx context.Context, companyID string, key string) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
