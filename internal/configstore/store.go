// Package configstore assembles per-request scoring configuration.
//
// It sits between the API layer and the repository: reads are served from
// cached snapshots where possible, and companies with no stored
// configuration fall back to the deployment defaults (the scorecard
// bundle's sections when one is loaded, else the built-in scorecard).
// Writes go through to the repository and invalidate affected snapshots.
package configstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/registry"
)

// Store provides read-through configuration access with snapshot caching.
type Store struct {
	repo   domain.Repository
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger

	// Deployment-wide defaults, set from the scorecard bundle at startup.
	// They apply to companies with no stored configuration of their own;
	// unset values fall through to the built-in scorecard. An empty
	// threshold matrix means the classifier's builtin matrix applies.
	thresholds       []domain.ScoreThreshold
	defaultWeights   domain.WeightConfiguration
	defaultFallbacks domain.FallbackTable
	defaultRules     []*domain.ClearanceRule

	// Partner ids seen per company, so company-wide configuration writes
	// can invalidate every partner snapshot this node has cached. On other
	// nodes staleness is bounded by the snapshot TTL.
	mu       sync.Mutex
	partners map[string]map[string]struct{}
}

// SetDefaultThresholds installs a deployment-wide decision matrix applied
// to every snapshot. Call before serving traffic.
func (s *Store) SetDefaultThresholds(thresholds []domain.ScoreThreshold) {
	s.thresholds = thresholds
}

// SetDefaultWeights installs the deployment-wide weight configuration
// used for companies with no stored one. Call before serving traffic.
func (s *Store) SetDefaultWeights(weights domain.WeightConfiguration) {
	s.defaultWeights = weights
}

// SetDefaultFallbacks installs the deployment-wide fallback table used
// for companies with no stored one. Call before serving traffic.
func (s *Store) SetDefaultFallbacks(fallbacks domain.FallbackTable) {
	s.defaultFallbacks = fallbacks
}

// SetDefaultRules installs the deployment-wide clearance rules applied to
// companies with no stored rules. Call before serving traffic.
func (s *Store) SetDefaultRules(rules []*domain.ClearanceRule) {
	s.defaultRules = rules
}

// New creates a configuration store. A zero ttl defaults to five minutes.
func New(repo domain.Repository, cache domain.Cache, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:     repo,
		cache:    cache,
		ttl:      ttl,
		logger:   logger,
		partners: make(map[string]map[string]struct{}),
	}
}

// Snapshot returns the scoring configuration for one company/partner pair.
// The result is an independent copy; callers may score against it while
// configuration writes proceed concurrently.
func (s *Store) Snapshot(ctx context.Context, companyID, partnerID string) (*domain.ScoringSnapshot, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: companyID is required", domain.ErrInvalidInput)
	}

	if snap, err := s.cache.GetSnapshot(ctx, companyID, partnerID); err == nil && snap != nil {
		return snap, nil
	} else if err != nil {
		s.logger.Warn("snapshot cache read failed", "company_id", companyID, "error", err)
	}

	snap, err := s.build(ctx, companyID, partnerID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetSnapshot(ctx, companyID, partnerID, snap, s.ttl); err != nil {
		s.logger.Warn("snapshot cache write failed", "company_id", companyID, "error", err)
	}
	s.rememberPartner(companyID, partnerID)

	return snap, nil
}

func (s *Store) build(ctx context.Context, companyID, partnerID string) (*domain.ScoringSnapshot, error) {
	weights, err := s.GetWeights(ctx, companyID)
	if err != nil {
		return nil, err
	}

	fallbacks, err := s.GetFallbacks(ctx, companyID)
	if err != nil {
		return nil, err
	}

	mapping, err := s.GetMapping(ctx, companyID, partnerID)
	if err != nil {
		return nil, err
	}

	rules, err := s.EffectiveClearanceRules(ctx, companyID)
	if err != nil {
		return nil, err
	}

	return &domain.ScoringSnapshot{
		Weights:    weights,
		Fallbacks:  fallbacks,
		Mapping:    mapping,
		Rules:      rules,
		Thresholds: s.thresholds,
	}, nil
}

// GetWeights returns the company's weight configuration, or the built-in
// default weights when none is stored.
func (s *Store) GetWeights(ctx context.Context, companyID string) (domain.WeightConfiguration, error) {
	weights, err := s.repo.GetWeightConfig(ctx, companyID)
	if errors.Is(err, domain.ErrNotFound) {
		if len(s.defaultWeights) > 0 {
			return s.defaultWeights.Clone(), nil
		}
		return registry.DefaultWeights(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading weight config: %w", err)
	}
	return weights, nil
}

// PutWeights stores a weight configuration and invalidates cached snapshots.
func (s *Store) PutWeights(ctx context.Context, companyID string, weights domain.WeightConfiguration) error {
	if err := s.repo.SaveWeightConfig(ctx, companyID, weights); err != nil {
		return err
	}
	s.invalidateCompany(ctx, companyID)
	return nil
}

// GetFallbacks returns the company's fallback table, or the built-in
// defaults when none is stored.
func (s *Store) GetFallbacks(ctx context.Context, companyID string) (domain.FallbackTable, error) {
	fallbacks, err := s.repo.GetFallbackTable(ctx, companyID)
	if errors.Is(err, domain.ErrNotFound) {
		if len(s.defaultFallbacks) > 0 {
			out := make(domain.FallbackTable, len(s.defaultFallbacks))
			for id, score := range s.defaultFallbacks {
				out[id] = score
			}
			return out, nil
		}
		return registry.DefaultFallbacks(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading fallback table: %w", err)
	}
	return fallbacks, nil
}

// PutFallbacks stores a fallback table and invalidates cached snapshots.
func (s *Store) PutFallbacks(ctx context.Context, companyID string, fallbacks domain.FallbackTable) error {
	if err := s.repo.SaveFallbackTable(ctx, companyID, fallbacks); err != nil {
		return err
	}
	s.invalidateCompany(ctx, companyID)
	return nil
}

// GetMapping returns the field mapping for a partner. A partner without a
// stored mapping gets an empty one, which passes canonical field names
// through unchanged.
func (s *Store) GetMapping(ctx context.Context, companyID, partnerID string) (domain.FieldMapping, error) {
	mapping, err := s.repo.GetFieldMapping(ctx, companyID, partnerID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading field mapping: %w", err)
	}
	return mapping, nil
}

// PutMapping stores a partner field mapping and invalidates that partner's
// cached snapshot.
func (s *Store) PutMapping(ctx context.Context, companyID, partnerID string, mapping domain.FieldMapping) error {
	if err := s.repo.SaveFieldMapping(ctx, companyID, partnerID, mapping); err != nil {
		return err
	}
	if err := s.cache.DeleteSnapshot(ctx, companyID, partnerID); err != nil {
		s.logger.Warn("snapshot invalidation failed", "company_id", companyID, "partner_id", partnerID, "error", err)
	}
	s.rememberPartner(companyID, partnerID)
	return nil
}

// ListClearanceRules returns the company's stored clearance rules.
func (s *Store) ListClearanceRules(ctx context.Context, companyID string) ([]*domain.ClearanceRule, error) {
	return s.repo.ListClearanceRules(ctx, companyID)
}

// EffectiveClearanceRules returns the rules that actually apply to a
// company: its stored rules, or the deployment defaults when it has
// stored none. Storing any rule replaces the default set entirely.
func (s *Store) EffectiveClearanceRules(ctx context.Context, companyID string) ([]*domain.ClearanceRule, error) {
	rules, err := s.repo.ListClearanceRules(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("loading clearance rules: %w", err)
	}
	if len(rules) == 0 {
		return s.defaultRules, nil
	}
	return rules, nil
}

// PutClearanceRule stores a clearance rule and invalidates cached snapshots.
func (s *Store) PutClearanceRule(ctx context.Context, companyID string, rule *domain.ClearanceRule) error {
	if err := s.repo.SaveClearanceRule(ctx, companyID, rule); err != nil {
		return err
	}
	s.invalidateCompany(ctx, companyID)
	return nil
}

// DeleteClearanceRule removes a clearance rule and invalidates cached
// snapshots.
func (s *Store) DeleteClearanceRule(ctx context.Context, companyID, ruleID string) error {
	if err := s.repo.DeleteClearanceRule(ctx, companyID, ruleID); err != nil {
		return err
	}
	s.invalidateCompany(ctx, companyID)
	return nil
}

// InvalidateSnapshots drops every cached snapshot this node holds for the
// company. Configuration writes through this store already do so; the
// method exists for picking up out-of-band database edits before the
// snapshot TTL expires.
func (s *Store) InvalidateSnapshots(ctx context.Context, companyID string) {
	s.invalidateCompany(ctx, companyID)
}

func (s *Store) rememberPartner(companyID, partnerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.partners[companyID]
	if !ok {
		set = make(map[string]struct{})
		s.partners[companyID] = set
	}
	set[partnerID] = struct{}{}
}

func (s *Store) invalidateCompany(ctx context.Context, companyID string) {
	s.mu.Lock()
	partnerIDs := make([]string, 0, len(s.partners[companyID])+1)
	partnerIDs = append(partnerIDs, "")
	for partnerID := range s.partners[companyID] {
		partnerIDs = append(partnerIDs, partnerID)
	}
	s.mu.Unlock()

	for _, partnerID := range partnerIDs {
		if err := s.cache.DeleteSnapshot(ctx, companyID, partnerID); err != nil {
			s.logger.Warn("snapshot invalidation failed", "company_id", companyID, "partner_id", partnerID, "error", err)
		}
	}
}
