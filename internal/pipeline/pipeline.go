// Package pipeline wires the mapper, clearance engine, aggregator and
// classifier into the end-to-end scoring flow for one applicant record.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/clearance"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/mapper"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// EngineVersion is stamped into every scored record's metadata.
const EngineVersion = "kestrel-1.0"

// Pipeline executes the scoring flow: map fields, evaluate the snapshot's
// clearance rules, aggregate the weighted score, classify the decision.
// All rule configuration comes from the snapshot, so concurrent
// configuration writes never change an in-flight evaluation.
type Pipeline struct {
	registry   *registry.Registry
	aggregator *scoring.Aggregator
	clearance  *clearance.Engine
	logger     *slog.Logger
}

// New creates a pipeline over a shared registry and clearance engine.
func New(reg *registry.Registry, eng *clearance.Engine, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry:   reg,
		aggregator: scoring.NewAggregator(reg),
		clearance:  eng,
		logger:     logger,
	}
}

// Registry returns the variable registry backing this pipeline.
func (p *Pipeline) Registry() *registry.Registry {
	return p.registry
}

// Clearance returns the clearance engine backing this pipeline.
func (p *Pipeline) Clearance() *clearance.Engine {
	return p.clearance
}

// Input carries one raw record plus the configuration snapshot it is
// scored under.
type Input struct {
	CompanyID string
	PartnerID string
	TraceID   string
	Raw       domain.RawRecord
	Snapshot  *domain.ScoringSnapshot
	StartTime time.Time
}

// ValidateSnapshot checks the configuration parts of a snapshot without
// touching any record: the field mapping must resolve and the weight set
// must be non-empty with only registered variable ids. Batch callers run
// this once so configuration errors abort before the first record.
func (p *Pipeline) ValidateSnapshot(snap *domain.ScoringSnapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", domain.ErrEmptyConfiguration)
	}
	if len(snap.Weights) == 0 || snap.Weights.Total() <= 0 {
		return fmt.Errorf("%w: active weight set is empty or sums to zero", domain.ErrEmptyConfiguration)
	}
	for id := range snap.Weights {
		if _, err := p.registry.Lookup(id); err != nil {
			return fmt.Errorf("weight configuration: %w", err)
		}
	}
	if _, err := mapper.New(snap.Mapping, p.registry); err != nil {
		return err
	}
	return nil
}

// Evaluate scores one raw record end to end and returns the complete
// scored record with its decision attached.
func (p *Pipeline) Evaluate(ctx context.Context, in *Input) (*domain.ScoredRecord, error) {
	start := in.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	m, err := mapper.New(in.Snapshot.Mapping, p.registry)
	if err != nil {
		return nil, err
	}
	canonical := m.Apply(in.Raw)

	fired, clearErr := p.clearance.EvaluateRules(ctx, in.Snapshot.Rules, canonical)
	if clearErr != nil {
		// Rules that evaluated cleanly still count
		p.logger.Warn("clearance evaluation errors",
			"company_id", in.CompanyID,
			"error", clearErr)
	}

	scoringStart := time.Now()
	scored, err := p.aggregator.Aggregate(canonical, in.Snapshot.Weights, in.Snapshot.Fallbacks)
	if err != nil {
		return nil, err
	}
	scoringMs := time.Since(scoringStart).Milliseconds()

	decisionStart := time.Now()
	scored.Decision = decision.Classify(scored, fired, in.Snapshot.Thresholds)
	decisionMs := time.Since(decisionStart).Milliseconds()

	scored.ID = uuid.New().String()
	scored.CompanyID = in.CompanyID
	scored.PartnerID = in.PartnerID
	scored.Timestamp = time.Now().UTC()
	scored.Metadata = domain.RecordMetadata{
		TraceID:            in.TraceID,
		ScoringMs:          scoringMs,
		DecisionMs:         decisionMs,
		TotalMs:            time.Since(start).Milliseconds(),
		VariablesEvaluated: len(scored.Scores),
		EngineVersion:      EngineVersion,
	}

	return scored, nil
}
