// Package batch scores slices of raw records against a single
// configuration snapshot with bounded parallelism.
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// DefaultConcurrency bounds in-flight record evaluations per batch.
const DefaultConcurrency = 8

// Processor scores batches through the shared pipeline.
type Processor struct {
	pipeline    *pipeline.Pipeline
	concurrency int
}

// NewProcessor creates a batch processor. concurrency <= 0 takes the default.
func NewProcessor(p *pipeline.Pipeline, concurrency int) *Processor {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Processor{pipeline: p, concurrency: concurrency}
}

// Outcome is one batch entry's result, at the same index as its input.
type Outcome struct {
	Index  int                  `json:"index"`
	Record *domain.ScoredRecord `json:"record,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// ScoreBatch scores records in input order against one snapshot.
//
// The snapshot is validated once up front, so configuration errors abort
// the whole batch before any record is scored. Per-record problems never
// abort the batch; they land in that entry's Error field. Output is
// parallel to input regardless of evaluation order.
func (b *Processor) ScoreBatch(ctx context.Context, companyID, partnerID string, records []domain.RawRecord, snap *domain.ScoringSnapshot) ([]Outcome, error) {
	if err := b.pipeline.ValidateSnapshot(snap); err != nil {
		return nil, fmt.Errorf("batch configuration: %w", err)
	}

	outcomes := make([]Outcome, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, raw := range records {
		i, raw := i, raw
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = Outcome{Index: i, Error: err.Error()}
				return nil
			}
			rec, err := b.pipeline.Evaluate(gctx, &pipeline.Input{
				CompanyID: companyID,
				PartnerID: partnerID,
				Raw:       raw,
				Snapshot:  snap,
			})
			if err != nil {
				outcomes[i] = Outcome{Index: i, Error: err.Error()}
				return nil
			}
			outcomes[i] = Outcome{Index: i, Record: rec}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
