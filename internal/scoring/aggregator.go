// Package scoring computes weighted composite scores from canonical
// applicant records.
package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scorer evaluates one variable's raw value against its score bands.
type Scorer interface {
	Score(id string, raw any) (float64, bool, error)
}

// Aggregator produces scored records. The weight configuration's key set
// defines the active variable set for a request; definitions come from
// the scorer.
type Aggregator struct {
	scorer Scorer
}

// NewAggregator creates an aggregator backed by the given scorer.
func NewAggregator(scorer Scorer) *Aggregator {
	return &Aggregator{scorer: scorer}
}

// Aggregate scores one canonical record against a weight configuration.
//
// Per active variable: a missing or nil input takes the configured
// fallback score ("fallback_applied") or 0.0 ("missing_field"); a present
// value that matches no band scores 0.0 ("invalid_value"); otherwise the
// band score applies ("scored"). Every active variable keeps its weight
// in the denominator regardless of reason, so missing data always drags
// the composite down instead of silently renormalizing.
//
// The final score is (weighted sum / total weight) x 100, clamped to
// [0, 100] and rounded to two decimals. An unknown variable id in the
// weight configuration is a configuration error and aborts the record.
// The returned record is deterministic: identity, timestamps and
// processing metadata are attached by the caller.
func (a *Aggregator) Aggregate(canonical domain.CanonicalRecord, weights domain.WeightConfiguration, fallbacks domain.FallbackTable) (*domain.ScoredRecord, error) {
	totalWeight := weights.Total()
	if len(weights) == 0 || totalWeight <= 0 {
		return nil, fmt.Errorf("%w: active weight set is empty or sums to zero", domain.ErrEmptyConfiguration)
	}

	scores := make(map[string]domain.VariableScore, len(weights))
	var weightedSum float64

	for id, weight := range weights {
		raw, present := canonical[id]
		if !present || raw == nil {
			score, reason := 0.0, domain.ReasonMissingField
			if fb, ok := fallbacks[id]; ok {
				score, reason = fb, domain.ReasonFallbackApplied
			}
			scores[id] = domain.VariableScore{
				Score:         score,
				Weight:        weight,
				WeightedScore: score * weight,
				Reason:        reason,
			}
			weightedSum += score * weight
			continue
		}

		score, matched, err := a.scorer.Score(id, raw)
		if err != nil {
			return nil, fmt.Errorf("scoring %s: %w", id, err)
		}
		reason := domain.ReasonScored
		if !matched {
			score, reason = 0.0, domain.ReasonInvalidValue
		}
		scores[id] = domain.VariableScore{
			Value:         raw,
			Score:         score,
			Weight:        weight,
			WeightedScore: score * weight,
			Reason:        reason,
		}
		weightedSum += score * weight
	}

	final := weightedSum / totalWeight * 100
	final = math.Round(final*100) / 100
	if final < 0 {
		final = 0
	} else if final > 100 {
		final = 100
	}

	return &domain.ScoredRecord{
		FinalScore:  final,
		TotalWeight: totalWeight,
		Scores:      scores,
	}, nil
}
