package scoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/registry"
)

func TestAggregatePartialRecord(t *testing.T) {
	agg := NewAggregator(registry.NewWithDefaults())

	// credit_score 720 scores 0.8 at weight 12, foir 35 scores 1.0 at
	// weight 7, the remaining 81 points of weight are missing with no
	// fallbacks. Expect (0.8*12 + 1.0*7) / 100 * 100 = 16.6.
	weights := domain.WeightConfiguration{
		"credit_score":        12,
		"foir":                7,
		"monthly_income":      40,
		"avg_monthly_balance": 41,
	}
	canonical := domain.CanonicalRecord{
		"credit_score": 720,
		"foir":         35.0,
	}

	rec, err := agg.Aggregate(canonical, weights, nil)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if rec.FinalScore != 16.6 {
		t.Errorf("final score = %v, want 16.6", rec.FinalScore)
	}
	if rec.TotalWeight != 100 {
		t.Errorf("total weight = %v, want 100", rec.TotalWeight)
	}
	if rec.Scores["credit_score"].Reason != domain.ReasonScored {
		t.Errorf("credit_score reason = %s, want scored", rec.Scores["credit_score"].Reason)
	}
	if rec.Scores["foir"].Score != 1.0 {
		t.Errorf("foir score = %v, want 1.0", rec.Scores["foir"].Score)
	}
	if rec.Scores["monthly_income"].Reason != domain.ReasonMissingField {
		t.Errorf("monthly_income reason = %s, want missing_field", rec.Scores["monthly_income"].Reason)
	}

	degraded := rec.DegradedReasons()
	want := []string{
		"avg_monthly_balance: missing_field",
		"monthly_income: missing_field",
	}
	if len(degraded) != len(want) {
		t.Fatalf("degraded reasons = %v, want %v", degraded, want)
	}
	for i := range want {
		if degraded[i] != want[i] {
			t.Errorf("degraded[%d] = %q, want %q", i, degraded[i], want[i])
		}
	}
}

func TestAggregateAllMissing(t *testing.T) {
	agg := NewAggregator(registry.NewWithDefaults())

	rec, err := agg.Aggregate(domain.CanonicalRecord{}, domain.WeightConfiguration{
		"credit_score": 11,
		"foir":         7,
	}, nil)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if rec.FinalScore != 0 {
		t.Errorf("final score = %v, want 0", rec.FinalScore)
	}
	for id, vs := range rec.Scores {
		if vs.Reason != domain.ReasonMissingField {
			t.Errorf("%s reason = %s, want missing_field", id, vs.Reason)
		}
	}
}

func TestAggregateFallback(t *testing.T) {
	reg := registry.New()
	reg.Load([]*domain.VariableDefinition{
		{ID: "AMB", DataType: domain.TypeReal, Enabled: true,
			Bands: []domain.ScoreBand{
				{Min: domain.Fptr(100000), Score: 1.0},
				{Min: domain.Fptr(50000), Max: domain.Fptr(99999), Score: 0.8},
			}},
	})
	agg := NewAggregator(reg)
	weights := domain.WeightConfiguration{"AMB": 10}

	t.Run("fallback applied when missing", func(t *testing.T) {
		rec, err := agg.Aggregate(domain.CanonicalRecord{}, weights, domain.FallbackTable{"AMB": 0.5})
		if err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		vs := rec.Scores["AMB"]
		if vs.Score != 0.5 || vs.Reason != domain.ReasonFallbackApplied {
			t.Errorf("got score=%v reason=%s, want 0.5 fallback_applied", vs.Score, vs.Reason)
		}
		if rec.FinalScore != 50 {
			t.Errorf("final score = %v, want 50", rec.FinalScore)
		}
	})

	t.Run("present value ignores fallback", func(t *testing.T) {
		rec, err := agg.Aggregate(domain.CanonicalRecord{"AMB": 75000}, weights, domain.FallbackTable{"AMB": 0.5})
		if err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		vs := rec.Scores["AMB"]
		if vs.Score != 0.8 || vs.Reason != domain.ReasonScored {
			t.Errorf("got score=%v reason=%s, want 0.8 scored", vs.Score, vs.Reason)
		}
	})
}

func TestAggregateInvalidValue(t *testing.T) {
	agg := NewAggregator(registry.NewWithDefaults())

	rec, err := agg.Aggregate(
		domain.CanonicalRecord{"credit_score": "garbage"},
		domain.WeightConfiguration{"credit_score": 11, "foir": 7},
		nil,
	)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	vs := rec.Scores["credit_score"]
	if vs.Reason != domain.ReasonInvalidValue || vs.Score != 0 {
		t.Errorf("got score=%v reason=%s, want 0 invalid_value", vs.Score, vs.Reason)
	}
	// The invalid variable's weight stays in the denominator
	if rec.TotalWeight != 18 {
		t.Errorf("total weight = %v, want 18", rec.TotalWeight)
	}
}

func TestAggregateConfigurationErrors(t *testing.T) {
	agg := NewAggregator(registry.NewWithDefaults())

	t.Run("empty weights", func(t *testing.T) {
		_, err := agg.Aggregate(domain.CanonicalRecord{}, domain.WeightConfiguration{}, nil)
		if !errors.Is(err, domain.ErrEmptyConfiguration) {
			t.Errorf("expected ErrEmptyConfiguration, got %v", err)
		}
	})

	t.Run("zero total weight", func(t *testing.T) {
		_, err := agg.Aggregate(domain.CanonicalRecord{}, domain.WeightConfiguration{"credit_score": 0}, nil)
		if !errors.Is(err, domain.ErrEmptyConfiguration) {
			t.Errorf("expected ErrEmptyConfiguration, got %v", err)
		}
	})

	t.Run("unknown variable in weights", func(t *testing.T) {
		_, err := agg.Aggregate(
			domain.CanonicalRecord{"mystery_var": 1},
			domain.WeightConfiguration{"mystery_var": 10},
			nil,
		)
		if !errors.Is(err, domain.ErrUnknownVariable) {
			t.Errorf("expected ErrUnknownVariable, got %v", err)
		}
	})
}

func TestAggregateIdempotent(t *testing.T) {
	agg := NewAggregator(registry.NewWithDefaults())
	canonical := domain.CanonicalRecord{"credit_score": 720, "foir": 35.0}
	weights := domain.WeightConfiguration{"credit_score": 12, "foir": 7}

	first, err := agg.Aggregate(canonical, weights, nil)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	second, err := agg.Aggregate(canonical, weights, nil)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	a, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	b, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("identical inputs produced different records:\n%s\n%s", a, b)
	}
}

func TestAggregateWeightScaleInvariance(t *testing.T) {
	agg := NewAggregator(registry.NewWithDefaults())
	canonical := domain.CanonicalRecord{"credit_score": 720, "foir": 35.0}

	base := domain.WeightConfiguration{"credit_score": 12, "foir": 7}
	scaled := domain.WeightConfiguration{"credit_score": 24, "foir": 14}

	r1, err := agg.Aggregate(canonical, base, nil)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	r2, err := agg.Aggregate(canonical, scaled, nil)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if math.Abs(r1.FinalScore-r2.FinalScore) > 0.011 {
		t.Errorf("scaling all weights changed the score: %v vs %v", r1.FinalScore, r2.FinalScore)
	}
}
