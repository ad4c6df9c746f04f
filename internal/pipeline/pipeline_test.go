package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/opensource-finance/kestrel/internal/clearance"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/registry"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	eng, err := clearance.NewEngine(4)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return New(registry.NewWithDefaults(), eng, nil)
}

func TestEvaluateEndToEnd(t *testing.T) {
	p := newTestPipeline(t)

	snap := &domain.ScoringSnapshot{
		Weights: domain.WeightConfiguration{
			"credit_score":        12,
			"foir":                7,
			"monthly_income":      40,
			"avg_monthly_balance": 41,
		},
		Mapping: domain.FieldMapping{"cibil": "credit_score"},
	}

	scored, err := p.Evaluate(context.Background(), &Input{
		CompanyID: "acme",
		PartnerID: "dsa-7",
		Raw:       domain.RawRecord{"cibil": 720, "foir": 35.0},
		Snapshot:  snap,
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if scored.FinalScore != 16.6 {
		t.Errorf("final score = %v, want 16.6", scored.FinalScore)
	}
	if scored.Decision == nil || scored.Decision.Action != domain.ActionReject {
		t.Errorf("expected REJECT decision, got %+v", scored.Decision)
	}
	if scored.Decision.Bucket != domain.BucketHighRisk {
		t.Errorf("bucket = %s, want High Risk", scored.Decision.Bucket)
	}
	if scored.ID == "" || scored.CompanyID != "acme" || scored.PartnerID != "dsa-7" {
		t.Errorf("record identity not populated: %+v", scored)
	}
	if scored.Metadata.EngineVersion != EngineVersion {
		t.Errorf("engine version = %s", scored.Metadata.EngineVersion)
	}
	if scored.Metadata.VariablesEvaluated != 4 {
		t.Errorf("variables evaluated = %d, want 4", scored.Metadata.VariablesEvaluated)
	}
}

func TestEvaluateClearanceOverride(t *testing.T) {
	p := newTestPipeline(t)

	snap := &domain.ScoringSnapshot{
		Weights: domain.WeightConfiguration{"credit_score": 100},
		Rules: []*domain.ClearanceRule{
			{ID: "writeoff", Expression: "writeoff_flag == true", Reason: "write-off on record", Enabled: true},
		},
	}

	scored, err := p.Evaluate(context.Background(), &Input{
		CompanyID: "acme",
		Raw:       domain.RawRecord{"credit_score": 800, "writeoff_flag": true},
		Snapshot:  snap,
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if scored.FinalScore != 100 {
		t.Errorf("final score = %v, want 100", scored.FinalScore)
	}
	if !scored.Decision.ClearanceOverride || scored.Decision.Action != domain.ActionReject {
		t.Errorf("expected clearance override reject, got %+v", scored.Decision)
	}
}

// Rules carried by the snapshot decide the outcome; nothing loaded
// elsewhere does. A strong score must not survive a snapshot rule firing.
func TestEvaluateUsesSnapshotRules(t *testing.T) {
	p := newTestPipeline(t)

	raw := domain.RawRecord{"credit_score": 800, "defaulted_loans": 3}
	weights := domain.WeightConfiguration{"credit_score": 100}

	scored, err := p.Evaluate(context.Background(), &Input{
		CompanyID: "acme",
		Raw:       raw,
		Snapshot: &domain.ScoringSnapshot{
			Weights: weights,
			Rules: []*domain.ClearanceRule{
				{ID: "past-default", Expression: "defaulted_loans > 0", Reason: "defaulted loan on record", Enabled: true},
			},
		},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !scored.Decision.ClearanceOverride || scored.Decision.Action != domain.ActionReject {
		t.Fatalf("snapshot rule did not fire: %+v", scored.Decision)
	}
	if scored.Decision.Bucket != domain.BucketHighRisk {
		t.Errorf("bucket = %s, want High Risk", scored.Decision.Bucket)
	}

	// Same pipeline, a snapshot without the rule approves
	scored, err = p.Evaluate(context.Background(), &Input{
		CompanyID: "other",
		Raw:       raw,
		Snapshot:  &domain.ScoringSnapshot{Weights: weights},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if scored.Decision.ClearanceOverride || scored.Decision.Action != domain.ActionApprove {
		t.Errorf("rule leaked across snapshots: %+v", scored.Decision)
	}
}

func TestValidateSnapshot(t *testing.T) {
	p := newTestPipeline(t)

	t.Run("valid", func(t *testing.T) {
		err := p.ValidateSnapshot(&domain.ScoringSnapshot{
			Weights: domain.WeightConfiguration{"credit_score": 11},
		})
		if err != nil {
			t.Errorf("expected valid snapshot, got %v", err)
		}
	})

	t.Run("empty weights", func(t *testing.T) {
		err := p.ValidateSnapshot(&domain.ScoringSnapshot{})
		if !errors.Is(err, domain.ErrEmptyConfiguration) {
			t.Errorf("expected ErrEmptyConfiguration, got %v", err)
		}
	})

	t.Run("unknown weight id", func(t *testing.T) {
		err := p.ValidateSnapshot(&domain.ScoringSnapshot{
			Weights: domain.WeightConfiguration{"not_a_var": 10},
		})
		if !errors.Is(err, domain.ErrUnknownVariable) {
			t.Errorf("expected ErrUnknownVariable, got %v", err)
		}
	})

	t.Run("malformed mapping", func(t *testing.T) {
		err := p.ValidateSnapshot(&domain.ScoringSnapshot{
			Weights: domain.WeightConfiguration{"credit_score": 11},
			Mapping: domain.FieldMapping{"x": "not_a_var"},
		})
		if !errors.Is(err, domain.ErrMalformedMapping) {
			t.Errorf("expected ErrMalformedMapping, got %v", err)
		}
	})
}
