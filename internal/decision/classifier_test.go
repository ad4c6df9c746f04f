package decision

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestClassifyThresholds(t *testing.T) {
	tests := []struct {
		name   string
		score  float64
		bucket string
		action string
	}{
		{"high score approves", 85, domain.BucketLowRisk, domain.ActionApprove},
		{"exact approve boundary", 70, domain.BucketLowRisk, domain.ActionApprove},
		{"mid score reviews", 55, domain.BucketMediumRisk, domain.ActionReview},
		{"exact review boundary", 50, domain.BucketMediumRisk, domain.ActionReview},
		{"low score rejects", 16.6, domain.BucketHighRisk, domain.ActionReject},
		{"zero rejects", 0, domain.BucketHighRisk, domain.ActionReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Classify(&domain.ScoredRecord{FinalScore: tt.score}, nil, nil)
			if d.Bucket != tt.bucket || d.Action != tt.action {
				t.Errorf("got %s/%s, want %s/%s", d.Bucket, d.Action, tt.bucket, tt.action)
			}
			if d.ClearanceOverride {
				t.Error("threshold decision must not set ClearanceOverride")
			}
		})
	}
}

func TestClassifyClearanceOverride(t *testing.T) {
	fired := []*domain.ClearanceRule{
		{ID: "writeoff", Name: "Write-off Flag", Reason: "write-off on record"},
	}

	// Even a perfect score declines when a clearance rule fired
	d := Classify(&domain.ScoredRecord{FinalScore: 100}, fired, nil)
	if d.Bucket != domain.BucketHighRisk || d.Action != domain.ActionReject {
		t.Errorf("got %s/%s, want High Risk/REJECT", d.Bucket, d.Action)
	}
	if !d.ClearanceOverride {
		t.Error("expected ClearanceOverride")
	}
	if len(d.Reasons) != 1 || d.Reasons[0] != "write-off on record" {
		t.Errorf("expected rule reason attached, got %v", d.Reasons)
	}
}

func TestClassifyCustomThresholds(t *testing.T) {
	thresholds := []domain.ScoreThreshold{
		// Deliberately unsorted; classifier must order them itself
		{MinScore: 50, Bucket: "C", Action: domain.ActionReview},
		{MinScore: 80, Bucket: "A", Action: domain.ActionApprove},
		{MinScore: 65, Bucket: "B", Action: domain.ActionApprove},
	}

	d := Classify(&domain.ScoredRecord{FinalScore: 67}, nil, thresholds)
	if d.Bucket != "B" {
		t.Errorf("got bucket %s, want B", d.Bucket)
	}

	d = Classify(&domain.ScoredRecord{FinalScore: 40}, nil, thresholds)
	if d.Action != domain.ActionReject {
		t.Errorf("score below all thresholds must reject, got %s", d.Action)
	}
}
