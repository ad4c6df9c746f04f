package domain

import (
	"sort"
	"time"
)

// VariableScore is the per-variable scoring outcome retained for
// explainability.
type VariableScore struct {
	Value         any     `json:"value,omitempty"`
	Score         float64 `json:"score"`
	Weight        float64 `json:"weight"`
	WeightedScore float64 `json:"weightedScore"`

	// Reason is one of "scored", "missing_field", "fallback_applied",
	// "invalid_value"
	Reason string `json:"reason"`
}

// ScoredRecord is the complete scoring result for one applicant record.
// Produced once per request and never mutated.
type ScoredRecord struct {
	ID        string `json:"id"`
	CompanyID string `json:"companyId"`
	PartnerID string `json:"partnerId,omitempty"`

	// Final normalized score (0-100)
	FinalScore  float64 `json:"finalScore"`
	TotalWeight float64 `json:"totalWeight"`

	// Per-variable scores keyed by variable id
	Scores map[string]VariableScore `json:"scores"`

	// Decision attached by the classifier
	Decision *Decision `json:"decision,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Processing metadata
	Metadata RecordMetadata `json:"metadata"`
}

// RecordMetadata contains processing information.
type RecordMetadata struct {
	TraceID            string `json:"traceId,omitempty"`
	ScoringMs          int64  `json:"scoringMs"`
	DecisionMs         int64  `json:"decisionMs"`
	TotalMs            int64  `json:"totalMs"`
	VariablesEvaluated int    `json:"variablesEvaluated"`
	EngineVersion      string `json:"engineVersion"`
}

// Decision is the final outcome for a scored record.
type Decision struct {
	Bucket string `json:"bucket"`
	Action string `json:"action"`

	// Reasons lists fired clearance rules or degraded-scoring notes
	Reasons []string `json:"reasons,omitempty"`

	// ClearanceOverride is true when a clearance rule forced the decline
	ClearanceOverride bool `json:"clearanceOverride,omitempty"`
}

// Risk buckets.
const (
	BucketLowRisk    = "Low Risk"
	BucketMediumRisk = "Medium Risk"
	BucketHighRisk   = "High Risk"
)

// Recommended actions.
const (
	ActionApprove = "APPROVE"
	ActionReview  = "REVIEW"
	ActionReject  = "REJECT"
)

// DegradedReasons returns the variable ids that were not scored normally,
// sorted for stable audit output.
func (r *ScoredRecord) DegradedReasons() []string {
	var reasons []string
	for id, vs := range r.Scores {
		if vs.Reason != ReasonScored {
			reasons = append(reasons, id+": "+vs.Reason)
		}
	}
	sort.Strings(reasons)
	return reasons
}
