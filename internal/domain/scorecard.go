package domain

// WeightConfiguration maps variable id to weight in percentage points.
// The key set defines the active variable set; weights need not sum to 100
// (the aggregator normalizes by total active weight).
//
// This flat mapping is the externally persisted configuration format.
type WeightConfiguration map[string]float64

// Total returns the sum of all active weights.
func (w WeightConfiguration) Total() float64 {
	var total float64
	for _, weight := range w {
		total += weight
	}
	return total
}

// Clone returns a copy of the configuration.
func (w WeightConfiguration) Clone() WeightConfiguration {
	out := make(WeightConfiguration, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// FallbackTable maps variable id to the score substituted when the input
// field is missing. Distinct from the zero-score default.
type FallbackTable map[string]float64

// FieldMapping maps an external input field name to a canonical variable id.
// This is the raw serialized form; validation against the registry happens
// in the mapper at load time.
type FieldMapping map[string]string

// ClearanceRule is a hard disqualifying condition evaluated against the
// canonical record before threshold classification. A fired rule forces a
// decline regardless of the numeric score.
type ClearanceRule struct {
	ID          string `json:"id"`
	CompanyID   string `json:"companyId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`

	// CEL expression over the canonical record; firing means "true"
	Expression string `json:"expression"`

	// Reason reported when the rule fires
	Reason string `json:"reason"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// ScoreThreshold maps a minimum final score to a risk bucket and action.
// Thresholds are evaluated in descending MinScore order, first satisfied
// band wins.
type ScoreThreshold struct {
	MinScore float64 `json:"minScore"`
	Bucket   string  `json:"bucket"`
	Action   string  `json:"action"`
}

// DefaultThresholds returns the standard decision matrix:
// score >= 70 approves, 50 <= score < 70 goes to review, below 50 declines.
func DefaultThresholds() []ScoreThreshold {
	return []ScoreThreshold{
		{MinScore: 70, Bucket: BucketLowRisk, Action: ActionApprove},
		{MinScore: 50, Bucket: BucketMediumRisk, Action: ActionReview},
	}
}

// ScoringSnapshot is the immutable per-request view of all configuration a
// scoring request needs. Snapshots are deep copies: concurrent configuration
// updates never affect requests already in flight.
type ScoringSnapshot struct {
	Definitions []*VariableDefinition `json:"definitions,omitempty"`
	Weights     WeightConfiguration   `json:"weights"`
	Fallbacks   FallbackTable         `json:"fallbacks,omitempty"`
	Mapping     FieldMapping          `json:"mapping,omitempty"`
	Rules       []*ClearanceRule      `json:"rules,omitempty"`
	Thresholds  []ScoreThreshold      `json:"thresholds,omitempty"`
}
