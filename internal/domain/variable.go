// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"errors"
	"time"
)

// Engine-level errors surfaced to callers.
var (
	// ErrUnknownVariable is returned when a variable id is not registered.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrMalformedMapping is returned when a field mapping references an
	// unregistered canonical variable id. Detected at mapping-load time.
	ErrMalformedMapping = errors.New("malformed field mapping")

	// ErrEmptyConfiguration is returned when the active weight set is empty
	// or sums to zero.
	ErrEmptyConfiguration = errors.New("empty weight configuration")

	// ErrNotFound is returned by repositories when an entity does not exist
	// for the requesting company.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned on malformed persistence arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// Variable data types.
const (
	TypeInteger = "integer"
	TypeReal    = "real"
	TypeText    = "text"
)

// VariableDefinition describes one scoring factor.
// Definitions are created at configuration time and read-only during scoring.
type VariableDefinition struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`

	// DataType is one of "integer", "real", "text"
	DataType string `json:"dataType"`

	// DefaultWeight in percentage points
	DefaultWeight float64 `json:"defaultWeight"`

	// Ordered score bands; evaluation is first-match-in-declared-order
	Bands []ScoreBand `json:"bands"`

	// Business rationale, documentation only
	Rationale string `json:"rationale,omitempty"`

	// Whether variable is active
	Enabled bool `json:"enabled"`

	// Audit timestamps
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// ScoreBand maps a value range (or categorical match set) to a sub-score.
// Numeric ranges are inclusive at both ends; a nil limit means the range is
// open on that side. Bands for one variable must not overlap.
type ScoreBand struct {
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Match []string `json:"match,omitempty"`

	// Score assigned when a raw value falls in the band (0.0-1.0)
	Score float64 `json:"score"`
	Label string  `json:"label,omitempty"`
}

// Scoring reasons recorded per variable for explainability.
// These are data, not errors: scoring continues with a defined score.
const (
	ReasonScored          = "scored"
	ReasonMissingField    = "missing_field"
	ReasonFallbackApplied = "fallback_applied"
	ReasonInvalidValue    = "invalid_value"
)

// Fptr returns a pointer to v. Convenience for authoring band tables.
func Fptr(v float64) *float64 {
	return &v
}
