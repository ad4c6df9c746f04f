// Package registry holds variable definitions and scores raw values
// against their banded scoring functions.
package registry

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Registry stores variable definitions and evaluates score bands.
// Definitions are immutable while loaded; Reload swaps the full set.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*domain.VariableDefinition // key: variable id
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		defs: make(map[string]*domain.VariableDefinition),
	}
}

// NewWithDefaults creates a registry preloaded with the builtin scorecard.
func NewWithDefaults() *Registry {
	r := New()
	r.Load(Builtin())
	return r
}

// Load loads variable definitions into the registry.
// Disabled definitions are skipped.
func (r *Registry) Load(defs []*domain.VariableDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.defs = make(map[string]*domain.VariableDefinition, len(defs))
	for _, d := range defs {
		if d.Enabled {
			r.defs[d.ID] = d
		}
	}
}

// Reload clears and reloads definitions (hot reload).
func (r *Registry) Reload(defs []*domain.VariableDefinition) {
	r.Load(defs)
}

// Lookup returns the definition for a variable id.
func (r *Registry) Lookup(id string) (*domain.VariableDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.defs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownVariable, id)
	}
	return d, nil
}

// Definitions returns all currently loaded definitions.
func (r *Registry) Definitions() []*domain.VariableDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.VariableDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		result = append(result, d)
	}
	return result
}

// Count returns the number of loaded definitions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Score evaluates a raw value against the variable's bands.
// The first band matching in declared order wins. Returns matched=false
// when no band matches; the caller decides how an unmatched value scores.
func (r *Registry) Score(id string, raw any) (float64, bool, error) {
	r.mu.RLock()
	d, ok := r.defs[id]
	r.mu.RUnlock()
	if !ok {
		return 0, false, fmt.Errorf("%w: %s", domain.ErrUnknownVariable, id)
	}

	for i := range d.Bands {
		if matchBand(&d.Bands[i], raw) {
			return d.Bands[i].Score, true, nil
		}
	}
	return 0, false, nil
}

// Close cleans up the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = make(map[string]*domain.VariableDefinition)
	return nil
}

// matchBand checks one band against a raw value.
// Categorical bands compare the normalized string form; numeric bands
// require a coercible number within the inclusive [Min, Max] range.
// A band with no range and no match set matches any value.
func matchBand(b *domain.ScoreBand, raw any) bool {
	if len(b.Match) > 0 {
		s := normalize(raw)
		for _, m := range b.Match {
			if s == m {
				return true
			}
		}
		return false
	}

	if b.Min == nil && b.Max == nil {
		return true
	}

	v, ok := toFloat(raw)
	if !ok {
		return false
	}
	if b.Min != nil && v < *b.Min {
		return false
	}
	if b.Max != nil && v > *b.Max {
		return false
	}
	return true
}

func normalize(raw any) string {
	return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", raw)))
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
