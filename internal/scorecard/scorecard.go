// Package scorecard loads scorecard bundles from YAML files.
//
// A bundle is a self-contained scorecard: variable definitions, weights,
// fallback scores, clearance rules and decision thresholds. Deployments
// point KESTREL_SCORECARD at a bundle to replace the builtin scorecard
// at startup.
package scorecard

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Bundle is the YAML representation of a complete scorecard.
type Bundle struct {
	Version    string             `yaml:"version"`
	Variables  []Variable         `yaml:"variables"`
	Weights    map[string]float64 `yaml:"weights"`
	Fallbacks  map[string]float64 `yaml:"fallbacks"`
	Rules      []Rule             `yaml:"rules"`
	Thresholds []Threshold        `yaml:"thresholds"`
}

// Variable is one scoring factor in a bundle.
type Variable struct {
	ID            string  `yaml:"id"`
	Name          string  `yaml:"name"`
	Category      string  `yaml:"category"`
	DataType      string  `yaml:"dataType"`
	DefaultWeight float64 `yaml:"defaultWeight"`
	Bands         []Band  `yaml:"bands"`
	Rationale     string  `yaml:"rationale"`
	Disabled      bool    `yaml:"disabled"`
}

// Band maps a value range or categorical match set to a sub-score.
type Band struct {
	Min   *float64 `yaml:"min"`
	Max   *float64 `yaml:"max"`
	Match []string `yaml:"match"`
	Score float64  `yaml:"score"`
	Label string   `yaml:"label"`
}

// Rule is a clearance rule in a bundle.
type Rule struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Reason     string `yaml:"reason"`
	Disabled   bool   `yaml:"disabled"`
}

// Threshold is one row of the decision matrix.
type Threshold struct {
	MinScore float64 `yaml:"minScore"`
	Bucket   string  `yaml:"bucket"`
	Action   string  `yaml:"action"`
}

// Load reads and validates a bundle from a YAML file.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scorecard bundle: %w", err)
	}

	var bundle Bundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parsing scorecard bundle: %w", err)
	}

	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	return &bundle, nil
}

// Validate checks the bundle for structural problems.
func (b *Bundle) Validate() error {
	ids := make(map[string]bool, len(b.Variables))
	for _, v := range b.Variables {
		if v.ID == "" {
			return fmt.Errorf("scorecard bundle: variable with empty id")
		}
		if ids[v.ID] {
			return fmt.Errorf("scorecard bundle: duplicate variable id %q", v.ID)
		}
		ids[v.ID] = true
		if len(v.Bands) == 0 {
			return fmt.Errorf("scorecard bundle: variable %q has no bands", v.ID)
		}
		for _, band := range v.Bands {
			if band.Score < 0 || band.Score > 1 {
				return fmt.Errorf("scorecard bundle: variable %q band score %v out of range", v.ID, band.Score)
			}
		}
	}

	for id := range b.Weights {
		if !ids[id] {
			return fmt.Errorf("scorecard bundle: weight references unknown variable %q", id)
		}
	}
	for id := range b.Fallbacks {
		if !ids[id] {
			return fmt.Errorf("scorecard bundle: fallback references unknown variable %q", id)
		}
	}

	for _, r := range b.Rules {
		if r.ID == "" || r.Expression == "" {
			return fmt.Errorf("scorecard bundle: rule %q needs id and expression", r.ID)
		}
	}

	return nil
}

// Definitions converts the bundle's variables to registry definitions.
func (b *Bundle) Definitions() []*domain.VariableDefinition {
	defs := make([]*domain.VariableDefinition, 0, len(b.Variables))
	for _, v := range b.Variables {
		bands := make([]domain.ScoreBand, 0, len(v.Bands))
		for _, band := range v.Bands {
			bands = append(bands, domain.ScoreBand{
				Min:   band.Min,
				Max:   band.Max,
				Match: band.Match,
				Score: band.Score,
				Label: band.Label,
			})
		}
		defs = append(defs, &domain.VariableDefinition{
			ID:            v.ID,
			Name:          v.Name,
			Category:      v.Category,
			DataType:      v.DataType,
			DefaultWeight: v.DefaultWeight,
			Bands:         bands,
			Rationale:     v.Rationale,
			Enabled:       !v.Disabled,
		})
	}
	return defs
}

// WeightConfig returns the bundle's weights, falling back to each
// variable's default weight when the weights section is absent.
func (b *Bundle) WeightConfig() domain.WeightConfiguration {
	if len(b.Weights) > 0 {
		weights := make(domain.WeightConfiguration, len(b.Weights))
		for id, w := range b.Weights {
			weights[id] = w
		}
		return weights
	}

	weights := make(domain.WeightConfiguration)
	for _, v := range b.Variables {
		if v.DefaultWeight > 0 && !v.Disabled {
			weights[v.ID] = v.DefaultWeight
		}
	}
	return weights
}

// FallbackTable returns the bundle's fallback scores.
func (b *Bundle) FallbackTable() domain.FallbackTable {
	fallbacks := make(domain.FallbackTable, len(b.Fallbacks))
	for id, score := range b.Fallbacks {
		fallbacks[id] = score
	}
	return fallbacks
}

// ClearanceRules converts the bundle's rules.
func (b *Bundle) ClearanceRules() []*domain.ClearanceRule {
	rules := make([]*domain.ClearanceRule, 0, len(b.Rules))
	for _, r := range b.Rules {
		rules = append(rules, &domain.ClearanceRule{
			ID:         r.ID,
			Name:       r.Name,
			Expression: r.Expression,
			Reason:     r.Reason,
			Enabled:    !r.Disabled,
		})
	}
	return rules
}

// ScoreThresholds converts the bundle's decision matrix. Returns nil when
// the bundle has none, so callers keep the default matrix.
func (b *Bundle) ScoreThresholds() []domain.ScoreThreshold {
	if len(b.Thresholds) == 0 {
		return nil
	}
	thresholds := make([]domain.ScoreThreshold, 0, len(b.Thresholds))
	for _, t := range b.Thresholds {
		thresholds = append(thresholds, domain.ScoreThreshold{
			MinScore: t.MinScore,
			Bucket:   t.Bucket,
			Action:   t.Action,
		})
	}
	return thresholds
}
