// Package clearance provides the CEL-Go based clearance rule engine.
// Clearance rules are hard disqualifiers: any fired rule forces a decline
// regardless of the numeric score.
package clearance

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// flattened activation variables exposed to rule expressions alongside
// the full record map. Missing fields default to zero values, so rules
// written against them fail closed on absent data.
var commonFields = []string{
	"age",
	"monthly_income",
	"credit_score",
	"foir",
	"dpd30plus",
	"defaulted_loans",
	"enquiry_count",
	"unsecured_loan_amount",
	"outstanding_amount_percent",
	"writeoff_flag",
}

// maxCachedPrograms caps the compiled-program cache. The cache is dropped
// wholesale when it outgrows the cap; recompiling is cheap next to the
// churn needed to hit it.
const maxCachedPrograms = 1024

// Engine compiles and evaluates clearance rules. It holds no rule
// configuration of its own: callers pass the rule set for each request,
// so one engine serves every company without rules leaking between them.
// Compiled programs are cached by rule id and expression.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	programs   map[string]cel.Program
	maxWorkers int
}

// NewEngine creates a new clearance rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	opts := []cel.EnvOption{
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	}
	for _, f := range commonFields {
		opts = append(opts, cel.Variable(f, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		programs:   make(map[string]cel.Program),
		maxWorkers: maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without caching it.
func (e *Engine) ValidateRule(rule *domain.ClearanceRule) error {
	if rule == nil {
		return fmt.Errorf("clearance rule is required")
	}

	_, err := e.compile(rule)
	return err
}

// EvaluateRules runs the given rules against a canonical record in
// parallel and returns the rules that fired. Disabled rules are skipped.
// Per-rule compile and evaluation errors are joined into the returned
// error; the remaining rules still evaluate.
func (e *Engine) EvaluateRules(ctx context.Context, rules []*domain.ClearanceRule, record domain.CanonicalRecord) ([]*domain.ClearanceRule, error) {
	active := make([]*domain.ClearanceRule, 0, len(rules))
	for _, r := range rules {
		if r != nil && r.Enabled {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}

	activation := buildActivation(record)

	fired := make([]*domain.ClearanceRule, len(active))
	evalErrs := make([]error, len(active))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range active {
		wg.Add(1)
		go func(idx int, r *domain.ClearanceRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			program, err := e.program(r)
			if err != nil {
				evalErrs[idx] = err
				return
			}

			out, _, err := program.Eval(activation)
			if err != nil {
				evalErrs[idx] = fmt.Errorf("clearance rule %s: %w", r.ID, err)
				return
			}
			if b, ok := out.(types.Bool); ok && bool(b) {
				fired[idx] = r
			}
		}(i, rule)
	}

	wg.Wait()

	result := make([]*domain.ClearanceRule, 0, len(fired))
	for _, r := range fired {
		if r != nil {
			result = append(result, r)
		}
	}
	return result, errors.Join(evalErrs...)
}

// Close drops the compiled-program cache.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs = make(map[string]cel.Program)
	return nil
}

// program returns the compiled program for a rule, compiling and caching
// on first sight. The key includes the expression so an edited rule never
// evaluates a stale program.
func (e *Engine) program(rule *domain.ClearanceRule) (cel.Program, error) {
	key := rule.ID + "\x00" + rule.Expression

	e.mu.RLock()
	program, ok := e.programs[key]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := e.compile(rule)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if len(e.programs) >= maxCachedPrograms {
		e.programs = make(map[string]cel.Program)
	}
	e.programs[key] = program
	e.mu.Unlock()

	return program, nil
}

func (e *Engine) compile(rule *domain.ClearanceRule) (cel.Program, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile clearance rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("clearance rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for clearance rule %s: %w", rule.ID, err)
	}

	return program, nil
}

// buildActivation flattens common fields out of the record with fail-closed
// zero defaults, and exposes the full record map for everything else.
func buildActivation(record domain.CanonicalRecord) map[string]any {
	activation := make(map[string]any, len(commonFields)+1)
	for _, f := range commonFields {
		if f == "writeoff_flag" {
			activation[f] = false
		} else {
			activation[f] = 0.0
		}
	}
	for k, v := range record {
		for _, f := range commonFields {
			if k == f && v != nil {
				activation[k] = v
			}
		}
	}

	rec := make(map[string]any, len(record))
	for k, v := range record {
		rec[k] = v
	}
	activation["record"] = rec

	return activation
}
