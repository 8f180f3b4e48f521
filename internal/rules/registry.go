// Package rules provides the fixed fraud rule set and the mutable runtime
// rule registry applied after it.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Registry is a mutex-guarded ordered list of runtime rules.
// Rules are applied in insertion order, after the fixed rule set.
// The registry is process-local; it resets on restart.
type Registry struct {
	mu    sync.Mutex
	env   *cel.Env
	rules []compiledRuntimeRule
}

type compiledRuntimeRule struct {
	rule    domain.RuntimeRule
	program cel.Program // non-nil only for expression rules
}

// NewRegistry creates an empty runtime rule registry.
func NewRegistry() (*Registry, error) {
	env, err := cel.NewEnv(
		cel.Variable("features", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable(features.AmountZScore, cel.DoubleType),
		cel.Variable(features.Velocity1hCount, cel.DoubleType),
		cel.Variable(features.Velocity1hTotal, cel.DoubleType),
		cel.Variable(features.Velocity24hCount, cel.DoubleType),
		cel.Variable(features.Velocity24hTotal, cel.DoubleType),
		cel.Variable(features.DeviceNovelty, cel.DoubleType),
		cel.Variable(features.GeoNovelty, cel.DoubleType),
		cel.Variable(features.HighRiskMCC, cel.DoubleType),
		cel.Variable(features.HourOfDay, cel.DoubleType),
		cel.Variable(features.IsNight, cel.DoubleType),
		cel.Variable(features.FirstTimeMCC, cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Registry{env: env}, nil
}

// Add validates, normalizes and appends a rule, returning the stored form.
// Threshold rules get defaults for absent fields; explicit zeros are kept
// (value 0 is a valid threshold, weight 0 an annotate-only rule).
// Expression rules are compiled and rejected when invalid.
func (r *Registry) Add(in domain.RuntimeRuleInput) (domain.RuntimeRule, error) {
	rule := domain.RuntimeRule{
		Description: in.Description,
		Feature:     in.Feature,
		Operator:    in.Operator,
		Expression:  in.Expression,
	}
	if rule.Description == "" {
		rule.Description = "runtime rule"
	}
	if in.Weight != nil {
		rule.Weight = *in.Weight
	} else {
		rule.Weight = 0.05
	}

	var program cel.Program
	if rule.Expression != "" {
		var err error
		program, err = r.compile(rule.Expression)
		if err != nil {
			return domain.RuntimeRule{}, err
		}
	} else {
		if rule.Feature == "" {
			return domain.RuntimeRule{}, fmt.Errorf("feature is required for threshold rules")
		}
		if rule.Operator == "" {
			rule.Operator = domain.OpGTE
		}
		if !domain.ValidOperator(rule.Operator) {
			// Bad operator strings are defaulted rather than raised.
			rule.Operator = domain.OpGTE
		}
		if in.Value != nil {
			rule.Value = *in.Value
		} else {
			rule.Value = 1.0
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, compiledRuntimeRule{rule: rule, program: program})
	return rule, nil
}

// List returns a snapshot copy of the stored rules in insertion order.
func (r *Registry) List() []domain.RuntimeRule {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.RuntimeRule, len(r.rules))
	for i, cr := range r.rules {
		out[i] = cr.rule
	}
	return out
}

// Clear empties the registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = nil
}

// Count returns the number of stored rules.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rules)
}

// Apply evaluates every runtime rule against the feature vector, returning
// the additive score and triggered descriptions. Unknown features read as
// zero; expression evaluation errors are treated as a non-match.
func (r *Registry) Apply(v features.Vector) (float64, []string) {
	r.mu.Lock()
	snapshot := make([]compiledRuntimeRule, len(r.rules))
	copy(snapshot, r.rules)
	r.mu.Unlock()

	var scoreAdd float64
	var hits []string
	for _, cr := range snapshot {
		if cr.match(v) {
			scoreAdd += cr.rule.Weight
			hits = append(hits, cr.rule.Description)
		}
	}
	return scoreAdd, hits
}

func (cr *compiledRuntimeRule) match(v features.Vector) bool {
	if cr.program != nil {
		activation := map[string]any{"features": map[string]float64(v)}
		for k, val := range v {
			activation[k] = val
		}
		out, _, err := cr.program.Eval(activation)
		if err != nil {
			return false
		}
		b, ok := out.(types.Bool)
		return ok && bool(b)
	}
	return compare(cr.rule.Operator, v[cr.rule.Feature], cr.rule.Value)
}

func compare(op domain.Operator, lhs, rhs float64) bool {
	switch op {
	case domain.OpGTE:
		return lhs >= rhs
	case domain.OpLTE:
		return lhs <= rhs
	case domain.OpEQ:
		return lhs == rhs
	case domain.OpGT:
		return lhs > rhs
	case domain.OpLT:
		return lhs < rhs
	}
	return false
}

func (r *Registry) compile(expression string) (cel.Program, error) {
	ast, issues := r.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	program, err := r.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}
