package rules

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/features"
)

// fixedRule is one entry in the built-in threshold rule set.
type fixedRule struct {
	weight  float64
	matches func(v features.Vector) bool
	hit     func(v features.Vector) string
}

// fixedRules is evaluated in order. Each contribution is independently
// additive; order affects only explanation ordering, not the sum.
var fixedRules = []fixedRule{
	{
		weight:  0.4,
		matches: func(v features.Vector) bool { return v[features.AmountZScore] >= 3.5 },
		hit: func(v features.Vector) string {
			return fmt.Sprintf("amount spike %.1fσ above mean", v[features.AmountZScore])
		},
	},
	{
		weight:  0.2,
		matches: func(v features.Vector) bool { return v[features.Velocity1hCount] >= 5 },
		hit:     func(features.Vector) string { return "high velocity in last 1h" },
	},
	{
		weight:  0.2,
		matches: func(v features.Vector) bool { return v[features.DeviceNovelty] >= 1.0 },
		hit:     func(features.Vector) string { return "new device detected" },
	},
	{
		weight:  0.1,
		matches: func(v features.Vector) bool { return v[features.GeoNovelty] >= 1.0 },
		hit:     func(features.Vector) string { return "new geo detected" },
	},
	{
		weight:  0.2,
		matches: func(v features.Vector) bool { return v[features.HighRiskMCC] >= 1.0 },
		hit:     func(features.Vector) string { return "high-risk MCC" },
	},
	{
		weight:  0.05,
		matches: func(v features.Vector) bool { return v[features.IsNight] >= 1.0 },
		hit:     func(features.Vector) string { return "night-time transaction" },
	},
	{
		weight:  0.1,
		matches: func(v features.Vector) bool { return v[features.FirstTimeMCC] >= 1.0 },
		hit:     func(features.Vector) string { return "first-time MCC for account" },
	},
}

// Engine evaluates the fixed rule set followed by the runtime registry.
type Engine struct {
	registry *Registry
}

// NewEngine creates an engine backed by the given runtime registry.
func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// Registry returns the runtime rule registry for management calls.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Evaluate scores the feature vector. All contributions are non-negative;
// the sum is clamped to at most 1.0. Hits are in evaluation order, fixed
// rules first, then runtime rules in insertion order.
func (e *Engine) Evaluate(v features.Vector) (float64, []string) {
	score := 0.0
	var hits []string

	for _, r := range fixedRules {
		if r.matches(v) {
			score += r.weight
			hits = append(hits, r.hit(v))
		}
	}

	if e.registry != nil {
		add, runtimeHits := e.registry.Apply(v)
		score += add
		hits = append(hits, runtimeHits...)
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, hits
}
