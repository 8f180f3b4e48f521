package rules

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return registry
}

func floatPtr(v float64) *float64 {
	return &v
}

func TestRegistryAddDefaults(t *testing.T) {
	registry := newTestRegistry(t)

	t.Run("ThresholdDefaults", func(t *testing.T) {
		stored, err := registry.Add(domain.RuntimeRuleInput{Feature: features.GeoNovelty})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if stored.Description != "runtime rule" {
			t.Errorf("expected default description, got %q", stored.Description)
		}
		if stored.Operator != domain.OpGTE {
			t.Errorf("expected default operator >=, got %q", stored.Operator)
		}
		if stored.Value != 1.0 {
			t.Errorf("expected default value 1.0, got %v", stored.Value)
		}
		if stored.Weight != 0.05 {
			t.Errorf("expected default weight 0.05, got %v", stored.Weight)
		}
	})

	t.Run("InvalidOperatorDefaulted", func(t *testing.T) {
		stored, err := registry.Add(domain.RuntimeRuleInput{Feature: features.HourOfDay, Operator: "!!"})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if stored.Operator != domain.OpGTE {
			t.Errorf("invalid operator should default to >=, got %q", stored.Operator)
		}
	})

	t.Run("MissingFeatureRejected", func(t *testing.T) {
		if _, err := registry.Add(domain.RuntimeRuleInput{Weight: floatPtr(0.1)}); err == nil {
			t.Error("expected error for threshold rule without feature")
		}
	})

	t.Run("ExplicitFieldsKept", func(t *testing.T) {
		stored, err := registry.Add(domain.RuntimeRuleInput{
			Description: "big amount",
			Feature:     features.Velocity24hTotal,
			Operator:    domain.OpGT,
			Value:       floatPtr(5000),
			Weight:      floatPtr(0.25),
		})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if stored.Operator != domain.OpGT || stored.Value != 5000 || stored.Weight != 0.25 {
			t.Errorf("explicit fields were altered: %+v", stored)
		}
	})

	t.Run("ExplicitZeroKept", func(t *testing.T) {
		// value 0 is a real threshold (dormant account) and weight 0 an
		// annotate-only rule; neither may be rewritten to the defaults.
		stored, err := registry.Add(domain.RuntimeRuleInput{
			Description: "dormant account",
			Feature:     features.Velocity24hCount,
			Operator:    domain.OpEQ,
			Value:       floatPtr(0),
			Weight:      floatPtr(0),
		})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if stored.Value != 0 {
			t.Errorf("explicit value 0 was rewritten to %v", stored.Value)
		}
		if stored.Weight != 0 {
			t.Errorf("explicit weight 0 was rewritten to %v", stored.Weight)
		}

		// The rule must actually match on the zero threshold.
		add, hits := registry.Apply(features.Vector{features.Velocity24hCount: 0})
		if add != 0 {
			t.Errorf("annotate-only rule must add no score, got %v", add)
		}
		matched := false
		for _, h := range hits {
			if h == "dormant account" {
				matched = true
			}
		}
		if !matched {
			t.Errorf("expected dormant account hit, got %v", hits)
		}
	})
}

func TestRegistryExpressions(t *testing.T) {
	registry := newTestRegistry(t)

	t.Run("BoolExpressionAccepted", func(t *testing.T) {
		_, err := registry.Add(domain.RuntimeRuleInput{
			Description: "velocity and night",
			Expression:  `velocity_1h_count >= 3.0 && is_night == 1.0`,
			Weight:      floatPtr(0.2),
		})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	})

	t.Run("NonBoolExpressionRejected", func(t *testing.T) {
		_, err := registry.Add(domain.RuntimeRuleInput{Expression: `amount_zscore + 1.0`})
		if err == nil {
			t.Error("expected rejection of non-bool expression")
		}
	})

	t.Run("MalformedExpressionRejected", func(t *testing.T) {
		_, err := registry.Add(domain.RuntimeRuleInput{Expression: `&& nope`})
		if err == nil {
			t.Error("expected rejection of malformed expression")
		}
	})

	t.Run("FeaturesMapForm", func(t *testing.T) {
		_, err := registry.Add(domain.RuntimeRuleInput{
			Description: "map access",
			Expression:  `features["geo_novelty"] >= 1.0`,
			Weight:      floatPtr(0.15),
		})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	})
}

func TestRegistryApply(t *testing.T) {
	registry := newTestRegistry(t)

	mustAdd := func(rule domain.RuntimeRuleInput) {
		t.Helper()
		if _, err := registry.Add(rule); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	mustAdd(domain.RuntimeRuleInput{
		Description: "first",
		Feature:     features.HourOfDay,
		Operator:    domain.OpGTE,
		Value:       floatPtr(22),
		Weight:      floatPtr(0.3),
	})
	mustAdd(domain.RuntimeRuleInput{
		Description: "second",
		Expression:  `features["velocity_1h_count"] >= 2.0`,
		Weight:      floatPtr(0.1),
	})

	t.Run("InsertionOrder", func(t *testing.T) {
		add, hits := registry.Apply(features.Vector{
			features.HourOfDay:       23,
			features.Velocity1hCount: 2,
		})
		if math.Abs(add-0.4) > 1e-9 {
			t.Errorf("expected 0.4, got %.2f", add)
		}
		want := []string{"first", "second"}
		if len(hits) != len(want) {
			t.Fatalf("expected hits %v, got %v", want, hits)
		}
		for i := range want {
			if hits[i] != want[i] {
				t.Errorf("hit %d: expected %q, got %q", i, want[i], hits[i])
			}
		}
	})

	t.Run("UnknownFeatureReadsZero", func(t *testing.T) {
		add, hits := registry.Apply(features.Vector{})
		if add != 0 || len(hits) != 0 {
			t.Errorf("empty vector should match nothing, got %.2f %v", add, hits)
		}
	})
}

func TestRegistryLifecycle(t *testing.T) {
	registry := newTestRegistry(t)

	for i := 0; i < 3; i++ {
		if _, err := registry.Add(domain.RuntimeRuleInput{Feature: features.IsNight}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	if registry.Count() != 3 {
		t.Errorf("expected count 3, got %d", registry.Count())
	}
	if got := len(registry.List()); got != 3 {
		t.Errorf("expected 3 listed rules, got %d", got)
	}

	// List returns a copy; mutating it must not touch the registry.
	listed := registry.List()
	listed[0].Weight = 99
	if registry.List()[0].Weight == 99 {
		t.Error("List should return a snapshot copy")
	}

	registry.Clear()
	if registry.Count() != 0 {
		t.Errorf("expected empty registry after Clear, got %d", registry.Count())
	}
	if got := registry.List(); len(got) != 0 {
		t.Errorf("expected no rules after Clear, got %v", got)
	}
}
