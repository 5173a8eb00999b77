package profiles

import (
	"errors"
	"testing"
)

func boolPtr(b bool) *bool { return &b }

func TestTierPresetApplies(t *testing.T) {
	r := NewResolver(nil, Effective{})
	eff, err := r.Resolve(&Profile{Identity: "u1", Tier: "free"}, nil, nil)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if eff.RequestsPerHour != 20 || eff.RequestsPerDay != 100 || eff.DailyBudgetUSD != 1 {
		t.Errorf("free tier limits = %+v", eff)
	}
	if eff.Identity != "u1" {
		t.Errorf("Identity = %q, want u1", eff.Identity)
	}
}

func TestCustomOverridesTier(t *testing.T) {
	r := NewResolver(nil, Effective{})
	eff, err := r.Resolve(&Profile{Tier: "free", RequestsPerHour: 500}, nil, nil)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if eff.RequestsPerHour != 500 {
		t.Errorf("RequestsPerHour = %d, want custom 500", eff.RequestsPerHour)
	}
	if eff.RequestsPerDay != 100 {
		t.Errorf("RequestsPerDay = %d, want tier preset 100", eff.RequestsPerDay)
	}
}

func TestPrecedenceOrder(t *testing.T) {
	r := NewResolver(nil, Effective{MaxLatencyMs: 1000})

	user := &Profile{MaxLatencyMs: 2000, RequestsPerHour: 10}
	workflow := &Profile{MaxLatencyMs: 3000}
	override := &Profile{MaxLatencyMs: 4000}

	eff, err := r.Resolve(user, workflow, override)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if eff.MaxLatencyMs != 4000 {
		t.Errorf("MaxLatencyMs = %d, want request override 4000", eff.MaxLatencyMs)
	}
	if eff.RequestsPerHour != 10 {
		t.Errorf("RequestsPerHour = %d, want user value 10", eff.RequestsPerHour)
	}

	eff, _ = r.Resolve(user, workflow, nil)
	if eff.MaxLatencyMs != 3000 {
		t.Errorf("MaxLatencyMs = %d, want workflow 3000", eff.MaxLatencyMs)
	}

	eff, _ = r.Resolve(nil, nil, nil)
	if eff.MaxLatencyMs != 1000 {
		t.Errorf("MaxLatencyMs = %d, want global default 1000", eff.MaxLatencyMs)
	}
}

func TestUnknownTierFailsFast(t *testing.T) {
	r := NewResolver(nil, Effective{})
	_, err := r.Resolve(&Profile{Tier: "gold-plus"}, nil, nil)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("error = %v, want ErrConfig", err)
	}
}

func TestGuardrailFlagsThreeState(t *testing.T) {
	r := NewResolver(nil, Effective{ContentModeration: true, PiiDetection: true})

	// nil pointer = inherit.
	eff, _ := r.Resolve(&Profile{}, nil, nil)
	if !eff.ContentModeration || !eff.PiiDetection {
		t.Errorf("unset flags should inherit defaults: %+v", eff)
	}

	// explicit false = disable.
	eff, _ = r.Resolve(&Profile{EnableContentModeration: boolPtr(false)}, nil, nil)
	if eff.ContentModeration {
		t.Error("explicit false did not disable moderation")
	}
	if !eff.PiiDetection {
		t.Error("unrelated flag changed")
	}
}

func TestWeightsAndPreferredModels(t *testing.T) {
	r := NewResolver(nil, Effective{})
	eff, _ := r.Resolve(&Profile{
		Weights:         &Weights{Cost: 0.7, Speed: 0.2, Quality: 0.1},
		PreferredModels: []string{"m1", "m2"},
	}, nil, nil)
	if eff.Weights.Cost != 0.7 {
		t.Errorf("Weights = %+v", eff.Weights)
	}
	if len(eff.PreferredModels) != 2 || eff.PreferredModels[0] != "m1" {
		t.Errorf("PreferredModels = %v", eff.PreferredModels)
	}
}

func TestEnterpriseTierIsUnlimited(t *testing.T) {
	r := NewResolver(nil, Effective{})
	eff, err := r.Resolve(&Profile{Tier: "enterprise"}, nil, nil)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if eff.RequestsPerHour != 0 || eff.RequestsPerDay != 0 || eff.DailyBudgetUSD != 0 {
		t.Errorf("enterprise should leave limits unlimited: %+v", eff)
	}
}
