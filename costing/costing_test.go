package costing

import (
	"math"
	"testing"

	"github.com/jordanhubbard/cascade/models"
	"github.com/jordanhubbard/cascade/provider"
)

var (
	cheap  = models.Pricing{InputPerMTok: 0.15, OutputPerMTok: 0.15}
	strong = models.Pricing{InputPerMTok: 2.50, OutputPerMTok: 2.50}
)

func TestCostHandCalculated(t *testing.T) {
	got := Cost(provider.Usage{PromptTokens: 20, CompletionTokens: 40}, cheap)
	want := (20 + 40) * 0.15e-6
	if math.Abs(got-want) > 1e-15 {
		t.Errorf("Cost = %v, want %v", got, want)
	}
}

func TestCostLinearity(t *testing.T) {
	base := Cost(provider.Usage{PromptTokens: 100, CompletionTokens: 50}, strong)
	doubled := Cost(provider.Usage{PromptTokens: 200, CompletionTokens: 100}, strong)
	if math.Abs(doubled-2*base) > 1e-15 {
		t.Errorf("doubling tokens: %v, want %v", doubled, 2*base)
	}
}

func TestComputeAcceptedDraft(t *testing.T) {
	b := Compute(provider.Usage{PromptTokens: 6, CompletionTokens: 1}, cheap,
		provider.Usage{}, false, strong, false)
	if b.VerifierUSD != 0 {
		t.Errorf("VerifierUSD = %v, want 0", b.VerifierUSD)
	}
	if math.Abs(b.TotalUSD-(b.DraftUSD+b.VerifierUSD)) > 1e-15 {
		t.Errorf("TotalUSD = %v, not the tier sum", b.TotalUSD)
	}
	if b.SavedUSD <= 0 || b.SavingsPercent <= 0 {
		t.Errorf("accepted draft should save money: %+v", b)
	}
	if math.Abs(b.SavedUSD-(b.CounterfactualUSD-b.TotalUSD)) > 1e-15 {
		t.Errorf("SavedUSD = %v, want counterfactual - total", b.SavedUSD)
	}
}

func TestComputeCascaded(t *testing.T) {
	b := Compute(provider.Usage{PromptTokens: 20, CompletionTokens: 40}, cheap,
		provider.Usage{PromptTokens: 25, CompletionTokens: 60}, true, strong, false)

	wantDraft := (20 + 40) * 0.15e-6
	wantVerifier := (25 + 60) * 2.50e-6
	if math.Abs(b.TotalUSD-(wantDraft+wantVerifier)) > 1e-15 {
		t.Errorf("TotalUSD = %v, want %v", b.TotalUSD, wantDraft+wantVerifier)
	}
	// A rejected draft costs extra: savings are negative.
	if b.SavedUSD >= 0 {
		t.Errorf("SavedUSD = %v, want < 0 for a cascaded request", b.SavedUSD)
	}
}

func TestZeroCounterfactualYieldsZeroPercent(t *testing.T) {
	b := Compute(provider.Usage{}, cheap, provider.Usage{}, false, models.Pricing{}, false)
	if b.SavingsPercent != 0 {
		t.Errorf("SavingsPercent = %v, want 0 when counterfactual is 0", b.SavingsPercent)
	}
}

func TestEstimateUsage(t *testing.T) {
	u := EstimateUsage("one two three four", "five six")
	if u.PromptTokens != 3 { // 4 words / 1.3 = 3.08 -> 3
		t.Errorf("PromptTokens = %d, want 3", u.PromptTokens)
	}
	if u.CompletionTokens != 2 { // 2 / 1.3 = 1.54 -> 2
		t.Errorf("CompletionTokens = %d, want 2", u.CompletionTokens)
	}
	if got := EstimateUsage("", ""); got.PromptTokens != 0 || got.CompletionTokens != 0 {
		t.Errorf("empty text estimate = %+v, want zeros", got)
	}
}

func TestEstimatedFlagPropagates(t *testing.T) {
	b := Compute(provider.Usage{PromptTokens: 5, CompletionTokens: 5}, cheap,
		provider.Usage{}, false, strong, true)
	if !b.Estimated {
		t.Error("Estimated flag lost")
	}
}
