// Package costing attributes token costs per cascade tier and computes the
// counterfactual verifier-only cost and realised savings.
package costing

import (
	"strings"

	"github.com/jordanhubbard/cascade/models"
	"github.com/jordanhubbard/cascade/provider"
)

// Fallback whitespace-words-per-token ratio when a provider reports no usage.
const wordsPerToken = 1.3

// Breakdown is the per-request cost attribution. TotalUSD is always the sum
// of draft and verifier; SavedUSD is counterfactual minus total.
type Breakdown struct {
	DraftUSD          float64 `json:"draft_usd"`
	VerifierUSD       float64 `json:"verifier_usd"`
	TotalUSD          float64 `json:"total_usd"`
	CounterfactualUSD float64 `json:"counterfactual_usd"`
	SavedUSD          float64 `json:"saved_usd"`
	SavingsPercent    float64 `json:"savings_percent"`
	Estimated         bool    `json:"estimated"` // true when any usage was estimated from text
}

// Cost prices one call: tokens times the per-million-token rate.
func Cost(usage provider.Usage, p models.Pricing) float64 {
	return float64(usage.PromptTokens)*p.InputPerMTok*1e-6 +
		float64(usage.CompletionTokens)*p.OutputPerMTok*1e-6
}

// EstimateUsage derives usage counts from raw text when the provider reported
// none, at roughly 1.3 whitespace words per token.
func EstimateUsage(prompt, completion string) provider.Usage {
	return provider.Usage{
		PromptTokens:     estimateTokens(prompt),
		CompletionTokens: estimateTokens(completion),
	}
}

func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(float64(words)/wordsPerToken + 0.5)
}

// Compute builds the full breakdown for a request.
//
// counterfactual applies the verifier's pricing to the tokenisation the
// verifier would have seen: its own usage when it ran, otherwise the
// drafter's. SavingsPercent is 0 when the counterfactual is 0.
func Compute(draftUsage provider.Usage, draftPricing models.Pricing, verifierUsage provider.Usage, verifierRan bool, verifierPricing models.Pricing, estimated bool) Breakdown {
	b := Breakdown{Estimated: estimated}
	b.DraftUSD = Cost(draftUsage, draftPricing)
	if verifierRan {
		b.VerifierUSD = Cost(verifierUsage, verifierPricing)
		b.CounterfactualUSD = Cost(verifierUsage, verifierPricing)
	} else {
		b.CounterfactualUSD = Cost(draftUsage, verifierPricing)
	}
	b.TotalUSD = b.DraftUSD + b.VerifierUSD
	b.SavedUSD = b.CounterfactualUSD - b.TotalUSD
	if b.CounterfactualUSD > 0 {
		b.SavingsPercent = 100 * b.SavedUSD / b.CounterfactualUSD
	}
	return b
}
