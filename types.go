// Package cascade is the two-tier speculative routing engine. An Agent holds
// an ordered model list (cheapest drafter first, most capable verifier last)
// and serves each request by drafting, quality-checking, and escalating only
// when the cheap tier falls short.
package cascade

import (
	"fmt"
	"time"

	"github.com/jordanhubbard/cascade/admission"
	"github.com/jordanhubbard/cascade/complexity"
	"github.com/jordanhubbard/cascade/costing"
	"github.com/jordanhubbard/cascade/embedding"
	"github.com/jordanhubbard/cascade/events"
	"github.com/jordanhubbard/cascade/guardrails"
	"github.com/jordanhubbard/cascade/models"
	"github.com/jordanhubbard/cascade/profiles"
	"github.com/jordanhubbard/cascade/provider"
	"github.com/jordanhubbard/cascade/quality"
)

// RoutingStrategy labels how a request was served.
type RoutingStrategy string

const (
	RouteDirect  RoutingStrategy = "direct"
	RouteCascade RoutingStrategy = "cascade"
)

// PreRouterPolicy configures the pre-call routing decision table.
type PreRouterPolicy struct {
	// SkipDrafterForHard sends hard/expert prompts straight to the verifier.
	SkipDrafterForHard bool
	// SkipVerifierForTrivial serves trivial prompts from the drafter alone,
	// without validation or escalation.
	SkipVerifierForTrivial bool
}

// Config assembles an Agent. Models is the cascade order contract: index 0 is
// the drafter, the last entry the verifier; escalation traverses strictly
// forward.
type Config struct {
	Models []models.Descriptor

	// Registry is the capability registry. Built from Models when nil.
	Registry *models.Registry

	Quality   quality.Policy
	PreRouter PreRouterPolicy

	// SpeculativeVerifier starts the verifier after the draft response
	// arrives but before validation completes, cancelling it on acceptance.
	// The observable result is identical either way; default is strict
	// sequential to preserve the cost contract.
	SpeculativeVerifier bool

	// CachingEnabled deduplicates identical requests through a short-TTL
	// response cache.
	CachingEnabled bool
	CacheTTL       time.Duration // default 5m

	// MaxCostPerRequestUSD aborts the cascade between tiers when the running
	// total would exceed it. Zero disables the cap.
	MaxCostPerRequestUSD float64

	Guardrails        *guardrails.Checker
	GuardrailSettings guardrails.Settings

	// Embedder enables the semantic quality term. Optional.
	Embedder embedding.Embedder

	// Tiers and GlobalDefaults feed the profile resolver. Nil tiers use the
	// stock presets.
	Tiers          map[string]profiles.Tier
	GlobalDefaults profiles.Effective

	// Bus receives the observational event stream. Optional.
	Bus *events.Bus

	// PerModelTimeout bounds each provider call; RequestTimeout wraps the
	// whole cascade. Zero disables the respective deadline.
	PerModelTimeout time.Duration
	RequestTimeout  time.Duration

	// LoadAdmission / PersistAdmission checkpoint per-identity admission
	// state through an external store. Optional.
	LoadAdmission    admission.LoadFunc
	PersistAdmission admission.PersistFunc
}

// RequestOptions is the closed per-request option set. Unknown options are
// refused at the transport boundary; out-of-range values are refused here.
type RequestOptions struct {
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
	Tools       []provider.ToolSpec `json:"tools,omitempty"`
	ForceDirect bool                `json:"force_direct,omitempty"`
	MaxSteps    int                 `json:"max_steps,omitempty"`
	TimeoutMs   int                 `json:"timeout_ms,omitempty"`
	Profile     *profiles.Profile   `json:"profile,omitempty"`
	Trace       bool                `json:"trace,omitempty"`
	Extra       map[string]any      `json:"extra,omitempty"`
}

// Validate refuses out-of-range option values.
func (o RequestOptions) Validate() error {
	if o.MaxTokens < 0 {
		return configError("max_tokens must be >= 0, got %d", o.MaxTokens)
	}
	if o.Temperature != nil && (*o.Temperature < 0 || *o.Temperature > 2) {
		return configError("temperature must be in [0,2], got %g", *o.Temperature)
	}
	if o.MaxSteps < 0 {
		return configError("max_steps must be >= 0, got %d", o.MaxSteps)
	}
	if o.TimeoutMs < 0 {
		return configError("timeout_ms must be >= 0, got %d", o.TimeoutMs)
	}
	seen := make(map[string]bool, len(o.Tools))
	for _, t := range o.Tools {
		if t.Name == "" {
			return configError("tool with empty name")
		}
		if seen[t.Name] {
			return configError("duplicate tool %q", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// Latencies holds the per-tier timing attribution in milliseconds.
// CascadeOverheadMs is the draft latency paid on top of the verifier when the
// draft was rejected, and 0 when it was accepted.
type Latencies struct {
	TotalMs           float64 `json:"total_ms"`
	DraftMs           float64 `json:"draft_ms"`
	VerifierMs        float64 `json:"verifier_ms"`
	CascadeOverheadMs float64 `json:"cascade_overhead_ms"`
}

// Result is the terminal outcome of one request.
type Result struct {
	RequestID string              `json:"request_id"`
	Content   string              `json:"content"`
	ToolCalls []provider.ToolCall `json:"tool_calls,omitempty"`

	ModelUsed       string           `json:"model_used"`
	RoutingStrategy RoutingStrategy  `json:"routing_strategy"`
	Cascaded        bool             `json:"cascaded"`
	DraftAccepted   bool             `json:"draft_accepted"`
	Complexity      complexity.Level `json:"complexity"`
	Quality         quality.Verdict  `json:"quality"`

	DraftUsage    provider.Usage    `json:"draft_usage"`
	VerifierUsage provider.Usage    `json:"verifier_usage"`
	Cost          costing.Breakdown `json:"cost"`
	Latency       Latencies         `json:"latency"`
}

// Metadata returns the stable caller-facing map. Every key is always
// present; fields without a value are nil rather than omitted.
func (r *Result) Metadata() map[string]any {
	meta := map[string]any{
		"routing_strategy":    nil,
		"model_used":          nil,
		"draft_accepted":      nil,
		"complexity":          nil,
		"quality_score":       nil,
		"quality_reason":      nil,
		"draft_cost":          nil,
		"verifier_cost":       nil,
		"total_cost":          nil,
		"saved_amount":        nil,
		"savings_percent":     nil,
		"latency_ms":          nil,
		"draft_latency_ms":    nil,
		"verifier_latency_ms": nil,
		"cascade_overhead_ms": nil,
	}
	if r == nil {
		return meta
	}
	meta["routing_strategy"] = string(r.RoutingStrategy)
	meta["model_used"] = r.ModelUsed
	meta["draft_accepted"] = r.DraftAccepted
	if r.Complexity != "" {
		meta["complexity"] = string(r.Complexity)
	}
	if r.Quality.Reason != "" {
		meta["quality_score"] = r.Quality.Score
		meta["quality_reason"] = string(r.Quality.Reason)
	}
	meta["draft_cost"] = r.Cost.DraftUSD
	meta["verifier_cost"] = r.Cost.VerifierUSD
	meta["total_cost"] = r.Cost.TotalUSD
	meta["saved_amount"] = r.Cost.SavedUSD
	meta["savings_percent"] = r.Cost.SavingsPercent
	meta["latency_ms"] = r.Latency.TotalMs
	meta["draft_latency_ms"] = r.Latency.DraftMs
	meta["verifier_latency_ms"] = r.Latency.VerifierMs
	meta["cascade_overhead_ms"] = r.Latency.CascadeOverheadMs
	return meta
}

func describe(d models.Descriptor) string {
	return fmt.Sprintf("%s/%s", d.Provider, d.Name)
}
