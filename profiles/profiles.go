// Package profiles resolves per-identity configuration: tier presets, custom
// limits, optimisation weights, and guardrail flags. Resolution follows a
// fixed precedence: request override > workflow profile > user profile > tier
// preset > global default.
package profiles

import (
	"errors"
	"fmt"
)

// ErrConfig marks construction-time configuration faults. Conflicting
// enumeration values fail fast with this error.
var ErrConfig = errors.New("invalid configuration")

// Tier is a named limit preset. Zero values mean unlimited.
type Tier struct {
	Name            string  `json:"name"`
	RequestsPerHour int     `json:"requests_per_hour"`
	RequestsPerDay  int     `json:"requests_per_day"`
	DailyBudgetUSD  float64 `json:"daily_budget_usd"`
	MinQuality      float64 `json:"min_quality"`
}

// DefaultTiers returns the stock tier presets.
func DefaultTiers() map[string]Tier {
	return map[string]Tier{
		"free":       {Name: "free", RequestsPerHour: 20, RequestsPerDay: 100, DailyBudgetUSD: 1, MinQuality: 0.5},
		"standard":   {Name: "standard", RequestsPerHour: 120, RequestsPerDay: 1500, DailyBudgetUSD: 25, MinQuality: 0.6},
		"pro":        {Name: "pro", RequestsPerHour: 600, RequestsPerDay: 10000, DailyBudgetUSD: 250, MinQuality: 0.7},
		"enterprise": {Name: "enterprise"}, // unlimited
	}
}

// Weights are the optimisation preferences of a profile. They need not sum
// to 1; consumers normalise.
type Weights struct {
	Cost    float64 `json:"cost"`
	Speed   float64 `json:"speed"`
	Quality float64 `json:"quality"`
}

// Profile describes one identity (or one workflow, or one request override —
// all three layers share the shape). Zero/nil fields inherit from the layer
// below.
type Profile struct {
	Identity string `json:"identity,omitempty"`
	Tier     string `json:"tier,omitempty"`

	RequestsPerHour int     `json:"requests_per_hour,omitempty"`
	RequestsPerDay  int     `json:"requests_per_day,omitempty"`
	DailyBudgetUSD  float64 `json:"daily_budget_usd,omitempty"`

	EnableContentModeration *bool `json:"enable_content_moderation,omitempty"`
	EnablePiiDetection      *bool `json:"enable_pii_detection,omitempty"`

	Weights         *Weights `json:"weights,omitempty"`
	MaxLatencyMs    int      `json:"max_latency_ms,omitempty"`
	PreferredModels []string `json:"preferred_models,omitempty"`
}

// Effective is the fully resolved configuration for one request.
type Effective struct {
	Identity        string
	TierName        string
	RequestsPerHour int
	RequestsPerDay  int
	DailyBudgetUSD  float64
	MinQuality      float64

	ContentModeration bool
	PiiDetection      bool

	Weights         Weights
	MaxLatencyMs    int
	PreferredModels []string
}

// Resolver holds the tier table and global defaults.
type Resolver struct {
	tiers  map[string]Tier
	global Effective
}

// NewResolver builds a resolver. A nil tier map uses DefaultTiers.
func NewResolver(tiers map[string]Tier, global Effective) *Resolver {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	return &Resolver{tiers: tiers, global: global}
}

// Resolve merges the three profile layers over the tier preset and global
// defaults. Any layer may be nil. An unknown tier name fails with ErrConfig.
func (r *Resolver) Resolve(user, workflow, override *Profile) (Effective, error) {
	eff := r.global

	tierName := firstNonEmpty(layerTier(override), layerTier(workflow), layerTier(user))
	if tierName != "" {
		tier, ok := r.tiers[tierName]
		if !ok {
			return Effective{}, fmt.Errorf("%w: unknown tier %q", ErrConfig, tierName)
		}
		eff.TierName = tier.Name
		if tier.RequestsPerHour > 0 {
			eff.RequestsPerHour = tier.RequestsPerHour
		}
		if tier.RequestsPerDay > 0 {
			eff.RequestsPerDay = tier.RequestsPerDay
		}
		if tier.DailyBudgetUSD > 0 {
			eff.DailyBudgetUSD = tier.DailyBudgetUSD
		}
		if tier.MinQuality > 0 {
			eff.MinQuality = tier.MinQuality
		}
	}

	// Lowest-precedence layer first so later layers win.
	for _, p := range []*Profile{user, workflow, override} {
		if p == nil {
			continue
		}
		if p.Identity != "" {
			eff.Identity = p.Identity
		}
		if p.RequestsPerHour > 0 {
			eff.RequestsPerHour = p.RequestsPerHour
		}
		if p.RequestsPerDay > 0 {
			eff.RequestsPerDay = p.RequestsPerDay
		}
		if p.DailyBudgetUSD > 0 {
			eff.DailyBudgetUSD = p.DailyBudgetUSD
		}
		if p.EnableContentModeration != nil {
			eff.ContentModeration = *p.EnableContentModeration
		}
		if p.EnablePiiDetection != nil {
			eff.PiiDetection = *p.EnablePiiDetection
		}
		if p.Weights != nil {
			eff.Weights = *p.Weights
		}
		if p.MaxLatencyMs > 0 {
			eff.MaxLatencyMs = p.MaxLatencyMs
		}
		if len(p.PreferredModels) > 0 {
			eff.PreferredModels = append([]string(nil), p.PreferredModels...)
		}
	}

	return eff, nil
}

func layerTier(p *Profile) string {
	if p == nil {
		return ""
	}
	return p.Tier
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
