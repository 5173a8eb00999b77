package quality

import "github.com/jordanhubbard/cascade/complexity"

// Policy controls when a drafter response is good enough to end the cascade.
type Policy struct {
	// FloorThreshold is the global minimum aggregate score in [0,1].
	FloorThreshold float64

	// MinLength is the minimum response length in characters. Zero means the
	// complexity-scaled default applies.
	MinLength int

	// TierThresholds overrides the floor per complexity band.
	TierThresholds map[complexity.Level]float64

	// UseSemanticValidation enables the embedding similarity check when an
	// embedding backend is configured.
	UseSemanticValidation bool

	// SemanticThreshold is the hard floor for the semantic score. A semantic
	// score below it rejects the draft regardless of the aggregate.
	SemanticThreshold float64

	// StrictMode takes the max of the tiered and floor thresholds instead of
	// preferring the tiered lookup.
	StrictMode bool
}

// DefaultPolicy returns the stock quality policy.
func DefaultPolicy() Policy {
	return Policy{
		FloorThreshold:    0.6,
		SemanticThreshold: 0.5,
		TierThresholds: map[complexity.Level]float64{
			complexity.Trivial:  0.4,
			complexity.Simple:   0.5,
			complexity.Moderate: 0.6,
			complexity.Hard:     0.75,
			complexity.Expert:   0.85,
		},
	}
}

// EffectiveThreshold resolves the aggregate threshold for a request. Strict
// mode takes the max of the tiered and floor values; otherwise the tiered
// lookup wins when the complexity band is known.
func (p Policy) EffectiveThreshold(level complexity.Level) float64 {
	tiered, ok := p.TierThresholds[level]
	if p.StrictMode {
		if ok && tiered > p.FloorThreshold {
			return tiered
		}
		return p.FloorThreshold
	}
	if ok {
		return tiered
	}
	return p.FloorThreshold
}
