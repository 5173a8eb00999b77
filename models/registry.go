// Package models holds the provider capability registry: static per-model
// pricing, feature flags, and generation-option remapping rules. The registry
// is immutable after construction and safe for concurrent lookup.
package models

import (
	"fmt"
	"strings"

	"github.com/jordanhubbard/cascade/provider"
)

// Pricing is the per-million-token price of a model.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Zero reports whether no pricing is known.
func (p Pricing) Zero() bool { return p.InputPerMTok == 0 && p.OutputPerMTok == 0 }

// Descriptor identifies one routable model and its static characteristics.
// Immutable for the life of an agent instance.
type Descriptor struct {
	Provider string
	Name     string
	Pricing  Pricing
	Features provider.FeatureSet

	// QualityThreshold overrides the policy threshold when this model is the
	// drafter. Zero means "use the policy".
	QualityThreshold float64

	// Client is the SDK adapter that serves this model. Supplied by the
	// embedder; credentials live inside the client, never in the registry.
	Client provider.Client
}

// Key returns the registry key for a provider/model pair.
func (d Descriptor) Key() string { return key(d.Provider, d.Name) }

func key(providerName, model string) string {
	return strings.ToLower(providerName) + "/" + strings.ToLower(model)
}

// Supports reports whether the model supports the feature, consulting the
// descriptor's overrides first and the client capability set second.
func (d Descriptor) Supports(f provider.Feature) bool {
	if d.Features != nil {
		return d.Features.Has(f)
	}
	if d.Client != nil {
		return d.Client.Capabilities().Has(f)
	}
	return false
}

// UnknownPricingFunc is invoked when pricing is looked up for an unregistered
// key. Used for metrics only; lookups never block or fail.
type UnknownPricingFunc func(providerName, model string)

// Registry is the static capability table. Construct once with New and pass
// to the agent; there is no mutation after construction.
type Registry struct {
	entries   map[string]Descriptor
	onUnknown UnknownPricingFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithUnknownPricingFunc sets a callback fired on pricing lookups for
// unregistered models.
func WithUnknownPricingFunc(fn UnknownPricingFunc) Option {
	return func(r *Registry) { r.onUnknown = fn }
}

// New builds a registry from descriptors. Duplicate keys are rejected.
func New(descriptors []Descriptor, opts ...Option) (*Registry, error) {
	r := &Registry{entries: make(map[string]Descriptor, len(descriptors))}
	for _, o := range opts {
		o(r)
	}
	for _, d := range descriptors {
		k := d.Key()
		if _, dup := r.entries[k]; dup {
			return nil, fmt.Errorf("duplicate model %q", k)
		}
		r.entries[k] = d
	}
	return r, nil
}

// Lookup returns the descriptor for a provider/model pair.
func (r *Registry) Lookup(providerName, model string) (Descriptor, bool) {
	d, ok := r.entries[key(providerName, model)]
	return d, ok
}

// PricingFor returns pricing for a provider/model pair. An unknown key yields
// zero pricing and fires the unknown-pricing callback; it never blocks.
func (r *Registry) PricingFor(providerName, model string) Pricing {
	d, ok := r.entries[key(providerName, model)]
	if !ok {
		if r.onUnknown != nil {
			r.onUnknown(providerName, model)
		}
		return Pricing{}
	}
	return d.Pricing
}

// List returns all registered descriptors.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, d)
	}
	return out
}
