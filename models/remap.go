package models

import (
	"errors"
	"fmt"

	"github.com/jordanhubbard/cascade/provider"
)

// ErrUnsupportedTool is returned at admission when the caller passes tools to
// a model without tool support.
var ErrUnsupportedTool = errors.New("model does not support tools")

// ErrUnsupportedFeature is returned when a request needs a feature no
// configured model provides.
var ErrUnsupportedFeature = errors.New("unsupported feature")

// RemapOptions applies the model's option remapping rules to caller options.
// The rule set is closed:
//
//   - reasoning models refuse temperature != 1 and take the token budget as
//     max_completion_tokens instead of max_tokens;
//   - models without tool support refuse tool specs outright.
//
// The returned options are safe to forward to the model's client.
func RemapOptions(d Descriptor, opts provider.Options) (provider.Options, error) {
	if len(opts.Tools) > 0 && !d.Supports(provider.FeatureTools) {
		return provider.Options{}, fmt.Errorf("%s: %w", d.Key(), ErrUnsupportedTool)
	}
	if !d.Supports(provider.FeatureReasoning) {
		return opts, nil
	}
	out := opts
	if opts.Temperature != nil && *opts.Temperature != 1 {
		return provider.Options{}, fmt.Errorf("%s: reasoning model requires temperature 1, got %g: %w",
			d.Key(), *opts.Temperature, ErrUnsupportedFeature)
	}
	out.Temperature = nil
	if opts.MaxTokens > 0 {
		out.MaxCompletionTokens = opts.MaxTokens
		out.MaxTokens = 0
	}
	return out, nil
}

// RemapMessages rewrites the message sequence for reasoning models that do
// not declare system-message support: the system content is stripped and
// prefixed onto the first user message. Other models, including non-reasoning
// models without system-message support, receive the sequence unchanged.
func RemapMessages(d Descriptor, msgs []provider.Message) []provider.Message {
	if d.Supports(provider.FeatureSystemMessage) || !d.Supports(provider.FeatureReasoning) {
		return msgs
	}
	var system string
	out := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == provider.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		out = append(out, m)
	}
	if system == "" {
		return out
	}
	for i := range out {
		if out[i].Role == provider.RoleUser {
			out[i].Content = system + "\n\n" + out[i].Content
			return out
		}
	}
	// No user message to prefix; re-emit the system content as a user turn.
	return append([]provider.Message{{Role: provider.RoleUser, Content: system}}, out...)
}
