package models

import (
	"errors"
	"testing"

	"github.com/jordanhubbard/cascade/provider"
)

func descriptor(name string, features ...provider.Feature) Descriptor {
	return Descriptor{
		Provider: "stub",
		Name:     name,
		Pricing:  Pricing{InputPerMTok: 1, OutputPerMTok: 2},
		Features: provider.NewFeatureSet(features...),
	}
}

func TestLookupAndPricing(t *testing.T) {
	r, err := New([]Descriptor{descriptor("small"), descriptor("large")})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	d, ok := r.Lookup("stub", "small")
	if !ok || d.Name != "small" {
		t.Fatalf("Lookup failed: %v %v", d, ok)
	}
	// Lookup is case-insensitive on the key.
	if _, ok := r.Lookup("Stub", "SMALL"); !ok {
		t.Error("case-insensitive lookup failed")
	}

	p := r.PricingFor("stub", "small")
	if p.InputPerMTok != 1 || p.OutputPerMTok != 2 {
		t.Errorf("PricingFor = %+v", p)
	}
}

func TestUnknownPricingYieldsZeroAndCallback(t *testing.T) {
	var gotProvider, gotModel string
	r, err := New([]Descriptor{descriptor("small")},
		WithUnknownPricingFunc(func(providerName, model string) {
			gotProvider, gotModel = providerName, model
		}))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	p := r.PricingFor("stub", "mystery")
	if !p.Zero() {
		t.Errorf("unknown pricing = %+v, want zero", p)
	}
	if gotProvider != "stub" || gotModel != "mystery" {
		t.Errorf("callback got %s/%s", gotProvider, gotModel)
	}
}

func TestDuplicateModelRejected(t *testing.T) {
	_, err := New([]Descriptor{descriptor("same"), descriptor("same")})
	if err == nil {
		t.Fatal("duplicate descriptors accepted")
	}
}

func TestRemapRefusesToolsWithoutSupport(t *testing.T) {
	d := descriptor("no-tools")
	_, err := RemapOptions(d, provider.Options{
		Tools: []provider.ToolSpec{{Name: "get_weather"}},
	})
	if !errors.Is(err, ErrUnsupportedTool) {
		t.Fatalf("error = %v, want ErrUnsupportedTool", err)
	}
}

func TestRemapReasoningModel(t *testing.T) {
	d := descriptor("thinker", provider.FeatureReasoning)

	// Temperature other than 1 is refused.
	temp := 0.7
	_, err := RemapOptions(d, provider.Options{Temperature: &temp})
	if !errors.Is(err, ErrUnsupportedFeature) {
		t.Fatalf("error = %v, want ErrUnsupportedFeature", err)
	}

	// Temperature 1 is accepted and stripped; maxTokens renamed.
	one := 1.0
	out, err := RemapOptions(d, provider.Options{Temperature: &one, MaxTokens: 2048})
	if err != nil {
		t.Fatalf("RemapOptions() error: %v", err)
	}
	if out.Temperature != nil {
		t.Error("temperature not stripped for reasoning model")
	}
	if out.MaxTokens != 0 || out.MaxCompletionTokens != 2048 {
		t.Errorf("token budget not renamed: %+v", out)
	}
}

func TestRemapPassthroughForPlainModel(t *testing.T) {
	d := descriptor("plain", provider.FeatureTools)
	temp := 0.3
	in := provider.Options{Temperature: &temp, MaxTokens: 100,
		Tools: []provider.ToolSpec{{Name: "search"}}}
	out, err := RemapOptions(d, in)
	if err != nil {
		t.Fatalf("RemapOptions() error: %v", err)
	}
	if out.MaxTokens != 100 || out.Temperature == nil || *out.Temperature != 0.3 {
		t.Errorf("plain model options altered: %+v", out)
	}
}

func TestRemapMessagesStripsSystemForReasoning(t *testing.T) {
	d := descriptor("thinker", provider.FeatureReasoning)
	msgs := []provider.Message{
		{Role: provider.RoleSystem, Content: "Be concise."},
		{Role: provider.RoleUser, Content: "What is 2+2?"},
	}
	out := RemapMessages(d, msgs)
	if len(out) != 1 {
		t.Fatalf("got %d messages, want 1", len(out))
	}
	if out[0].Role != provider.RoleUser {
		t.Errorf("role = %v, want user", out[0].Role)
	}
	if out[0].Content != "Be concise.\n\nWhat is 2+2?" {
		t.Errorf("content = %q", out[0].Content)
	}
}

func TestRemapMessagesUntouchedWithSystemSupport(t *testing.T) {
	d := descriptor("plain", provider.FeatureSystemMessage)
	msgs := []provider.Message{
		{Role: provider.RoleSystem, Content: "Be concise."},
		{Role: provider.RoleUser, Content: "Hello"},
	}
	out := RemapMessages(d, msgs)
	if len(out) != 2 || out[0].Role != provider.RoleSystem {
		t.Errorf("messages altered: %+v", out)
	}
}
