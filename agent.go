package cascade

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jordanhubbard/cascade/admission"
	"github.com/jordanhubbard/cascade/costing"
	"github.com/jordanhubbard/cascade/events"
	"github.com/jordanhubbard/cascade/guardrails"
	"github.com/jordanhubbard/cascade/internal/respcache"
	"github.com/jordanhubbard/cascade/models"
	"github.com/jordanhubbard/cascade/profiles"
	"github.com/jordanhubbard/cascade/provider"
	"github.com/jordanhubbard/cascade/quality"
)

// estimatedOutputTokens is the default completion-size assumption used for
// pre-call cost estimates (admission and budget checks).
const estimatedOutputTokens = 512

// Agent executes cascade requests against a fixed model list. Construct with
// New; an Agent is safe for concurrent use.
type Agent struct {
	cfg      Config
	registry *models.Registry

	drafter  models.Descriptor
	verifier models.Descriptor
	single   bool

	validator *quality.Validator
	admission *admission.Controller
	resolver  *profiles.Resolver
	guard     *guardrails.Checker
	bus       *events.Bus
	cache     *respcache.Cache
	logger    *slog.Logger
}

// New validates the configuration and builds an Agent. Configuration faults
// surface immediately as KindConfig errors.
func New(cfg Config) (*Agent, error) {
	if len(cfg.Models) == 0 {
		return nil, configError("at least one model is required")
	}
	for _, d := range cfg.Models {
		if d.Client == nil {
			return nil, configError("model %s has no client", describe(d))
		}
	}
	registry := cfg.Registry
	if registry == nil {
		var err error
		registry, err = models.New(cfg.Models)
		if err != nil {
			return nil, configError("registry: %v", err)
		}
	}
	if cfg.Quality.FloorThreshold == 0 && cfg.Quality.TierThresholds == nil {
		cfg.Quality = quality.DefaultPolicy()
	}

	logger := slog.Default().With(slog.String("component", "cascade"))

	a := &Agent{
		cfg:      cfg,
		registry: registry,
		drafter:  cfg.Models[0],
		verifier: cfg.Models[len(cfg.Models)-1],
		single:   len(cfg.Models) == 1,
		guard:    cfg.Guardrails,
		bus:      cfg.Bus,
		logger:   logger,
	}
	a.validator = quality.NewValidator(cfg.Embedder, logger)
	a.admission = admission.NewController(
		admission.WithPersistence(cfg.LoadAdmission, cfg.PersistAdmission),
	)
	a.resolver = profiles.NewResolver(cfg.Tiers, cfg.GlobalDefaults)
	if cfg.CachingEnabled {
		a.cache = respcache.New(cfg.CacheTTL, 1024)
	}
	return a, nil
}

// Events returns the agent's event bus, or nil when none was configured.
func (a *Agent) Events() *events.Bus { return a.bus }

// CheckAdmission verifies the identity's sliding-window limits and daily
// budget for a request of the given estimated cost. It records nothing;
// admitted requests are recorded by Run/Stream once actual cost is known.
func (a *Agent) CheckAdmission(p *profiles.Profile, estimatedCostUSD float64) error {
	eff, err := a.resolver.Resolve(p, nil, nil)
	if err != nil {
		return &Error{Kind: KindConfig, Message: err.Error(), Err: err}
	}
	return a.checkAdmission(eff, estimatedCostUSD)
}

func (a *Agent) checkAdmission(eff profiles.Effective, estimatedCostUSD float64) error {
	if eff.Identity == "" {
		return nil
	}
	limits := admission.Limits{
		RequestsPerHour: eff.RequestsPerHour,
		RequestsPerDay:  eff.RequestsPerDay,
		DailyBudgetUSD:  eff.DailyBudgetUSD,
	}
	err := a.admission.CheckAdmit(eff.Identity, limits, estimatedCostUSD)
	if err == nil {
		return nil
	}
	var rl *admission.RateLimitError
	if errors.As(err, &rl) {
		return &Error{Kind: KindRateLimited, Message: err.Error(), RetryAfterSeconds: rl.RetryAfterSeconds, Err: err}
	}
	var be *admission.BudgetError
	if errors.As(err, &be) {
		return &Error{Kind: KindBudgetExceeded, Message: err.Error(), RetryAfterSeconds: be.RetryAfterSeconds, Err: err}
	}
	return &Error{Kind: KindRateLimited, Message: err.Error(), Err: err}
}

// AdmissionSnapshot exposes an identity's current admission state for
// external checkpointing.
func (a *Agent) AdmissionSnapshot(identity string) admission.Snapshot {
	return a.admission.SnapshotOf(identity)
}

// userVisibleText concatenates the user-visible message text, excluding
// system prompts, for classification and guardrail scanning.
func userVisibleText(msgs []provider.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == provider.RoleSystem {
			continue
		}
		if m.Content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// estimateRequestCost prices the prompt plus a default completion at the
// verifier's rates, the conservative bound used for admission.
func (a *Agent) estimateRequestCost(msgs []provider.Message) float64 {
	var prompt strings.Builder
	for _, m := range msgs {
		prompt.WriteString(m.Content)
		prompt.WriteByte('\n')
	}
	usage := costing.EstimateUsage(prompt.String(), "")
	usage.CompletionTokens = estimatedOutputTokens
	return costing.Cost(usage, a.pricingFor(a.verifier))
}

// pricingFor resolves pricing through the capability registry, so unknown
// keys surface through the registry's warning callback and price as zero.
func (a *Agent) pricingFor(d models.Descriptor) models.Pricing {
	return a.registry.PricingFor(d.Provider, d.Name)
}

// providerOptions translates request options into provider options for a
// specific model, applying the registry's remapping rules.
func (a *Agent) providerOptions(d models.Descriptor, opts RequestOptions) (provider.Options, error) {
	po := provider.Options{
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Tools:       opts.Tools,
		Extra:       opts.Extra,
	}
	remapped, err := models.RemapOptions(d, po)
	if err != nil {
		if errors.Is(err, models.ErrUnsupportedTool) || errors.Is(err, models.ErrUnsupportedFeature) {
			return provider.Options{}, &Error{Kind: KindUnsupportedFeature, Message: err.Error(), Err: err}
		}
		return provider.Options{}, &Error{Kind: KindConfig, Message: err.Error(), Err: err}
	}
	return remapped, nil
}

// callTimeout applies the per-model deadline to ctx.
func (a *Agent) callTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.PerModelTimeout > 0 {
		return context.WithTimeout(ctx, a.cfg.PerModelTimeout)
	}
	return ctx, func() {}
}

// requestTimeout applies the whole-request deadline, honouring a per-request
// override from options.
func (a *Agent) requestTimeout(ctx context.Context, opts RequestOptions) (context.Context, context.CancelFunc) {
	timeout := a.cfg.RequestTimeout
	if opts.TimeoutMs > 0 {
		timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return ctx, func() {}
}

// terminalError maps a context failure onto the engine's error taxonomy.
func terminalError(ctx context.Context, partial *Result) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "request deadline exceeded", Partial: partial, Err: ctx.Err()}
	}
	return &Error{Kind: KindCancelled, Message: "request cancelled", Partial: partial, Err: ctx.Err()}
}
