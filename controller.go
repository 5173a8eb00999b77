package cascade

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/cascade/complexity"
	"github.com/jordanhubbard/cascade/costing"
	"github.com/jordanhubbard/cascade/events"
	"github.com/jordanhubbard/cascade/guardrails"
	"github.com/jordanhubbard/cascade/internal/respcache"
	"github.com/jordanhubbard/cascade/models"
	"github.com/jordanhubbard/cascade/profiles"
	"github.com/jordanhubbard/cascade/provider"
	"github.com/jordanhubbard/cascade/quality"
	"github.com/jordanhubbard/cascade/toolrisk"
)

// execution is the request-local state threaded through the cascade states.
type execution struct {
	requestID string
	eff       profiles.Effective
	em        *events.Emitter
	messages  []provider.Message
	opts      RequestOptions
	prompt    string
	verdict   complexity.Verdict
	risk      *toolrisk.Classifier
	route     routeDecision

	draftResp    *provider.ChatResponse
	draftMs      float64
	draftUsage   provider.Usage
	verifierResp *provider.ChatResponse
	verifierMs   float64
	verifierRan  bool
	estimated    bool

	quality  quality.Verdict
	started  time.Time
	cacheKey string
}

// Run executes one request through the non-streaming cascade state machine
// and returns the terminal result.
func (a *Agent) Run(ctx context.Context, messages []provider.Message, opts RequestOptions) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	eff, err := a.resolver.Resolve(opts.Profile, nil, nil)
	if err != nil {
		return nil, &Error{Kind: KindConfig, Message: err.Error(), Err: err}
	}

	exec := &execution{
		requestID: uuid.NewString(),
		eff:       eff,
		messages:  messages,
		opts:      opts,
		started:   time.Now(),
	}
	exec.em = events.NewEmitter(a.bus, exec.requestID, eff.Identity)
	exec.prompt = userVisibleText(messages)

	ctx, cancel := a.requestTimeout(ctx, opts)
	defer cancel()

	// Pre state: guardrails, admission, routing.
	if err := a.pre(ctx, exec); err != nil {
		return nil, err
	}

	if a.cache != nil {
		key := respcache.Key(messages, opts.Tools, opts.MaxTokens, opts.Temperature, opts.ForceDirect)
		if hit, ok := a.cache.Get(key); ok {
			cached := *hit.(*Result)
			cached.RequestID = exec.requestID
			return &cached, nil
		}
		exec.cacheKey = key
	}

	result, runErr := a.execute(ctx, exec)
	if runErr != nil {
		exec.em.Emit(events.Event{
			Type:         events.TypeRequestFailed,
			Component:    "controller",
			ErrorKind:    string(runErr.Kind),
			ErrorMessage: runErr.Message,
		})
		return nil, runErr
	}

	if exec.eff.Identity != "" {
		a.admission.RecordRequest(exec.eff.Identity, result.Cost.TotalUSD)
	}
	if a.cache != nil && exec.cacheKey != "" {
		a.cache.Set(exec.cacheKey, result)
	}
	exec.em.Emit(events.Event{
		Type:      events.TypeRequestDone,
		Component: "controller",
		Model:     result.ModelUsed,
		Route:     string(result.RoutingStrategy),
		CostUSD:   result.Cost.TotalUSD,
		SavedUSD:  result.Cost.SavedUSD,
		LatencyMs: result.Latency.TotalMs,
	})
	return result, nil
}

// pre runs guardrails, admission, complexity classification, and the
// pre-router. It fails without any provider call having been made.
func (a *Agent) pre(ctx context.Context, exec *execution) error {
	if a.guard != nil {
		settings := a.guardrailSettings(exec.opts.Profile, exec.eff)
		res := a.guard.Check(exec.prompt, &settings)
		if !res.IsSafe {
			exec.em.Emit(events.Event{
				Type:      events.TypeRequestRejected,
				Component: "guardrails",
				Reason:    "content_moderation",
			})
			return &Error{Kind: KindGuardrail, Message: "prompt rejected by guardrails", Findings: res.Findings}
		}
	}

	if err := a.checkAdmission(exec.eff, a.estimateRequestCost(exec.messages)); err != nil {
		exec.em.Emit(events.Event{
			Type:      events.TypeRequestRejected,
			Component: "admission",
			Reason:    err.(*Error).Message,
		})
		return err
	}
	exec.em.Emit(events.Event{Type: events.TypeRequestAdmitted, Component: "admission"})

	if len(exec.opts.Tools) > 0 && !a.drafter.Supports(provider.FeatureTools) && !a.verifier.Supports(provider.FeatureTools) {
		return &Error{
			Kind:    KindUnsupportedFeature,
			Message: "tools requested but no configured tier supports them",
			Err:     models.ErrUnsupportedTool,
		}
	}

	exec.verdict = complexity.Classify(exec.prompt)
	exec.risk = toolrisk.NewClassifier(exec.opts.Tools)
	exec.route = a.preRoute(exec.verdict, exec.opts)
	exec.em.Emit(events.Event{
		Type:       events.TypeRouteDecision,
		Component:  "prerouter",
		Route:      string(exec.route.Target),
		Reason:     exec.route.Reason,
		Complexity: string(exec.verdict.Level),
	})
	return nil
}

// guardrailSettings picks profile flags when a profile was supplied and the
// configured defaults otherwise.
func (a *Agent) guardrailSettings(p *profiles.Profile, eff profiles.Effective) guardrails.Settings {
	if p == nil {
		return a.cfg.GuardrailSettings
	}
	return guardrails.Settings{
		ContentModeration: eff.ContentModeration,
		PIIDetection:      eff.PiiDetection,
	}
}

// execute walks Drafting/Validating/Escalating/Verifying and assembles the
// terminal result. At most two provider calls are made.
func (a *Agent) execute(ctx context.Context, exec *execution) (*Result, *Error) {
	switch exec.route.Target {
	case TargetVerifier:
		exec.em.Emit(events.Event{
			Type:      events.TypeSwitch,
			Component: "controller",
			ToModel:   a.verifier.Name,
		})
		if err := a.verify(ctx, exec, RouteDirect); err != nil {
			return nil, err
		}
		return a.done(exec, RouteDirect, false), nil

	case TargetDrafter:
		if err := a.draft(ctx, exec); err != nil {
			return nil, err
		}
		return a.done(exec, RouteDirect, true), nil

	default: // cascade
		draftErr := a.draft(ctx, exec)
		if draftErr != nil {
			// A cancelled request, or a blown total deadline, terminates; a
			// per-model drafter timeout escalates like any drafter fault.
			if draftErr.Kind == KindCancelled || (draftErr.Kind == KindTimeout && ctx.Err() != nil) {
				return nil, draftErr
			}
			// Drafter failure with a verifier available: treat as a silent
			// rejection with zero output tokens and escalate.
			a.logger.Warn("drafter failed, escalating",
				slog.String("request_id", exec.requestID),
				slog.String("error", draftErr.Message),
			)
			exec.draftResp = nil
			exec.quality = quality.Verdict{Passed: false, Reason: quality.ReasonTooShort}
			return a.escalate(ctx, exec)
		}

		// Optional speculative verifier launch. The observable result is
		// identical to the sequential path.
		var spec *speculativeCall
		if a.cfg.SpeculativeVerifier {
			spec = a.launchSpeculative(ctx, exec)
		}

		exec.quality = a.validator.Validate(ctx, exec.prompt, exec.draftResp, exec.verdict.Level, a.effectivePolicy(), exec.risk)
		forced := exec.risk.AnyForcing(exec.draftResp.ToolCalls)
		if forced {
			exec.quality = quality.Verdict{
				Passed:  false,
				Score:   exec.quality.Score,
				Reason:  quality.ReasonHighRiskTool,
				Signals: exec.quality.Signals,
			}
		}
		accepted := exec.quality.Passed && !forced
		exec.em.Emit(events.Event{
			Type:      events.TypeDraftDecision,
			Component: "quality",
			Accepted:  &accepted,
			Score:     exec.quality.Score,
			Reason:    string(exec.quality.Reason),
		})

		if accepted {
			if spec != nil {
				spec.cancel()
			}
			return a.done(exec, RouteCascade, true), nil
		}
		if spec != nil {
			return a.adoptSpeculative(ctx, exec, spec)
		}
		return a.escalate(ctx, exec)
	}
}

// escalate logs the switch and runs the verifier tier.
func (a *Agent) escalate(ctx context.Context, exec *execution) (*Result, *Error) {
	exec.em.Emit(events.Event{
		Type:      events.TypeSwitch,
		Component: "controller",
		FromModel: a.drafter.Name,
		ToModel:   a.verifier.Name,
	})
	if err := a.budgetGate(exec); err != nil {
		return nil, err
	}
	if err := a.verify(ctx, exec, RouteCascade); err != nil {
		return nil, err
	}
	return a.done(exec, RouteCascade, false), nil
}

// budgetGate aborts between tiers when the running total plus the estimated
// verifier cost would exceed the per-request cap.
func (a *Agent) budgetGate(exec *execution) *Error {
	if a.cfg.MaxCostPerRequestUSD <= 0 {
		return nil
	}
	spent := costing.Cost(exec.draftUsage, a.pricingFor(a.drafter))
	upcoming := a.estimateRequestCost(exec.messages)
	if spent+upcoming > a.cfg.MaxCostPerRequestUSD {
		partial := a.done(exec, RouteCascade, false)
		return &Error{
			Kind:    KindBudgetExceeded,
			Message: "per-request budget would be exceeded by verifier call",
			Partial: partial,
		}
	}
	return nil
}

// draft runs the drafter tier.
func (a *Agent) draft(ctx context.Context, exec *execution) *Error {
	exec.em.Emit(events.Event{Type: events.TypeDraftStarted, Component: "controller", Model: a.drafter.Name})
	resp, latency, perr := a.call(ctx, a.drafter, exec)
	exec.draftMs = latency
	if perr != nil {
		return a.providerError(exec, perr)
	}
	exec.draftResp = resp
	exec.draftUsage = resp.Usage
	if resp.Usage.Total() == 0 {
		exec.draftUsage = costing.EstimateUsage(exec.prompt, resp.Content)
		exec.estimated = true
	}
	exec.em.Emit(events.Event{
		Type:      events.TypeDraftCompleted,
		Component: "controller",
		Model:     a.drafter.Name,
		LatencyMs: latency,
	})
	return nil
}

// verify runs the verifier tier. strategy labels the partial result when the
// verifier itself fails: there is no further tier, so the failure surfaces
// with cost attribution up to this point.
func (a *Agent) verify(ctx context.Context, exec *execution, strategy RoutingStrategy) *Error {
	exec.em.Emit(events.Event{Type: events.TypeVerifyStarted, Component: "controller", Model: a.verifier.Name})
	resp, latency, perr := a.call(ctx, a.verifier, exec)
	exec.verifierMs = latency
	if perr != nil {
		partial := a.done(exec, strategy, false)
		return a.providerErrorWithPartial(exec, perr, partial)
	}
	exec.verifierResp = resp
	exec.verifierRan = true
	if resp.Usage.Total() == 0 {
		resp.Usage = costing.EstimateUsage(exec.prompt, resp.Content)
		exec.estimated = true
	}
	exec.em.Emit(events.Event{
		Type:      events.TypeVerifyCompleted,
		Component: "controller",
		Model:     a.verifier.Name,
		LatencyMs: latency,
	})
	return nil
}

// call makes one provider call with remapped options and the per-model
// deadline applied.
func (a *Agent) call(ctx context.Context, d models.Descriptor, exec *execution) (*provider.ChatResponse, float64, *provider.Error) {
	po, err := a.providerOptions(d, exec.opts)
	if err != nil {
		return nil, 0, &provider.Error{Kind: provider.ErrBadRequest, Model: d.Name, Message: err.Error(), Err: err}
	}
	msgs := models.RemapMessages(d, exec.messages)
	cctx, cancel := a.callTimeout(ctx)
	defer cancel()
	start := time.Now()
	resp, callErr := d.Client.Chat(cctx, msgs, po)
	latency := float64(time.Since(start).Milliseconds())
	if callErr != nil {
		return nil, latency, provider.Classify(d.Name, callErr)
	}
	return resp, latency, nil
}

func (a *Agent) providerError(exec *execution, perr *provider.Error) *Error {
	return a.providerErrorWithPartial(exec, perr, nil)
}

func (a *Agent) providerErrorWithPartial(exec *execution, perr *provider.Error, partial *Result) *Error {
	kind := KindProvider
	switch perr.Kind {
	case provider.ErrTimeout:
		kind = KindTimeout
	case provider.ErrCancelled:
		kind = KindCancelled
	}
	return &Error{Kind: kind, Message: perr.Error(), Provider: perr, Partial: partial, Err: perr}
}

// effectivePolicy applies a drafter-level quality threshold override.
func (a *Agent) effectivePolicy() quality.Policy {
	p := a.cfg.Quality
	if a.drafter.QualityThreshold > 0 {
		p.FloorThreshold = a.drafter.QualityThreshold
	}
	return p
}

// done assembles the terminal result. Cost attribution happens exactly once,
// here.
func (a *Agent) done(exec *execution, strategy RoutingStrategy, draftAccepted bool) *Result {
	res := &Result{
		RequestID:       exec.requestID,
		RoutingStrategy: strategy,
		DraftAccepted:   draftAccepted,
		Complexity:      exec.verdict.Level,
		Quality:         exec.quality,
		DraftUsage:      exec.draftUsage,
	}

	var verifierUsage provider.Usage
	if exec.verifierRan && exec.verifierResp != nil {
		verifierUsage = exec.verifierResp.Usage
		res.VerifierUsage = verifierUsage
	}

	switch {
	case exec.verifierRan:
		res.ModelUsed = a.verifier.Name
		res.Cascaded = strategy == RouteCascade
		res.Content = exec.verifierResp.Content
		res.ToolCalls = exec.verifierResp.ToolCalls
	case exec.draftResp != nil:
		res.ModelUsed = a.drafter.Name
		res.Content = exec.draftResp.Content
		res.ToolCalls = exec.draftResp.ToolCalls
	}

	res.Cost = costing.Compute(
		exec.draftUsage, a.pricingFor(a.drafter),
		verifierUsage, exec.verifierRan, a.pricingFor(a.verifier),
		exec.estimated,
	)

	res.Latency = Latencies{
		TotalMs:    float64(time.Since(exec.started).Milliseconds()),
		DraftMs:    exec.draftMs,
		VerifierMs: exec.verifierMs,
	}
	if !draftAccepted && exec.verifierRan {
		res.Latency.CascadeOverheadMs = exec.draftMs
	}
	return res
}
