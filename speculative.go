package cascade

import (
	"context"

	"github.com/jordanhubbard/cascade/costing"
	"github.com/jordanhubbard/cascade/events"
	"github.com/jordanhubbard/cascade/provider"
)

// speculativeCall is a verifier call started before validation completes.
// Cancelling it on draft acceptance keeps the observable result identical to
// the strict sequential path.
type speculativeCall struct {
	cancel context.CancelFunc
	done   chan speculativeResult
}

type speculativeResult struct {
	resp    *provider.ChatResponse
	latency float64
	perr    *provider.Error
}

// launchSpeculative starts the verifier concurrently with validation.
func (a *Agent) launchSpeculative(ctx context.Context, exec *execution) *speculativeCall {
	sctx, cancel := context.WithCancel(ctx)
	sc := &speculativeCall{cancel: cancel, done: make(chan speculativeResult, 1)}
	go func() {
		resp, latency, perr := a.call(sctx, a.verifier, exec)
		sc.done <- speculativeResult{resp: resp, latency: latency, perr: perr}
	}()
	return sc
}

// adoptSpeculative consumes the in-flight verifier call after a draft
// rejection, emitting the same switch/verify events as the sequential path.
func (a *Agent) adoptSpeculative(ctx context.Context, exec *execution, spec *speculativeCall) (*Result, *Error) {
	exec.em.Emit(events.Event{
		Type:      events.TypeSwitch,
		Component: "controller",
		FromModel: a.drafter.Name,
		ToModel:   a.verifier.Name,
	})
	if err := a.budgetGate(exec); err != nil {
		spec.cancel()
		return nil, err
	}
	exec.em.Emit(events.Event{Type: events.TypeVerifyStarted, Component: "controller", Model: a.verifier.Name})

	var res speculativeResult
	select {
	case res = <-spec.done:
	case <-ctx.Done():
		spec.cancel()
		return nil, terminalError(ctx, a.done(exec, RouteCascade, false))
	}

	exec.verifierMs = res.latency
	if res.perr != nil {
		partial := a.done(exec, RouteCascade, false)
		return nil, a.providerErrorWithPartial(exec, res.perr, partial)
	}
	exec.verifierResp = res.resp
	exec.verifierRan = true
	if res.resp.Usage.Total() == 0 {
		res.resp.Usage = costing.EstimateUsage(exec.prompt, res.resp.Content)
		exec.estimated = true
	}
	exec.em.Emit(events.Event{
		Type:      events.TypeVerifyCompleted,
		Component: "controller",
		Model:     a.verifier.Name,
		LatencyMs: res.latency,
	})
	return a.done(exec, RouteCascade, false), nil
}
