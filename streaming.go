package cascade

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/cascade/costing"
	"github.com/jordanhubbard/cascade/events"
	"github.com/jordanhubbard/cascade/models"
	"github.com/jordanhubbard/cascade/provider"
	"github.com/jordanhubbard/cascade/quality"
)

const streamBuffer = 64

// Stream executes one request with incremental delivery. Pre-call failures
// (options, guardrails, admission) return synchronously before any event is
// emitted; after that, the returned channel carries the typed event sequence
// and is closed after the terminal complete or error event.
func (a *Agent) Stream(ctx context.Context, messages []provider.Message, opts RequestOptions) (<-chan StreamEvent, error) {
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
	if err := a.pre(ctx, exec); err != nil {
		cancel()
		return nil, err
	}

	out := make(chan StreamEvent, streamBuffer)
	go func() {
		defer close(out)
		defer cancel()
		a.streamExec(ctx, exec, out)
	}()
	return out, nil
}

// sender delivers events to the consumer with chunk coalescing: when the
// consumer lags, adjacent text deltas merge into one pending chunk. Nothing
// is ever dropped; non-chunk events flush the pending text first.
type sender struct {
	ctx     context.Context
	out     chan<- StreamEvent
	pending string
}

// chunk forwards delta text, coalescing under back-pressure.
func (s *sender) chunk(text string) error {
	if text == "" {
		return nil
	}
	if s.pending != "" {
		s.pending += text
		return s.flushNonBlocking()
	}
	select {
	case s.out <- StreamEvent{Type: StreamChunk, Text: text}:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		s.pending = text
		return nil
	}
}

func (s *sender) flushNonBlocking() error {
	if s.pending == "" {
		return nil
	}
	select {
	case s.out <- StreamEvent{Type: StreamChunk, Text: s.pending}:
		s.pending = ""
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}
	return nil
}

// send flushes pending text and delivers ev, blocking until the consumer
// keeps up or the request is cancelled.
func (s *sender) send(ev StreamEvent) error {
	if s.pending != "" {
		select {
		case s.out <- StreamEvent{Type: StreamChunk, Text: s.pending}:
			s.pending = ""
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
	select {
	case s.out <- ev:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// terminal delivers the final event without requiring a live context; the
// channel buffer almost always has room since the stream closes right after.
func (s *sender) terminal(ev StreamEvent) {
	if s.pending != "" && ev.Type == StreamComplete {
		select {
		case s.out <- StreamEvent{Type: StreamChunk, Text: s.pending}:
			s.pending = ""
		default:
		}
	}
	select {
	case s.out <- ev:
	default:
	}
}

// tierOutput is what one streamed tier produced.
type tierOutput struct {
	content   string
	toolCalls []provider.ToolCall
	usage     provider.Usage
	latencyMs float64
	perr      *provider.Error
}

// streamExec drives the cascade under incremental delivery. Semantics mirror
// the non-streaming controller; the consumer additionally learns through
// draft-decision whether already-streamed draft text is final, and through
// switch that subsequent chunks come from the verifier.
func (a *Agent) streamExec(ctx context.Context, exec *execution, out chan<- StreamEvent) {
	s := &sender{ctx: ctx, out: out}

	if err := s.send(StreamEvent{Type: StreamStart}); err != nil {
		s.terminal(a.cancelEvent(ctx, exec))
		return
	}

	switch exec.route.Target {
	case TargetVerifier:
		// Drafter bypassed: a single switch frames the stream.
		if err := s.send(StreamEvent{Type: StreamSwitch, ToModel: a.verifier.Name}); err != nil {
			s.terminal(a.cancelEvent(ctx, exec))
			return
		}
		exec.em.Emit(events.Event{Type: events.TypeSwitch, Component: "stream", ToModel: a.verifier.Name})
		a.streamVerifier(ctx, exec, s, RouteDirect)

	case TargetDrafter:
		tier := a.streamTier(ctx, a.drafter, exec, s)
		exec.draftMs = tier.latencyMs
		if tier.perr != nil {
			s.terminal(a.errorEvent(exec, tier.perr))
			return
		}
		a.adoptDraft(exec, tier)
		a.finishStream(exec, s, RouteDirect, true)

	default:
		a.streamCascade(ctx, exec, s)
	}
}

// streamCascade is the draft → validate → (accept | switch) path.
func (a *Agent) streamCascade(ctx context.Context, exec *execution, s *sender) {
	exec.em.Emit(events.Event{Type: events.TypeDraftStarted, Component: "stream", Model: a.drafter.Name})
	tier := a.streamTier(ctx, a.drafter, exec, s)
	exec.draftMs = tier.latencyMs

	if tier.perr != nil {
		if tier.perr.Kind == provider.ErrCancelled || ctx.Err() != nil {
			s.terminal(a.cancelEvent(ctx, exec))
			return
		}
		// Drafter fault: silent rejection, escalate. The consumer learns the
		// streamed prefix is superseded.
		a.logger.Warn("drafter stream failed, escalating",
			slog.String("request_id", exec.requestID),
			slog.String("error", tier.perr.Error()),
		)
		exec.quality = quality.Verdict{Passed: false, Reason: quality.ReasonTooShort}
		accepted := false
		if err := s.send(StreamEvent{Type: StreamDraftDecision, Accepted: &accepted}); err != nil {
			s.terminal(a.cancelEvent(ctx, exec))
			return
		}
		a.switchToVerifier(ctx, exec, s)
		return
	}

	a.adoptDraft(exec, tier)
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
	decision := StreamEvent{
		Type:       StreamDraftDecision,
		Accepted:   &accepted,
		Score:      exec.quality.Score,
		Confidence: exec.quality.Signals["confidence"],
	}
	if err := s.send(decision); err != nil {
		s.terminal(a.cancelEvent(ctx, exec))
		return
	}

	if accepted {
		a.finishStream(exec, s, RouteCascade, true)
		return
	}
	a.switchToVerifier(ctx, exec, s)
}

func (a *Agent) switchToVerifier(ctx context.Context, exec *execution, s *sender) {
	ev := StreamEvent{Type: StreamSwitch, FromModel: a.drafter.Name, ToModel: a.verifier.Name}
	if err := s.send(ev); err != nil {
		s.terminal(a.cancelEvent(ctx, exec))
		return
	}
	exec.em.Emit(events.Event{
		Type:      events.TypeSwitch,
		Component: "stream",
		FromModel: a.drafter.Name,
		ToModel:   a.verifier.Name,
	})
	if err := a.budgetGate(exec); err != nil {
		s.terminal(StreamEvent{Type: StreamError, ErrKind: err.Kind, ErrMessage: err.Message})
		return
	}
	a.streamVerifier(ctx, exec, s, RouteCascade)
}

func (a *Agent) streamVerifier(ctx context.Context, exec *execution, s *sender, strategy RoutingStrategy) {
	exec.em.Emit(events.Event{Type: events.TypeVerifyStarted, Component: "stream", Model: a.verifier.Name})
	tier := a.streamTier(ctx, a.verifier, exec, s)
	exec.verifierMs = tier.latencyMs
	if tier.perr != nil {
		if tier.perr.Kind == provider.ErrCancelled || ctx.Err() != nil {
			s.terminal(a.cancelEvent(ctx, exec))
			return
		}
		s.terminal(a.errorEvent(exec, tier.perr))
		return
	}
	exec.verifierResp = &provider.ChatResponse{
		Content:   tier.content,
		ToolCalls: tier.toolCalls,
		Usage:     tier.usage,
	}
	exec.verifierRan = true
	if tier.usage.Total() == 0 {
		exec.verifierResp.Usage = costing.EstimateUsage(exec.prompt, tier.content)
		exec.estimated = true
	}
	exec.em.Emit(events.Event{
		Type:      events.TypeVerifyCompleted,
		Component: "stream",
		Model:     a.verifier.Name,
		LatencyMs: tier.latencyMs,
	})
	a.finishStream(exec, s, strategy, false)
}

// adoptDraft records a completed drafter tier on the execution.
func (a *Agent) adoptDraft(exec *execution, tier tierOutput) {
	exec.draftResp = &provider.ChatResponse{
		Content:   tier.content,
		ToolCalls: tier.toolCalls,
		Usage:     tier.usage,
	}
	exec.draftUsage = tier.usage
	if tier.usage.Total() == 0 {
		exec.draftUsage = costing.EstimateUsage(exec.prompt, tier.content)
		exec.estimated = true
	}
	exec.em.Emit(events.Event{
		Type:      events.TypeDraftCompleted,
		Component: "stream",
		Model:     a.drafter.Name,
		LatencyMs: exec.draftMs,
	})
}

// finishStream assembles the terminal result, records admission cost, and
// emits the complete event carrying the fully accumulated content.
func (a *Agent) finishStream(exec *execution, s *sender, strategy RoutingStrategy, draftAccepted bool) {
	result := a.done(exec, strategy, draftAccepted)
	if exec.eff.Identity != "" {
		a.admission.RecordRequest(exec.eff.Identity, result.Cost.TotalUSD)
	}
	exec.em.Emit(events.Event{
		Type:      events.TypeRequestDone,
		Component: "stream",
		Model:     result.ModelUsed,
		Route:     string(result.RoutingStrategy),
		CostUSD:   result.Cost.TotalUSD,
		SavedUSD:  result.Cost.SavedUSD,
		LatencyMs: result.Latency.TotalMs,
	})
	s.terminal(StreamEvent{Type: StreamComplete, Result: result})
}

func (a *Agent) cancelEvent(ctx context.Context, exec *execution) StreamEvent {
	err := terminalError(ctx, nil)
	exec.em.Emit(events.Event{
		Type:         events.TypeRequestFailed,
		Component:    "stream",
		ErrorKind:    string(err.Kind),
		ErrorMessage: err.Message,
	})
	return StreamEvent{Type: StreamError, ErrKind: err.Kind, ErrMessage: err.Message}
}

func (a *Agent) errorEvent(exec *execution, perr *provider.Error) StreamEvent {
	err := a.providerError(exec, perr)
	exec.em.Emit(events.Event{
		Type:         events.TypeRequestFailed,
		Component:    "stream",
		ErrorKind:    string(err.Kind),
		ErrorMessage: err.Message,
	})
	return StreamEvent{Type: StreamError, ErrKind: err.Kind, ErrMessage: err.Message}
}

// toolAggregate accumulates tool-call fragments per id; partial fragments are
// never exposed to the consumer.
type toolAggregate struct {
	order []string
	parts map[string]*toolParts
}

type toolParts struct {
	name string
	args string
}

func newToolAggregate() *toolAggregate {
	return &toolAggregate{parts: make(map[string]*toolParts)}
}

func (t *toolAggregate) add(ev provider.Event) {
	p, ok := t.parts[ev.ToolID]
	if !ok {
		p = &toolParts{}
		t.parts[ev.ToolID] = p
		t.order = append(t.order, ev.ToolID)
	}
	p.name += ev.NameDelta
	p.args += ev.ArgsDelta
}

func (t *toolAggregate) calls() []provider.ToolCall {
	calls := make([]provider.ToolCall, 0, len(t.order))
	for _, id := range t.order {
		p := t.parts[id]
		calls = append(calls, provider.ToolCall{ID: id, Name: p.name, Arguments: []byte(p.args)})
	}
	return calls
}

// streamTier streams one provider tier, forwarding deltas to the consumer as
// they arrive and aggregating tool fragments. Models without streaming
// support fall back to a single Chat call surfaced as one chunk.
func (a *Agent) streamTier(ctx context.Context, d models.Descriptor, exec *execution, s *sender) tierOutput {
	po, optErr := a.providerOptions(d, exec.opts)
	if optErr != nil {
		return tierOutput{perr: &provider.Error{Kind: provider.ErrBadRequest, Model: d.Name, Message: optErr.Error(), Err: optErr}}
	}
	msgs := models.RemapMessages(d, exec.messages)
	cctx, cancel := a.callTimeout(ctx)
	defer cancel()
	start := time.Now()

	if !d.Supports(provider.FeatureStreaming) {
		resp, err := d.Client.Chat(cctx, msgs, po)
		latency := float64(time.Since(start).Milliseconds())
		if err != nil {
			return tierOutput{latencyMs: latency, perr: provider.Classify(d.Name, err)}
		}
		if err := s.chunk(resp.Content); err != nil {
			return tierOutput{latencyMs: latency, perr: provider.Classify(d.Name, err)}
		}
		for i := range resp.ToolCalls {
			call := resp.ToolCalls[i]
			if err := s.send(StreamEvent{Type: StreamToolCall, ToolCall: &call}); err != nil {
				return tierOutput{latencyMs: latency, perr: provider.Classify(d.Name, err)}
			}
		}
		return tierOutput{
			content:   resp.Content,
			toolCalls: resp.ToolCalls,
			usage:     resp.Usage,
			latencyMs: latency,
		}
	}

	evCh, err := d.Client.Stream(cctx, msgs, po)
	if err != nil {
		return tierOutput{latencyMs: float64(time.Since(start).Milliseconds()), perr: provider.Classify(d.Name, err)}
	}

	var content string
	var usage provider.Usage
	tools := newToolAggregate()

	for {
		select {
		case <-ctx.Done():
			return tierOutput{
				content:   content,
				latencyMs: float64(time.Since(start).Milliseconds()),
				perr:      provider.Classify(d.Name, ctx.Err()),
			}
		case ev, ok := <-evCh:
			if !ok {
				// Stream ended without a finish event; treat what arrived as
				// the full response.
				return a.tierDone(s, content, tools, usage, start, d)
			}
			switch ev.Type {
			case provider.EventDelta:
				content += ev.Text
				if err := s.chunk(ev.Text); err != nil {
					return tierOutput{content: content, latencyMs: float64(time.Since(start).Milliseconds()), perr: provider.Classify(d.Name, err)}
				}
			case provider.EventToolFragment:
				tools.add(ev)
			case provider.EventFinish:
				usage = ev.Usage
				return a.tierDone(s, content, tools, usage, start, d)
			case provider.EventError:
				return tierOutput{
					content:   content,
					latencyMs: float64(time.Since(start).Milliseconds()),
					perr:      provider.Classify(d.Name, ev.Err),
				}
			}
		}
	}
}

// tierDone emits coalesced tool calls and closes out the tier.
func (a *Agent) tierDone(s *sender, content string, tools *toolAggregate, usage provider.Usage, start time.Time, d models.Descriptor) tierOutput {
	calls := tools.calls()
	for i := range calls {
		call := calls[i]
		if err := s.send(StreamEvent{Type: StreamToolCall, ToolCall: &call}); err != nil {
			return tierOutput{content: content, latencyMs: float64(time.Since(start).Milliseconds()), perr: provider.Classify(d.Name, err)}
		}
	}
	return tierOutput{
		content:   content,
		toolCalls: calls,
		usage:     usage,
		latencyMs: float64(time.Since(start).Milliseconds()),
	}
}
