// Package events is the typed observational stream of the cascade engine.
// Every state transition emits an event carrying the request id and a
// per-request monotone sequence number; external sinks subscribe through the
// in-memory bus and are free to persist, sample, or drop.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	TypeRequestAdmitted Type = "request_admitted"
	TypeRequestRejected Type = "request_rejected"
	TypeRouteDecision   Type = "route_decision"
	TypeDraftStarted    Type = "draft_started"
	TypeDraftCompleted  Type = "draft_completed"
	TypeDraftDecision   Type = "draft_decision"
	TypeSwitch          Type = "switch"
	TypeVerifyStarted   Type = "verify_started"
	TypeVerifyCompleted Type = "verify_completed"
	TypeRequestDone     Type = "request_done"
	TypeRequestFailed   Type = "request_failed"
	TypePricingUnknown  Type = "pricing_unknown"
)

// Event is a single observation. Within one request, Seq is strictly
// increasing; across requests no ordering is guaranteed.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Identity  string    `json:"identity,omitempty"`
	Component string    `json:"component,omitempty"`
	Seq       uint64    `json:"seq"`

	Model        string  `json:"model,omitempty"`
	FromModel    string  `json:"from_model,omitempty"`
	ToModel      string  `json:"to_model,omitempty"`
	Route        string  `json:"route,omitempty"`
	Complexity   string  `json:"complexity,omitempty"`
	Accepted     *bool   `json:"accepted,omitempty"`
	Score        float64 `json:"score,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	LatencyMs    float64 `json:"latency_ms,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	SavedUSD     float64 `json:"saved_usd,omitempty"`
	ErrorKind    string  `json:"error_kind,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// JSON returns the event serialised for SSE sinks.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber receives events on a buffered channel.
type Subscriber struct {
	C    chan Event
	done chan struct{}
}

// Bus is an in-memory pub/sub bus for cascade events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[*Subscriber]struct{})}
}

// Subscribe creates a subscriber with the given channel buffer.
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{
		C:    make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its done channel.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	close(s.done)
}

// Publish sends an event to all subscribers without blocking; slow
// subscribers lose events rather than stalling the engine.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		select {
		case s.C <- e:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Emitter stamps events for one request with its id, identity, and a monotone
// sequence before publishing. A nil Emitter drops everything, so call sites
// need no guards.
type Emitter struct {
	bus       *Bus
	requestID string
	identity  string
	seq       atomic.Uint64
}

// NewEmitter creates a per-request emitter. bus may be nil.
func NewEmitter(bus *Bus, requestID, identity string) *Emitter {
	if bus == nil {
		return nil
	}
	return &Emitter{bus: bus, requestID: requestID, identity: identity}
}

// Emit stamps and publishes one event.
func (em *Emitter) Emit(e Event) {
	if em == nil {
		return
	}
	e.RequestID = em.requestID
	e.Identity = em.identity
	e.Seq = em.seq.Add(1)
	em.bus.Publish(e)
}
