// Package admission enforces per-identity sliding-window request limits and a
// rolling daily budget. A request is admitted only if every configured
// counter stays within its limit after hypothetical insertion; admission
// never records — callers record once the real cost is known.
package admission

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// Limits are the effective caps for one identity. Zero or negative values
// mean unlimited.
type Limits struct {
	RequestsPerHour int
	RequestsPerDay  int
	DailyBudgetUSD  float64
}

// RateLimitError is returned when a window cap would be exceeded.
// RetryAfterSeconds is the earliest time at which the offending window drops
// an entry making room.
type RateLimitError struct {
	Window            string // "hour" or "day"
	Limit             int
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s window at %d requests, retry after %ds", e.Window, e.Limit, e.RetryAfterSeconds)
}

// BudgetError is returned when the daily budget would be exceeded.
type BudgetError struct {
	BudgetUSD         float64
	SpentUSD          float64
	RetryAfterSeconds int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("daily budget exceeded: budget=$%.2f, spent=$%.4f", e.BudgetUSD, e.SpentUSD)
}

// entry is one recorded request.
type entry struct {
	at   time.Time
	cost float64
}

// identityState holds one identity's rolling 24h log. The hourly window is a
// suffix of the daily one, so a single ordered slice serves both.
type identityState struct {
	mu      sync.Mutex
	entries []entry
}

// Snapshot is the portable form of an identity's admission state, used by the
// optional persistence hooks.
type Snapshot struct {
	Entries []SnapshotEntry `json:"entries"`
}

// SnapshotEntry mirrors entry for serialisation.
type SnapshotEntry struct {
	At      time.Time `json:"at"`
	CostUSD float64   `json:"cost_usd"`
}

// LoadFunc restores an identity's snapshot; ok=false means no stored state.
type LoadFunc func(identity string) (Snapshot, bool)

// PersistFunc stores an identity's snapshot after each recorded request.
type PersistFunc func(identity string, snap Snapshot)

// Controller tracks admission state for all identities. State is in-memory;
// the hooks allow an external store to checkpoint it.
type Controller struct {
	mu         sync.Mutex
	identities map[string]*identityState

	load    LoadFunc
	persist PersistFunc
	now     func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithPersistence attaches load/persist hooks. Either may be nil.
func WithPersistence(load LoadFunc, persist PersistFunc) Option {
	return func(c *Controller) {
		c.load = load
		c.persist = persist
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates an admission controller.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		identities: make(map[string]*identityState),
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// state returns the identity's state, restoring it from the load hook on
// first sight.
func (c *Controller) state(identity string) *identityState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.identities[identity]
	if ok {
		return st
	}
	st = &identityState{}
	if c.load != nil {
		if snap, found := c.load(identity); found {
			st.entries = make([]entry, 0, len(snap.Entries))
			for _, e := range snap.Entries {
				st.entries = append(st.entries, entry{at: e.At, cost: e.CostUSD})
			}
		}
	}
	c.identities[identity] = st
	return st
}

// CheckAdmit verifies that admitting one request with the given estimated
// cost keeps every configured counter within limits. It does not record; call
// RecordRequest after the real cost is known.
func (c *Controller) CheckAdmit(identity string, limits Limits, estimatedCostUSD float64) error {
	st := c.state(identity)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := c.now()
	st.expire(now)

	hourCount, dayCount, daySpend := st.tally(now)

	if limits.RequestsPerHour > 0 && hourCount+1 > limits.RequestsPerHour {
		return &RateLimitError{
			Window:            "hour",
			Limit:             limits.RequestsPerHour,
			RetryAfterSeconds: st.retryAfter(now, hourWindow),
		}
	}
	if limits.RequestsPerDay > 0 && dayCount+1 > limits.RequestsPerDay {
		return &RateLimitError{
			Window:            "day",
			Limit:             limits.RequestsPerDay,
			RetryAfterSeconds: st.retryAfter(now, dayWindow),
		}
	}
	if limits.DailyBudgetUSD > 0 && daySpend+estimatedCostUSD > limits.DailyBudgetUSD {
		return &BudgetError{
			BudgetUSD:         limits.DailyBudgetUSD,
			SpentUSD:          daySpend,
			RetryAfterSeconds: st.retryAfter(now, dayWindow),
		}
	}
	return nil
}

// RecordRequest appends the actual cost of an admitted request and persists
// the snapshot when a hook is attached.
func (c *Controller) RecordRequest(identity string, actualCostUSD float64) {
	st := c.state(identity)
	st.mu.Lock()
	now := c.now()
	st.expire(now)
	st.entries = append(st.entries, entry{at: now, cost: actualCostUSD})
	snap := st.snapshotLocked()
	st.mu.Unlock()

	if c.persist != nil {
		c.persist(identity, snap)
	}
}

// SnapshotOf returns a copy of an identity's current state.
func (c *Controller) SnapshotOf(identity string) Snapshot {
	st := c.state(identity)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.expire(c.now())
	return st.snapshotLocked()
}

func (s *identityState) snapshotLocked() Snapshot {
	snap := Snapshot{Entries: make([]SnapshotEntry, len(s.entries))}
	for i, e := range s.entries {
		snap.Entries[i] = SnapshotEntry{At: e.at, CostUSD: e.cost}
	}
	return snap
}

// expire drops entries older than the day window. Entries are appended in
// time order, so the live suffix starts at the first unexpired index.
func (s *identityState) expire(now time.Time) {
	cutoff := now.Add(-dayWindow)
	i := 0
	for i < len(s.entries) && !s.entries[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		s.entries = append([]entry(nil), s.entries[i:]...)
	}
}

func (s *identityState) tally(now time.Time) (hourCount, dayCount int, daySpend float64) {
	hourCutoff := now.Add(-hourWindow)
	for _, e := range s.entries {
		dayCount++
		daySpend += e.cost
		if e.at.After(hourCutoff) {
			hourCount++
		}
	}
	return hourCount, dayCount, daySpend
}

// retryAfter computes the seconds until the earliest entry of the given
// window expires, rounded up.
func (s *identityState) retryAfter(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	for _, e := range s.entries {
		if e.at.After(cutoff) {
			wait := e.at.Add(window).Sub(now).Seconds()
			return int(math.Ceil(wait))
		}
	}
	return 1
}
