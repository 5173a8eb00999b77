// Package metrics exposes the Prometheus registry for the cascade engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	RequestsTotal  *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	CostUSD        *prometheus.CounterVec
	SavedUSD       prometheus.Counter

	DraftAcceptedTotal prometheus.Counter
	DraftRejectedTotal *prometheus.CounterVec
	EscalationsTotal   prometheus.Counter

	RateLimitedTotal      prometheus.Counter
	GuardrailBlockedTotal prometheus.Counter
	UnknownPricingTotal   *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_requests_total",
			Help: "Total requests served by the cascade engine",
		}, []string{"route", "model", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cascade_request_latency_ms",
			Help:    "Request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"route", "model"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_cost_usd_total",
			Help: "Attributed USD cost per tier",
		}, []string{"tier", "model"}),
		SavedUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascade_saved_usd_total",
			Help: "USD saved versus invoking the verifier directly",
		}),
		DraftAcceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascade_draft_accepted_total",
			Help: "Drafter responses accepted by the quality validator",
		}),
		DraftRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_draft_rejected_total",
			Help: "Drafter responses rejected, by verdict reason",
		}, []string{"reason"}),
		EscalationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascade_escalations_total",
			Help: "Requests escalated from drafter to verifier",
		}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascade_rate_limited_total",
			Help: "Requests refused by admission control or the HTTP rate limiter",
		}),
		GuardrailBlockedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascade_guardrail_blocked_total",
			Help: "Requests rejected by content guardrails",
		}),
		UnknownPricingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_unknown_pricing_total",
			Help: "Pricing lookups for unregistered provider/model keys",
		}, []string{"provider", "model"}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.RequestLatency, m.CostUSD, m.SavedUSD,
		m.DraftAcceptedTotal, m.DraftRejectedTotal, m.EscalationsTotal,
		m.RateLimitedTotal, m.GuardrailBlockedTotal, m.UnknownPricingTotal,
	)
	return m
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (m *Registry) Gatherer() prometheus.Gatherer { return m.reg }
