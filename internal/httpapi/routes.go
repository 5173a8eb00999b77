// Package httpapi mounts the HTTP surface of the cascade server: chat,
// streaming chat, the event firehose, health, and metrics. The engine itself
// is transport-free; everything here is embedder glue.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	cascade "github.com/jordanhubbard/cascade"
	"github.com/jordanhubbard/cascade/events"
	"github.com/jordanhubbard/cascade/internal/apikey"
	"github.com/jordanhubbard/cascade/internal/metrics"
	"github.com/jordanhubbard/cascade/internal/ratelimit"
	"github.com/jordanhubbard/cascade/internal/stats"
	"github.com/jordanhubbard/cascade/internal/store"
)

// Dependencies wires the handlers to the engine and its supporting services.
type Dependencies struct {
	Agent    *cascade.Agent
	Metrics  *metrics.Registry
	Store    store.Store
	EventBus *events.Bus
	Stats    *stats.Collector

	// APIKeyMgr authenticates requests and maps keys to admission
	// identities. Nil disables authentication (development mode).
	APIKeyMgr *apikey.Manager

	// RateLimiter guards the chat endpoints per client IP. Optional.
	RateLimiter *ratelimit.Limiter
}

// maxRequestBodySize is the maximum allowed request body (10 MB).
const maxRequestBodySize = 10 << 20

// bodySizeLimit wraps POST bodies with http.MaxBytesReader.
func bodySizeLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MountRoutes attaches all endpoints to the router.
func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(bodySizeLimit(maxRequestBodySize))
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware)
		}
		r.Use(authMiddleware(d))

		r.Post("/v1/chat", ChatHandler(d))
		r.Post("/v1/chat/stream", ChatStreamHandler(d))
		r.Get("/v1/events", EventsHandler(d))
		r.Get("/v1/stats", StatsHandler(d))
	})
}

// writeError renders an engine error with the right status code and a stable
// kind string.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	payload := map[string]any{"error": err.Error(), "kind": "internal"}

	if ce, ok := err.(*cascade.Error); ok {
		payload["kind"] = string(ce.Kind)
		payload["error"] = ce.Message
		switch ce.Kind {
		case cascade.KindConfig, cascade.KindUnsupportedFeature:
			status = http.StatusBadRequest
		case cascade.KindRateLimited, cascade.KindBudgetExceeded:
			status = http.StatusTooManyRequests
			if ce.RetryAfterSeconds > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(ce.RetryAfterSeconds))
				payload["retry_after_seconds"] = ce.RetryAfterSeconds
			}
		case cascade.KindGuardrail:
			status = http.StatusUnprocessableEntity
			payload["findings"] = ce.Findings
		case cascade.KindTimeout:
			status = http.StatusGatewayTimeout
		case cascade.KindCancelled:
			status = 499 // client closed request
		case cascade.KindProvider:
			status = http.StatusBadGateway
		}
		if ce.Partial != nil {
			payload["partial"] = ce.Partial.Metadata()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
