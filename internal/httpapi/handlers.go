package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	cascade "github.com/jordanhubbard/cascade"
	"github.com/jordanhubbard/cascade/internal/stats"
	"github.com/jordanhubbard/cascade/internal/store"
	"github.com/jordanhubbard/cascade/profiles"
	"github.com/jordanhubbard/cascade/provider"
)

// warnOnErr logs a warning if a background store operation fails. Request
// logs must not block the response but their failures must be visible.
func warnOnErr(op string, err error) {
	if err != nil {
		slog.Warn("store operation failed", slog.String("op", op), slog.String("error", err.Error()))
	}
}

// ChatRequest is the transport envelope for one cascade request.
type ChatRequest struct {
	Messages []provider.Message     `json:"messages"`
	Options  cascade.RequestOptions `json:"options"`
}

// ChatResponse wraps the result with the stable metadata map.
type ChatResponse struct {
	Content   string              `json:"content"`
	ToolCalls []provider.ToolCall `json:"tool_calls,omitempty"`
	Metadata  map[string]any      `json:"metadata"`
}

// decodeChatRequest parses the body, refusing unknown fields: the request
// option set is a closed enumeration.
func decodeChatRequest(r *http.Request) (*ChatRequest, error) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var req ChatRequest
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// applyIdentity binds the authenticated key's identity and tier onto the
// request profile, overriding anything the client claimed.
func applyIdentity(r *http.Request, opts *cascade.RequestOptions) {
	rec := keyRecord(r)
	if rec == nil {
		return
	}
	if opts.Profile == nil {
		opts.Profile = &profiles.Profile{}
	}
	opts.Profile.Identity = rec.Identity
	if rec.Tier != "" {
		opts.Profile.Tier = rec.Tier
	}
}

// ChatHandler serves the non-streaming cascade endpoint.
func ChatHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeChatRequest(r)
		if err != nil {
			http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Messages) == 0 {
			http.Error(w, "messages required", http.StatusBadRequest)
			return
		}
		applyIdentity(r, &req.Options)

		result, err := d.Agent.Run(r.Context(), req.Messages, req.Options)
		if err != nil {
			recordFailure(d, err)
			writeError(w, err)
			return
		}
		recordResult(d, r, result)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ChatResponse{
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
			Metadata:  result.Metadata(),
		})
	}
}

// StatsHandler returns the windowed aggregates.
func StatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"global":   d.Stats.Global(),
			"by_model": d.Stats.Summary(),
		})
	}
}

// recordResult feeds metrics, rolling stats, and the persistent request log.
func recordResult(d Dependencies, r *http.Request, result *cascade.Result) {
	if d.Metrics != nil {
		d.Metrics.RequestsTotal.WithLabelValues(string(result.RoutingStrategy), result.ModelUsed, "ok").Inc()
		d.Metrics.RequestLatency.WithLabelValues(string(result.RoutingStrategy), result.ModelUsed).Observe(result.Latency.TotalMs)
		d.Metrics.CostUSD.WithLabelValues("draft", result.ModelUsed).Add(result.Cost.DraftUSD)
		d.Metrics.CostUSD.WithLabelValues("verifier", result.ModelUsed).Add(result.Cost.VerifierUSD)
		if result.Cost.SavedUSD > 0 {
			d.Metrics.SavedUSD.Add(result.Cost.SavedUSD)
		}
		if result.DraftAccepted {
			d.Metrics.DraftAcceptedTotal.Inc()
		} else if result.Cascaded {
			d.Metrics.DraftRejectedTotal.WithLabelValues(string(result.Quality.Reason)).Inc()
			d.Metrics.EscalationsTotal.Inc()
		}
	}
	if d.Stats != nil {
		d.Stats.Record(stats.Snapshot{
			Model:         result.ModelUsed,
			Route:         string(result.RoutingStrategy),
			DraftAccepted: result.DraftAccepted,
			Escalated:     result.Cascaded,
			LatencyMs:     result.Latency.TotalMs,
			CostUSD:       result.Cost.TotalUSD,
			SavedUSD:      result.Cost.SavedUSD,
			Success:       true,
			InputTokens:   result.DraftUsage.PromptTokens + result.VerifierUsage.PromptTokens,
			OutputTokens:  result.DraftUsage.CompletionTokens + result.VerifierUsage.CompletionTokens,
		})
	}
	if d.Store != nil {
		identity := ""
		if rec := keyRecord(r); rec != nil {
			identity = rec.Identity
		}
		warnOnErr("log_request", d.Store.LogRequest(r.Context(), store.RequestLog{
			RequestID:     result.RequestID,
			Identity:      identity,
			Model:         result.ModelUsed,
			Route:         string(result.RoutingStrategy),
			DraftAccepted: result.DraftAccepted,
			Complexity:    string(result.Complexity),
			CostUSD:       result.Cost.TotalUSD,
			SavedUSD:      result.Cost.SavedUSD,
			LatencyMs:     result.Latency.TotalMs,
			Status:        "ok",
		}))
	}
}

func recordFailure(d Dependencies, err error) {
	if d.Metrics == nil {
		return
	}
	ce, ok := err.(*cascade.Error)
	if !ok {
		d.Metrics.RequestsTotal.WithLabelValues("", "", "error").Inc()
		return
	}
	d.Metrics.RequestsTotal.WithLabelValues("", "", string(ce.Kind)).Inc()
	switch ce.Kind {
	case cascade.KindRateLimited, cascade.KindBudgetExceeded:
		d.Metrics.RateLimitedTotal.Inc()
	case cascade.KindGuardrail:
		d.Metrics.GuardrailBlockedTotal.Inc()
	}
}
