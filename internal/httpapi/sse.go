package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	cascade "github.com/jordanhubbard/cascade"
)

// sseWriter wraps a flushing response writer for server-sent events.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// ChatStreamHandler serves the streaming cascade endpoint as SSE. Each
// StreamEvent becomes one SSE event named after its type; the terminal
// complete event carries the full result metadata.
func ChatStreamHandler(d Dependencies) http.HandlerFunc {
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

		eventsCh, err := d.Agent.Stream(r.Context(), req.Messages, req.Options)
		if err != nil {
			recordFailure(d, err)
			writeError(w, err)
			return
		}

		sse, ok := newSSEWriter(w)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		for ev := range eventsCh {
			if err := sse.event(string(ev.Type), ev); err != nil {
				return // client went away; engine cancellation follows via ctx
			}
			if ev.Type == cascade.StreamComplete && ev.Result != nil {
				recordResult(d, r, ev.Result)
			}
		}
	}
}

// EventsHandler exposes the engine's observational bus as an SSE firehose.
func EventsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.EventBus == nil {
			http.Error(w, "events disabled", http.StatusNotFound)
			return
		}
		sse, ok := newSSEWriter(w)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		sub := d.EventBus.Subscribe(256)
		defer d.EventBus.Unsubscribe(sub)

		for {
			select {
			case <-r.Context().Done():
				return
			case ev := <-sub.C:
				if err := sse.event(string(ev.Type), ev); err != nil {
					return
				}
			}
		}
	}
}
