package cascade

import "github.com/jordanhubbard/cascade/provider"

// StreamEventType discriminates consumer-facing stream events.
type StreamEventType string

const (
	StreamStart         StreamEventType = "start"
	StreamChunk         StreamEventType = "chunk"
	StreamToolCall      StreamEventType = "tool-call"
	StreamDraftDecision StreamEventType = "draft-decision"
	StreamSwitch        StreamEventType = "switch"
	StreamComplete      StreamEventType = "complete"
	StreamError         StreamEventType = "error"
)

// StreamEvent is one element of Agent.Stream output. Chunks are additive over
// the final content: concatenating every chunk of the winning tier yields
// Result.Content.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// Chunk delta text.
	Text string `json:"text,omitempty"`

	// Coalesced tool call; partial fragments are never exposed.
	ToolCall *provider.ToolCall `json:"tool_call,omitempty"`

	// Draft decision: whether the already-streamed draft text is final.
	Accepted   *bool   `json:"accepted,omitempty"`
	Score      float64 `json:"score,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// Switch marker. FromModel is empty when the drafter was bypassed.
	FromModel string `json:"from_model,omitempty"`
	ToModel   string `json:"to_model,omitempty"`

	// Terminal payloads.
	Result     *Result   `json:"result,omitempty"`
	ErrKind    ErrorKind `json:"err_kind,omitempty"`
	ErrMessage string    `json:"err_message,omitempty"`
}
