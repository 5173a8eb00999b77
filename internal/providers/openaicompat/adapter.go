// Package openaicompat implements provider.Client against any
// chat-completions-compatible endpoint (OpenAI, OpenRouter, vLLM, Ollama's
// compatibility surface). It is the reference adapter wired by the server
// binary; embedders with richer SDKs supply their own clients.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jordanhubbard/cascade/provider"
)

// Adapter is one model endpoint. Capabilities are declared at construction
// since compatible servers differ in what they actually support.
type Adapter struct {
	baseURL  string
	apiKey   string
	model    string
	features provider.FeatureSet
	client   *http.Client
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the HTTP client (e.g. to add an OTel transport).
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// New creates an adapter for one model behind an OpenAI-compatible base URL.
func New(baseURL, apiKey, model string, features provider.FeatureSet, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		model:    model,
		features: features,
		client:   &http.Client{},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Capabilities() provider.FeatureSet { return a.features }

// wire types for the chat completions surface.

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type wireUsage struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	CompletionTokensDetails struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
}

func (a *Adapter) payload(messages []provider.Message, opts provider.Options, stream bool) map[string]any {
	msgs := make([]wireMessage, len(messages))
	for i, m := range messages {
		msgs[i] = wireMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wc := wireToolCall{ID: tc.ID, Type: "function"}
			wc.Function.Name = tc.Name
			wc.Function.Arguments = string(tc.Arguments)
			msgs[i].ToolCalls = append(msgs[i].ToolCalls, wc)
		}
	}

	payload := map[string]any{
		"model":    a.model,
		"messages": msgs,
	}
	if opts.MaxTokens > 0 {
		payload["max_tokens"] = opts.MaxTokens
	}
	if opts.MaxCompletionTokens > 0 {
		payload["max_completion_tokens"] = opts.MaxCompletionTokens
	}
	if opts.Temperature != nil {
		payload["temperature"] = *opts.Temperature
	}
	if len(opts.Tools) > 0 {
		tools := make([]wireTool, len(opts.Tools))
		for i, t := range opts.Tools {
			tools[i].Type = "function"
			tools[i].Function.Name = t.Name
			tools[i].Function.Description = t.Description
			tools[i].Function.Parameters = t.Parameters
		}
		payload["tools"] = tools
	}
	for k, v := range opts.Extra {
		payload[k] = v
	}
	if stream {
		payload["stream"] = true
		payload["stream_options"] = map[string]any{"include_usage": true}
	}
	return payload
}

// Chat performs a blocking completion call.
func (a *Adapter) Chat(ctx context.Context, messages []provider.Message, opts provider.Options) (*provider.ChatResponse, error) {
	body, err := a.doRequest(ctx, a.payload(messages, opts, false))
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Choices []struct {
			Message wireMessage `json:"message"`
		} `json:"choices"`
		Usage wireUsage `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("empty choices in response")
	}

	msg := parsed.Choices[0].Message
	resp := &provider.ChatResponse{
		Content: msg.Content,
		Usage: provider.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			ReasoningTokens:  parsed.Usage.CompletionTokensDetails.ReasoningTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp, nil
}

// Stream opens an SSE stream and translates chunks into provider events.
func (a *Adapter) Stream(ctx context.Context, messages []provider.Message, opts provider.Options) (<-chan provider.Event, error) {
	body, err := a.doStreamRequest(ctx, a.payload(messages, opts, true))
	if err != nil {
		return nil, err
	}

	out := make(chan provider.Event, 16)
	go func() {
		defer close(out)
		defer func() { _ = body.Close() }()
		a.readStream(ctx, body, out)
	}()
	return out, nil
}

// readStream parses the SSE body line by line until [DONE] or error.
func (a *Adapter) readStream(ctx context.Context, body io.Reader, out chan<- provider.Event) {
	var usage provider.Usage
	finishReason := "stop"

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content   string `json:"content"`
					ToolCalls []struct {
						Index    int    `json:"index"`
						ID       string `json:"id"`
						Function struct {
							Name      string `json:"name"`
							Arguments string `json:"arguments"`
						} `json:"function"`
					} `json:"tool_calls"`
				} `json:"delta"`
				FinishReason *string `json:"finish_reason"`
			} `json:"choices"`
			Usage *wireUsage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // tolerate malformed keep-alive frames
		}
		if chunk.Usage != nil {
			usage = provider.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				ReasoningTokens:  chunk.Usage.CompletionTokensDetails.ReasoningTokens,
			}
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content != "" {
				select {
				case out <- provider.Event{Type: provider.EventDelta, Text: c.Delta.Content}:
				case <-ctx.Done():
					out <- provider.Event{Type: provider.EventError, Err: ctx.Err()}
					return
				}
			}
			for _, tc := range c.Delta.ToolCalls {
				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("call_%d", tc.Index)
				}
				select {
				case out <- provider.Event{
					Type:      provider.EventToolFragment,
					ToolID:    id,
					NameDelta: tc.Function.Name,
					ArgsDelta: tc.Function.Arguments,
				}:
				case <-ctx.Done():
					out <- provider.Event{Type: provider.EventError, Err: ctx.Err()}
					return
				}
			}
			if c.FinishReason != nil && *c.FinishReason != "" {
				finishReason = *c.FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		out <- provider.Event{Type: provider.EventError, Err: err}
		return
	}
	out <- provider.Event{Type: provider.EventFinish, FinishReason: finishReason, Usage: usage}
}

// doRequest posts a JSON payload and returns the response body, recording the
// call on the active trace and propagating W3C trace context.
func (a *Adapter) doRequest(ctx context.Context, payload any) ([]byte, error) {
	ctx, span := otel.Tracer("cascade.providers").Start(ctx, "provider.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.model", a.model)),
	)
	defer span.End()

	resp, err := a.post(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read response failed")
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		se := &provider.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		span.RecordError(se)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		return nil, se
	}
	span.SetStatus(codes.Ok, "")
	return body, nil
}

// doStreamRequest posts a JSON payload and returns the raw body for SSE
// consumption. The caller owns closing the returned ReadCloser.
func (a *Adapter) doStreamRequest(ctx context.Context, payload any) (io.ReadCloser, error) {
	resp, err := a.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, &provider.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}

func (a *Adapter) post(ctx context.Context, payload any) (*http.Response, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}
