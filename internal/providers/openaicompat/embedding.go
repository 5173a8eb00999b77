package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jordanhubbard/cascade/provider"
)

// EmbeddingClient implements the embedding backend contract against an
// OpenAI-compatible /v1/embeddings endpoint.
type EmbeddingClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewEmbedding creates an embedding client for one model.
func NewEmbedding(baseURL, apiKey, model string, opts ...Option) *EmbeddingClient {
	adapter := &Adapter{client: &http.Client{}}
	for _, o := range opts {
		o(adapter)
	}
	return &EmbeddingClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  adapter.client,
	}
}

// Embed returns the vector for one text.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	payload := map[string]any{"model": c.model, "input": text}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &provider.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, errors.New("empty embedding response")
	}
	return parsed.Data[0].Embedding, nil
}
