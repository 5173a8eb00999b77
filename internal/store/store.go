// Package store defines the persistence surface of the cascade server:
// admission snapshots, API keys, and the request/cost audit log. The engine
// itself is stateless; everything here backs the optional checkpoint hooks
// and the HTTP surface.
package store

import (
	"context"
	"time"
)

// APIKeyRecord is the persisted form of a client API key.
type APIKeyRecord struct {
	ID         string     `json:"id"`
	KeyHash    string     `json:"-"`          // bcrypt hash, never serialized
	KeyPrefix  string     `json:"key_prefix"` // first chars for identification
	Identity   string     `json:"identity"`   // admission identity the key maps to
	Tier       string     `json:"tier"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Enabled    bool       `json:"enabled"`
}

// RequestLog is one served request, persisted for audit and dashboards.
type RequestLog struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id"`
	Identity      string    `json:"identity"`
	Model         string    `json:"model"`
	Route         string    `json:"route"`
	DraftAccepted bool      `json:"draft_accepted"`
	Complexity    string    `json:"complexity"`
	CostUSD       float64   `json:"cost_usd"`
	SavedUSD      float64   `json:"saved_usd"`
	LatencyMs     float64   `json:"latency_ms"`
	Status        string    `json:"status"`
}

// Store is the persistence interface of the cascade server.
type Store interface {
	// Admission snapshots (per-identity sliding-window state).
	SaveAdmission(ctx context.Context, identity string, data []byte) error
	LoadAdmission(ctx context.Context, identity string) ([]byte, bool, error)

	// Request log.
	LogRequest(ctx context.Context, entry RequestLog) error
	ListRequestLogs(ctx context.Context, limit, offset int) ([]RequestLog, error)

	// API key management.
	CreateAPIKey(ctx context.Context, key APIKeyRecord) error
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]APIKeyRecord, error)
	ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error)
	UpdateAPIKey(ctx context.Context, key APIKeyRecord) error
	DeleteAPIKey(ctx context.Context, id string) error

	// Log retention.
	PruneOldLogs(ctx context.Context, retention time.Duration) (int64, error)

	// Schema lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
