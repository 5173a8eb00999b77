package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS admission_snapshots (
			identity TEXT PRIMARY KEY,
			data TEXT NOT NULL DEFAULT '{}',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			request_id TEXT NOT NULL DEFAULT '',
			identity TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			route TEXT NOT NULL DEFAULT '',
			draft_accepted BOOLEAN NOT NULL DEFAULT 0,
			complexity TEXT NOT NULL DEFAULT '',
			cost_usd REAL NOT NULL DEFAULT 0,
			saved_usd REAL NOT NULL DEFAULT 0,
			latency_ms REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'ok'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_identity ON request_logs(identity)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			key_hash TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			identity TEXT NOT NULL,
			tier TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_used_at DATETIME,
			expires_at DATETIME,
			enabled BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveAdmission(ctx context.Context, identity string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admission_snapshots (identity, data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(identity) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`,
		identity, string(data))
	if err != nil {
		return fmt.Errorf("save admission: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadAdmission(ctx context.Context, identity string) ([]byte, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM admission_snapshots WHERE identity = ?`, identity).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load admission: %w", err)
	}
	return []byte(data), true, nil
}

func (s *SQLiteStore) LogRequest(ctx context.Context, entry RequestLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_logs
			(timestamp, request_id, identity, model, route, draft_accepted, complexity, cost_usd, saved_usd, latency_ms, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.RequestID, entry.Identity, entry.Model, entry.Route,
		entry.DraftAccepted, entry.Complexity, entry.CostUSD, entry.SavedUSD,
		entry.LatencyMs, entry.Status)
	if err != nil {
		return fmt.Errorf("log request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRequestLogs(ctx context.Context, limit, offset int) ([]RequestLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, request_id, identity, model, route, draft_accepted, complexity, cost_usd, saved_usd, latency_ms, status
		FROM request_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list request logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []RequestLog
	for rows.Next() {
		var l RequestLog
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.RequestID, &l.Identity, &l.Model, &l.Route,
			&l.DraftAccepted, &l.Complexity, &l.CostUSD, &l.SavedUSD, &l.LatencyMs, &l.Status); err != nil {
			return nil, fmt.Errorf("scan request log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key APIKeyRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, key_hash, key_prefix, identity, tier, created_at, expires_at, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.KeyHash, key.KeyPrefix, key.Identity, key.Tier, key.CreatedAt, key.ExpiresAt, key.Enabled)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key_hash, key_prefix, identity, tier, created_at, last_used_at, expires_at, enabled
		FROM api_keys WHERE key_prefix = ?`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api keys by prefix: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAPIKeys(rows)
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key_hash, key_prefix, identity, tier, created_at, last_used_at, expires_at, enabled
		FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAPIKeys(rows)
}

func scanAPIKeys(rows *sql.Rows) ([]APIKeyRecord, error) {
	var keys []APIKeyRecord
	for rows.Next() {
		var k APIKeyRecord
		if err := rows.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Identity, &k.Tier,
			&k.CreatedAt, &k.LastUsedAt, &k.ExpiresAt, &k.Enabled); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) UpdateAPIKey(ctx context.Context, key APIKeyRecord) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET identity = ?, tier = ?, last_used_at = ?, expires_at = ?, enabled = ?
		WHERE id = ?`,
		key.Identity, key.Tier, key.LastUsedAt, key.ExpiresAt, key.Enabled, key.ID)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PruneOldLogs(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune logs: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
