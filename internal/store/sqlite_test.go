package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.sqlite")
	s, err := NewSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAdmissionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.LoadAdmission(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SaveAdmission(ctx, "u1", []byte(`{"entries":[]}`)))
	data, found, err := s.LoadAdmission(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"entries":[]}`, string(data))

	// Upsert replaces.
	require.NoError(t, s.SaveAdmission(ctx, "u1", []byte(`{"entries":[{"cost_usd":1}]}`)))
	data, _, err = s.LoadAdmission(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, string(data), "cost_usd")
}

func TestRequestLogRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := RequestLog{
		RequestID:     "req-1",
		Identity:      "u1",
		Model:         "verifier-model",
		Route:         "cascade",
		DraftAccepted: false,
		Complexity:    "moderate",
		CostUSD:       0.0021,
		SavedUSD:      -0.0002,
		LatencyMs:     812,
		Status:        "ok",
	}
	require.NoError(t, s.LogRequest(ctx, entry))

	logs, err := s.ListRequestLogs(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "req-1", logs[0].RequestID)
	assert.Equal(t, "cascade", logs[0].Route)
	assert.InDelta(t, 0.0021, logs[0].CostUSD, 1e-9)
	assert.False(t, logs[0].DraftAccepted)
}

func TestAPIKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := APIKeyRecord{
		ID:        "abc123",
		KeyHash:   "$2a$10$hash",
		KeyPrefix: "cascade_abcd1234",
		Identity:  "u1",
		Tier:      "pro",
		CreatedAt: time.Now().UTC(),
		Enabled:   true,
	}
	require.NoError(t, s.CreateAPIKey(ctx, rec))

	byPrefix, err := s.GetAPIKeysByPrefix(ctx, "cascade_abcd1234")
	require.NoError(t, err)
	require.Len(t, byPrefix, 1)
	assert.Equal(t, "u1", byPrefix[0].Identity)

	byPrefix[0].Enabled = false
	require.NoError(t, s.UpdateAPIKey(ctx, byPrefix[0]))

	all, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Enabled)

	require.NoError(t, s.DeleteAPIKey(ctx, "abc123"))
	all, err = s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPruneOldLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := RequestLog{Timestamp: time.Now().Add(-48 * time.Hour), RequestID: "old"}
	fresh := RequestLog{Timestamp: time.Now(), RequestID: "fresh"}
	require.NoError(t, s.LogRequest(ctx, old))
	require.NoError(t, s.LogRequest(ctx, fresh))

	pruned, err := s.PruneOldLogs(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	logs, err := s.ListRequestLogs(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "fresh", logs[0].RequestID)
}
