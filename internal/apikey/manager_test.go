package apikey

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/cascade/internal/store"
)

// memStore is an in-memory store.Store for tests.
type memStore struct {
	mu         sync.Mutex
	keys       map[string]store.APIKeyRecord
	admissions map[string][]byte
	logs       []store.RequestLog
}

func newMemStore() *memStore {
	return &memStore{
		keys:       make(map[string]store.APIKeyRecord),
		admissions: make(map[string][]byte),
	}
}

func (m *memStore) SaveAdmission(_ context.Context, identity string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admissions[identity] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) LoadAdmission(_ context.Context, identity string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.admissions[identity]
	return data, ok, nil
}

func (m *memStore) LogRequest(_ context.Context, entry store.RequestLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

func (m *memStore) ListRequestLogs(_ context.Context, limit, offset int) ([]store.RequestLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.RequestLog(nil), m.logs...), nil
}

func (m *memStore) CreateAPIKey(_ context.Context, key store.APIKeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.ID] = key
	return nil
}

func (m *memStore) GetAPIKeysByPrefix(_ context.Context, prefix string) ([]store.APIKeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.APIKeyRecord
	for _, k := range m.keys {
		if k.KeyPrefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStore) ListAPIKeys(_ context.Context) ([]store.APIKeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.APIKeyRecord
	for _, k := range m.keys {
		out = append(out, k)
	}
	return out, nil
}

func (m *memStore) UpdateAPIKey(_ context.Context, key store.APIKeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.ID] = key
	return nil
}

func (m *memStore) DeleteAPIKey(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, id)
	return nil
}

func (m *memStore) PruneOldLogs(_ context.Context, _ time.Duration) (int64, error) { return 0, nil }
func (m *memStore) Migrate(_ context.Context) error                                { return nil }
func (m *memStore) Close() error                                                   { return nil }

func TestGenerateAndValidate(t *testing.T) {
	mgr := NewManager(newMemStore())
	ctx := context.Background()

	plaintext, rec, err := mgr.Generate(ctx, "user-1", "standard", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plaintext, "cascade_"))
	assert.Equal(t, "user-1", rec.Identity)
	assert.Equal(t, "standard", rec.Tier)

	got, err := mgr.Validate(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "user-1", got.Identity)
}

func TestValidateRejectsGarbage(t *testing.T) {
	mgr := NewManager(newMemStore())
	ctx := context.Background()

	_, err := mgr.Validate(ctx, "short")
	assert.Error(t, err)

	_, err = mgr.Validate(ctx, "cascade_00000000deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestValidateRejectsExpired(t *testing.T) {
	mgr := NewManager(newMemStore())
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	plaintext, _, err := mgr.Generate(ctx, "user-1", "", &past)
	require.NoError(t, err)

	_, err = mgr.Validate(ctx, plaintext)
	assert.Error(t, err)
}

func TestDisableInvalidatesKey(t *testing.T) {
	ms := newMemStore()
	mgr := NewManager(ms)
	ctx := context.Background()

	plaintext, rec, err := mgr.Generate(ctx, "user-1", "", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Disable(ctx, rec.ID))

	// A fresh manager (no warm cache) must refuse the disabled key.
	fresh := NewManager(ms)
	_, err = fresh.Validate(ctx, plaintext)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestValidationCacheAvoidsStore(t *testing.T) {
	ms := newMemStore()
	mgr := NewManager(ms)
	ctx := context.Background()

	plaintext, _, err := mgr.Generate(ctx, "user-1", "", nil)
	require.NoError(t, err)

	_, err = mgr.Validate(ctx, plaintext)
	require.NoError(t, err)

	// Deleting from the backing store does not invalidate the warm cache;
	// the second validation is served from memory.
	for id := range ms.keys {
		require.NoError(t, ms.DeleteAPIKey(ctx, id))
	}
	_, err = mgr.Validate(ctx, plaintext)
	assert.NoError(t, err)
}
