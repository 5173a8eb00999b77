// Package apikey handles client API key generation and validation for the
// HTTP surface. Each key maps to an admission identity and tier; keys are
// stored as bcrypt hashes and validated through a short TTL cache so bcrypt
// is not paid on every request.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jordanhubbard/cascade/internal/store"
)

// hashForBcrypt pre-hashes a key with SHA-256 to stay within bcrypt's 72-byte limit.
func hashForBcrypt(key string) []byte {
	h := sha256.Sum256([]byte(key))
	return []byte(hex.EncodeToString(h[:]))
}

const (
	keyPrefix    = "cascade_"
	keyRandBytes = 32
	bcryptCost   = 10
	cacheTTL     = 5 * time.Minute
)

// ErrInvalidKey is returned when no enabled key matches.
var ErrInvalidKey = errors.New("invalid api key")

type cachedKey struct {
	record    *store.APIKeyRecord
	expiresAt time.Time
}

// Manager handles API key generation and validation.
type Manager struct {
	store store.Store

	mu    sync.RWMutex
	cache map[string]cachedKey // SHA-256 hash of key -> cached record
}

// NewManager creates a new API key manager.
func NewManager(s store.Store) *Manager {
	return &Manager{
		store: s,
		cache: make(map[string]cachedKey),
	}
}

// Generate creates a new API key bound to an admission identity and tier,
// stores its bcrypt hash, and returns the plaintext key exactly once.
func (m *Manager) Generate(ctx context.Context, identity, tier string, expiresAt *time.Time) (string, *store.APIKeyRecord, error) {
	raw := make([]byte, keyRandBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate random: %w", err)
	}
	plaintext := keyPrefix + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword(hashForBcrypt(plaintext), bcryptCost)
	if err != nil {
		return "", nil, fmt.Errorf("bcrypt hash: %w", err)
	}

	rec := store.APIKeyRecord{
		ID:        hex.EncodeToString(raw[:8]),
		KeyHash:   string(hash),
		KeyPrefix: plaintext[:len(keyPrefix)+8],
		Identity:  identity,
		Tier:      tier,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
		Enabled:   true,
	}
	if err := m.store.CreateAPIKey(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("store api key: %w", err)
	}
	return plaintext, &rec, nil
}

// Validate checks a plaintext API key and returns the associated record.
func (m *Manager) Validate(ctx context.Context, keyString string) (*store.APIKeyRecord, error) {
	// Check cache first (keyed by SHA-256 hash, not plaintext).
	cacheKey := string(hashForBcrypt(keyString))
	m.mu.RLock()
	if cached, ok := m.cache[cacheKey]; ok && time.Now().Before(cached.expiresAt) {
		m.mu.RUnlock()
		return cached.record, nil
	}
	m.mu.RUnlock()

	// Extract prefix for indexed lookup.
	if len(keyString) < len(keyPrefix)+8 {
		return nil, ErrInvalidKey
	}
	prefix := keyString[:len(keyPrefix)+8]

	keys, err := m.store.GetAPIKeysByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("lookup keys: %w", err)
	}

	for i := range keys {
		k := &keys[i]
		if !k.Enabled {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(k.KeyHash), hashForBcrypt(keyString)); err != nil {
			continue
		}
		if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
			return nil, errors.New("api key expired")
		}
		now := time.Now().UTC()
		k.LastUsedAt = &now
		_ = m.store.UpdateAPIKey(ctx, *k)

		// Cache a copy to prevent mutation of cached data.
		cachedRecord := *k
		m.mu.Lock()
		m.cache[cacheKey] = cachedKey{
			record:    &cachedRecord,
			expiresAt: time.Now().Add(cacheTTL),
		}
		m.mu.Unlock()

		return &cachedRecord, nil
	}

	return nil, ErrInvalidKey
}

// Disable marks a key as disabled and drops it from the cache.
func (m *Manager) Disable(ctx context.Context, id string) error {
	keys, err := m.store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	for i := range keys {
		if keys[i].ID != id {
			continue
		}
		keys[i].Enabled = false
		if err := m.store.UpdateAPIKey(ctx, keys[i]); err != nil {
			return fmt.Errorf("update key: %w", err)
		}
		m.mu.Lock()
		for k, v := range m.cache {
			if v.record.ID == id {
				delete(m.cache, k)
			}
		}
		m.mu.Unlock()
		return nil
	}
	return errors.New("api key not found")
}
