// Package idempotency deduplicates advance requests. Clients retrying an
// advance with the same Idempotency-Key header receive the cached result
// instead of triggering a second transition attempt.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ferreiralabs/settra/model"
)

// Store provides deduplication for advance execution.
// The key format is "adv:{transactionId}:{key}".
type Store interface {
	// Check looks up a previous result by key. If the key exists and the
	// input hash matches, it returns the cached result. If the key exists
	// but the hash differs, it returns a conflict error.
	Check(ctx context.Context, key string, inputHash string) (result *model.AdvanceResult, found bool, err error)

	// Save records an advance result keyed by the idempotency key with a TTL.
	Save(ctx context.Context, key string, inputHash string, result model.AdvanceResult, ttl time.Duration) error
}

// entry is the stored value for an idempotency key.
type entry struct {
	InputHash string              `json:"input_hash"`
	Result    model.AdvanceResult `json:"result"`
}

// MemoryStore is an in-memory Store with TTL support. Suitable for testing
// and single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
}

type memEntry struct {
	data      entry
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry)}
}

// Check looks up a cached result. Returns a conflict error if the input
// hash differs from the stored one.
func (s *MemoryStore) Check(_ context.Context, key string, inputHash string) (*model.AdvanceResult, bool, error) {
	s.mu.RLock()
	e, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	if e.data.InputHash != inputHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key),
		)
	}

	result := e.data.Result
	return &result, true, nil
}

// Save records a result with a TTL.
func (s *MemoryStore) Save(_ context.Context, key string, inputHash string, result model.AdvanceResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memEntry{
		data:      entry{InputHash: inputHash, Result: result},
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RedisStore is a Redis-backed Store with TTL.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a new Redis-backed idempotency store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Check looks up a cached result in Redis. Returns a conflict error if the
// input hash differs from the stored one.
func (s *RedisStore) Check(ctx context.Context, key string, inputHash string) (*model.AdvanceResult, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}
	if e.InputHash != inputHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key),
		)
	}

	return &e.Result, true, nil
}

// Save records a result in Redis with a TTL.
func (s *RedisStore) Save(ctx context.Context, key string, inputHash string, result model.AdvanceResult, ttl time.Duration) error {
	e := entry{InputHash: inputHash, Result: result}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck verifies Redis connectivity.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// FormatKey builds the standard idempotency key for an advance request.
func FormatKey(transactionID, key string) string {
	return fmt.Sprintf("adv:%s:%s", transactionID, key)
}
