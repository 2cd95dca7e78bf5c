package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrFlowNotFound is returned when no pending linking flow exists for a key,
// either because none was started or because it expired.
var ErrFlowNotFound = errors.New("no pending account link; start again with link_account")

// FlowStore holds short-lived account linking state keyed by tenant.
// Take is read-once: a flow can be completed a single time.
type FlowStore interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Take(ctx context.Context, key string) ([]byte, error)
}

type flowEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryFlowStore is a FlowStore for single-replica deployments. Expired
// entries are evicted on every write and never returned.
type MemoryFlowStore struct {
	mu      sync.Mutex
	entries map[string]flowEntry
	now     func() time.Time
}

// NewMemoryFlowStore creates an empty MemoryFlowStore.
func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{entries: make(map[string]flowEntry), now: time.Now}
}

func (m *MemoryFlowStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("flow ttl must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	m.entries[key] = flowEntry{value: append([]byte(nil), value...), expiresAt: now.Add(ttl)}
	return nil
}

func (m *MemoryFlowStore) Take(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, ErrFlowNotFound
	}
	delete(m.entries, key)
	if !m.now().Before(e.expiresAt) {
		return nil, ErrFlowNotFound
	}
	return e.value, nil
}

// Len returns the number of stored, possibly expired, entries.
func (m *MemoryFlowStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// RedisFlowStore is a FlowStore shared by all replicas. Redis enforces the TTL.
type RedisFlowStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisFlowStore creates a RedisFlowStore using the "oauthflow:" key prefix.
func NewRedisFlowStore(client redis.UniversalClient) *RedisFlowStore {
	return &RedisFlowStore{client: client, prefix: "oauthflow:"}
}

func (r *RedisFlowStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("flow ttl must be positive")
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisFlowStore) Take(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.GetDel(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrFlowNotFound
		}
		return nil, fmt.Errorf("redis getdel: %w", err)
	}
	return data, nil
}
