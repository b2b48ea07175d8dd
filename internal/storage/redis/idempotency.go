// Package redis backs the Idempotency-Key handling of the HTTP surface.
// The first response produced under a key is retained for a bounded window
// so retried mutations replay the original outcome instead of re-executing.
package redis

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "UCP-Commerce/internal/errors"
)

// DefaultTTL bounds how long a recorded response can be replayed.
const DefaultTTL = 24 * time.Hour

// Entry is a recorded HTTP outcome.
type Entry struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// IdempotencyStore records the first outcome per key. Save must be
// first-write-wins so concurrent retries cannot overwrite each other.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (*Entry, error)
	Save(ctx context.Context, key string, entry Entry) error
	Close() error
}

// Config describes the Redis connection parameters.
type Config struct {
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisStore keeps idempotency entries in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg Config) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis address must not be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "failed to reach redis")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func idempotencyKey(key string) string {
	return "ucp:idempotency:" + key
}

// Lookup returns the recorded entry for key, or nil when none exists.
func (s *RedisStore) Lookup(ctx context.Context, key string) (*Entry, error) {
	raw, err := s.client.Get(ctx, idempotencyKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to read idempotency entry")
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "corrupt idempotency entry")
	}
	return &entry, nil
}

// Save records entry under key unless one already exists.
func (s *RedisStore) Save(ctx context.Context, key string, entry Entry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to encode idempotency entry")
	}
	if err := s.client.SetNX(ctx, idempotencyKey(key), encoded, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "failed to write idempotency entry")
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// MemoryStore is the in-process fallback used when no Redis is configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// NewMemoryStore creates a MemoryStore with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Lookup implements IdempotencyStore. Expired entries are dropped lazily.
func (m *MemoryStore) Lookup(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if m.now().After(stored.expiresAt) {
		delete(m.entries, key)
		return nil, nil
	}
	entry := stored.entry
	entry.Body = append([]byte(nil), stored.entry.Body...)
	return &entry, nil
}

// Save implements IdempotencyStore.
func (m *MemoryStore) Save(_ context.Context, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.entries[key]; ok && !m.now().After(stored.expiresAt) {
		return nil
	}
	entry.Body = append([]byte(nil), entry.Body...)
	m.entries[key] = memoryEntry{entry: entry, expiresAt: m.now().Add(m.ttl)}
	return nil
}

// Close implements IdempotencyStore.
func (m *MemoryStore) Close() error { return nil }
