package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const serverKeyPrefix = "srv:"

// Store persists the server directory. Entries expire TTL after their last
// heartbeat; List never returns expired entries.
type Store interface {
	Put(ctx context.Context, e ServerEntry) error
	Get(ctx context.Context, serverID string) (ServerEntry, bool, error)
	List(ctx context.Context) ([]ServerEntry, error)
	Delete(ctx context.Context, serverID string) error
}

// MemoryStore keeps the directory in process memory. Suits single-node
// control planes and tests; expiry is enforced on read.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]ServerEntry
}

// NewMemoryStore builds an in-memory directory.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]ServerEntry)}
}

func (s *MemoryStore) Put(_ context.Context, e ServerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ServerID] = e
	return nil
}

func (s *MemoryStore) Get(_ context.Context, serverID string) (ServerEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[serverID]
	if !ok || e.IsStale(s.now(), s.ttl) {
		return ServerEntry{}, false, nil
	}
	return e, true, nil
}

func (s *MemoryStore) List(_ context.Context) ([]ServerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]ServerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.IsStale(now, s.ttl) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, serverID)
	return nil
}

// RedisStore persists the directory under srv:<serverId> keys with a TTL,
// so stale servers disappear without a reaper.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore builds a Redis-backed directory.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, e ServerEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding server entry: %w", err)
	}
	if err := s.rdb.Set(ctx, serverKeyPrefix+e.ServerID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing server entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, serverID string) (ServerEntry, bool, error) {
	data, err := s.rdb.Get(ctx, serverKeyPrefix+serverID).Bytes()
	if err == redis.Nil {
		return ServerEntry{}, false, nil
	}
	if err != nil {
		return ServerEntry{}, false, fmt.Errorf("loading server entry: %w", err)
	}
	var e ServerEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return ServerEntry{}, false, fmt.Errorf("decoding server entry: %w", err)
	}
	return e, true, nil
}

func (s *RedisStore) List(ctx context.Context) ([]ServerEntry, error) {
	var out []ServerEntry
	iter := s.rdb.Scan(ctx, 0, serverKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("loading server entry: %w", err)
		}
		var e ServerEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decoding server entry %q: %w", iter.Val(), err)
		}
		out = append(out, e)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning server directory: %w", err)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, serverID string) error {
	return s.rdb.Del(ctx, serverKeyPrefix+serverID).Err()
}
