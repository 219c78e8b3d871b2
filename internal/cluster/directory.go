// Package cluster coordinates nodes: the user directory enforces one live
// session per user across the fleet, and the node inbox carries directed
// messages (duplicate-login kicks, targeted match pushes) between nodes.
package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultLeaseTTL bounds how long a crashed node can pin a user. Leases are
// renewed at half the TTL.
const DefaultLeaseTTL = 8 * time.Second

const userKeyPrefix = "cd:user:"

// Directory is the userId → nodeId lease table.
type Directory interface {
	// Acquire takes the lease for a user, returning the previous holder
	// ("" when the user was free). The caller kicks the previous holder's
	// session.
	Acquire(ctx context.Context, userID, nodeID string) (prevNode string, err error)
	// Renew extends a held lease. Fails when another node took it over.
	Renew(ctx context.Context, userID, nodeID string) error
	// Release drops the lease iff this node still holds it.
	Release(ctx context.Context, userID, nodeID string) error
	// Lookup returns the node currently holding a user.
	Lookup(ctx context.Context, userID string) (nodeID string, ok bool, err error)
}

// MemoryDirectory is the single-node directory: no cross-node kicks, but
// the same lease semantics for local duplicate logins.
type MemoryDirectory struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	leases map[string]memoryLease
}

type memoryLease struct {
	node    string
	expires time.Time
}

// NewMemoryDirectory builds an in-process directory.
func NewMemoryDirectory(ttl time.Duration) *MemoryDirectory {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &MemoryDirectory{ttl: ttl, now: time.Now, leases: make(map[string]memoryLease)}
}

func (d *MemoryDirectory) Acquire(_ context.Context, userID, nodeID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := ""
	if l, ok := d.leases[userID]; ok && l.expires.After(d.now()) {
		prev = l.node
	}
	d.leases[userID] = memoryLease{node: nodeID, expires: d.now().Add(d.ttl)}
	if prev == nodeID {
		prev = ""
	}
	return prev, nil
}

func (d *MemoryDirectory) Renew(_ context.Context, userID, nodeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.leases[userID]
	if !ok || l.node != nodeID {
		return fmt.Errorf("lease for %s is not held by %s", userID, nodeID)
	}
	l.expires = d.now().Add(d.ttl)
	d.leases[userID] = l
	return nil
}

func (d *MemoryDirectory) Release(_ context.Context, userID, nodeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.leases[userID]; ok && l.node == nodeID {
		delete(d.leases, userID)
	}
	return nil
}

func (d *MemoryDirectory) Lookup(_ context.Context, userID string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.leases[userID]
	if !ok || !l.expires.After(d.now()) {
		return "", false, nil
	}
	return l.node, true, nil
}

// RedisDirectory shares leases across nodes under cd:user:<userId> keys
// with a TTL, so a dead node's users free themselves.
type RedisDirectory struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisDirectory builds the fleet-wide directory.
func NewRedisDirectory(rdb *redis.Client, ttl time.Duration) *RedisDirectory {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &RedisDirectory{rdb: rdb, ttl: ttl}
}

func (d *RedisDirectory) Acquire(ctx context.Context, userID, nodeID string) (string, error) {
	// SET ... GET swaps the lease in and hands back the previous holder in
	// one round trip.
	prev, err := d.rdb.SetArgs(ctx, userKeyPrefix+userID, nodeID, redis.SetArgs{
		TTL: d.ttl,
		Get: true,
	}).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("acquiring lease: %w", err)
	}
	if prev == nodeID {
		return "", nil
	}
	return prev, nil
}

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

func (d *RedisDirectory) Renew(ctx context.Context, userID, nodeID string) error {
	ok, err := renewScript.Run(ctx, d.rdb, []string{userKeyPrefix + userID}, nodeID, d.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renewing lease: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("lease for %s is not held by %s", userID, nodeID)
	}
	return nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (d *RedisDirectory) Release(ctx context.Context, userID, nodeID string) error {
	if err := releaseScript.Run(ctx, d.rdb, []string{userKeyPrefix + userID}, nodeID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("releasing lease: %w", err)
	}
	return nil
}

func (d *RedisDirectory) Lookup(ctx context.Context, userID string) (string, bool, error) {
	node, err := d.rdb.Get(ctx, userKeyPrefix+userID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up lease: %w", err)
	}
	return node, true, nil
}
