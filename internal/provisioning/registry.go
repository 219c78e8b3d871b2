package provisioning

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoServer is returned when no healthy server serves the land type.
// Matchmaking leaves the ticket queued and retries on the next tick.
var ErrNoServer = fmt.Errorf("no healthy server available")

// Allocation is a placed land: which server will host it and the URL the
// matched players dial.
type Allocation struct {
	ServerID   string `json:"serverId"`
	LandID     string `json:"landId"`
	ConnectURL string `json:"connectUrl"`
}

// Registry fronts the server directory with the selection policy.
type Registry struct {
	store Store
	log   *slog.Logger
	ttl   time.Duration
	now   func() time.Time

	mu sync.Mutex
	rr map[string]int // round-robin cursor per land type
}

// NewRegistry builds a registry over a store.
func NewRegistry(store Store, ttl time.Duration, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{store: store, log: log, ttl: ttl, now: time.Now, rr: make(map[string]int)}
}

// Register is both initial registration and heartbeat, idempotent by
// server id. RegisteredAt survives heartbeats; LastSeenAt always advances.
func (r *Registry) Register(ctx context.Context, e ServerEntry) (ServerEntry, error) {
	if e.ServerID == "" || e.Host == "" || e.Port == 0 || e.LandType == "" {
		return ServerEntry{}, fmt.Errorf("server entry needs serverId, host, port and landType")
	}
	now := r.now()
	e.LastSeenAt = now
	if prev, ok, err := r.store.Get(ctx, e.ServerID); err != nil {
		return ServerEntry{}, err
	} else if ok {
		e.RegisteredAt = prev.RegisteredAt
	} else {
		e.RegisteredAt = now
		r.log.Info("server registered", "server", e.ServerID, "land_type", e.LandType, "host", e.Host)
	}
	if err := r.store.Put(ctx, e); err != nil {
		return ServerEntry{}, err
	}
	return e, nil
}

// Deregister removes a server immediately instead of waiting out the TTL.
func (r *Registry) Deregister(ctx context.Context, serverID string) error {
	r.log.Info("server deregistered", "server", serverID)
	return r.store.Delete(ctx, serverID)
}

// Servers lists the live directory.
func (r *Registry) Servers(ctx context.Context) ([]ServerEntry, error) {
	return r.store.List(ctx)
}

// PickServer chooses a server for a new land: round-robin among non-stale
// servers of the land type, skipping those over soft capacity unless every
// candidate is; ties in ordering broken by lastSeenAt ascending.
func (r *Registry) PickServer(ctx context.Context, landType string) (ServerEntry, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return ServerEntry{}, err
	}
	now := r.now()
	var healthy, underCap []ServerEntry
	for _, e := range all {
		if e.LandType != landType || e.IsStale(now, r.ttl) {
			continue
		}
		healthy = append(healthy, e)
		if !e.OverCapacity() {
			underCap = append(underCap, e)
		}
	}
	pool := underCap
	if len(pool) == 0 {
		pool = healthy
	}
	if len(pool) == 0 {
		return ServerEntry{}, ErrNoServer
	}
	sort.Slice(pool, func(i, j int) bool {
		if !pool[i].LastSeenAt.Equal(pool[j].LastSeenAt) {
			return pool[i].LastSeenAt.Before(pool[j].LastSeenAt)
		}
		return pool[i].ServerID < pool[j].ServerID
	})

	r.mu.Lock()
	idx := r.rr[landType] % len(pool)
	r.rr[landType]++
	r.mu.Unlock()
	return pool[idx], nil
}

// Allocate places a fresh land instance on a healthy server and derives the
// connect URL the matched players will dial.
func (r *Registry) Allocate(ctx context.Context, landType string) (Allocation, error) {
	srv, err := r.PickServer(ctx, landType)
	if err != nil {
		return Allocation{}, err
	}
	landID := landType + ":" + uuid.NewString()
	return Allocation{
		ServerID:   srv.ServerID,
		LandID:     landID,
		ConnectURL: srv.ConnectURL(landID),
	}, nil
}
