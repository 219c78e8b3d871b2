package matchmaking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/landrun/landrun/internal/matchtoken"
	"github.com/landrun/landrun/internal/provisioning"
)

// Worker defaults.
const (
	DefaultTickInterval = 3 * time.Second
	DefaultTicketTTL    = 10 * time.Minute
)

// Allocator places a new land on a healthy server. Satisfied by
// *provisioning.Registry.
type Allocator interface {
	Allocate(ctx context.Context, landType string) (provisioning.Allocation, error)
}

// AssignmentPublisher pushes match.assigned to the ticket's realtime
// subscriber. Implemented by the realtime channel layer; nil disables push
// (clients then poll status).
type AssignmentPublisher interface {
	PublishAssigned(ctx context.Context, t Ticket, a Assignment) error
}

// WorkerConfig tunes the matching loop.
type WorkerConfig struct {
	Interval   time.Duration
	MinWait    time.Duration
	RelaxAfter time.Duration
	// TicketTTL expires tickets that never matched, so queues cannot grow
	// without bound.
	TicketTTL time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultTickInterval
	}
	if c.TicketTTL <= 0 {
		c.TicketTTL = DefaultTicketTTL
	}
	return c
}

// Worker drives the matching tick: per queue key, form groups, allocate a
// land, mint tokens, settle tickets and publish assignments. One worker per
// deployment; the store keeps it restartable.
type Worker struct {
	store  Store
	alloc  Allocator
	signer *matchtoken.Signer
	pub    AssignmentPublisher
	cfg    WorkerConfig
	log    *slog.Logger
	now    func() time.Time

	rotation int
}

// NewWorker wires the matching loop.
func NewWorker(store Store, alloc Allocator, signer *matchtoken.Signer, pub AssignmentPublisher, cfg WorkerConfig, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		store:  store,
		alloc:  alloc,
		signer: signer,
		pub:    pub,
		cfg:    cfg.withDefaults(),
		log:    log,
		now:    time.Now,
	}
}

// Run ticks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one matching pass over every queue. The starting queue rotates
// between passes so no key monopolizes allocation when servers are scarce.
func (w *Worker) Tick(ctx context.Context) {
	keys, err := w.store.QueueKeys(ctx)
	if err != nil {
		w.log.Error("listing queues failed", "err", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	start := w.rotation % len(keys)
	w.rotation++
	for i := range keys {
		key := keys[(start+i)%len(keys)]
		w.matchQueue(ctx, key)
	}
}

func (w *Worker) matchQueue(ctx context.Context, queueKey string) {
	tickets, err := w.store.QueuedTickets(ctx, queueKey)
	if err != nil {
		w.log.Error("loading queue failed", "queue", queueKey, "err", err)
		return
	}
	now := w.now()

	fresh := tickets[:0]
	for _, t := range tickets {
		if t.Wait(now) >= w.cfg.TicketTTL {
			if _, err := w.store.ExpireTicket(ctx, t.TicketID); err != nil {
				w.log.Warn("expiring ticket failed", "ticket", t.TicketID, "err", err)
			}
			continue
		}
		fresh = append(fresh, t)
	}

	strategy, cfg := ConfigFor(queueKey, w.cfg.MinWait, w.cfg.RelaxAfter)
	for _, group := range strategy.FindMatchableGroups(now, fresh, cfg) {
		if err := w.assign(ctx, queueKey, group); err != nil {
			if provisioning.IsNoServer(err) {
				// No capacity: the group stays queued for the next tick.
				w.log.Debug("no server for queue, deferring", "queue", queueKey)
				return
			}
			w.log.Error("assigning group failed", "queue", queueKey, "err", err)
		}
	}
}

// assign settles one formed group: one land allocation, one token per
// member, one assignment record per ticket.
func (w *Worker) assign(ctx context.Context, queueKey string, group []Ticket) error {
	landType := LandTypeOf(queueKey)
	alloc, err := w.alloc.Allocate(ctx, landType)
	if err != nil {
		return err
	}
	assignmentID := uuid.NewString()

	for _, t := range group {
		a := Assignment{
			AssignmentID: assignmentID,
			ConnectURL:   alloc.ConnectURL,
			LandID:       alloc.LandID,
			ServerID:     alloc.ServerID,
			MemberTokens: make(map[string]string, len(t.Members)),
		}
		for _, member := range t.Members {
			token, exp, err := w.signer.Mint(assignmentID, member, alloc.LandID)
			if err != nil {
				return fmt.Errorf("minting token for %s: %w", member, err)
			}
			a.MemberTokens[member] = token
			a.ExpiresAt = exp
		}
		if len(t.Members) > 0 {
			a.MatchToken = a.MemberTokens[t.Members[0]]
		}
		if err := w.store.AssignTicket(ctx, t.TicketID, a); err != nil {
			return fmt.Errorf("settling ticket %s: %w", t.TicketID, err)
		}
		w.log.Info("ticket assigned",
			"ticket", t.TicketID, "queue", queueKey, "land", alloc.LandID, "server", alloc.ServerID)
		if w.pub != nil {
			if err := w.pub.PublishAssigned(ctx, t, a); err != nil {
				w.log.Warn("publishing assignment failed", "ticket", t.TicketID, "err", err)
			}
		}
	}
	return nil
}
