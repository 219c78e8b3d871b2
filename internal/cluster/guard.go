package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Guard is a node's single-login enforcement: it acquires leases when users
// connect, renews them while the session lives, and tells the previous
// holder to kick. The Kick callback closes the local session when this node
// itself is told to let go.
type Guard struct {
	dir    Directory
	inbox  Inbox
	nodeID string
	log    *slog.Logger

	// Kick closes the local session of a user, if attached. Wired to the
	// transport server.
	Kick func(userID string, code int, reason string)

	mu   sync.Mutex
	held map[string]struct{}
}

// KickCodeDuplicateLogin mirrors the transport close code for a superseded
// session.
const KickCodeDuplicateLogin = 4002

// NewGuard builds the node's login guard. inbox may be nil on single-node
// deployments; local duplicates are still kicked via the callback.
func NewGuard(dir Directory, inbox Inbox, nodeID string, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{dir: dir, inbox: inbox, nodeID: nodeID, log: log, held: make(map[string]struct{})}
}

// OnConnect claims the user for this node. When another node held the
// lease, it is told through its inbox to close that session.
func (g *Guard) OnConnect(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	prev, err := g.dir.Acquire(ctx, userID, g.nodeID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.held[userID] = struct{}{}
	g.mu.Unlock()
	if prev != "" && g.inbox != nil {
		g.log.Info("superseding login on another node", "user", userID, "prev_node", prev)
		if err := g.inbox.Publish(ctx, prev, InboxMessage{
			Type:   MsgKick,
			UserID: userID,
			Code:   KickCodeDuplicateLogin,
			Reason: "duplicate login",
		}); err != nil {
			g.log.Warn("kick delivery failed; lease TTL will expire the old session", "user", userID, "err", err)
		}
	}
	return nil
}

// OnDisconnect releases the user's lease.
func (g *Guard) OnDisconnect(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	g.mu.Lock()
	delete(g.held, userID)
	g.mu.Unlock()
	if err := g.dir.Release(ctx, userID, g.nodeID); err != nil {
		g.log.Warn("releasing lease failed", "user", userID, "err", err)
	}
}

// HandleInbox processes a directed message for this node.
func (g *Guard) HandleInbox(msg InboxMessage) {
	if msg.Type != MsgKick {
		return
	}
	g.mu.Lock()
	_, local := g.held[msg.UserID]
	delete(g.held, msg.UserID)
	g.mu.Unlock()
	if !local || g.Kick == nil {
		return
	}
	code := msg.Code
	if code == 0 {
		code = KickCodeDuplicateLogin
	}
	g.log.Info("kicking superseded session", "user", msg.UserID)
	g.Kick(msg.UserID, code, msg.Reason)
}

// RunRenewal extends the node's leases at half the TTL until the context is
// cancelled. A renewal that fails means another node took the user; the
// local session is kicked.
func (g *Guard) RunRenewal(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.mu.Lock()
			users := make([]string, 0, len(g.held))
			for u := range g.held {
				users = append(users, u)
			}
			g.mu.Unlock()
			for _, u := range users {
				if err := g.dir.Renew(ctx, u, g.nodeID); err != nil {
					g.log.Info("lease lost, kicking local session", "user", u)
					g.HandleInbox(InboxMessage{Type: MsgKick, UserID: u, Reason: "duplicate login"})
				}
			}
		}
	}
}
