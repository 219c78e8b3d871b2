package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/landrun/landrun/internal/cluster"
	"github.com/landrun/landrun/internal/matchmaking"
)

// BroadcastChannel is the fan-out pub/sub channel: every api node receives
// every assignment and filters for its own subscribers.
const BroadcastChannel = "matchmaking:assigned"

// Locator records which node hosts a ticket's realtime subscriber, so the
// worker can use the directed inbox instead of broadcasting.
type Locator interface {
	SetNode(ctx context.Context, ticketID, nodeID string) error
	GetNode(ctx context.Context, ticketID string) (string, bool, error)
}

// locatorTTL outlives any sane queue wait; entries self-expire.
const locatorTTL = 15 * time.Minute

const ticketNodeKeyPrefix = "rt:ticket:"

// RedisLocator keeps ticket locations in Redis.
type RedisLocator struct {
	rdb *redis.Client
}

func NewRedisLocator(rdb *redis.Client) *RedisLocator { return &RedisLocator{rdb: rdb} }

func (l *RedisLocator) SetNode(ctx context.Context, ticketID, nodeID string) error {
	return l.rdb.Set(ctx, ticketNodeKeyPrefix+ticketID, nodeID, locatorTTL).Err()
}

func (l *RedisLocator) GetNode(ctx context.Context, ticketID string) (string, bool, error) {
	node, err := l.rdb.Get(ctx, ticketNodeKeyPrefix+ticketID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("locating ticket: %w", err)
	}
	return node, true, nil
}

// MemoryLocator is the single-node locator.
type MemoryLocator struct {
	mu    sync.Mutex
	nodes map[string]string
}

func NewMemoryLocator() *MemoryLocator { return &MemoryLocator{nodes: make(map[string]string)} }

func (l *MemoryLocator) SetNode(_ context.Context, ticketID, nodeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nodes[ticketID] = nodeID
	return nil
}

func (l *MemoryLocator) GetNode(_ context.Context, ticketID string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	node, ok := l.nodes[ticketID]
	return node, ok, nil
}

// Publisher is the worker-side fan-out: directed inbox delivery when the
// locator knows the subscriber's node, Redis broadcast otherwise.
type Publisher struct {
	rdb      *redis.Client
	inbox    cluster.Inbox
	locator  Locator
	useInbox bool
	log      *slog.Logger
}

// NewPublisher wires the cross-node assignment push. useInbox gates the
// directed path; broadcast is always available as the fallback.
func NewPublisher(rdb *redis.Client, inbox cluster.Inbox, locator Locator, useInbox bool, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{rdb: rdb, inbox: inbox, locator: locator, useInbox: useInbox, log: log}
}

// PublishAssigned implements matchmaking.AssignmentPublisher.
func (p *Publisher) PublishAssigned(ctx context.Context, t matchmaking.Ticket, a matchmaking.Assignment) error {
	frame, err := json.Marshal(AssignedEnvelope{
		Type: "match.assigned",
		V:    1,
		Data: AssignedData{TicketID: t.TicketID, Assignment: a},
	})
	if err != nil {
		return fmt.Errorf("encoding assignment envelope: %w", err)
	}

	if p.useInbox && p.locator != nil && p.inbox != nil {
		node, ok, err := p.locator.GetNode(ctx, t.TicketID)
		if err != nil {
			p.log.Warn("ticket location lookup failed; broadcasting", "ticket", t.TicketID, "err", err)
		} else if ok {
			return p.inbox.Publish(ctx, node, cluster.InboxMessage{
				Type: cluster.MsgMatchAssigned,
				Data: frame,
			})
		}
	}
	if err := p.rdb.Publish(ctx, BroadcastChannel, frame).Err(); err != nil {
		return fmt.Errorf("broadcasting assignment: %w", err)
	}
	return nil
}

// RunBroadcast subscribes to the broadcast channel and local-filters into
// the gateway until the context is cancelled.
func RunBroadcast(ctx context.Context, rdb *redis.Client, gw *Gateway, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	sub := rdb.Subscribe(ctx, BroadcastChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return fmt.Errorf("broadcast subscription closed")
			}
			deliverFrame(gw, []byte(m.Payload), log)
		}
	}
}

// HandleInbox adapts directed inbox messages into gateway deliveries. Wire
// it into the node's cluster inbox handler.
func HandleInbox(gw *Gateway, log *slog.Logger) func(cluster.InboxMessage) {
	if log == nil {
		log = slog.Default()
	}
	return func(msg cluster.InboxMessage) {
		if msg.Type != cluster.MsgMatchAssigned {
			return
		}
		deliverFrame(gw, msg.Data, log)
	}
}

func deliverFrame(gw *Gateway, frame []byte, log *slog.Logger) {
	var env AssignedEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		log.Warn("dropping malformed assignment envelope", "err", err)
		return
	}
	gw.Deliver(env.Data.TicketID, frame)
}
