package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Inbox message types.
const (
	MsgKick          = "kick"
	MsgMatchAssigned = "match.assigned"
)

const inboxKeyPrefix = "cd:inbox:"

// InboxMessage is one directed message between nodes.
type InboxMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId,omitempty"`
	Code   int    `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
	// Data carries type-specific payload (the assignment envelope for
	// match.assigned).
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbox delivers directed messages to a named node.
type Inbox interface {
	Publish(ctx context.Context, nodeID string, msg InboxMessage) error
}

// RedisInbox rides Redis pub/sub: one channel per node, cd:inbox:<nodeId>.
// Delivery is at-most-once; both message types tolerate loss (the lease TTL
// and status polling are the backstops).
type RedisInbox struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewRedisInbox builds the pub/sub inbox.
func NewRedisInbox(rdb *redis.Client, log *slog.Logger) *RedisInbox {
	if log == nil {
		log = slog.Default()
	}
	return &RedisInbox{rdb: rdb, log: log}
}

func (i *RedisInbox) Publish(ctx context.Context, nodeID string, msg InboxMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding inbox message: %w", err)
	}
	if err := i.rdb.Publish(ctx, inboxKeyPrefix+nodeID, data).Err(); err != nil {
		return fmt.Errorf("publishing to inbox %s: %w", nodeID, err)
	}
	return nil
}

// Run subscribes to this node's inbox and dispatches messages to the
// handler until the context is cancelled.
func (i *RedisInbox) Run(ctx context.Context, nodeID string, handler func(InboxMessage)) error {
	sub := i.rdb.Subscribe(ctx, inboxKeyPrefix+nodeID)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return fmt.Errorf("inbox subscription closed")
			}
			var msg InboxMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				i.log.Warn("dropping malformed inbox message", "err", err)
				continue
			}
			handler(msg)
		}
	}
}
