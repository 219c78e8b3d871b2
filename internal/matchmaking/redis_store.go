package matchmaking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout.
const (
	ticketKeyPrefix = "mm:ticket:"
	queueKeyPrefix  = "mm:queue:"
	groupKeyPrefix  = "mm:group:"
	queueIndexKey   = "mm:queues"
)

// RedisStore shares queue state across control-plane nodes, the substrate
// for the api / queue-worker role split.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore builds a Redis-backed ticket store.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) CreateTicket(ctx context.Context, t Ticket) (Ticket, bool, error) {
	// Group dedup: first writer of mm:group:<gid> wins while queued.
	set, err := s.rdb.SetNX(ctx, groupKeyPrefix+t.GroupID, t.TicketID, 0).Result()
	if err != nil {
		return Ticket{}, false, fmt.Errorf("claiming group: %w", err)
	}
	if !set {
		existingID, err := s.rdb.Get(ctx, groupKeyPrefix+t.GroupID).Result()
		if err == nil {
			if existing, ok, err := s.GetTicket(ctx, existingID); err == nil && ok && existing.Status == StatusQueued {
				return existing, false, nil
			}
		}
		// Stale claim from a settled ticket: take it over.
		if err := s.rdb.Set(ctx, groupKeyPrefix+t.GroupID, t.TicketID, 0).Err(); err != nil {
			return Ticket{}, false, fmt.Errorf("reclaiming group: %w", err)
		}
	}

	if err := s.putTicket(ctx, t, false); err != nil {
		return Ticket{}, false, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, queueKeyPrefix+t.QueueKey, t.TicketID)
	pipe.SAdd(ctx, queueIndexKey, t.QueueKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Ticket{}, false, fmt.Errorf("enqueueing ticket: %w", err)
	}
	return t, true, nil
}

// putTicket writes the ticket record. Terminal tickets pick up a TTL so
// settled state ages out on its own.
func (s *RedisStore) putTicket(ctx context.Context, t Ticket, terminal bool) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding ticket: %w", err)
	}
	ttl := time.Duration(redis.KeepTTL)
	if terminal {
		ttl = terminalTTL
	}
	return s.rdb.Set(ctx, ticketKeyPrefix+t.TicketID, data, ttl).Err()
}

func (s *RedisStore) GetTicket(ctx context.Context, ticketID string) (Ticket, bool, error) {
	data, err := s.rdb.Get(ctx, ticketKeyPrefix+ticketID).Bytes()
	if err == redis.Nil {
		return Ticket{}, false, nil
	}
	if err != nil {
		return Ticket{}, false, fmt.Errorf("loading ticket: %w", err)
	}
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return Ticket{}, false, fmt.Errorf("decoding ticket: %w", err)
	}
	return t, true, nil
}

func (s *RedisStore) settle(ctx context.Context, ticketID, status string, a *Assignment) (bool, error) {
	t, ok, err := s.GetTicket(ctx, ticketID)
	if err != nil || !ok || t.Status != StatusQueued {
		return false, err
	}
	t.Status = status
	t.Assignment = a
	if err := s.putTicket(ctx, t, true); err != nil {
		return false, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.SRem(ctx, queueKeyPrefix+t.QueueKey, ticketID)
	pipe.Del(ctx, groupKeyPrefix+t.GroupID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("dequeueing ticket: %w", err)
	}
	return true, nil
}

func (s *RedisStore) CancelTicket(ctx context.Context, ticketID string) (bool, error) {
	return s.settle(ctx, ticketID, StatusCancelled, nil)
}

func (s *RedisStore) ExpireTicket(ctx context.Context, ticketID string) (bool, error) {
	return s.settle(ctx, ticketID, StatusExpired, nil)
}

func (s *RedisStore) AssignTicket(ctx context.Context, ticketID string, a Assignment) error {
	ok, err := s.settle(ctx, ticketID, StatusAssigned, &a)
	if err == nil && !ok {
		return fmt.Errorf("ticket %s is not queued", ticketID)
	}
	return err
}

func (s *RedisStore) QueuedTickets(ctx context.Context, queueKey string) ([]Ticket, error) {
	ids, err := s.rdb.SMembers(ctx, queueKeyPrefix+queueKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing queue %q: %w", queueKey, err)
	}
	out := make([]Ticket, 0, len(ids))
	for _, id := range ids {
		t, ok, err := s.GetTicket(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok || t.Status != StatusQueued {
			// Self-heal: drop dangling queue members.
			s.rdb.SRem(ctx, queueKeyPrefix+queueKey, id)
			continue
		}
		out = append(out, t)
	}
	sortByAge(out)
	return out, nil
}

func (s *RedisStore) QueueKeys(ctx context.Context) ([]string, error) {
	keys, err := s.rdb.SMembers(ctx, queueIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing queues: %w", err)
	}
	return keys, nil
}

var _ Store = (*RedisStore)(nil)
