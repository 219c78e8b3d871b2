package matchmaking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store persists ticket and queue state. Implementations must keep the
// queued-ticket invariant: a ticket is in its queue set iff its status is
// queued, and at most one queued ticket exists per group id.
type Store interface {
	// CreateTicket enqueues a ticket. When the group already has a queued
	// ticket the existing one is returned with created=false.
	CreateTicket(ctx context.Context, t Ticket) (stored Ticket, created bool, err error)
	GetTicket(ctx context.Context, ticketID string) (Ticket, bool, error)
	// CancelTicket moves a queued ticket to cancelled. Returns false when
	// the ticket is unknown or already terminal.
	CancelTicket(ctx context.Context, ticketID string) (bool, error)
	// ExpireTicket moves a queued ticket to expired.
	ExpireTicket(ctx context.Context, ticketID string) (bool, error)
	// AssignTicket settles a queued ticket with its assignment.
	AssignTicket(ctx context.Context, ticketID string, a Assignment) error
	// QueuedTickets lists a queue's tickets, oldest first.
	QueuedTickets(ctx context.Context, queueKey string) ([]Ticket, error)
	// QueueKeys lists queue keys that currently hold tickets.
	QueueKeys(ctx context.Context) ([]string, error)
}

// MemoryStore is the in-process store, the fast path for role=all
// single-node deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	tickets map[string]Ticket
	queues  map[string]map[string]struct{} // queueKey → ticket ids
	groups  map[string]string              // groupId → queued ticket id
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets: make(map[string]Ticket),
		queues:  make(map[string]map[string]struct{}),
		groups:  make(map[string]string),
	}
}

func (s *MemoryStore) CreateTicket(_ context.Context, t Ticket) (Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.groups[t.GroupID]; ok {
		if existing, ok := s.tickets[existingID]; ok && existing.Status == StatusQueued {
			return existing, false, nil
		}
	}
	s.tickets[t.TicketID] = t
	q := s.queues[t.QueueKey]
	if q == nil {
		q = make(map[string]struct{})
		s.queues[t.QueueKey] = q
	}
	q[t.TicketID] = struct{}{}
	s.groups[t.GroupID] = t.TicketID
	return t, true, nil
}

func (s *MemoryStore) GetTicket(_ context.Context, ticketID string) (Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	return t, ok, nil
}

func (s *MemoryStore) settle(ticketID, status string, a *Assignment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok || t.Status != StatusQueued {
		return false, nil
	}
	t.Status = status
	t.Assignment = a
	s.tickets[ticketID] = t
	delete(s.queues[t.QueueKey], ticketID)
	delete(s.groups, t.GroupID)
	return true, nil
}

func (s *MemoryStore) CancelTicket(_ context.Context, ticketID string) (bool, error) {
	return s.settle(ticketID, StatusCancelled, nil)
}

func (s *MemoryStore) ExpireTicket(_ context.Context, ticketID string) (bool, error) {
	return s.settle(ticketID, StatusExpired, nil)
}

func (s *MemoryStore) AssignTicket(_ context.Context, ticketID string, a Assignment) error {
	ok, err := s.settle(ticketID, StatusAssigned, &a)
	if err == nil && !ok {
		return fmt.Errorf("ticket %s is not queued", ticketID)
	}
	return err
}

func (s *MemoryStore) QueuedTickets(_ context.Context, queueKey string) ([]Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Ticket, 0, len(s.queues[queueKey]))
	for id := range s.queues[queueKey] {
		if t, ok := s.tickets[id]; ok && t.Status == StatusQueued {
			out = append(out, t)
		}
	}
	sortByAge(out)
	return out, nil
}

func (s *MemoryStore) QueueKeys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.queues))
	for k, q := range s.queues {
		if len(q) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// sortByAge orders tickets FIFO: oldest first, ticket id as a deterministic
// tiebreak.
func sortByAge(ts []Ticket) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].TicketID < ts[j].TicketID
	})
}

// ensure interface conformance
var _ Store = (*MemoryStore)(nil)

// terminalTTL bounds how long settled tickets stay queryable.
const terminalTTL = 10 * time.Minute
