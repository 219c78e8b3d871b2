package matchmaking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solo(id, queueKey string, createdAt time.Time) Ticket {
	return Ticket{
		TicketID:  id,
		GroupID:   "g-" + id,
		QueueKey:  queueKey,
		Members:   []string{"p-" + id},
		GroupSize: 1,
		Status:    StatusQueued,
		CreatedAt: createdAt,
	}
}

func TestGroupSizeOf(t *testing.T) {
	assert.Equal(t, 2, GroupSizeOf("duel:2v2"))
	assert.Equal(t, 5, GroupSizeOf("battle:5v5"))
	assert.Equal(t, 3, GroupSizeOf("raid:3"))
	assert.Equal(t, 1, GroupSizeOf("duel"))
	assert.Equal(t, 1, GroupSizeOf("duel:ranked"))
	assert.Equal(t, "duel", LandTypeOf("duel:2v2"))
	assert.Equal(t, "duel", LandTypeOf("duel"))
}

func TestDefaultStrategy_MinWait(t *testing.T) {
	now := time.Now()
	tickets := []Ticket{
		solo("old", "duel", now.Add(-2*time.Second)),
		solo("new", "duel", now.Add(-100*time.Millisecond)),
	}
	groups := DefaultStrategy{}.FindMatchableGroups(now, tickets, QueueConfig{MinWait: time.Second})
	require.Len(t, groups, 1)
	assert.Equal(t, "old", groups[0][0].TicketID)

	groups = DefaultStrategy{}.FindMatchableGroups(now, tickets, QueueConfig{})
	assert.Len(t, groups, 2, "zero minWait matches everyone")
}

func TestFillGroup_PairsSoloTickets(t *testing.T) {
	now := time.Now()
	var tickets []Ticket
	for _, id := range []string{"a", "b", "c", "d"} {
		tickets = append(tickets, solo(id, "duel:2v2", now.Add(-time.Second)))
	}
	strategy, cfg := ConfigFor("duel:2v2", 0, 30*time.Second)
	groups := strategy.FindMatchableGroups(now, tickets, cfg)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 2)
	assert.Equal(t, "a", groups[0][0].TicketID, "FIFO order")
}

func TestFillGroup_UndersizedWaits(t *testing.T) {
	now := time.Now()
	tickets := []Ticket{solo("a", "duel:2v2", now.Add(-time.Second))}
	strategy, cfg := ConfigFor("duel:2v2", 0, 30*time.Second)
	groups := strategy.FindMatchableGroups(now, tickets, cfg)
	assert.Empty(t, groups, "one solo ticket cannot fill a group of two")
}

func TestFillGroup_RelaxesToOne(t *testing.T) {
	now := time.Now()
	tickets := []Ticket{solo("a", "duel:2v2", now.Add(-time.Minute))}
	strategy, cfg := ConfigFor("duel:2v2", 0, 30*time.Second)
	groups := strategy.FindMatchableGroups(now, tickets, cfg)
	require.Len(t, groups, 1, "after relaxAfter the minimum drops to 1")
	assert.Len(t, groups[0], 1)
}

func TestFillGroup_GroupSizeReservesSlots(t *testing.T) {
	now := time.Now()
	// One listed member holding two slots: the ticket fills a 2v2 side on
	// its own and must not be packed with another solo.
	reserver := solo("res", "duel:2v2", now.Add(-time.Second))
	reserver.GroupSize = 2
	other := solo("b", "duel:2v2", now.Add(-time.Second))

	strategy, cfg := ConfigFor("duel:2v2", 0, 30*time.Second)
	groups := strategy.FindMatchableGroups(now, []Ticket{reserver, other}, cfg)
	require.Len(t, groups, 1)
	require.Len(t, groups[0], 1)
	assert.Equal(t, "res", groups[0][0].TicketID)
}

func TestFillGroup_PartyFillsAlone(t *testing.T) {
	now := time.Now()
	party := solo("duo", "duel:2v2", now.Add(-time.Second))
	party.Members = []string{"p1", "p2"}
	party.GroupSize = 2

	strategy, cfg := ConfigFor("duel:2v2", 0, 30*time.Second)
	groups := strategy.FindMatchableGroups(now, []Ticket{party}, cfg)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0], 1)
}
