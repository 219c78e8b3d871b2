package demo

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landrun/landrun/internal/land"
	"github.com/landrun/landrun/internal/statesync"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []*statesync.StateUpdate
	events  []string
}

func (s *recordingSink) SendJoinResponse(land.JoinResponse) {}

func (s *recordingSink) SendStateUpdate(_ uint64, u *statesync.StateUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func (s *recordingSink) SendServerEvent(eventType string, _ any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventType)
}

func (s *recordingSink) Kick(int, string) {}

func (s *recordingSink) sawEvent(eventType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func (s *recordingSink) firstSnapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return nil
	}
	return s.updates[0].Snapshot
}

func startDuel(t *testing.T) *land.Keeper {
	t.Helper()
	k, err := land.NewKeeper(land.ID{Type: "duel", Instance: "d1"}, Definition(), nil)
	require.NoError(t, err)
	go func() { _ = k.Run(context.Background()) }()
	t.Cleanup(func() { k.Stop(land.KickCodeRetired, "test done") })
	return k
}

func joinDuel(t *testing.T, k *land.Keeper, user string) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	res, err := k.Join(context.Background(), land.Session{SessionID: "s-" + user, ClientID: "c-" + user, UserID: user}, sink, nil)
	require.NoError(t, err)
	require.True(t, res.OK)
	return sink
}

func TestDuel_SchemaIsValid(t *testing.T) {
	require.NoError(t, Schema().Validate())
}

func TestDuel_SecondJoinStartsTheFight(t *testing.T) {
	k := startDuel(t)
	sink1 := joinDuel(t, k, "alice")
	sink2 := joinDuel(t, k, "bob")

	require.Eventually(t, func() bool {
		return sink1.sawEvent("duel.started") && sink2.sawEvent("duel.started")
	}, time.Second, time.Millisecond)
}

func TestDuel_AttackDamagesTargetAndRejectsSelf(t *testing.T) {
	k := startDuel(t)
	joinDuel(t, k, "alice")
	joinDuel(t, k, "bob")

	payload, _ := json.Marshal(map[string]string{"target": "bob"})
	result, derr := k.SubmitAction(context.Background(), "s-alice", "attack", payload)
	require.Nil(t, derr)
	out := result.(map[string]any)
	dmg := out["damage"].(int64)
	assert.GreaterOrEqual(t, dmg, int64(5))
	assert.LessOrEqual(t, dmg, int64(20))
	assert.Equal(t, int64(100)-dmg, out["targetHp"])

	selfPayload, _ := json.Marshal(map[string]string{"target": "alice"})
	_, derr = k.SubmitAction(context.Background(), "s-alice", "attack", selfPayload)
	require.NotNil(t, derr)

	stray, _ := json.Marshal(map[string]string{"target": "nobody"})
	_, derr = k.SubmitAction(context.Background(), "s-alice", "attack", stray)
	require.NotNil(t, derr)
}

func TestDuel_OpponentSeesOnlyLoadoutArchetype(t *testing.T) {
	k := startDuel(t)
	joinDuel(t, k, "alice")
	sink2 := joinDuel(t, k, "bob")

	require.Eventually(t, func() bool { return sink2.firstSnapshot() != nil }, time.Second, time.Millisecond)
	players := sink2.firstSnapshot()["players"].(map[string]any)

	alice := players["alice"].(map[string]any)
	assert.Equal(t, "standard", alice["loadout"], "public loadout is masked to the archetype")

	private := sink2.firstSnapshot()["privateStates"].(map[string]any)
	require.Len(t, private, 1, "players only receive their own private entry")
	own := private["bob"].(map[string]any)
	assert.Equal(t, "standard/longsword", own["kit"], "own kit stays concrete in the private view")

	_, leaked := sink2.firstSnapshot()["rolls"]
	assert.False(t, leaked, "server-only fields never reach a client view")
}

func TestDuel_RoomFullAtCapacity(t *testing.T) {
	k := startDuel(t)
	for _, u := range []string{"p1", "p2", "p3", "p4"} {
		joinDuel(t, k, u)
	}
	res, err := k.Join(context.Background(), land.Session{SessionID: "s-p5", UserID: "p5"}, &recordingSink{}, nil)
	require.NoError(t, err)
	require.False(t, res.OK)
	assert.Equal(t, land.JoinCodeRoomFull, res.Err.Code)
}
