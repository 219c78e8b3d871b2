package land

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landrun/landrun/internal/statesync"
)

// diceDefinition exercises the deterministic RNG: every tick rolls a die
// into broadcast state, and an action rolls on demand.
func diceDefinition(seed uint64) *Definition {
	def := counterDefinition()
	def.ID = "dice"
	def.Seed = seed
	def.OnTick = func(s State, ctx *Context) {
		s["tick"] = s["tick"].(int64) + 1
		if len(s["privateStates"].(map[string]any)) > 0 {
			s["lastRoll"] = int64(ctx.Rand.IntRange(1, 6))
		}
	}
	def.Schema = &statesync.Schema{
		LandType: "dice",
		Fields: []statesync.Field{
			{Name: "tick", Kind: statesync.KindValue, Policy: statesync.Broadcast},
			{Name: "privateStates", Kind: statesync.KindMap, Policy: statesync.PerPlayer},
			{Name: "lastRoll", Kind: statesync.KindValue, Policy: statesync.Broadcast},
		},
	}
	def.InitState = func() State {
		return State{"tick": int64(0), "privateStates": map[string]any{}, "lastRoll": int64(0)}
	}
	def.Actions["roll"] = Action{
		Handle: func(s State, ctx *Context, _ any) (any, error) {
			own := s["privateStates"].(map[string]any)[ctx.PlayerID].(map[string]any)
			own["score"] = own["score"].(int64) + int64(ctx.Rand.IntRange(1, 20))
			return own["score"], nil
		},
	}
	return def
}

func TestReplay_ReproducesRecordedRun(t *testing.T) {
	def := diceDefinition(99)
	k, err := NewKeeper(ID{Type: "dice", Instance: "rec1"}, def, nil)
	require.NoError(t, err)
	rec := NewRecorder()
	k.SetRecorder(rec)
	go func() { _ = k.Run(context.Background()) }()

	sink := &fakeSink{}
	res, err := k.Join(context.Background(), Session{SessionID: "s1", UserID: "p1"}, sink, nil)
	require.NoError(t, err)
	require.True(t, res.OK)

	for range 3 {
		_, derr := k.SubmitAction(context.Background(), "s1", "roll", nil)
		require.Nil(t, derr)
		time.Sleep(12 * time.Millisecond)
	}
	_, derr := k.SubmitAction(context.Background(), "s1", "incScore", []byte(`{"n":7}`))
	require.Nil(t, derr)
	time.Sleep(30 * time.Millisecond)
	k.Leave("s1")
	time.Sleep(15 * time.Millisecond)
	k.Stop(KickCodeRetired, "recording done")
	<-k.Done()

	recording := rec.Snapshot()
	require.NotEmpty(t, recording.Hashes)
	assert.Equal(t, uint64(99), recording.Header.Seed)
	assert.Equal(t, "dice", recording.Header.DefinitionID)

	// Replay against a fresh definition with the wrong default seed: the
	// header seed must win and the hash streams must match tick for tick.
	result, err := Replay(diceDefinition(0), &recording, nil)
	require.NoError(t, err)
	assert.True(t, result.Match, "diverged at tick %d (want %x got %x)", result.DivergedAt, result.WantHash, result.GotHash)
	assert.Equal(t, len(recording.Hashes), result.Ticks)
}

func TestReplay_DetectsDivergence(t *testing.T) {
	def := diceDefinition(7)
	k, err := NewKeeper(ID{Type: "dice", Instance: "rec2"}, def, nil)
	require.NoError(t, err)
	rec := NewRecorder()
	k.SetRecorder(rec)
	go func() { _ = k.Run(context.Background()) }()

	sink := &fakeSink{}
	res, err := k.Join(context.Background(), Session{SessionID: "s1", UserID: "p1"}, sink, nil)
	require.NoError(t, err)
	require.True(t, res.OK)
	_, derr := k.SubmitAction(context.Background(), "s1", "roll", nil)
	require.Nil(t, derr)
	time.Sleep(30 * time.Millisecond)
	k.Stop(KickCodeRetired, "done")
	<-k.Done()

	recording := rec.Snapshot()
	require.NotEmpty(t, recording.Hashes)

	// A definition whose tick behaves differently must diverge.
	altered := diceDefinition(0)
	base := altered.OnTick
	altered.OnTick = func(s State, ctx *Context) {
		base(s, ctx)
		s["tick"] = s["tick"].(int64) + 1 // double-step
	}
	result, err := Replay(altered, &recording, nil)
	require.NoError(t, err)
	assert.False(t, result.Match)
	assert.NotZero(t, result.DivergedAt)
}

func TestReplay_RejectsMismatchedDefinition(t *testing.T) {
	rec := &Recording{Header: RecordingHeader{DefinitionID: "other", Seed: 1}}
	_, err := Replay(diceDefinition(0), rec, nil)
	assert.Error(t, err)
}

func TestRecording_FileRoundTrip(t *testing.T) {
	rec := Recording{
		Header:  RecordingHeader{LandType: "dice", InstanceID: "i", DefinitionID: "dice", Seed: 5, RecordedAt: time.Now().UTC()},
		Entries: []RecordEntry{{Tick: 0, Kind: RecordJoin, SessionID: "s1", UserID: "p1", PlayerID: "p1"}},
		Hashes:  []TickHash{{Tick: 1, Hash: 42}},
	}
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, rec.WriteFile(path))

	loaded, err := LoadRecording(path)
	require.NoError(t, err)
	assert.Equal(t, rec.Header.Seed, loaded.Header.Seed)
	require.Len(t, loaded.Entries, 1)
	assert.Equal(t, RecordJoin, loaded.Entries[0].Kind)
	require.Len(t, loaded.Hashes, 1)
	assert.Equal(t, uint64(42), loaded.Hashes[0].Hash)
}
