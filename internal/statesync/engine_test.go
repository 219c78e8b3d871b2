package statesync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// duelSchema mirrors the broadcast+perPlayer scenario: a shared counter and
// a per-player private score map.
func duelSchema() *Schema {
	return &Schema{
		LandType: "duel",
		Fields: []Field{
			{Name: "tick", Kind: KindValue, Policy: Broadcast},
			{Name: "secret", Kind: KindValue, Policy: ServerOnly},
			{Name: "privateStates", Kind: KindMap, Policy: PerPlayer,
				Elem: &Field{Kind: KindObject, Fields: []Field{
					{Name: "score", Kind: KindValue, Policy: Broadcast},
				}}},
		},
	}
}

func duelState() map[string]any {
	return map[string]any{
		"tick":   0,
		"secret": "server eyes only",
		"privateStates": map[string]any{
			"p1": map[string]any{"score": 0},
			"p2": map[string]any{"score": 0},
		},
	}
}

func TestSnapshotFor_PerPlayerIsolation(t *testing.T) {
	eng, err := NewEngine(duelSchema(), nil)
	require.NoError(t, err)
	state := duelState()
	state["tick"] = 2

	for _, player := range []string{"p1", "p2"} {
		snap, err := eng.SnapshotFor(state, player)
		require.NoError(t, err)
		assert.Equal(t, int64(2), snap["tick"])

		private := snap["privateStates"].(map[string]any)
		require.Len(t, private, 1, "player %s must see exactly its own entry", player)
		own := private[player].(map[string]any)
		assert.Equal(t, int64(0), own["score"])
	}
}

func TestSnapshotFor_ServerOnlyNeverVisible(t *testing.T) {
	eng, err := NewEngine(duelSchema(), nil)
	require.NoError(t, err)

	snap, err := eng.SnapshotFor(duelState(), "p1")
	require.NoError(t, err)
	_, leaked := snap["secret"]
	assert.False(t, leaked, "serverOnly field must not appear in player snapshot")

	dump, err := eng.SnapshotFor(duelState(), ServerView)
	require.NoError(t, err)
	assert.Equal(t, "server eyes only", dump["secret"], "server dump includes everything")
}

func TestUpdateFor_FirstSyncThenDiff(t *testing.T) {
	eng, err := NewEngine(duelSchema(), nil)
	require.NoError(t, err)
	state := duelState()

	up, err := eng.UpdateFor(state, "p1")
	require.NoError(t, err)
	require.Equal(t, FirstSync, up.Kind)
	require.NotNil(t, up.Snapshot)

	up, err = eng.UpdateFor(state, "p1")
	require.NoError(t, err)
	assert.Equal(t, NoChange, up.Kind)

	state["tick"] = 1
	state["privateStates"].(map[string]any)["p1"].(map[string]any)["score"] = 5

	up, err = eng.UpdateFor(state, "p1")
	require.NoError(t, err)
	require.Equal(t, Diff, up.Kind)
	require.Len(t, up.Patches, 2)
	paths := []string{up.Patches[0].Path, up.Patches[1].Path}
	assert.Contains(t, paths, "/tick")
	assert.Contains(t, paths, "/privateStates/p1/score")
}

func TestUpdateFor_DiffDoesNotLeakOtherPlayers(t *testing.T) {
	eng, err := NewEngine(duelSchema(), nil)
	require.NoError(t, err)
	state := duelState()

	_, err = eng.UpdateFor(state, "p1")
	require.NoError(t, err)

	// Mutating only p2's private state must be invisible to p1.
	state["privateStates"].(map[string]any)["p2"].(map[string]any)["score"] = 9
	up, err := eng.UpdateFor(state, "p1")
	require.NoError(t, err)
	assert.Equal(t, NoChange, up.Kind)
}

// TestDiffSoundness: applying every patch of a diff to the previous
// projection must yield the current projection exactly.
func TestDiffSoundness(t *testing.T) {
	schema := &Schema{
		LandType: "world",
		Fields: []Field{
			{Name: "round", Kind: KindValue, Policy: Broadcast},
			{Name: "units", Kind: KindMap, Policy: Broadcast},
			{Name: "order", Kind: KindList, Policy: Broadcast},
		},
	}
	eng, err := NewEngine(schema, nil)
	require.NoError(t, err)

	state := map[string]any{
		"round": 1,
		"units": map[string]any{
			"u1": map[string]any{"hp": 100, "pos": []any{0, 0}},
			"u2": map[string]any{"hp": 80},
		},
		"order": []any{"u1", "u2"},
	}
	up, err := eng.UpdateFor(state, "p1")
	require.NoError(t, err)
	require.Equal(t, FirstSync, up.Kind)
	client := deepCopy(up.Snapshot).(map[string]any)

	// Scalar change, nested change, map add, map remove, list shrink.
	state["round"] = 2
	state["units"].(map[string]any)["u1"].(map[string]any)["hp"] = 64
	state["units"].(map[string]any)["u3"] = map[string]any{"hp": 50}
	delete(state["units"].(map[string]any), "u2")
	state["order"] = []any{"u1"}

	up, err = eng.UpdateFor(state, "p1")
	require.NoError(t, err)
	require.Equal(t, Diff, up.Kind)

	for _, p := range up.Patches {
		client = ApplyPatch(client, p)
	}
	want, err := eng.SnapshotFor(state, "p1")
	require.NoError(t, err)
	assert.True(t, deepEqual(want, client), "patched client view diverged: got %v want %v", client, want)
}

func TestDiff_PatchesCarryPathHashes(t *testing.T) {
	eng, err := NewEngine(duelSchema(), nil)
	require.NoError(t, err)
	state := duelState()
	_, err = eng.UpdateFor(state, "p1")
	require.NoError(t, err)

	state["privateStates"].(map[string]any)["p1"].(map[string]any)["score"] = 3
	up, err := eng.UpdateFor(state, "p1")
	require.NoError(t, err)
	require.Equal(t, Diff, up.Kind)
	require.Len(t, up.Patches, 1)

	p := up.Patches[0]
	assert.Equal(t, Hash32("privateStates.*.score"), p.Hash)
	assert.Equal(t, []string{"p1"}, p.Keys)
}

func TestMaskedField_TransformAndPanicDowngrade(t *testing.T) {
	calls := 0
	schema := &Schema{
		LandType: "cards",
		Fields: []Field{
			{Name: "hands", Kind: KindMap, Policy: Masked, Mask: func(v any, player string) any {
				calls++
				if player == "boom" {
					panic("bad transform")
				}
				hands := v.(map[string]any)
				return map[string]any{player: hands[player]}
			}},
		},
	}
	eng, err := NewEngine(schema, nil)
	require.NoError(t, err)
	state := map[string]any{
		"hands": map[string]any{"p1": []any{"AS", "KD"}, "p2": []any{"2C"}},
	}

	snap, err := eng.SnapshotFor(state, "p1")
	require.NoError(t, err)
	hands := snap["hands"].(map[string]any)
	require.Len(t, hands, 1)
	assert.Equal(t, []any{"AS", "KD"}, hands["p1"])
	assert.Positive(t, calls)

	// A panicking transform hides the field instead of failing the cycle.
	snap, err = eng.SnapshotFor(state, "boom")
	require.NoError(t, err)
	_, present := snap["hands"]
	assert.False(t, present)
}

func TestForget_ResetsToFirstSync(t *testing.T) {
	eng, err := NewEngine(duelSchema(), nil)
	require.NoError(t, err)
	state := duelState()

	up, _ := eng.UpdateFor(state, "p1")
	require.Equal(t, FirstSync, up.Kind)
	eng.Forget("p1")
	up, _ = eng.UpdateFor(state, "p1")
	assert.Equal(t, FirstSync, up.Kind, "forgotten player must resync in full")
}

func TestHashState_Deterministic(t *testing.T) {
	a := map[string]any{"b": 1, "a": []any{true, "x", 2.5}, "m": map[string]any{"k": nil}}
	b := map[string]any{"a": []any{true, "x", 2.5}, "m": map[string]any{"k": nil}, "b": 1}

	h1, err := HashState(a)
	require.NoError(t, err)
	h2, err := HashState(b)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "hash must be independent of map iteration order")

	b["b"] = 2
	h3, err := HashState(b)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestParseSchema_RoundTrip(t *testing.T) {
	data := []byte(`{
		"landType": "duel",
		"fields": [
			{"name": "tick", "kind": "value", "policy": "broadcast"},
			{"name": "secret", "policy": "serverOnly"},
			{"name": "privateStates", "kind": "map", "policy": "perPlayer",
				"elem": {"kind": "object", "fields": [{"name": "score"}]}},
			{"name": "hands", "kind": "map", "policy": "masked"}
		]
	}`)
	schema, err := ParseSchema(data)
	require.NoError(t, err)
	assert.Equal(t, "duel", schema.LandType)
	require.Len(t, schema.Fields, 4)
	assert.Equal(t, PerPlayer, schema.Fields[2].Policy)
	require.NotNil(t, schema.Fields[2].Elem)
	assert.Equal(t, KindObject, schema.Fields[2].Elem.Kind)

	// Masked fields need a bound transform before the engine accepts them.
	_, err = NewEngine(schema, nil)
	require.Error(t, err)
	require.NoError(t, schema.BindMask("hands", func(v any, p string) any { return nil }))
	_, err = NewEngine(schema, nil)
	assert.NoError(t, err)
}

func TestSchemaPatterns(t *testing.T) {
	patterns := duelSchema().Patterns()
	assert.Contains(t, patterns, "tick")
	assert.Contains(t, patterns, "privateStates")
	assert.Contains(t, patterns, "privateStates.*")
	assert.Contains(t, patterns, "privateStates.*.score")
}
