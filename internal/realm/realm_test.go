package realm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landrun/landrun/internal/land"
	"github.com/landrun/landrun/internal/statesync"
)

func demoDefinition(id string) *land.Definition {
	return &land.Definition{
		ID: id,
		Schema: &statesync.Schema{
			LandType: "demo",
			Fields: []statesync.Field{
				{Name: "tick", Kind: statesync.KindValue, Policy: statesync.Broadcast},
			},
		},
		TickInterval: 5 * time.Millisecond,
		InitState:    func() land.State { return land.State{"tick": int64(0)} },
		CanJoin: func(_ land.State, sess land.Session, _ []byte, _ *land.Context) (land.JoinDecision, error) {
			return land.Allow(sess.UserID), nil
		},
	}
}

func newRealm(t *testing.T) *Realm {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, nil, 0)
}

func TestRegister_OnceOnly(t *testing.T) {
	r := newRealm(t)
	require.NoError(t, r.Register(LandType{Name: "demo", Definition: demoDefinition("demo")}))
	err := r.Register(LandType{Name: "demo", Definition: demoDefinition("demo")})
	assert.Error(t, err, "double registration must fail")

	err = r.Register(LandType{Name: "demo2", Path: "/game/demo", Definition: demoDefinition("demo2")})
	assert.Error(t, err, "path collision must fail")
}

func TestRegister_ReplayAlias(t *testing.T) {
	r := newRealm(t)

	// Alias before primary is rejected.
	err := r.Register(LandType{Name: "demo-replay", Definition: demoDefinition("demo")})
	require.Error(t, err)

	require.NoError(t, r.Register(LandType{Name: "demo", Definition: demoDefinition("demo")}))

	// Alias with a different definition id is rejected.
	err = r.Register(LandType{Name: "demo-replay", Definition: demoDefinition("other")})
	require.Error(t, err)

	require.NoError(t, r.Register(LandType{Name: "demo-replay", Definition: demoDefinition("demo")}))
	alias, ok := r.Type("demo-replay")
	require.True(t, ok)
	assert.True(t, alias.IsReplay())
}

func TestRouteJoin_AutoCreateDisabled(t *testing.T) {
	r := newRealm(t)
	require.NoError(t, r.Register(LandType{Name: "demo", Definition: demoDefinition("demo"), AllowAutoCreateOnJoin: false}))

	_, err := r.RouteJoin("demo", "missing")
	require.Error(t, err)
	je, ok := err.(*land.JoinError)
	require.True(t, ok, "expected a typed join error, got %T", err)
	assert.Equal(t, land.JoinCodeLandNotFound, je.Code)
}

func TestRouteJoin_AutoCreateEnabled(t *testing.T) {
	r := newRealm(t)
	require.NoError(t, r.Register(LandType{Name: "demo", Definition: demoDefinition("demo"), AllowAutoCreateOnJoin: true}))

	k, err := r.RouteJoin("demo", "room-7")
	require.NoError(t, err)
	assert.Equal(t, land.ID{Type: "demo", Instance: "room-7"}, k.ID())

	// Same id routes to the same keeper.
	again, err := r.RouteJoin("demo", "room-7")
	require.NoError(t, err)
	assert.Same(t, k, again)
}

func TestRouteJoin_FreshInstanceWhenUnnamed(t *testing.T) {
	r := newRealm(t)
	require.NoError(t, r.Register(LandType{Name: "demo", Definition: demoDefinition("demo")}))

	a, err := r.RouteJoin("demo", "")
	require.NoError(t, err)
	b, err := r.RouteJoin("demo", "")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID(), "unnamed joins get fresh instances")
	assert.Len(t, r.List(), 2)
}

func TestRouteJoin_UnknownType(t *testing.T) {
	r := newRealm(t)
	_, err := r.RouteJoin("ghost", "")
	assert.Error(t, err)
}

func TestRetire_RemovesFromDirectory(t *testing.T) {
	r := newRealm(t)
	require.NoError(t, r.Register(LandType{Name: "demo", Definition: demoDefinition("demo"), AllowAutoCreateOnJoin: true}))
	k, err := r.RouteJoin("demo", "gone")
	require.NoError(t, err)

	require.NoError(t, r.Retire(k.ID(), land.KickCodeRetired, "admin retire"))
	<-k.Done()
	require.Eventually(t, func() bool {
		_, live := r.Get(k.ID())
		return !live
	}, time.Second, time.Millisecond)

	assert.Error(t, r.Retire(k.ID(), land.KickCodeRetired, "again"))
}

func TestGraceRetirement_CollectsIdleLand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := New(ctx, nil, 30*time.Millisecond)
	require.NoError(t, r.Register(LandType{Name: "demo", Definition: demoDefinition("demo"), AllowAutoCreateOnJoin: true}))

	k, err := r.RouteJoin("demo", "idle")
	require.NoError(t, err)
	select {
	case <-k.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("idle land was never collected")
	}
	require.Eventually(t, func() bool {
		_, live := r.Get(k.ID())
		return !live
	}, time.Second, time.Millisecond)
}

func TestStats(t *testing.T) {
	r := newRealm(t)
	require.NoError(t, r.Register(LandType{Name: "demo", Definition: demoDefinition("demo")}))
	_, err := r.RouteJoin("demo", "")
	require.NoError(t, err)

	s := r.Stats()
	assert.Equal(t, 1, s.LandTypes)
	assert.Equal(t, 1, s.Lands)
}
