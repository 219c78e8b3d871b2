package provisioning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) (*Registry, *MemoryStore, *time.Time) {
	t.Helper()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(DefaultTTL)
	store.now = func() time.Time { return now }
	reg := NewRegistry(store, DefaultTTL, nil)
	reg.now = func() time.Time { return now }
	return reg, store, &now
}

func entry(id string) ServerEntry {
	return ServerEntry{ServerID: id, Host: id + ".internal", Port: 8080, LandType: "duel"}
}

func TestRegister_IdempotentHeartbeat(t *testing.T) {
	reg, _, now := testRegistry(t)
	ctx := context.Background()

	first, err := reg.Register(ctx, entry("game-1"))
	require.NoError(t, err)
	assert.Equal(t, *now, first.RegisteredAt)

	*now = now.Add(30 * time.Second)
	second, err := reg.Register(ctx, entry("game-1"))
	require.NoError(t, err)
	assert.Equal(t, first.RegisteredAt, second.RegisteredAt, "heartbeat keeps the original registration time")
	assert.Equal(t, *now, second.LastSeenAt)

	servers, err := reg.Servers(ctx)
	require.NoError(t, err)
	assert.Len(t, servers, 1)
}

func TestPickServer_SkipsStale(t *testing.T) {
	reg, _, now := testRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, entry("game-1"))
	require.NoError(t, err)

	// Heartbeats at t=30s and t=60s, then silence.
	*now = now.Add(30 * time.Second)
	_, err = reg.Register(ctx, entry("game-1"))
	require.NoError(t, err)
	*now = now.Add(30 * time.Second)
	_, err = reg.Register(ctx, entry("game-1"))
	require.NoError(t, err)

	// At t=150s the last heartbeat is 90s old: not allocatable.
	*now = now.Add(90 * time.Second)
	_, err = reg.PickServer(ctx, "duel")
	assert.ErrorIs(t, err, ErrNoServer)

	// Re-registering revives it.
	_, err = reg.Register(ctx, entry("game-1"))
	require.NoError(t, err)
	srv, err := reg.PickServer(ctx, "duel")
	require.NoError(t, err)
	assert.Equal(t, "game-1", srv.ServerID)
}

func TestPickServer_RoundRobinAndCapacity(t *testing.T) {
	reg, _, _ := testRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, entry("game-1"))
	require.NoError(t, err)
	_, err = reg.Register(ctx, entry("game-2"))
	require.NoError(t, err)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		srv, err := reg.PickServer(ctx, "duel")
		require.NoError(t, err)
		seen[srv.ServerID]++
	}
	assert.Equal(t, 2, seen["game-1"])
	assert.Equal(t, 2, seen["game-2"])

	// game-1 reports itself full: everything goes to game-2.
	full := entry("game-1")
	full.Capacity, full.ActiveLands = 10, 10
	_, err = reg.Register(ctx, full)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		srv, err := reg.PickServer(ctx, "duel")
		require.NoError(t, err)
		assert.Equal(t, "game-2", srv.ServerID)
	}
}

func TestPickServer_FiltersLandType(t *testing.T) {
	reg, _, _ := testRegistry(t)
	ctx := context.Background()
	_, err := reg.Register(ctx, entry("game-1"))
	require.NoError(t, err)

	_, err = reg.PickServer(ctx, "battle-royale")
	assert.ErrorIs(t, err, ErrNoServer)
}

func TestAllocate_DerivesConnectURL(t *testing.T) {
	reg, _, _ := testRegistry(t)
	ctx := context.Background()
	e := entry("game-1")
	e.ConnectHost = "play.example.com"
	e.ConnectPort = 443
	_, err := reg.Register(ctx, e)
	require.NoError(t, err)

	alloc, err := reg.Allocate(ctx, "duel")
	require.NoError(t, err)
	assert.Equal(t, "game-1", alloc.ServerID)
	assert.True(t, strings.HasPrefix(alloc.LandID, "duel:"), "land id is <type>:<uuid>")
	assert.Equal(t, "wss://play.example.com:443/game/duel?landId="+alloc.LandID, alloc.ConnectURL)
}

func TestConnectURL_SchemeDefaults(t *testing.T) {
	e := entry("game-1")
	assert.Equal(t, "ws://game-1.internal:8080/game/duel?landId=duel:x", e.ConnectURL("duel:x"))

	e.ConnectPort = 443
	assert.True(t, strings.HasPrefix(e.ConnectURL("duel:x"), "wss://"))

	e.ConnectScheme = "ws"
	assert.True(t, strings.HasPrefix(e.ConnectURL("duel:x"), "ws://"), "explicit scheme wins over the port rule")
}

func TestHTTP_RegisterAndDeregister(t *testing.T) {
	reg, _, _ := testRegistry(t)
	mux := http.NewServeMux()
	NewHandler(reg).Routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	body, _ := json.Marshal(entry("game-1"))
	resp, err := http.Post(ts.URL+"/v1/provisioning/servers/register", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/provisioning/servers")
	require.NoError(t, err)
	var listing struct {
		Servers []ServerEntry `json:"servers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	resp.Body.Close()
	require.Len(t, listing.Servers, 1)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/provisioning/servers/game-1", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/provisioning/servers")
	require.NoError(t, err)
	var after struct {
		Servers []ServerEntry `json:"servers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&after))
	resp.Body.Close()
	assert.Empty(t, after.Servers)
}

func TestHTTP_RegisterValidation(t *testing.T) {
	reg, _, _ := testRegistry(t)
	mux := http.NewServeMux()
	NewHandler(reg).Routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL+"/v1/provisioning/servers/register", "application/json", strings.NewReader(`{"serverId":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
