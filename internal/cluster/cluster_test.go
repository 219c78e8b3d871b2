package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDirectory_LeaseLifecycle(t *testing.T) {
	now := time.Now()
	d := NewMemoryDirectory(DefaultLeaseTTL)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	prev, err := d.Acquire(ctx, "u1", "node-a")
	require.NoError(t, err)
	assert.Empty(t, prev)

	node, ok, err := d.Lookup(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "node-a", node)

	// Same node reconnecting is not a takeover.
	prev, err = d.Acquire(ctx, "u1", "node-a")
	require.NoError(t, err)
	assert.Empty(t, prev)

	// Another node takes over and learns who held the lease.
	prev, err = d.Acquire(ctx, "u1", "node-b")
	require.NoError(t, err)
	assert.Equal(t, "node-a", prev)

	// The old node can no longer renew or release the lease.
	assert.Error(t, d.Renew(ctx, "u1", "node-a"))
	require.NoError(t, d.Release(ctx, "u1", "node-a"))
	node, ok, err = d.Lookup(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "node-b", node, "release by a non-holder is a no-op")
}

func TestMemoryDirectory_Expiry(t *testing.T) {
	now := time.Now()
	d := NewMemoryDirectory(8 * time.Second)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := d.Acquire(ctx, "u1", "node-a")
	require.NoError(t, err)

	now = now.Add(9 * time.Second)
	_, ok, err := d.Lookup(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok, "expired lease is gone")

	prev, err := d.Acquire(ctx, "u1", "node-b")
	require.NoError(t, err)
	assert.Empty(t, prev, "taking over an expired lease is not a kick")
}

// memoryInbox routes messages between in-process guards, standing in for
// Redis pub/sub.
type memoryInbox struct {
	mu     sync.Mutex
	guards map[string]*Guard
}

func (i *memoryInbox) Publish(_ context.Context, nodeID string, msg InboxMessage) error {
	i.mu.Lock()
	g := i.guards[nodeID]
	i.mu.Unlock()
	if g != nil {
		g.HandleInbox(msg)
	}
	return nil
}

func TestGuard_CrossNodeKick(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory(DefaultLeaseTTL)
	inbox := &memoryInbox{guards: make(map[string]*Guard)}

	var kicked []string
	guardA := NewGuard(dir, inbox, "node-a", nil)
	guardA.Kick = func(userID string, code int, reason string) {
		assert.Equal(t, KickCodeDuplicateLogin, code)
		assert.Equal(t, "duplicate login", reason)
		kicked = append(kicked, userID)
	}
	guardB := NewGuard(dir, inbox, "node-b", nil)
	guardB.Kick = func(string, int, string) { t.Fatal("node-b must not kick") }
	inbox.guards["node-a"] = guardA
	inbox.guards["node-b"] = guardB

	// u connects to A, then to B: A is told to close u's session.
	require.NoError(t, guardA.OnConnect(ctx, "u"))
	require.NoError(t, guardB.OnConnect(ctx, "u"))
	assert.Equal(t, []string{"u"}, kicked)

	node, ok, err := dir.Lookup(ctx, "u")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "node-b", node, "only B holds the user after the kick")
}

func TestGuard_KickForUnknownUserIsNoop(t *testing.T) {
	dir := NewMemoryDirectory(DefaultLeaseTTL)
	g := NewGuard(dir, nil, "node-a", nil)
	g.Kick = func(string, int, string) { t.Fatal("nothing to kick") }
	g.HandleInbox(InboxMessage{Type: MsgKick, UserID: "stranger"})
	g.HandleInbox(InboxMessage{Type: MsgMatchAssigned, UserID: "stranger"})
}

func TestGuard_DisconnectReleases(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory(DefaultLeaseTTL)
	g := NewGuard(dir, nil, "node-a", nil)

	require.NoError(t, g.OnConnect(ctx, "u"))
	g.OnDisconnect(ctx, "u")

	_, ok, err := dir.Lookup(ctx, "u")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGuard_EmptyUserIsIgnored(t *testing.T) {
	g := NewGuard(NewMemoryDirectory(0), nil, "node-a", nil)
	require.NoError(t, g.OnConnect(context.Background(), ""))
	g.OnDisconnect(context.Background(), "")
}
