package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landrun/landrun/internal/cluster"
	"github.com/landrun/landrun/internal/matchmaking"
)

func dialRealtime(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/realtime"
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func assignment(landID string) matchmaking.Assignment {
	return matchmaking.Assignment{
		AssignmentID: "asg-1",
		LandID:       landID,
		ServerID:     "game-1",
		ConnectURL:   "ws://game-1:8080/game/duel?landId=" + landID,
	}
}

func TestGateway_PushesToSubscriber(t *testing.T) {
	loc := NewMemoryLocator()
	gw := NewGateway("node-a", loc, nil)
	ts := httptest.NewServer(gw)
	t.Cleanup(ts.Close)

	conn := dialRealtime(t, ts, "ticketId=t1")

	// Subscription registers the hosting node for directed delivery.
	require.Eventually(t, func() bool {
		node, ok, _ := loc.GetNode(context.Background(), "t1")
		return ok && node == "node-a"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, gw.PublishAssigned(context.Background(),
		matchmaking.Ticket{TicketID: "t1"}, assignment("duel:x")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env AssignedEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "match.assigned", env.Type)
	assert.Equal(t, 1, env.V)
	assert.Equal(t, "t1", env.Data.TicketID)
	assert.Equal(t, "duel:x", env.Data.Assignment.LandID)
}

func TestGateway_RequiresTicketID(t *testing.T) {
	gw := NewGateway("node-a", nil, nil)
	ts := httptest.NewServer(gw)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/realtime")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_DeliverWithoutSubscriberIsFalse(t *testing.T) {
	gw := NewGateway("node-a", nil, nil)
	assert.False(t, gw.Deliver("ghost", []byte("{}")), "broadcast local-filter: no subscriber here")
}

func TestHandleInbox_RoutesAssignments(t *testing.T) {
	gw := NewGateway("node-a", nil, nil)
	ts := httptest.NewServer(gw)
	t.Cleanup(ts.Close)
	conn := dialRealtime(t, ts, "ticketId=t9")

	frame, err := json.Marshal(AssignedEnvelope{
		Type: "match.assigned", V: 1,
		Data: AssignedData{TicketID: "t9", Assignment: assignment("duel:y")},
	})
	require.NoError(t, err)

	handler := HandleInbox(gw, nil)
	handler(cluster.InboxMessage{Type: cluster.MsgKick, UserID: "u"}) // ignored
	handler(cluster.InboxMessage{Type: cluster.MsgMatchAssigned, Data: frame})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env AssignedEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "t9", env.Data.TicketID)
}

// fakeInbox captures directed publishes without Redis.
type fakeInbox struct {
	node string
	msgs []cluster.InboxMessage
}

func (f *fakeInbox) Publish(_ context.Context, nodeID string, msg cluster.InboxMessage) error {
	f.node = nodeID
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestPublisher_PrefersInboxWhenLocated(t *testing.T) {
	loc := NewMemoryLocator()
	require.NoError(t, loc.SetNode(context.Background(), "t1", "node-b"))
	inbox := &fakeInbox{}
	p := NewPublisher(nil, inbox, loc, true, nil)

	err := p.PublishAssigned(context.Background(), matchmaking.Ticket{TicketID: "t1"}, assignment("duel:z"))
	require.NoError(t, err)
	assert.Equal(t, "node-b", inbox.node)
	require.Len(t, inbox.msgs, 1)
	assert.Equal(t, cluster.MsgMatchAssigned, inbox.msgs[0].Type)

	var env AssignedEnvelope
	require.NoError(t, json.Unmarshal(inbox.msgs[0].Data, &env))
	assert.Equal(t, "t1", env.Data.TicketID)
}
