// Package realtime pushes matchmaking results to waiting clients: a
// push-only WebSocket gateway indexed by ticket id, fed either by a
// Redis broadcast channel or by this node's directed inbox.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/landrun/landrun/internal/matchmaking"
)

// Envelope pushed on assignment. Protocol version mirrors the game wire.
type AssignedEnvelope struct {
	Type string       `json:"type"` // always "match.assigned"
	V    int          `json:"v"`
	Data AssignedData `json:"data"`
}

type AssignedData struct {
	TicketID   string                 `json:"ticketId"`
	Assignment matchmaking.Assignment `json:"assignment"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Gateway serves /realtime?ticketId=... sockets. The socket is push-only:
// inbound frames are discarded, and the subscription lives until either
// side closes.
type Gateway struct {
	nodeID  string
	locator Locator
	log     *slog.Logger

	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

// NewGateway builds the push gateway. locator may be nil when only the
// broadcast channel (or in-process delivery) is used.
func NewGateway(nodeID string, locator Locator, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		nodeID:  nodeID,
		locator: locator,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[string]map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades one ticket subscription.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ticketID := r.URL.Query().Get("ticketId")
	if ticketID == "" {
		http.Error(w, "ticketId query parameter required", http.StatusBadRequest)
		return
	}
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sub := &subscriber{conn: conn, send: make(chan []byte, 4), done: make(chan struct{})}

	g.mu.Lock()
	set := g.subs[ticketID]
	if set == nil {
		set = make(map[*subscriber]struct{})
		g.subs[ticketID] = set
	}
	set[sub] = struct{}{}
	g.mu.Unlock()

	if g.locator != nil {
		// Tell the worker which node hosts this ticket's subscriber so the
		// assignment can ride the directed inbox.
		if err := g.locator.SetNode(r.Context(), ticketID, g.nodeID); err != nil {
			g.log.Warn("registering ticket location failed; falling back to broadcast", "ticket", ticketID, "err", err)
		}
	}
	g.log.Debug("realtime subscriber attached", "ticket", ticketID)

	go g.writeLoop(sub)
	g.readLoop(sub) // blocks until the client goes away

	g.mu.Lock()
	delete(set, sub)
	if len(set) == 0 {
		delete(g.subs, ticketID)
	}
	g.mu.Unlock()
}

func (g *Gateway) readLoop(sub *subscriber) {
	defer sub.close()
	sub.conn.SetReadLimit(1024)
	for {
		// Push-only: inbound frames are drained and ignored.
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (g *Gateway) writeLoop(sub *subscriber) {
	defer sub.conn.Close()
	for {
		select {
		case <-sub.done:
			deadline := time.Now().Add(5 * time.Second)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = sub.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		case frame := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := sub.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				sub.close()
				return
			}
		}
	}
}

// Deliver pushes a frame to every local subscriber of a ticket. Returns
// false when no subscriber is attached here (the broadcast local-filter
// case).
func (g *Gateway) Deliver(ticketID string, frame []byte) bool {
	g.mu.Lock()
	set := g.subs[ticketID]
	targets := make([]*subscriber, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	g.mu.Unlock()
	for _, s := range targets {
		select {
		case s.send <- frame:
		case <-s.done:
		default:
			// A subscriber that cannot take one small frame is gone anyway.
			s.close()
		}
	}
	return len(targets) > 0
}

// PublishAssigned implements matchmaking.AssignmentPublisher for
// single-process deployments: the worker delivers straight to the local
// gateway.
func (g *Gateway) PublishAssigned(_ context.Context, t matchmaking.Ticket, a matchmaking.Assignment) error {
	frame, err := json.Marshal(AssignedEnvelope{
		Type: "match.assigned",
		V:    1,
		Data: AssignedData{TicketID: t.TicketID, Assignment: a},
	})
	if err != nil {
		return err
	}
	g.Deliver(t.TicketID, frame)
	return nil
}
