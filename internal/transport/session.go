package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/landrun/landrun/internal/land"
	"github.com/landrun/landrun/internal/statesync"
)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 10 * time.Second
	pingPeriod          = 30 * time.Second
	maxFrameBytes       = 1 << 20
)

// SessionConfig tunes one connection's outbound path.
type SessionConfig struct {
	Encoding     Encoding
	// HashedPaths replaces patch paths with (patternHash, dynamicKeys)
	// pairs on the wire.
	HashedPaths  bool
	QueueSize    int
	WriteTimeout time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// Session is one WebSocket connection. It implements land.Sink: the keeper
// hands it join responses, state updates and events, and the session owns
// getting them onto the wire without ever blocking the keeper.
//
// Outbound frames travel through a bounded queue drained by a single writer
// goroutine. Diff updates are coalescable: a newer diff overwrites a queued
// one in a one-slot buffer instead of piling up. Everything else is
// must-deliver; if the queue is full the client is not keeping up and the
// connection is closed as a slow consumer.
type Session struct {
	id       string
	identity land.Session
	conn     *websocket.Conn
	cfg      SessionConfig
	log      *slog.Logger

	sendCh chan []byte

	diffMu      sync.Mutex
	pendingDiff []byte
	diffNotify  chan struct{}

	closeOnce   sync.Once
	closedCh    chan struct{}
	closeCode   int
	closeReason string
}

// NewSession wraps an accepted connection and starts its writer.
func NewSession(conn *websocket.Conn, identity land.Session, cfg SessionConfig, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	s := &Session{
		id:         identity.SessionID,
		identity:   identity,
		conn:       conn,
		cfg:        cfg,
		log:        log.With("session", identity.SessionID),
		sendCh:     make(chan []byte, cfg.QueueSize),
		diffNotify: make(chan struct{}, 1),
		closedCh:   make(chan struct{}),
	}
	conn.SetReadLimit(maxFrameBytes)
	go s.writeLoop()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Identity returns the land-facing session identity.
func (s *Session) Identity() land.Session { return s.identity }

// Closed is closed once the connection is going away.
func (s *Session) Closed() <-chan struct{} { return s.closedCh }

// errMalformedFrame marks a frame that arrived but could not be decoded,
// as opposed to the connection going away.
var errMalformedFrame = errors.New("malformed envelope")

// ReadFrame blocks on the next inbound envelope.
func (s *Session) ReadFrame() (*Envelope, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	env, err := s.cfg.Encoding.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	return env, nil
}

// Close tears the session down with a WebSocket close code. Idempotent;
// the first code wins.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closeCode, s.closeReason = code, reason
		close(s.closedCh)
	})
}

func (s *Session) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer s.conn.Close()

	for {
		select {
		case <-s.closedCh:
			// Flush frames queued before the close so a final error
			// envelope still reaches the client.
			for drained := false; !drained; {
				select {
				case frame := <-s.sendCh:
					if !s.write(frame) {
						return
					}
				default:
					drained = true
				}
			}
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			msg := websocket.FormatCloseMessage(s.closeCode, s.closeReason)
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		case frame := <-s.sendCh:
			if !s.write(frame) {
				return
			}
		case <-s.diffNotify:
			s.diffMu.Lock()
			frame := s.pendingDiff
			s.pendingDiff = nil
			s.diffMu.Unlock()
			if frame != nil && !s.write(frame) {
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.Close(CloseInternal, "ping failed")
				return
			}
		}
	}
}

func (s *Session) write(frame []byte) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteMessage(s.cfg.Encoding.MessageType(), frame); err != nil {
		s.log.Debug("write failed, closing session", "err", err)
		s.Close(CloseInternal, "write failed")
		return false
	}
	return true
}

// Send marshals and queues a must-deliver envelope. Overflow means the
// client cannot keep up; the session is closed rather than buffered without
// bound.
func (s *Session) Send(env *Envelope) {
	frame, err := s.cfg.Encoding.Marshal(env)
	if err != nil {
		s.log.Error("dropping unencodable envelope", "kind", env.Kind, "err", err)
		return
	}
	select {
	case s.sendCh <- frame:
	case <-s.closedCh:
	default:
		s.log.Warn("send queue full, closing slow consumer")
		s.Close(CloseSlowConsumer, "slow consumer")
	}
}

// sendCoalescable queues a diff frame into the one-slot buffer, replacing
// any diff still waiting there.
func (s *Session) sendCoalescable(env *Envelope) {
	frame, err := s.cfg.Encoding.Marshal(env)
	if err != nil {
		s.log.Error("dropping unencodable update", "err", err)
		return
	}
	s.diffMu.Lock()
	s.pendingDiff = frame
	s.diffMu.Unlock()
	select {
	case s.diffNotify <- struct{}{}:
	default:
	}
}

// SendJoinResponse implements land.Sink.
func (s *Session) SendJoinResponse(res land.JoinResponse) {
	env := &Envelope{
		V:    ProtocolVersion,
		Kind: KindJoinResponse,
	}
	if res.OK {
		env.LandID = res.LandID.String()
		env.PlayerID = res.PlayerID
		env.Encoding = s.cfg.Encoding.String()
	} else {
		env.Error = &ErrorInfo{Code: res.Err.Code, Message: res.Err.Message}
	}
	s.Send(env)
}

// SendStateUpdate implements land.Sink. First syncs are must-deliver; diffs
// coalesce. Sequence numbers expose coalescing to the client as a gap.
func (s *Session) SendStateUpdate(seq uint64, u *statesync.StateUpdate) {
	switch u.Kind {
	case statesync.FirstSync:
		s.Send(&Envelope{
			V:    ProtocolVersion,
			Kind: KindStateUpdate,
			Seq:  seq,
			Update: &UpdateBody{
				Kind:     "firstSync",
				Snapshot: u.Snapshot,
			},
		})
	case statesync.Diff:
		s.sendCoalescable(&Envelope{
			V:    ProtocolVersion,
			Kind: KindStateUpdate,
			Seq:  seq,
			Update: &UpdateBody{
				Kind:    "diff",
				Patches: s.wirePatches(u.Patches),
			},
		})
	}
}

// wirePatches picks one path representation per the session config: plain
// JSON-Pointer strings, or (patternHash, dynamicKeys) pairs.
func (s *Session) wirePatches(in []statesync.Patch) []statesync.Patch {
	out := make([]statesync.Patch, len(in))
	copy(out, in)
	for i := range out {
		if s.cfg.HashedPaths {
			out[i].Path = ""
		} else {
			out[i].Hash = 0
			out[i].Keys = nil
		}
	}
	return out
}

// SendServerEvent implements land.Sink.
func (s *Session) SendServerEvent(eventType string, payload any) {
	s.Send(&Envelope{
		V:       ProtocolVersion,
		Kind:    KindEvent,
		Type:    eventType,
		Payload: payload,
	})
}

// Kick implements land.Sink.
func (s *Session) Kick(code int, reason string) {
	s.Close(code, reason)
}
