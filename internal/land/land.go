// Package land implements the per-room runtime: a keeper owns one state
// tree, serializes every mutation through a single-consumer mailbox, drives
// the tick loop and fans out state updates and server events to attached
// sessions.
package land

import (
	"fmt"
	"strings"

	"github.com/landrun/landrun/internal/statesync"
)

// State is a land's mutable state tree. Handlers mutate it in place; the
// shape must follow the land type's declared schema.
type State = map[string]any

// ID identifies one land instance: "<landType>:<instanceId>".
type ID struct {
	Type     string
	Instance string
}

func (id ID) String() string {
	return id.Type + ":" + id.Instance
}

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool {
	return id.Type == "" && id.Instance == ""
}

// ParseID splits "<landType>:<instanceId>". The instance id is opaque and
// may itself contain colons; only the first separator counts.
func ParseID(s string) (ID, error) {
	typ, inst, ok := strings.Cut(s, ":")
	if !ok || typ == "" || inst == "" {
		return ID{}, fmt.Errorf("malformed land id %q", s)
	}
	return ID{Type: typ, Instance: inst}, nil
}

// Session is the identity a connection carries into a land. Created on
// WebSocket accept; its lifetime is the WebSocket's lifetime.
type Session struct {
	SessionID string
	ClientID  string
	UserID    string
	DeviceID  string
	Metadata  map[string]string
}

// JoinResponse is what the keeper pushes back through the sink when a join
// settles, success or not. The transport layer wraps it in an envelope and
// adds the negotiated encoding.
type JoinResponse struct {
	OK       bool
	LandID   ID
	PlayerID string
	Err      *JoinError
}

// Sink is the keeper's outbound half of a session, implemented by the
// transport layer. Calls must not block the keeper: implementations queue
// and drop/close on overflow. seq is a per-session monotonic update counter.
type Sink interface {
	SendJoinResponse(res JoinResponse)
	SendStateUpdate(seq uint64, u *statesync.StateUpdate)
	SendServerEvent(eventType string, payload any)
	Kick(code int, reason string)
}
