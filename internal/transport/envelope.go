// Package transport bridges WebSocket sessions to land keepers: envelope
// parsing, join-before-anything-else enforcement, per-session outbound
// queues with diff coalescing, and encoding negotiation.
package transport

import (
	"github.com/landrun/landrun/internal/statesync"
)

// ProtocolVersion is stamped on every server-pushed envelope. Breaking
// changes increment it; compatibility is bounded to the previous major.
const ProtocolVersion = 1

// Kind discriminates envelope payloads.
type Kind string

const (
	KindJoin           Kind = "join"
	KindJoinResponse   Kind = "joinResponse"
	KindAction         Kind = "action"
	KindActionResponse Kind = "actionResponse"
	KindEvent          Kind = "event"
	KindStateUpdate    Kind = "stateUpdate"
	KindError          Kind = "error"
)

// ErrorInfo is the stable error shape surfaced to clients.
type ErrorInfo struct {
	Code      string `json:"code" msgpack:"code"`
	Message   string `json:"message" msgpack:"message"`
	Retryable bool   `json:"retryable,omitempty" msgpack:"retryable,omitempty"`
}

// UpdateBody is the stateUpdate payload: exactly one of Snapshot (first
// sync) or Patches (diff) is set.
type UpdateBody struct {
	Kind     string           `json:"kind" msgpack:"kind"` // firstSync | diff
	Snapshot map[string]any   `json:"snapshot,omitempty" msgpack:"snapshot,omitempty"`
	Patches  []statesync.Patch `json:"patches,omitempty" msgpack:"patches,omitempty"`
}

// Envelope is the single wire frame for both directions. Fields are
// populated per kind; unused fields are omitted on the wire.
type Envelope struct {
	V    int  `json:"v" msgpack:"v"`
	Kind Kind `json:"kind" msgpack:"kind"`

	// RequestID correlates action ↔ actionResponse.
	RequestID string `json:"requestId,omitempty" msgpack:"requestId,omitempty"`

	// Join request: the land type (must match the socket path) and the
	// optional instance id. JoinResponse echoes the resolved LandID.
	LandType   string `json:"landType,omitempty" msgpack:"landType,omitempty"`
	InstanceID string `json:"instanceId,omitempty" msgpack:"instanceId,omitempty"`
	LandID     string `json:"landId,omitempty" msgpack:"landId,omitempty"`

	// Type identifies the action or event payload.
	Type    string `json:"type,omitempty" msgpack:"type,omitempty"`
	Payload any    `json:"payload,omitempty" msgpack:"payload,omitempty"`

	// JoinResponse: assigned player id and the encoding the client must
	// switch to for all subsequent frames.
	PlayerID string `json:"playerId,omitempty" msgpack:"playerId,omitempty"`
	Encoding string `json:"encoding,omitempty" msgpack:"encoding,omitempty"`

	// StateUpdate: per-session monotonic sequence plus the update body.
	Seq    uint64      `json:"seq,omitempty" msgpack:"seq,omitempty"`
	Update *UpdateBody `json:"update,omitempty" msgpack:"update,omitempty"`

	Error *ErrorInfo `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Close codes beyond the RFC 6455 range.
const (
	CloseProtocolViolation = 1002
	CloseInternal          = 1011
	CloseUnauthorized      = 4001
	CloseDuplicateLogin    = 4002
	CloseSlowConsumer      = 4008
)
