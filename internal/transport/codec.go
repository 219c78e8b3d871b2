package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects the wire form of envelopes. The server picks one per
// connection and announces it in the joinResponse; the client must use it
// for every subsequent frame.
type Encoding int

const (
	// EncodingJSON sends envelopes as plain JSON objects.
	EncodingJSON Encoding = iota
	// EncodingOpcode sends envelopes as compact JSON arrays
	// [opcode, v, requestId, body].
	EncodingOpcode
	// EncodingMsgpack sends envelopes as MessagePack maps. The default.
	EncodingMsgpack
)

// DefaultEncoding applies when no encoding is configured.
const DefaultEncoding = EncodingMsgpack

func (e Encoding) String() string {
	switch e {
	case EncodingJSON:
		return "json"
	case EncodingOpcode:
		return "opcode"
	case EncodingMsgpack:
		return "msgpack"
	}
	return fmt.Sprintf("encoding(%d)", int(e))
}

// ParseEncoding maps a config/env value to an Encoding. Empty selects the
// default.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultEncoding, nil
	case "json":
		return EncodingJSON, nil
	case "opcode":
		return EncodingOpcode, nil
	case "msgpack", "messagepack":
		return EncodingMsgpack, nil
	}
	return 0, fmt.Errorf("unknown transport encoding %q", s)
}

// MessageType is the WebSocket frame type for this encoding.
func (e Encoding) MessageType() int {
	if e == EncodingMsgpack {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Opcodes for the array encoding. Stable wire contract: append only.
const (
	opJoin           = 1
	opJoinResponse   = 2
	opAction         = 3
	opActionResponse = 4
	opEvent          = 5
	opStateUpdate    = 6
	opError          = 7
)

var kindToOpcode = map[Kind]int{
	KindJoin:           opJoin,
	KindJoinResponse:   opJoinResponse,
	KindAction:         opAction,
	KindActionResponse: opActionResponse,
	KindEvent:          opEvent,
	KindStateUpdate:    opStateUpdate,
	KindError:          opError,
}

var opcodeToKind = map[int]Kind{
	opJoin:           KindJoin,
	opJoinResponse:   KindJoinResponse,
	opAction:         KindAction,
	opActionResponse: KindActionResponse,
	opEvent:          KindEvent,
	opStateUpdate:    KindStateUpdate,
	opError:          KindError,
}

// Marshal serializes an envelope in this encoding.
func (e Encoding) Marshal(env *Envelope) ([]byte, error) {
	switch e {
	case EncodingJSON:
		return json.Marshal(env)
	case EncodingMsgpack:
		return msgpack.Marshal(env)
	case EncodingOpcode:
		op, ok := kindToOpcode[env.Kind]
		if !ok {
			return nil, fmt.Errorf("no opcode for kind %q", env.Kind)
		}
		body := *env
		body.V, body.Kind, body.RequestID = 0, "", ""
		return json.Marshal([]any{op, env.V, env.RequestID, body})
	}
	return nil, fmt.Errorf("unknown encoding %d", int(e))
}

// Unmarshal parses one inbound frame. Payloads come back as generic values;
// use PayloadJSON to hand them to action/event decoders.
func (e Encoding) Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	switch e {
	case EncodingJSON:
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decoding json envelope: %w", err)
		}
	case EncodingMsgpack:
		if err := msgpack.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decoding msgpack envelope: %w", err)
		}
	case EncodingOpcode:
		var parts []json.RawMessage
		if err := json.Unmarshal(data, &parts); err != nil {
			return nil, fmt.Errorf("decoding opcode frame: %w", err)
		}
		if len(parts) != 4 {
			return nil, fmt.Errorf("opcode frame has %d elements, want 4", len(parts))
		}
		var op, v int
		var requestID string
		if err := json.Unmarshal(parts[0], &op); err != nil {
			return nil, fmt.Errorf("opcode frame: bad opcode: %w", err)
		}
		if err := json.Unmarshal(parts[1], &v); err != nil {
			return nil, fmt.Errorf("opcode frame: bad version: %w", err)
		}
		if err := json.Unmarshal(parts[2], &requestID); err != nil {
			return nil, fmt.Errorf("opcode frame: bad request id: %w", err)
		}
		if err := json.Unmarshal(parts[3], &env); err != nil {
			return nil, fmt.Errorf("opcode frame: bad body: %w", err)
		}
		kind, ok := opcodeToKind[op]
		if !ok {
			return nil, fmt.Errorf("unknown opcode %d", op)
		}
		env.Kind, env.V, env.RequestID = kind, v, requestID
	default:
		return nil, fmt.Errorf("unknown encoding %d", int(e))
	}
	if env.Kind == "" {
		return nil, fmt.Errorf("envelope has no kind")
	}
	return &env, nil
}

// PayloadJSON renders an inbound payload as canonical JSON for the land's
// action/event decoders, regardless of the wire encoding it arrived in.
func PayloadJSON(p any) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	if raw, ok := p.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("normalizing payload: %w", err)
	}
	return data, nil
}
