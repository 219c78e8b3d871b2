package land

import (
	"fmt"
	"time"

	"github.com/landrun/landrun/internal/statesync"
)

// Defaults applied by Definition.withDefaults.
const (
	DefaultTickInterval  = 50 * time.Millisecond
	DefaultActionTimeout = 5 * time.Second
	DefaultMailboxSize   = 256
)

// JoinDecision is the outcome of a CanJoin handler.
type JoinDecision struct {
	allowed  bool
	playerID string
	reason   string
}

// Allow admits the session under the given player id.
func Allow(playerID string) JoinDecision {
	return JoinDecision{allowed: true, playerID: playerID}
}

// Deny rejects the session with a human-readable reason; the wire code is
// "denied". Use a typed JoinError for a specific code.
func Deny(reason string) JoinDecision {
	return JoinDecision{reason: reason}
}

// Action is one registered request/response handler. Decode turns the raw
// payload into the handler's input; a nil Decode passes the raw bytes
// through. Handle runs under the keeper's serialization guard and returns
// the response value.
type Action struct {
	Decode func(data []byte) (any, error)
	Handle func(s State, ctx *Context, req any) (any, error)
}

// Event is one registered fire-and-forget client event handler.
type Event struct {
	Decode func(data []byte) (any, error)
	Handle func(s State, ctx *Context, evt any)
}

// Definition describes a land type: schema, tick configuration and the
// handler table. One Definition serves every instance of its type; all
// per-instance state lives in the keeper.
type Definition struct {
	// ID is the definition identity. A replay alias must carry the same ID
	// as its primary so recordings stay interchangeable.
	ID string

	Schema *statesync.Schema

	TickInterval  time.Duration
	ActionTimeout time.Duration
	MailboxSize   int

	// MaxEmptyTicks is how many consecutive ticks a land keeps running with
	// zero sessions before retiring itself. Zero disables self-retirement.
	MaxEmptyTicks int

	// Seed pins the RNG for every instance of this type. Zero means each
	// instance draws a random seed at creation.
	Seed uint64

	// InitState builds a fresh state tree for a new instance.
	InitState func() State

	// CanJoin decides admission and assigns the player id. payload is the
	// opaque join payload from the envelope. Returning a *JoinError (or any
	// error) rejects with a typed code.
	CanJoin func(s State, sess Session, payload []byte, ctx *Context) (JoinDecision, error)

	// OnJoin and OnLeave run after a player is installed in / removed from
	// the state tree.
	OnJoin  func(s State, ctx *Context)
	OnLeave func(s State, ctx *Context)

	// OnTick runs once per tick before scheduled timers and the sync cycle.
	OnTick func(s State, ctx *Context)

	Actions map[string]Action
	Events  map[string]Event
}

func (d *Definition) validate() error {
	if d.ID == "" {
		return fmt.Errorf("definition has no id")
	}
	if d.Schema == nil {
		return fmt.Errorf("definition %q has no schema", d.ID)
	}
	if d.InitState == nil {
		return fmt.Errorf("definition %q has no InitState", d.ID)
	}
	if d.CanJoin == nil {
		return fmt.Errorf("definition %q has no CanJoin", d.ID)
	}
	for ident, a := range d.Actions {
		if a.Handle == nil {
			return fmt.Errorf("action %q has no handler", ident)
		}
	}
	for ident, e := range d.Events {
		if e.Handle == nil {
			return fmt.Errorf("event %q has no handler", ident)
		}
	}
	return nil
}

func (d *Definition) withDefaults() *Definition {
	out := *d
	if out.TickInterval <= 0 {
		out.TickInterval = DefaultTickInterval
	}
	if out.ActionTimeout <= 0 {
		out.ActionTimeout = DefaultActionTimeout
	}
	if out.MailboxSize <= 0 {
		out.MailboxSize = DefaultMailboxSize
	}
	return &out
}
