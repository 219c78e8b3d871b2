package land

import (
	"time"
)

// targetKind selects the audience of a server event.
type targetKind int

const (
	targetAll targetKind = iota
	targetSession
	targetPlayer
	targetFilter
)

// Target addresses a server event: everyone, one session, one player, or a
// caller-supplied predicate over (session, playerID).
type Target struct {
	kind      targetKind
	sessionID string
	playerID  string
	filter    func(sess Session, playerID string) bool
}

func ToAll() Target                { return Target{kind: targetAll} }
func ToSession(id string) Target   { return Target{kind: targetSession, sessionID: id} }
func ToPlayer(id string) Target    { return Target{kind: targetPlayer, playerID: id} }
func ToFilter(fn func(sess Session, playerID string) bool) Target {
	return Target{kind: targetFilter, filter: fn}
}

// Context is passed to every handler invocation. It carries the caller's
// identity, the tick clock and the land services. Contexts are only valid
// for the duration of the handler call that received them.
type Context struct {
	core *core

	// PlayerID and SessionID identify the caller; empty for tick and timer
	// invocations.
	PlayerID  string
	SessionID string

	// Tick is the current tick counter; Now is the tick loop's monotonic
	// clock reading for this cycle.
	Tick uint64
	Now  time.Time

	// Rand is the land's deterministic RNG service.
	Rand *Rand
}

// LandID returns the id of the land this context belongs to.
func (c *Context) LandID() ID { return c.core.id }

// SendEvent queues a typed server event for the target audience. Delivery
// happens through each session's sink after the current handler returns its
// mutations.
func (c *Context) SendEvent(target Target, eventType string, payload any) {
	c.core.sendEvent(target, eventType, payload)
}

// SyncNow forces a sync cycle before the next tick instead of waiting for
// the tick cadence.
func (c *Context) SyncNow() {
	c.core.syncRequested = true
}

// Schedule registers a one-shot closure coalesced into the tick loop: it
// fires on the first tick at least `after` from now. Timer closures receive
// a tick-scoped context (no caller identity).
func (c *Context) Schedule(after time.Duration, fn func(s State, ctx *Context)) {
	c.core.schedule(after, fn)
}
