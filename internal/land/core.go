package land

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/landrun/landrun/internal/statesync"
)

// member is one attached session.
type member struct {
	sess     Session
	playerID string
	sink     Sink
	seq      uint64 // monotonic state update sequence for this session
}

type pendingEvent struct {
	target    Target
	eventType string
	payload   any
}

type timerEntry struct {
	fireTick uint64
	fn       func(s State, ctx *Context)
}

// core holds all land state and implements the single-threaded semantics:
// join/leave, dispatch, tick, timers, sync and event fan-out. It is never
// touched concurrently — the keeper serializes access through its mailbox,
// and the replay runner drives a core directly on one goroutine.
type core struct {
	id     ID
	def    *Definition
	engine *statesync.Engine
	rng    *Rand
	log    *slog.Logger

	state State
	tick  uint64
	now   time.Time

	members map[string]*member // sessionID → member
	players map[string]string  // playerID → sessionID

	timers        []timerEntry
	events        []pendingEvent
	syncRequested bool

	recorder *Recorder
}

func newCore(id ID, def *Definition, log *slog.Logger) (*core, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}
	def = def.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	log = log.With("land", id.String())
	engine, err := statesync.NewEngine(def.Schema, log)
	if err != nil {
		return nil, err
	}
	seed := def.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &core{
		id:      id,
		def:     def,
		engine:  engine,
		rng:     NewRand(seed),
		log:     log,
		state:   def.InitState(),
		now:     time.Now(),
		members: make(map[string]*member),
		players: make(map[string]string),
	}, nil
}

func (c *core) tickCtx() *Context {
	return &Context{core: c, Tick: c.tick, Now: c.now, Rand: c.rng}
}

func (c *core) callerCtx(m *member) *Context {
	return &Context{core: c, PlayerID: m.playerID, SessionID: m.sess.SessionID, Tick: c.tick, Now: c.now, Rand: c.rng}
}

// join runs admission and installs the member. The returned response is
// pushed through the sink by the caller, before the first sync.
func (c *core) join(sess Session, sink Sink, payload []byte) JoinResponse {
	fail := func(je *JoinError) JoinResponse {
		return JoinResponse{OK: false, LandID: c.id, Err: je}
	}
	if _, dup := c.members[sess.SessionID]; dup {
		return fail(CustomJoinError("alreadyJoined", "session already joined this land"))
	}

	ctx := &Context{core: c, SessionID: sess.SessionID, Tick: c.tick, Now: c.now, Rand: c.rng}
	decision, err := c.canJoin(sess, payload, ctx)
	if err != nil {
		var je *JoinError
		if errors.As(err, &je) {
			return fail(je)
		}
		c.log.Error("CanJoin failed", "session", sess.SessionID, "err", err)
		return fail(CustomJoinError("internal", "join handler failed"))
	}
	if !decision.allowed {
		return fail(CustomJoinError("denied", decision.reason))
	}
	playerID := decision.playerID
	if playerID == "" {
		return fail(CustomJoinError("internal", "join allowed without a player id"))
	}
	if _, taken := c.players[playerID]; taken {
		// Multi-login within the same land is rejected.
		return fail(&JoinError{Code: JoinCodeDuplicateLogin, Message: fmt.Sprintf("player %q already in land", playerID)})
	}

	m := &member{sess: sess, playerID: playerID, sink: sink}
	c.members[sess.SessionID] = m
	c.players[playerID] = sess.SessionID

	if c.def.OnJoin != nil {
		func() {
			defer c.recoverHandler("OnJoin", playerID)
			c.def.OnJoin(c.state, c.callerCtx(m))
		}()
	}
	c.record(RecordEntry{Kind: RecordJoin, SessionID: sess.SessionID, ClientID: sess.ClientID, UserID: sess.UserID, PlayerID: playerID, Payload: payload})
	return JoinResponse{OK: true, LandID: c.id, PlayerID: playerID}
}

func (c *core) canJoin(sess Session, payload []byte, ctx *Context) (decision JoinDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("CanJoin panicked", "session", sess.SessionID, "panic", r)
			decision, err = JoinDecision{}, CustomJoinError("internal", "join handler failed")
		}
	}()
	return c.def.CanJoin(c.state, sess, payload, ctx)
}

// firstSync delivers the initial full snapshot to a freshly joined session.
func (c *core) firstSync(sessionID string) {
	m, ok := c.members[sessionID]
	if !ok {
		return
	}
	up, err := c.engine.UpdateFor(c.state, m.playerID)
	if err != nil {
		c.log.Error("first sync failed", "player", m.playerID, "err", err)
		return
	}
	m.seq++
	m.sink.SendStateUpdate(m.seq, up)
}

// leave removes the member and forgets its sync view. Safe to call for
// sessions that never joined.
func (c *core) leave(sessionID string) {
	m, ok := c.members[sessionID]
	if !ok {
		return
	}
	if c.def.OnLeave != nil {
		func() {
			defer c.recoverHandler("OnLeave", m.playerID)
			c.def.OnLeave(c.state, c.callerCtx(m))
		}()
	}
	delete(c.members, sessionID)
	delete(c.players, m.playerID)
	c.engine.Forget(m.playerID)
	c.record(RecordEntry{Kind: RecordLeave, SessionID: sessionID, PlayerID: m.playerID})
}

// action decodes and dispatches one request/response call.
func (c *core) action(sessionID, typeIdent string, payload []byte) (any, *DispatchError) {
	m, ok := c.members[sessionID]
	if !ok {
		return nil, &DispatchError{Code: DispatchCodeLandClosed, Message: "session not joined"}
	}
	act, ok := c.def.Actions[typeIdent]
	if !ok {
		return nil, errUnknownAction(typeIdent)
	}
	req, derr := decodePayload(act.Decode, typeIdent, payload)
	if derr != nil {
		return nil, derr
	}
	c.record(RecordEntry{Kind: RecordAction, SessionID: sessionID, PlayerID: m.playerID, Type: typeIdent, Payload: payload})

	var resp any
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("action handler panicked", "action", typeIdent, "player", m.playerID, "panic", r)
				err = fmt.Errorf("handler panicked")
			}
		}()
		resp, err = act.Handle(c.state, c.callerCtx(m), req)
	}()
	if err != nil {
		return nil, errHandlerError(err)
	}
	return resp, nil
}

// clientEvent decodes and dispatches one fire-and-forget event. Failures
// are logged and dropped.
func (c *core) clientEvent(sessionID, typeIdent string, payload []byte) {
	m, ok := c.members[sessionID]
	if !ok {
		return
	}
	ev, ok := c.def.Events[typeIdent]
	if !ok {
		c.log.Warn("unknown client event dropped", "event", typeIdent, "player", m.playerID)
		return
	}
	evt, derr := decodePayload(ev.Decode, typeIdent, payload)
	if derr != nil {
		c.log.Warn("client event decode failed", "event", typeIdent, "player", m.playerID, "err", derr.Message)
		return
	}
	c.record(RecordEntry{Kind: RecordEvent, SessionID: sessionID, PlayerID: m.playerID, Type: typeIdent, Payload: payload})
	func() {
		defer c.recoverHandler("event "+typeIdent, m.playerID)
		ev.Handle(c.state, c.callerCtx(m), evt)
	}()
}

func decodePayload(decode func([]byte) (any, error), typeIdent string, payload []byte) (any, *DispatchError) {
	if decode == nil {
		return payload, nil
	}
	v, err := decode(payload)
	if err != nil {
		return nil, errDecodeFailed(typeIdent, err)
	}
	return v, nil
}

// runTick advances the clock one tick: tick handler, due timers, then the
// sync cycle. Returns an error only for unrecoverable tick failures, which
// retire the land.
func (c *core) runTick(now time.Time) error {
	c.tick++
	c.now = now

	if c.def.OnTick != nil {
		var fatal error
		func() {
			defer func() {
				if r := recover(); r != nil {
					fatal = fmt.Errorf("tick handler panicked: %v", r)
				}
			}()
			c.def.OnTick(c.state, c.tickCtx())
		}()
		if fatal != nil {
			return fatal
		}
	}
	c.runDueTimers()
	c.syncAll()
	if c.recorder != nil {
		if err := c.recorder.CaptureTick(c.tick, c.state); err != nil {
			c.log.Error("recording tick hash failed", "err", err)
		}
	}
	return nil
}

func (c *core) runDueTimers() {
	var keep []timerEntry
	for _, t := range c.timers {
		if t.fireTick > c.tick {
			keep = append(keep, t)
			continue
		}
		fn := t.fn
		func() {
			defer c.recoverHandler("timer", "")
			fn(c.state, c.tickCtx())
		}()
	}
	c.timers = keep
}

func (c *core) schedule(after time.Duration, fn func(s State, ctx *Context)) {
	ticks := uint64(1)
	if after > c.def.TickInterval {
		ticks = uint64((after + c.def.TickInterval - 1) / c.def.TickInterval)
	}
	c.timers = append(c.timers, timerEntry{fireTick: c.tick + ticks, fn: fn})
}

// syncAll runs one sync cycle: a diff per attached session, then the queued
// server events. Sessions are walked in sorted order so replays observe a
// deterministic delivery sequence. A failure for one session never blocks
// the others.
func (c *core) syncAll() {
	c.syncRequested = false
	for _, sid := range c.sortedSessionIDs() {
		m := c.members[sid]
		up, err := c.engine.UpdateFor(c.state, m.playerID)
		if err != nil {
			c.log.Error("sync failed", "player", m.playerID, "err", err)
			continue
		}
		if up.Kind == statesync.NoChange {
			continue
		}
		m.seq++
		m.sink.SendStateUpdate(m.seq, up)
	}
	c.flushEvents()
}

func (c *core) sortedSessionIDs() []string {
	ids := make([]string, 0, len(c.members))
	for sid := range c.members {
		ids = append(ids, sid)
	}
	sort.Strings(ids)
	return ids
}

func (c *core) sendEvent(target Target, eventType string, payload any) {
	c.events = append(c.events, pendingEvent{target: target, eventType: eventType, payload: payload})
}

func (c *core) flushEvents() {
	if len(c.events) == 0 {
		return
	}
	queued := c.events
	c.events = nil
	for _, ev := range queued {
		for _, sid := range c.sortedSessionIDs() {
			m := c.members[sid]
			if c.matches(ev.target, m) {
				m.sink.SendServerEvent(ev.eventType, ev.payload)
			}
		}
	}
}

func (c *core) matches(t Target, m *member) bool {
	switch t.kind {
	case targetAll:
		return true
	case targetSession:
		return m.sess.SessionID == t.sessionID
	case targetPlayer:
		return m.playerID == t.playerID
	case targetFilter:
		return t.filter != nil && t.filter(m.sess, m.playerID)
	}
	return false
}

// kickAll disconnects every attached session with a terminal code.
func (c *core) kickAll(code int, reason string) {
	for _, sid := range c.sortedSessionIDs() {
		c.members[sid].sink.Kick(code, reason)
	}
}

func (c *core) recoverHandler(what, playerID string) {
	if r := recover(); r != nil {
		c.log.Error("handler panicked", "handler", what, "player", playerID, "panic", r)
	}
}

func (c *core) record(e RecordEntry) {
	if c.recorder == nil {
		return
	}
	e.Tick = c.tick
	c.recorder.Append(e)
}
