package land

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Keeper is the single-consumer actor that owns one land. All inbound work
// — joins, leaves, actions, events, admin queries — is submitted into a
// bounded mailbox and executed by the Run loop, interleaved with tick
// fires. At most one handler executes at any instant.
type Keeper struct {
	core *core

	mailbox chan func()
	stopCh  chan struct{}
	doneCh  chan struct{}

	stopOnce sync.Once
	stopCode int
	stopMsg  string

	onRetire func(*Keeper)

	// Mirrors maintained by the run loop for lock-free admin reads.
	createdAt    time.Time
	playerCount  atomic.Int32
	tickCount    atomic.Uint64
	lastActivity atomic.Int64
	retired      atomic.Bool
}

// NewKeeper validates the definition and builds a keeper. Run must be
// started on its own goroutine before any submission.
func NewKeeper(id ID, def *Definition, log *slog.Logger) (*Keeper, error) {
	c, err := newCore(id, def, log)
	if err != nil {
		return nil, fmt.Errorf("creating land %s: %w", id, err)
	}
	k := &Keeper{
		core:      c,
		mailbox:   make(chan func(), c.def.MailboxSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		createdAt: time.Now(),
	}
	k.lastActivity.Store(k.createdAt.UnixNano())
	return k, nil
}

// ID returns the land id.
func (k *Keeper) ID() ID { return k.core.id }

// Seed returns the land's RNG seed (recorded for replay).
func (k *Keeper) Seed() uint64 { return k.core.rng.Seed() }

// SetOnRetire installs the realm callback fired exactly once when the run
// loop exits. Must be called before Run.
func (k *Keeper) SetOnRetire(fn func(*Keeper)) { k.onRetire = fn }

// SetRecorder attaches an action-stream recorder. Must be called before Run.
func (k *Keeper) SetRecorder(rec *Recorder) {
	k.core.recorder = rec
	if rec != nil {
		rec.SetHeader(RecordingHeader{
			LandType:     k.core.id.Type,
			InstanceID:   k.core.id.Instance,
			DefinitionID: k.core.def.ID,
			Seed:         k.core.rng.Seed(),
			StartTick:    k.core.tick,
			RecordedAt:   time.Now().UTC(),
		})
	}
}

// Done is closed when the run loop has exited.
func (k *Keeper) Done() <-chan struct{} { return k.doneCh }

// Retired reports whether the keeper has stopped.
func (k *Keeper) Retired() bool { return k.retired.Load() }

// Run drives the keeper until the context is cancelled, Stop is called, or
// the land retires itself. The next tick is scheduled at prevFire+interval,
// not now+interval, so long handlers do not accumulate drift.
func (k *Keeper) Run(ctx context.Context) error {
	c := k.core
	interval := c.def.TickInterval
	next := time.Now().Add(interval)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	emptyTicks := 0
	for {
		select {
		case <-ctx.Done():
			k.finish(KickCodeRetired, "server shutting down")
			return nil

		case <-k.stopCh:
			k.finish(k.stopCode, k.stopMsg)
			return nil

		case fn := <-k.mailbox:
			fn()
			if c.syncRequested {
				c.syncAll()
			}
			k.mirror()

		case <-timer.C:
			if err := c.runTick(time.Now()); err != nil {
				c.log.Error("tick handler failed, retiring land", "err", err)
				k.finish(KickCodeInternal, "internal error")
				return err
			}
			if len(c.members) == 0 {
				emptyTicks++
				if c.def.MaxEmptyTicks > 0 && emptyTicks >= c.def.MaxEmptyTicks {
					c.log.Info("land idle, self-retiring", "empty_ticks", emptyTicks)
					k.finish(KickCodeRetired, "land retired")
					return nil
				}
			} else {
				emptyTicks = 0
			}
			next = next.Add(interval)
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
			k.mirror()
		}
	}
}

func (k *Keeper) finish(code int, reason string) {
	k.core.kickAll(code, reason)
	k.retired.Store(true)
	k.mirror()
	close(k.doneCh)
	if k.onRetire != nil {
		k.onRetire(k)
	}
}

func (k *Keeper) mirror() {
	k.playerCount.Store(int32(len(k.core.members)))
	k.tickCount.Store(k.core.tick)
}

func (k *Keeper) touch() {
	k.lastActivity.Store(time.Now().UnixNano())
}

// Stop retires the keeper: attached sessions are kicked with the given
// code and the run loop exits.
func (k *Keeper) Stop(code int, reason string) {
	k.stopOnce.Do(func() {
		k.stopCode, k.stopMsg = code, reason
		close(k.stopCh)
	})
}

// submit queues a closure, failing fast when the keeper is gone or the
// mailbox is saturated.
func (k *Keeper) submit(fn func()) error {
	select {
	case <-k.doneCh:
		return errRetired
	default:
	}
	select {
	case k.mailbox <- fn:
		return nil
	case <-k.doneCh:
		return errRetired
	default:
		return errMailboxFull
	}
}

var (
	errRetired     = fmt.Errorf("land retired")
	errMailboxFull = fmt.Errorf("land mailbox full")
)

// Join submits an admission request and waits for it to settle. The keeper
// pushes the JoinResponse through the sink (so it precedes the first sync)
// and the same response is returned here for the adapter's bookkeeping.
func (k *Keeper) Join(ctx context.Context, sess Session, sink Sink, payload []byte) (JoinResponse, error) {
	k.touch()
	reply := make(chan JoinResponse, 1)
	err := k.submit(func() {
		res := k.core.join(sess, sink, payload)
		sink.SendJoinResponse(res)
		if res.OK {
			k.core.firstSync(sess.SessionID)
		}
		reply <- res
	})
	if err != nil {
		return JoinResponse{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	case <-k.doneCh:
		return JoinResponse{}, errRetired
	}
}

// Leave detaches a session. Blocks until the keeper accepts the task so a
// disconnect is never silently dropped; returns immediately if the keeper
// is already gone.
func (k *Keeper) Leave(sessionID string) {
	k.touch()
	select {
	case k.mailbox <- func() { k.core.leave(sessionID) }:
	case <-k.doneCh:
	}
}

// SubmitAction dispatches a request/response action and waits for the
// response, the action deadline, or the caller's context — whichever comes
// first. A late handler result is discarded.
func (k *Keeper) SubmitAction(ctx context.Context, sessionID, typeIdent string, payload []byte) (any, *DispatchError) {
	k.touch()
	type outcome struct {
		resp any
		derr *DispatchError
	}
	reply := make(chan outcome, 1)
	err := k.submit(func() {
		resp, derr := k.core.action(sessionID, typeIdent, payload)
		reply <- outcome{resp: resp, derr: derr}
	})
	if err == errMailboxFull {
		return nil, &DispatchError{Code: DispatchCodeTimeout, Message: "land is busy", Retryable: true}
	}
	if err != nil {
		return nil, errLandClosed()
	}

	deadline := time.NewTimer(k.core.def.ActionTimeout)
	defer deadline.Stop()
	select {
	case out := <-reply:
		return out.resp, out.derr
	case <-deadline.C:
		return nil, errTimeout()
	case <-ctx.Done():
		return nil, &DispatchError{Code: DispatchCodeTimeout, Message: "caller cancelled", Retryable: false}
	case <-k.doneCh:
		return nil, errLandClosed()
	}
}

// SubmitEvent dispatches a fire-and-forget client event. Overflow drops the
// event — events carry no delivery guarantee.
func (k *Keeper) SubmitEvent(sessionID, typeIdent string, payload []byte) {
	k.touch()
	if err := k.submit(func() { k.core.clientEvent(sessionID, typeIdent, payload) }); err != nil {
		k.core.log.Warn("client event dropped", "event", typeIdent, "err", err)
	}
}

// SendServerEvent queues a server event from outside any handler.
func (k *Keeper) SendServerEvent(target Target, eventType string, payload any) {
	_ = k.submit(func() {
		k.core.sendEvent(target, eventType, payload)
		k.core.syncRequested = true
	})
}

// ServerSnapshot returns a full server-side dump of the state tree, for the
// admin surface. Runs through the mailbox like any other read.
func (k *Keeper) ServerSnapshot(ctx context.Context) (map[string]any, error) {
	type outcome struct {
		snap map[string]any
		err  error
	}
	reply := make(chan outcome, 1)
	if err := k.submit(func() {
		snap, err := k.core.engine.SnapshotFor(k.core.state, ServerView)
		reply <- outcome{snap: snap, err: err}
	}); err != nil {
		return nil, err
	}
	select {
	case out := <-reply:
		return out.snap, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-k.doneCh:
		return nil, errRetired
	}
}

// ServerView re-exported for callers of ServerSnapshot.
const ServerView = ""

// Info is a lock-free snapshot of keeper vitals for the admin surface.
type Info struct {
	ID           ID        `json:"landId"`
	Players      int       `json:"players"`
	Tick         uint64    `json:"tick"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivityAt"`
	Retired      bool      `json:"retired"`
}

// Info reads the keeper's mirrored vitals without touching the mailbox.
func (k *Keeper) Info() Info {
	return Info{
		ID:           k.core.id,
		Players:      int(k.playerCount.Load()),
		Tick:         k.tickCount.Load(),
		CreatedAt:    k.createdAt,
		LastActivity: time.Unix(0, k.lastActivity.Load()),
		Retired:      k.retired.Load(),
	}
}
