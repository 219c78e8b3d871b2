// Package realm is the multi-room router: it registers land types, owns the
// directory of live land instances, creates keepers on demand and retires
// idle ones.
package realm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/landrun/landrun/internal/land"
)

// ReplaySuffix marks the replay alias of a land type.
const ReplaySuffix = "-replay"

// DefaultRetireGrace is how long an empty land keeps ticking before the
// realm collects it. Any value in [0, 60s] is sound; 30s keeps quick
// rejoin cheap without hoarding idle keepers.
const DefaultRetireGrace = 30 * time.Second

// LandType is one registered land class.
type LandType struct {
	// Name is the registered type name ("duel", "duel-replay").
	Name string
	// Path is the WebSocket path serving this type ("/game/duel").
	Path string
	// Definition is shared by every instance of the type.
	Definition *land.Definition
	// AllowAutoCreateOnJoin creates a missing instance named in a join
	// envelope instead of failing with landNotFound.
	AllowAutoCreateOnJoin bool
}

// IsReplay reports whether this type is a replay alias.
func (t *LandType) IsReplay() bool {
	return strings.HasSuffix(t.Name, ReplaySuffix)
}

// Realm routes sessions to land instances. Reads dominate: the registry
// and instance directory sit behind one RW guard, writes happen at
// registration and retirement only.
type Realm struct {
	log     *slog.Logger
	baseCtx context.Context
	grace   time.Duration

	mu        sync.RWMutex
	types     map[string]*LandType
	byPath    map[string]*LandType
	instances map[land.ID]*land.Keeper
}

// New creates a realm. Keepers run under ctx: cancelling it drains every
// land.
func New(ctx context.Context, log *slog.Logger, retireGrace time.Duration) *Realm {
	if log == nil {
		log = slog.Default()
	}
	if retireGrace < 0 {
		retireGrace = DefaultRetireGrace
	}
	return &Realm{
		log:       log,
		baseCtx:   ctx,
		grace:     retireGrace,
		types:     make(map[string]*LandType),
		byPath:    make(map[string]*LandType),
		instances: make(map[land.ID]*land.Keeper),
	}
}

// Register adds a land type. A type may be registered at most once; a
// replay alias ("<type>-replay") requires its primary to exist and to carry
// the same definition id, so recordings stay interchangeable between the
// two.
func (r *Realm) Register(t LandType) error {
	if t.Name == "" || t.Definition == nil {
		return fmt.Errorf("land type needs a name and a definition")
	}
	if t.Path == "" {
		t.Path = "/game/" + t.Name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.types[t.Name]; dup {
		return fmt.Errorf("land type %q already registered", t.Name)
	}
	if other, dup := r.byPath[t.Path]; dup {
		return fmt.Errorf("path %q already serves land type %q", t.Path, other.Name)
	}
	if primary, ok := strings.CutSuffix(t.Name, ReplaySuffix); ok {
		p, exists := r.types[primary]
		if !exists {
			return fmt.Errorf("replay alias %q has no primary %q", t.Name, primary)
		}
		if p.Definition.ID != t.Definition.ID {
			return fmt.Errorf("replay alias %q definition id %q does not match primary %q",
				t.Name, t.Definition.ID, p.Definition.ID)
		}
	}
	lt := t
	r.types[t.Name] = &lt
	r.byPath[t.Path] = &lt
	r.log.Info("land type registered", "type", t.Name, "path", t.Path, "auto_create", t.AllowAutoCreateOnJoin)
	return nil
}

// Type looks up a registered land type by name.
func (r *Realm) Type(name string) (*LandType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// ResolveByPath maps a WebSocket path to its land type.
func (r *Realm) ResolveByPath(path string) (*LandType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byPath[path]
	return t, ok
}

// Types lists registered type names.
func (r *Realm) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	return names
}

// Get returns a live keeper.
func (r *Realm) Get(id land.ID) (*land.Keeper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.instances[id]
	return k, ok
}

// RouteJoin resolves the instance a join envelope addresses:
//   - instance named and live → that keeper;
//   - instance named and missing → create it when the type allows
//     auto-create, otherwise fail with landNotFound;
//   - no instance named → a fresh instance with a generated id.
func (r *Realm) RouteJoin(landType, instanceID string) (*land.Keeper, error) {
	t, ok := r.Type(landType)
	if !ok {
		return nil, land.ErrLandNotFound(landType)
	}
	if instanceID == "" {
		return r.CreateInstance(landType, uuid.NewString())
	}
	id := land.ID{Type: landType, Instance: instanceID}
	if k, ok := r.Get(id); ok && !k.Retired() {
		return k, nil
	}
	if !t.AllowAutoCreateOnJoin {
		return nil, land.ErrLandNotFound(id.String())
	}
	return r.CreateInstance(landType, instanceID)
}

// CreateInstance starts a keeper for an explicit instance id. Races on the
// same id converge on the keeper that won registration.
func (r *Realm) CreateInstance(landType, instanceID string) (*land.Keeper, error) {
	t, ok := r.Type(landType)
	if !ok {
		return nil, land.ErrLandNotFound(landType)
	}
	id := land.ID{Type: landType, Instance: instanceID}

	def := *t.Definition
	if def.MaxEmptyTicks == 0 && r.grace > 0 {
		interval := def.TickInterval
		if interval <= 0 {
			interval = land.DefaultTickInterval
		}
		def.MaxEmptyTicks = int(r.grace / interval)
	}
	k, err := land.NewKeeper(id, &def, r.log)
	if err != nil {
		return nil, err
	}
	k.SetOnRetire(func(done *land.Keeper) { r.collect(done.ID()) })

	r.mu.Lock()
	if existing, ok := r.instances[id]; ok && !existing.Retired() {
		r.mu.Unlock()
		return existing, nil
	}
	r.instances[id] = k
	r.mu.Unlock()

	go func() {
		if err := k.Run(r.baseCtx); err != nil {
			r.log.Error("land terminated abnormally", "land", id.String(), "err", err)
		}
	}()
	r.log.Info("land created", "land", id.String())
	return k, nil
}

// Retire stops a keeper and removes it from the directory. Subsequent
// lookups fail; in-flight sessions receive the given close code.
func (r *Realm) Retire(id land.ID, code int, reason string) error {
	k, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("no land %s", id)
	}
	k.Stop(code, reason)
	return nil
}

// collect drops a retired keeper from the directory.
func (r *Realm) collect(id land.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.instances[id]; ok && k.Retired() {
		delete(r.instances, id)
	}
	r.log.Info("land collected", "land", id.String())
}

// List snapshots the vitals of every live land.
func (r *Realm) List() []land.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]land.Info, 0, len(r.instances))
	for _, k := range r.instances {
		out = append(out, k.Info())
	}
	return out
}

// Stats aggregates realm totals for the admin surface.
type Stats struct {
	LandTypes int `json:"landTypes"`
	Lands     int `json:"lands"`
	Players   int `json:"players"`
}

func (r *Realm) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{LandTypes: len(r.types), Lands: len(r.instances)}
	for _, k := range r.instances {
		s.Players += k.Info().Players
	}
	return s
}
