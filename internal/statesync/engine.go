package statesync

import (
	"fmt"
	"log/slog"
	"sync"
)

// UpdateKind discriminates the three sync outcomes for a session.
type UpdateKind int

const (
	// NoChange means the projection matched the previous one exactly.
	NoChange UpdateKind = iota
	// FirstSync carries a full snapshot; always the first delivery to a player.
	FirstSync
	// Diff carries JSON-Patch-shaped operations against the previous projection.
	Diff
)

func (k UpdateKind) String() string {
	switch k {
	case NoChange:
		return "noChange"
	case FirstSync:
		return "firstSync"
	case Diff:
		return "diff"
	}
	return fmt.Sprintf("updateKind(%d)", int(k))
}

// StateUpdate is the per-session output of one sync cycle.
type StateUpdate struct {
	Kind     UpdateKind
	Snapshot map[string]any // FirstSync only
	Patches  []Patch        // Diff only
}

// Engine projects a land's state tree into per-player views and tracks the
// last projection delivered to each player so subsequent cycles emit diffs.
// Construction precomputes the path trie from the schema; the trie is
// immutable afterwards. The view cache is guarded by a mutex, but in
// practice a keeper drives its engine from a single goroutine.
type Engine struct {
	schema *Schema
	trie   *PathTrie
	log    *slog.Logger

	mu    sync.Mutex
	views map[string]map[string]any // playerID → last delivered projection
}

// NewEngine validates the schema and builds the engine.
func NewEngine(schema *Schema, log *slog.Logger) (*Engine, error) {
	if schema == nil {
		return nil, fmt.Errorf("nil schema")
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema for %q: %w", schema.LandType, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		schema: schema,
		trie:   NewPathTrie(schema.Patterns()),
		log:    log,
		views:  make(map[string]map[string]any),
	}, nil
}

// Schema returns the declared schema.
func (e *Engine) Schema() *Schema { return e.schema }

// SnapshotFor computes the full projection for a player without touching
// the view cache. Pass ServerView for a server-side dump.
func (e *Engine) SnapshotFor(state map[string]any, playerID string) (map[string]any, error) {
	return project(e.schema, state, playerID, e.log)
}

// UpdateFor runs one sync cycle for a player: the first call yields a
// FirstSync snapshot, later calls yield a Diff (or NoChange) against the
// cached projection. The cache is advanced on success only.
func (e *Engine) UpdateFor(state map[string]any, playerID string) (*StateUpdate, error) {
	cur, err := project(e.schema, state, playerID, e.log)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, seen := e.views[playerID]
	if !seen {
		e.views[playerID] = deepCopy(cur).(map[string]any)
		return &StateUpdate{Kind: FirstSync, Snapshot: cur}, nil
	}
	patches := diff(e.trie, prev, cur, nil)
	if len(patches) == 0 {
		return &StateUpdate{Kind: NoChange}, nil
	}
	e.views[playerID] = deepCopy(cur).(map[string]any)
	return &StateUpdate{Kind: Diff, Patches: patches}, nil
}

// Forget drops a player's cached view. The next UpdateFor becomes a
// FirstSync again; called on leave so a rejoining player resyncs in full.
func (e *Engine) Forget(playerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.views, playerID)
}

// EncodePath resolves a concrete path against the schema's pattern trie.
func (e *Engine) EncodePath(segments []string) (hash uint32, keys []string, known bool) {
	return e.trie.Encode(segments)
}
