package land

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// RecordKind tags one recorded inbound operation.
type RecordKind string

const (
	RecordJoin   RecordKind = "join"
	RecordLeave  RecordKind = "leave"
	RecordAction RecordKind = "action"
	RecordEvent  RecordKind = "event"
)

// RecordEntry is one inbound operation in a recording. Tick is the number
// of completed ticks when the operation was dispatched: replay applies the
// entry before running tick Tick+1.
type RecordEntry struct {
	Tick      uint64          `json:"tick"`
	Kind      RecordKind      `json:"kind"`
	SessionID string          `json:"sessionId"`
	ClientID  string          `json:"clientId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	PlayerID  string          `json:"playerId,omitempty"`
	Type      string          `json:"type,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// RecordingHeader pins everything replay needs to reproduce the run:
// definition identity plus the RNG seed and the tick the recording started
// at.
type RecordingHeader struct {
	LandType     string    `json:"landType"`
	InstanceID   string    `json:"instanceId"`
	DefinitionID string    `json:"definitionId"`
	Seed         uint64    `json:"seed"`
	StartTick    uint64    `json:"startTick"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// TickHash is the state hash captured at the end of one tick.
type TickHash struct {
	Tick uint64 `json:"tick"`
	Hash uint64 `json:"hash"`
}

// Recording is a complete recorded action stream with per-tick state
// hashes. Replaying it against the same definition must reproduce the hash
// stream exactly.
type Recording struct {
	Header  RecordingHeader `json:"header"`
	Entries []RecordEntry   `json:"entries"`
	Hashes  []TickHash      `json:"hashes"`
}

// WriteFile persists the recording as JSON.
func (r *Recording) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding recording: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing recording %s: %w", path, err)
	}
	return nil
}

// LoadRecording reads a recording file.
func LoadRecording(path string) (*Recording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recording %s: %w", path, err)
	}
	var rec Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing recording %s: %w", path, err)
	}
	if rec.Header.DefinitionID == "" {
		return nil, fmt.Errorf("recording %s has no definition id", path)
	}
	return &rec, nil
}

// Recorder accumulates entries and tick hashes while a keeper runs. The
// keeper goroutine writes; Snapshot may be called from any goroutine.
type Recorder struct {
	mu      sync.Mutex
	header  RecordingHeader
	entries []RecordEntry
	hashes  []TickHash
}

func NewRecorder() *Recorder { return &Recorder{} }

// SetHeader pins the header; the keeper calls this once at attach time.
func (r *Recorder) SetHeader(h RecordingHeader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.header = h
}

// Append records one inbound operation.
func (r *Recorder) Append(e RecordEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// CaptureTick hashes the state tree at the end of a tick.
func (r *Recorder) CaptureTick(tick uint64, state State) error {
	h, err := hashState(state)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hashes = append(r.hashes, TickHash{Tick: tick, Hash: h})
	return nil
}

// Snapshot returns a copy of everything recorded so far.
func (r *Recorder) Snapshot() Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Recording{Header: r.header}
	out.Entries = append(out.Entries, r.entries...)
	out.Hashes = append(out.Hashes, r.hashes...)
	return out
}
