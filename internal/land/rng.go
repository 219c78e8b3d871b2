package land

import (
	"math/rand/v2"
	"sync"
)

// Rand is the per-land deterministic RNG service. All randomness in game
// logic must flow through it so that a recording replayed with the same
// seed reproduces the same stream. Safe for concurrent use; in steady state
// only the keeper goroutine touches it.
type Rand struct {
	mu   sync.Mutex
	seed uint64
	src  *rand.Rand
}

// NewRand creates a seeded PCG source. The seed is retained for the
// recording header.
func NewRand(seed uint64) *Rand {
	return &Rand{seed: seed, src: rand.New(rand.NewPCG(seed, seed))}
}

// Seed returns the seed this service was created with.
func (r *Rand) Seed() uint64 { return r.seed }

// IntN returns a uniform int in [0, n).
func (r *Rand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.IntN(n)
}

// IntRange returns a uniform int in [lo, hi].
func (r *Rand) IntRange(lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + r.src.IntN(hi-lo+1)
}

// Float64 returns a uniform float in [0, 1).
func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.Float64()
}

// FloatRange returns a uniform float in [lo, hi).
func (r *Rand) FloatRange(lo, hi float64) float64 {
	if hi < lo {
		lo, hi = hi, lo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo + r.src.Float64()*(hi-lo)
}
