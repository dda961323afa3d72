package sim

import (
	"math/rand"
	"sync"
	"time"
)

// RandomHandle is the single random stream of a Runtime. Every subsystem
// (scheduler, filesystem, network) draws from the same sequence, so two
// runtimes built from the same seed and fed the same operation sequence
// observe bit-identical draws. Handles alias one generator; Clone returns
// the receiver rather than forking the stream.
//
// Draws are serialized by a mutex, but under the cooperative scheduler at
// most one task runs at a time, so the draw order is itself deterministic.
type RandomHandle struct {
	mu   sync.Mutex
	seed int64
	rng  *rand.Rand
}

// NewRandomHandle creates the shared stream for a seed.
func NewRandomHandle(seed int64) *RandomHandle {
	return &RandomHandle{
		seed: seed,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Seed returns the seed the stream was created with.
func (r *RandomHandle) Seed() int64 {
	return r.seed
}

// Clone returns a handle to the same draw sequence.
func (r *RandomHandle) Clone() *RandomHandle {
	return r
}

// Uint64 draws the next value from the shared stream.
func (r *RandomHandle) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Uint64()
}

// Int63n draws a uniform value in [0, n).
func (r *RandomHandle) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Int63n(n)
}

// Float64 draws a uniform value in [0.0, 1.0).
func (r *RandomHandle) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// DurationIn draws a uniform duration in [min, max]. A degenerate range
// returns min without consuming a draw.
func (r *RandomHandle) DurationIn(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(r.Int63n(int64(max-min)+1))
}
