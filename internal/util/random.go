// Package util provides small utility helpers for the CareLoop application.
package util

import (
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
)

// lockedSource serializes access to a rand.Source. The agents share one Rand
// and are called from concurrent handler goroutines, and rand.Rand itself is
// not safe for concurrent use.
type lockedSource struct {
	mu  sync.Mutex
	src rand.Source
}

func (s *lockedSource) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Uint64()
}

// NewRand creates a seedable random source that is safe for concurrent use.
// Agents accept an injected *rand.Rand so tests can fix the seed while
// production wiring passes a time-derived one; the selection distribution
// stays uniform either way.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(&lockedSource{src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)})
}

// Pick returns a uniformly random element of items. It panics on an empty
// slice, matching rand.IntN semantics.
func Pick[T any](r *rand.Rand, items []T) T {
	return items[r.IntN(len(items))]
}

// NewID generates a unique entity identifier.
func NewID() string {
	return uuid.NewString()
}
