// Package rng is the seedable randomizer the authority uses for every
// gameplay-affecting decision. Replicas never roll; they apply outcomes.
package rng

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
)

// Source yields integers in [0, n).
type Source interface {
	Intn(n int) int
}

// Randomizer wraps a Source with the roll shapes the controller needs.
type Randomizer struct {
	mu  sync.Mutex
	src Source
}

// NewSeed returns a cryptographically random seed.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("generate seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// New returns a Randomizer seeded with seed. A zero seed draws one from NewSeed.
func New(seed int64) *Randomizer {
	if seed == 0 {
		if s, err := NewSeed(); err == nil {
			seed = s
		} else {
			seed = 1
		}
	}
	return &Randomizer{src: rand.New(rand.NewSource(seed))}
}

// FromSource wraps an arbitrary source.
func FromSource(src Source) *Randomizer {
	return &Randomizer{src: src}
}

// Intn returns an integer in [0, n). n <= 0 yields 0.
func (r *Randomizer) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.Intn(n)
}

// Roll returns an integer in [1, n].
func (r *Randomizer) Roll(n int) int {
	if n <= 0 {
		return 0
	}
	return r.Intn(n) + 1
}

// Percent returns an integer in [1, 100].
func (r *Randomizer) Percent() int { return r.Roll(100) }

// Chance reports true with probability num/den.
func (r *Randomizer) Chance(num, den int) bool {
	return r.Intn(den) < num
}

// Pick returns an index in [0, n) that differs from avoid when n > 1.
func (r *Randomizer) Pick(n, avoid int) int {
	if n <= 1 {
		return 0
	}
	for {
		i := r.Intn(n)
		if i != avoid {
			return i
		}
	}
}

// Scripted replays fixed values, returning each modulo n. Used by tests to
// force specific outcomes.
type Scripted struct {
	mu     sync.Mutex
	values []int
	pos    int
}

// NewScripted returns a source that yields values in order, cycling.
func NewScripted(values ...int) *Scripted {
	return &Scripted{values: values}
}

func (s *Scripted) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.pos%len(s.values)]
	s.pos++
	if v < 0 {
		v = 0
	}
	return v % n
}
