// Package clock supplies the monotonic simulation time every node reads.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock reports elapsed simulation time since session start.
type Clock interface {
	Now() time.Duration
}

// Manual is advanced explicitly by the session loop. Tests drive it directly.
type Manual struct {
	now atomic.Int64
}

// NewManual returns a clock positioned at start.
func NewManual(start time.Duration) *Manual {
	m := &Manual{}
	m.now.Store(int64(start))
	return m
}

func (m *Manual) Now() time.Duration { return time.Duration(m.now.Load()) }

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Duration {
	if d < 0 {
		d = 0
	}
	return time.Duration(m.now.Add(int64(d)))
}

// Set jumps the clock, used when a replica adopts a snapshot.
func (m *Manual) Set(t time.Duration) { m.now.Store(int64(t)) }

// Since returns the time elapsed from t according to c.
func Since(c Clock, t time.Duration) time.Duration {
	return c.Now() - t
}
