// Package clock provides the logical time source used by the marketplace.
// Values are seconds; auction windows are expressed in the same unit.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current logical time.
type Clock interface {
	Now() int64
}

// System reads the wall clock as Unix seconds.
type System struct{}

func (System) Now() int64 { return time.Now().Unix() }

// Manual is a settable clock for tests and simulations.
type Manual struct {
	mu  sync.Mutex
	now int64
}

// NewManual returns a clock starting at start.
func NewManual(start int64) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t int64) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d seconds and returns the new time.
func (m *Manual) Advance(d int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d
	return m.now
}
