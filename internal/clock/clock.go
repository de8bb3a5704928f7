// Package clock provides the time sources used by the engine: a logical
// sequence clock for ordering and a wall clock with cancellable timers for
// debounce windows and expiry sweeps.
package clock

import (
	"sync/atomic"
	"time"
)

// Logical is a monotonic sequence clock.
//
// Every value returned by Next is unique and strictly greater than the
// previous one. Safe for concurrent use.
type Logical struct {
	seq atomic.Int64
}

// NewLogical creates a logical clock starting at 0.
func NewLogical() *Logical {
	return &Logical{}
}

// Next returns the next sequence number and increments the clock.
func (c *Logical) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Logical) Current() int64 {
	return c.seq.Load()
}

// Timer is a handle on a pending callback.
type Timer interface {
	// Stop cancels the callback. Returns false if it already fired or
	// was already stopped.
	Stop() bool
}

// Clock is a source of wall time and one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the system clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc schedules f on its own goroutine after d.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
