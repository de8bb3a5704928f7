package scheduler

import (
	"sync"
	"time"

	"github.com/roach88/annosync/internal/clock"
	"github.com/roach88/annosync/internal/ir"
)

// Generation identifies one scheduled run of a key. A run whose
// generation is no longer current has been superseded and must discard
// its result.
type Generation uint64

// Debouncer schedules at most one pending run per key.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks run on
// the clock's timer goroutine without the debouncer lock held.
type Debouncer struct {
	mu      sync.Mutex
	clock   clock.Clock
	delay   time.Duration
	pending map[ir.DocumentKey]clock.Timer
	gens    map[ir.DocumentKey]Generation
	firing  int
}

// NewDebouncer creates a Debouncer with the given quiet window.
func NewDebouncer(clk clock.Clock, delay time.Duration) *Debouncer {
	return &Debouncer{
		clock:   clk,
		delay:   delay,
		pending: make(map[ir.DocumentKey]clock.Timer),
		gens:    make(map[ir.DocumentKey]Generation),
	}
}

// SetDelay changes the quiet window for subsequent triggers.
func (d *Debouncer) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

// Delay returns the current quiet window.
func (d *Debouncer) Delay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delay
}

// Trigger (re)starts the window for key. When the window elapses without
// another trigger, fn runs with the generation it was scheduled under.
func (d *Debouncer) Trigger(key ir.DocumentKey, fn func(Generation)) Generation {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.pending[key]; ok {
		t.Stop()
	}
	d.gens[key]++
	gen := d.gens[key]

	var timer clock.Timer
	timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.pending[key] == timer {
			delete(d.pending, key)
		}
		d.firing++
		d.mu.Unlock()

		defer func() {
			d.mu.Lock()
			d.firing--
			d.mu.Unlock()
		}()
		fn(gen)
	})
	d.pending[key] = timer
	return gen
}

// Claim supersedes any pending or running work for key and returns a
// fresh generation for a caller that runs immediately.
func (d *Debouncer) Claim(key ir.DocumentKey) Generation {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.pending[key]; ok {
		t.Stop()
		delete(d.pending, key)
	}
	d.gens[key]++
	return d.gens[key]
}

// Current reports whether gen is still the latest generation of key.
func (d *Debouncer) Current(key ir.DocumentKey, gen Generation) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gens[key] == gen
}

// Cancel stops the pending run of key and invalidates any run in flight.
func (d *Debouncer) Cancel(key ir.DocumentKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.pending[key]; ok {
		t.Stop()
		delete(d.pending, key)
	}
	if _, ok := d.gens[key]; ok {
		d.gens[key]++
	}
}

// Pending returns the number of keys with a scheduled run.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Busy reports whether a run is scheduled or its callback is executing.
func (d *Debouncer) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending) > 0 || d.firing > 0
}

// Stop cancels every pending run.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, t := range d.pending {
		t.Stop()
		delete(d.pending, key)
		d.gens[key]++
	}
}
