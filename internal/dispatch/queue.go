package dispatch

import (
	"sync"
	"time"
)

// Event is one published event as delivered to handlers.
type Event struct {
	// Seq orders events by publish time.
	Seq int64
	// Type is the event type handlers subscribe to.
	Type string
	// Args are the publish arguments, copied at publish time.
	Args []any
	// EnqueuedAt is the wall time of the publish.
	EnqueuedAt time.Time
	// DedupKey is the event type plus a hash of the first two args.
	DedupKey string
}

// Arg returns args[i], or nil when out of range.
func (e Event) Arg(i int) any {
	if i < 0 || i >= len(e.Args) {
		return nil
	}
	return e.Args[i]
}

type enqueueResult int

const (
	enqueued enqueueResult = iota
	rejectedFull
	rejectedClosed
)

// eventQueue is a bounded, thread-safe FIFO of pending events.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	closed   bool
	signal   chan struct{} // Signals event availability (buffered, size 1)
}

func newEventQueue(capacity int) *eventQueue {
	return &eventQueue{
		events:   make([]Event, 0, 64),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue appends e unless the queue is full or closed. Newest events are
// the ones dropped under backpressure.
func (q *eventQueue) Enqueue(e Event) enqueueResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return rejectedClosed
	}
	if len(q.events) >= q.capacity {
		return rejectedFull
	}
	q.events = append(q.events, e)
	q.notifyLocked()
	return enqueued
}

// PushFront returns undelivered events to the head of the queue, in
// order. Capacity is not enforced: these events were already accepted.
// A closed queue drops them and reports how many.
func (q *eventQueue) PushFront(events []Event) (dropped int) {
	if len(events) == 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return len(events)
	}
	merged := make([]Event, 0, len(events)+len(q.events))
	merged = append(merged, events...)
	merged = append(merged, q.events...)
	q.events = merged
	q.notifyLocked()
	return 0
}

// DrainAll removes every pending event. With dedup, events sharing a dedup
// key collapse into the latest one, kept at the latest one's position.
// collapsed counts the dropped duplicates per event type.
func (q *eventQueue) DrainAll(dedup bool) (events []Event, collapsed map[string]int) {
	q.mu.Lock()
	pending := q.events
	q.events = make([]Event, 0, 64)
	q.mu.Unlock()

	if !dedup || len(pending) < 2 {
		return pending, nil
	}

	seen := make(map[string]bool, len(pending))
	kept := make([]Event, 0, len(pending))
	for i := len(pending) - 1; i >= 0; i-- {
		e := pending[i]
		if seen[e.DedupKey] {
			if collapsed == nil {
				collapsed = make(map[string]int)
			}
			collapsed[e.Type]++
			continue
		}
		seen[e.DedupKey] = true
		kept = append(kept, e)
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept, collapsed
}

// Signal wakes the waiter without enqueuing anything.
func (q *eventQueue) Signal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.notifyLocked()
	}
}

// Wait returns a channel that signals when events may be available.
// The channel is closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued and discards the
// pending ones, returning how many. Wakes any blocked waiters by closing
// the signal channel.
func (q *eventQueue) Close() (dropped int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}
	q.closed = true
	dropped = len(q.events)
	q.events = nil
	close(q.signal)
	return dropped
}

// notifyLocked signals availability (non-blocking; the buffer of 1
// coalesces multiple signals).
func (q *eventQueue) notifyLocked() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
