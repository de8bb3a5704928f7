package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/annosync/internal/clock"
	"github.com/roach88/annosync/internal/ir"
	"github.com/roach88/annosync/internal/metrics"
)

const (
	// DefaultCapacity bounds the pending queue.
	DefaultCapacity = 1000
	// DefaultDelay is the batching window between the first pending
	// event and the drain.
	DefaultDelay = 100 * time.Millisecond
)

// Handler processes one event. Errors are logged and counted; they never
// stop delivery to other handlers.
type Handler func(ctx context.Context, ev Event) error

// Dispatcher is an in-process publish/subscribe bus with a bounded,
// deduplicating queue.
//
// Thread-safety model:
//   - Subscribe, Publish, Pause, Resume, Close: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//
// Events are processed one at a time in publish order. The handlers of a
// single event run concurrently unless WithSequentialDelivery is set.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]*subscription

	queue      *eventQueue
	delay      atomic.Int64
	dedup      bool
	sequential bool
	paused     atomic.Bool

	// outstanding counts accepted events not yet delivered or collapsed.
	outstanding atomic.Int64

	clock   clock.Clock
	seq     *clock.Logical
	order   *clock.Logical
	ids     IDGenerator
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type subscription struct {
	id       string
	order    int64
	handler  Handler
	once     bool
	priority int
	filter   func(Event) bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCapacity sets the queue bound. Values below 1 keep the default.
func WithCapacity(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = newEventQueue(n)
		}
	}
}

// WithDelay sets the batching window. Zero drains immediately.
func WithDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		if delay >= 0 {
			d.delay.Store(int64(delay))
		}
	}
}

// WithDedup toggles collapsing of equal events within one drain.
func WithDedup(enabled bool) Option {
	return func(d *Dispatcher) { d.dedup = enabled }
}

// WithSequentialDelivery runs the handlers of an event one after another
// in priority order instead of concurrently.
func WithSequentialDelivery() Option {
	return func(d *Dispatcher) { d.sequential = true }
}

// WithClock sets the clock used for timestamps and the batching window.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithIDGenerator sets the subscription id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(d *Dispatcher) { d.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string][]*subscription),
		queue:    newEventQueue(DefaultCapacity),
		dedup:    true,
		clock:    clock.Real{},
		seq:      clock.NewLogical(),
		order:    clock.NewLogical(),
		ids:      UUIDv7Generator{},
		logger:   slog.Default(),
	}
	d.delay.Store(int64(DefaultDelay))
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscription)

// Once removes the handler after its first delivery attempt.
func Once() SubscribeOption {
	return func(s *subscription) { s.once = true }
}

// Priority orders handlers of the same event type, highest first.
func Priority(p int) SubscribeOption {
	return func(s *subscription) { s.priority = p }
}

// Filter skips events the predicate rejects.
func Filter(fn func(Event) bool) SubscribeOption {
	return func(s *subscription) { s.filter = fn }
}

// Subscribe registers h for eventType and returns a function that removes
// it. The returned function is idempotent.
func (d *Dispatcher) Subscribe(eventType string, h Handler, opts ...SubscribeOption) func() {
	sub := &subscription{
		id:      d.ids.Generate(),
		order:   d.order.Next(),
		handler: h,
	}
	for _, opt := range opts {
		opt(sub)
	}

	d.mu.Lock()
	subs := append(d.handlers[eventType], sub)
	slices.SortStableFunc(subs, func(a, b *subscription) int {
		if a.priority != b.priority {
			return b.priority - a.priority
		}
		return int(a.order - b.order)
	})
	d.handlers[eventType] = subs
	d.mu.Unlock()

	d.logger.Debug("handler subscribed",
		"event_type", eventType,
		"subscription", sub.id,
		"priority", sub.priority,
		"once", sub.once,
	)
	return func() { d.remove(eventType, sub.id) }
}

func (d *Dispatcher) remove(eventType, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.handlers[eventType]
	idx := slices.IndexFunc(subs, func(s *subscription) bool { return s.id == id })
	if idx < 0 {
		return false
	}
	subs = slices.Delete(subs, idx, idx+1)
	if len(subs) == 0 {
		delete(d.handlers, eventType)
	} else {
		d.handlers[eventType] = subs
	}
	return true
}

// HandlerCount returns the number of handlers registered for eventType.
func (d *Dispatcher) HandlerCount(eventType string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType])
}

// Publish enqueues an event and returns immediately. It reports false when
// the event was dropped because the queue is full or closed.
//
// Publishing while paused is allowed; events wait for Resume.
func (d *Dispatcher) Publish(eventType string, args ...any) bool {
	ev := Event{
		Seq:        d.seq.Next(),
		Type:       eventType,
		Args:       slices.Clone(args),
		EnqueuedAt: d.clock.Now(),
		DedupKey:   ir.DedupKey(eventType, args),
	}

	switch d.queue.Enqueue(ev) {
	case rejectedFull:
		d.logger.Warn("event queue full, dropping event",
			"event_type", eventType,
			"capacity", d.queue.capacity,
		)
		d.metrics.EventDropped(eventType)
		return false
	case rejectedClosed:
		d.logger.Debug("dispatcher closed, dropping event", "event_type", eventType)
		d.metrics.EventDropped(eventType)
		return false
	}
	d.outstanding.Add(1)
	d.metrics.EventPublished(eventType)
	d.metrics.SetQueueDepth(d.queue.Len())
	return true
}

// Pause stops draining. Pending and newly published events are kept.
func (d *Dispatcher) Pause() {
	if !d.paused.Swap(true) {
		d.logger.Debug("dispatcher paused", "pending", d.queue.Len())
	}
}

// Resume restarts draining.
func (d *Dispatcher) Resume() {
	if d.paused.Swap(false) {
		d.logger.Debug("dispatcher resumed", "pending", d.queue.Len())
		d.queue.Signal()
	}
}

// SetDelay changes the batching window for subsequent drains.
func (d *Dispatcher) SetDelay(delay time.Duration) {
	if delay >= 0 {
		d.delay.Store(int64(delay))
	}
}

// Paused reports whether draining is paused.
func (d *Dispatcher) Paused() bool {
	return d.paused.Load()
}

// Len returns the number of pending events.
func (d *Dispatcher) Len() int {
	return d.queue.Len()
}

// Idle reports whether every accepted event has been delivered.
func (d *Dispatcher) Idle() bool {
	return d.outstanding.Load() == 0
}

// Close stops accepting events and drops anything pending. Run returns
// once the current drain finishes.
func (d *Dispatcher) Close() {
	if n := d.queue.Close(); n > 0 {
		d.outstanding.Add(-int64(n))
	}
}

// Run drains the queue until ctx is cancelled or Close is called.
//
// Each drain waits out the batching window, collapses duplicates and then
// delivers the surviving events in publish order.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-d.queue.Wait():
			if !ok {
				return nil
			}
		}

		if d.paused.Load() || d.queue.Len() == 0 {
			continue
		}
		if err := d.sleep(ctx, time.Duration(d.delay.Load())); err != nil {
			return err
		}
		if d.paused.Load() {
			continue
		}

		events, collapsed := d.queue.DrainAll(d.dedup)
		d.metrics.SetQueueDepth(d.queue.Len())
		for eventType, n := range collapsed {
			d.outstanding.Add(-int64(n))
			for range n {
				d.metrics.EventDeduplicated(eventType)
			}
		}

		for i, ev := range events {
			if err := ctx.Err(); err != nil {
				d.outstanding.Add(-int64(len(events) - i))
				return err
			}
			if d.paused.Load() {
				if n := d.queue.PushFront(events[i:]); n > 0 {
					d.outstanding.Add(-int64(n))
				}
				break
			}
			d.deliver(ctx, ev)
			d.outstanding.Add(-1)
		}
	}
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	fired := make(chan struct{})
	t := d.clock.AfterFunc(dur, func() { close(fired) })
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-fired:
		return nil
	}
}

// deliver invokes every matching handler and waits for all of them.
// Once-handlers are unregistered before invocation, so a handler that
// fails is still removed.
func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	d.mu.RLock()
	candidates := slices.Clone(d.handlers[ev.Type])
	d.mu.RUnlock()

	subs := candidates[:0]
	for _, s := range candidates {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		if s.once && !d.remove(ev.Type, s.id) {
			// Already claimed by a concurrent unsubscribe.
			continue
		}
		subs = append(subs, s)
	}

	d.metrics.EventDelivered(ev.Type)
	if len(subs) == 0 {
		return
	}

	if d.sequential {
		for _, s := range subs {
			d.invoke(ctx, s, ev)
		}
		return
	}

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.invoke(ctx, s, ev)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) invoke(ctx context.Context, s *subscription, ev Event) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return s.handler(ctx, ev)
	}()
	if err == nil {
		return
	}
	d.metrics.HandlerFailed(ev.Type)
	d.logger.Error("event handler failed",
		"event_type", ev.Type,
		"subscription", s.id,
		"seq", ev.Seq,
		"error", err,
	)
}
