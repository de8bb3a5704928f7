package state

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/annosync/internal/ir"
)

// NotificationKind distinguishes state changes from removals.
type NotificationKind int

const (
	// NotificationChanged carries a new state for a key.
	NotificationChanged NotificationKind = iota + 1
	// NotificationCleared signals the key's state was removed. The state
	// carried is empty with version 0.
	NotificationCleared
)

// String returns a readable name for the kind.
func (k NotificationKind) String() string {
	switch k {
	case NotificationChanged:
		return "changed"
	case NotificationCleared:
		return "cleared"
	}
	return fmt.Sprintf("NotificationKind(%d)", int(k))
}

// Notification is one state event delivered to listeners.
type Notification struct {
	Kind   NotificationKind
	Key    ir.DocumentKey
	State  DerivedState
	Source string
}

// Listener receives notifications. A returned error or a panic is logged
// and never affects other listeners.
type Listener func(Notification) error

// ListenerOption configures a subscription.
type ListenerOption func(*listener)

// WithFilter only delivers notifications for which f returns true.
func WithFilter(f func(Notification) bool) ListenerOption {
	return func(l *listener) {
		l.filter = f
	}
}

// ForKey scopes a subscription to one document. Scoped subscriptions are
// dropped by RemoveKey when the document closes.
func ForKey(key ir.DocumentKey) ListenerOption {
	return func(l *listener) {
		l.key = key
	}
}

type listener struct {
	id     uint64
	fn     Listener
	filter func(Notification) bool
	key    ir.DocumentKey
}

func (l *listener) accepts(n Notification) bool {
	if l.key != "" && l.key != n.Key {
		return false
	}
	return l.filter == nil || l.filter(n)
}

// Notifier fans notifications out to listeners.
//
// Notifications are appended to an internal queue and delivered by a single
// drain goroutine, so producers never block on listeners and a slow listener
// cannot reorder notifications relative to each other.
type Notifier struct {
	mu        sync.Mutex
	idle      *sync.Cond
	queue     []Notification
	draining  bool
	closed    bool
	nextID    uint64
	listeners []*listener
	logger    *slog.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{logger: logger}
	n.idle = sync.NewCond(&n.mu)
	return n
}

// Subscribe registers fn and returns a function that removes it.
func (n *Notifier) Subscribe(fn Listener, opts ...ListenerOption) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	l := &listener{id: n.nextID, fn: fn}
	for _, opt := range opts {
		opt(l)
	}
	n.listeners = append(n.listeners, l)

	id := l.id
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, cur := range n.listeners {
			if cur.id == id {
				n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
				return
			}
		}
	}
}

// RemoveKey drops every subscription scoped to key.
func (n *Notifier) RemoveKey(key ir.DocumentKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	kept := n.listeners[:0:0]
	for _, l := range n.listeners {
		if l.key != key {
			kept = append(kept, l)
		}
	}
	n.listeners = kept
}

// Listeners returns the number of live subscriptions.
func (n *Notifier) Listeners() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

// NotifyChanged queues a change notification.
func (n *Notifier) NotifyChanged(key ir.DocumentKey, state DerivedState, source string) {
	n.enqueue(Notification{Kind: NotificationChanged, Key: key, State: state.Clone(), Source: source})
}

// NotifyCleared queues a removal notification.
func (n *Notifier) NotifyCleared(key ir.DocumentKey) {
	n.enqueue(Notification{
		Kind:   NotificationCleared,
		Key:    key,
		State:  DerivedState{Key: key},
		Source: "cleared",
	})
}

// Flush blocks until every queued notification has been delivered.
func (n *Notifier) Flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for n.draining || len(n.queue) > 0 {
		n.idle.Wait()
	}
}

// Close stops accepting notifications and drops all listeners.
// Already queued notifications are still delivered.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.Flush()

	n.mu.Lock()
	n.listeners = nil
	n.mu.Unlock()
}

func (n *Notifier) enqueue(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.queue = append(n.queue, note)
	if !n.draining {
		n.draining = true
		go n.drain()
	}
}

func (n *Notifier) drain() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.draining = false
			n.queue = nil
			n.idle.Broadcast()
			n.mu.Unlock()
			return
		}
		note := n.queue[0]
		n.queue[0] = Notification{}
		n.queue = n.queue[1:]
		targets := make([]*listener, 0, len(n.listeners))
		for _, l := range n.listeners {
			if l.accepts(note) {
				targets = append(targets, l)
			}
		}
		n.mu.Unlock()

		for _, l := range targets {
			n.deliver(l, note)
		}
	}
}

func (n *Notifier) deliver(l *listener, note Notification) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("state listener panicked",
				"key", note.Key,
				"kind", note.Kind.String(),
				"panic", fmt.Sprint(r))
		}
	}()
	if err := l.fn(note); err != nil {
		n.logger.Warn("state listener failed",
			"key", note.Key,
			"kind", note.Kind.String(),
			"error", err)
	}
}
