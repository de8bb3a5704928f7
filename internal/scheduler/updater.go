package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/annosync/internal/clock"
	"github.com/roach88/annosync/internal/ir"
	"github.com/roach88/annosync/internal/metrics"
	"github.com/roach88/annosync/internal/state"
)

// DefaultDelay is the quiet window before a triggered recompute runs.
const DefaultDelay = time.Second

// OutlineSource supplies the current structural outline of a document.
type OutlineSource interface {
	FetchOutline(ctx context.Context, key ir.DocumentKey) (*ir.OutlineNode, error)
}

// Decorator renders decorations in the editor. It replaces every
// decoration of the given scope on the document.
type Decorator interface {
	ApplyDecorations(ctx context.Context, key ir.DocumentKey, scope ir.Scope, decorations []ir.Decoration) error
}

// Compute derives a payload from an outline.
type Compute func(outline *ir.OutlineNode) []ir.Entry

// OutlineObserver is told about every outline an updater fetched.
type OutlineObserver func(key ir.DocumentKey, outline *ir.OutlineNode)

// Updater recomputes one kind of derived state per document.
type Updater struct {
	scope     ir.Scope
	store     *state.Store
	source    OutlineSource
	decorator Decorator
	debouncer *Debouncer

	mu       sync.RWMutex
	compute  Compute
	observer OutlineObserver

	guardsMu sync.Mutex
	guards   map[ir.DocumentKey]*keyGuard

	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	delay   time.Duration
	running atomic.Int64
}

// Option configures an Updater.
type Option func(*Updater)

// WithDelay sets the debounce window.
func WithDelay(d time.Duration) Option {
	return func(u *Updater) { u.delay = d }
}

// WithClock sets the clock driving the debounce timers.
func WithClock(c clock.Clock) Option {
	return func(u *Updater) { u.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(u *Updater) { u.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(u *Updater) { u.metrics = m }
}

// WithOutlineObserver registers a callback for fetched outlines.
func WithOutlineObserver(fn OutlineObserver) Option {
	return func(u *Updater) { u.observer = fn }
}

// NewUpdater creates an Updater writing to store.
func NewUpdater(scope ir.Scope, store *state.Store, source OutlineSource, decorator Decorator, compute Compute, opts ...Option) *Updater {
	u := &Updater{
		scope:       scope,
		store:       store,
		source:      source,
		decorator:   decorator,
		compute:     compute,
		guards:      make(map[ir.DocumentKey]*keyGuard),
		clock:       clock.Real{},
		logger:      slog.Default(),
		delay:       DefaultDelay,
	}
	for _, opt := range opts {
		opt(u)
	}
	u.debouncer = NewDebouncer(u.clock, u.delay)
	return u
}

// Scope returns the updater's scope.
func (u *Updater) Scope() ir.Scope {
	return u.scope
}

// SetCompute swaps the payload function; the next run uses it.
func (u *Updater) SetCompute(c Compute) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.compute = c
}

// SetDelay changes the debounce window for subsequent triggers.
func (u *Updater) SetDelay(d time.Duration) {
	u.debouncer.SetDelay(d)
}

// Trigger schedules a recompute of key after the debounce window. Bursts
// of triggers collapse into one run.
func (u *Updater) Trigger(ctx context.Context, key ir.DocumentKey) {
	u.debouncer.Trigger(key, func(gen Generation) {
		if err := u.run(ctx, key, gen, false); err != nil {
			u.logger.Debug("recompute failed", "scope", u.scope, "key", key, "error", err)
		}
	})
}

// Refresh recomputes key immediately, superseding any pending run, and
// commits with force so decorations are reapplied even when unchanged.
func (u *Updater) Refresh(ctx context.Context, key ir.DocumentKey) error {
	return u.run(ctx, key, u.debouncer.Claim(key), true)
}

// Cancel drops pending and in-flight work for key.
func (u *Updater) Cancel(key ir.DocumentKey) {
	u.debouncer.Cancel(key)
}

// Pending returns the number of documents with a scheduled run.
func (u *Updater) Pending() int {
	return u.debouncer.Pending()
}

// Busy reports whether a recompute is scheduled or running.
func (u *Updater) Busy() bool {
	return u.running.Load() > 0 || u.debouncer.Busy()
}

// Stop cancels all pending runs.
func (u *Updater) Stop() {
	u.debouncer.Stop()
}

func (u *Updater) run(ctx context.Context, key ir.DocumentKey, gen Generation, force bool) error {
	u.running.Add(1)
	defer u.running.Add(-1)

	start := u.clock.Now()
	kind := string(u.scope)

	if !u.debouncer.Current(key, gen) {
		u.metrics.Recompute(kind, metrics.OutcomeStale, 0)
		return nil
	}
	u.store.SetLoading(key, true)

	outline, err := u.source.FetchOutline(ctx, key)
	if err != nil {
		ferr := ir.NewFetchError(key, "fetch outline", err)
		guard := u.guard(key)
		guard.mu.Lock()
		defer guard.mu.Unlock()
		if !u.debouncer.Current(key, gen) {
			u.metrics.Recompute(kind, metrics.OutcomeStale, u.clock.Now().Sub(start))
			return nil
		}
		u.store.SetError(key, ferr)
		u.metrics.Recompute(kind, metrics.OutcomeFailed, u.clock.Now().Sub(start))
		u.logger.Warn("outline fetch failed, keeping previous state",
			"scope", u.scope,
			"key", key,
			"error", err)
		return ferr
	}

	u.mu.RLock()
	compute, observer := u.compute, u.observer
	u.mu.RUnlock()

	if observer != nil {
		observer(key, outline)
	}
	payload := compute(outline)

	guard := u.guard(key)
	guard.mu.Lock()
	defer guard.mu.Unlock()

	if !u.debouncer.Current(key, gen) {
		u.metrics.Recompute(kind, metrics.OutcomeStale, u.clock.Now().Sub(start))
		u.logger.Debug("discarding superseded recompute", "scope", u.scope, "key", key)
		return nil
	}

	opts := []state.CommitOption{state.WithSource(kind)}
	if force || guard.undecorated {
		opts = append(opts, state.Force())
	}
	res, err := u.store.Commit(key, payload, opts...)
	if err != nil {
		u.store.SetError(key, err)
		u.metrics.Recompute(kind, metrics.OutcomeRejected, u.clock.Now().Sub(start))
		return fmt.Errorf("commit %s for %s: %w", u.scope, key, err)
	}
	if len(res.Warnings) > 0 {
		u.logger.Info("derived state has warnings",
			"scope", u.scope,
			"key", key,
			"warnings", res.Warnings)
	}

	if !res.Changed {
		u.metrics.Recompute(kind, metrics.OutcomeNoop, u.clock.Now().Sub(start))
		return nil
	}

	decorations := ir.DecorationsFor(payload)
	if err := u.decorator.ApplyDecorations(ctx, key, u.scope, decorations); err != nil {
		// The editor still shows the previous decorations: the next run
		// reapplies them even if the payload is unchanged.
		guard.undecorated = true
		u.store.SetError(key, err)
		u.metrics.Recompute(kind, metrics.OutcomeFailed, u.clock.Now().Sub(start))
		u.logger.Error("applying decorations failed",
			"scope", u.scope,
			"key", key,
			"error", err)
		return fmt.Errorf("apply %s decorations for %s: %w", u.scope, key, err)
	}
	guard.undecorated = false

	u.metrics.Recompute(kind, metrics.OutcomeCommitted, u.clock.Now().Sub(start))
	u.logger.Debug("recompute committed",
		"scope", u.scope,
		"key", key,
		"version", res.State.Version,
		"entries", len(payload))
	return nil
}

// keyGuard serializes the publish step of one key: the generation check,
// the commit and the decorations happen together.
type keyGuard struct {
	mu sync.Mutex
	// undecorated is set while the editor still shows decorations older
	// than the committed state.
	undecorated bool
}

func (u *Updater) guard(key ir.DocumentKey) *keyGuard {
	u.guardsMu.Lock()
	defer u.guardsMu.Unlock()
	g, ok := u.guards[key]
	if !ok {
		g = &keyGuard{}
		u.guards[key] = g
	}
	return g
}
