package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/annosync/internal/clock"
	"github.com/roach88/annosync/internal/config"
	"github.com/roach88/annosync/internal/dispatch"
	"github.com/roach88/annosync/internal/ir"
	"github.com/roach88/annosync/internal/metrics"
	"github.com/roach88/annosync/internal/numbering"
	"github.com/roach88/annosync/internal/resolver"
	"github.com/roach88/annosync/internal/scheduler"
	"github.com/roach88/annosync/internal/state"
)

// Event types published on the dispatcher. Both carry
// (ir.DocumentKey, source string).
const (
	EventHeadingChanged = "heading-changed"
	EventFigureChanged  = "figure-changed"
)

// Sources recorded on published events.
const (
	SourceTransaction = "transaction"
	SourceConfig      = "config"
)

// Source is the storage collaborator: it serves outlines for the
// recompute workers and block membership for the resolver.
type Source interface {
	scheduler.OutlineSource
	resolver.Source
}

// Engine is the document-annotation synchronization engine.
//
// Thread-safety model:
//   - HandleMessage, Consume: safe from any goroutine; batches of one
//     message are processed in order
//   - OpenDocument, CloseDocument, Refresh, ApplyConfig: safe from any goroutine
//   - Start: call once; Close stops everything Start launched
type Engine struct {
	mu     sync.RWMutex
	cfg    config.Config
	docs   map[ir.DocumentKey]*document
	closed bool

	// ingest serializes message handling so resolver indexes observe
	// batches in arrival order.
	ingest sync.Mutex

	source     Source
	decorator  scheduler.Decorator
	dispatcher *dispatch.Dispatcher
	resolver   *resolver.Resolver
	known      *knownBlocks

	headings *state.Store
	figures  *state.Store

	headingUpdater *scheduler.Updater
	figureUpdater  *scheduler.Updater

	clock   clock.Clock
	ids     dispatch.IDGenerator
	logger  *slog.Logger
	metrics *metrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type document struct {
	session  string
	openedAt time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the initial configuration.
func WithConfig(cfg config.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithClock sets the clock for timers and timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger passed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink passed to every component.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithIDGenerator sets the generator for session and subscription ids.
func WithIDGenerator(g dispatch.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// New assembles an engine over the storage and editor collaborators.
func New(source Source, decorator scheduler.Decorator, opts ...Option) *Engine {
	e := &Engine{
		cfg:       config.Default(),
		docs:      make(map[ir.DocumentKey]*document),
		source:    source,
		decorator: decorator,
		known:     newKnownBlocks(),
		clock:     clock.Real{},
		ids:       dispatch.UUIDv7Generator{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg = e.cfg.Clone()
	cfg := e.cfg

	e.dispatcher = dispatch.New(
		dispatch.WithCapacity(cfg.Dispatcher.Capacity),
		dispatch.WithDelay(cfg.Dispatcher.Delay.Std()),
		dispatch.WithDedup(cfg.Dispatcher.Dedup),
		dispatch.WithClock(e.clock),
		dispatch.WithIDGenerator(e.ids),
		dispatch.WithLogger(e.logger),
		dispatch.WithMetrics(e.metrics),
	)
	e.resolver = resolver.New(source, resolver.WithLogger(e.logger))

	storeOpts := []state.Option{
		state.WithClock(e.clock),
		state.WithLogger(e.logger),
		state.WithMetrics(e.metrics),
		state.WithCache(cfg.Store.CacheCapacity, cfg.Store.CacheTTL.Std()),
		state.WithIdleTTL(cfg.Store.IdleTTL.Std()),
		state.WithCleanupInterval(cfg.Store.CleanupInterval.Std()),
	}
	e.headings = state.NewStore(string(ir.ScopeHeadings), storeOpts...)
	e.figures = state.NewStore(string(ir.ScopeFigures), storeOpts...)

	updaterOpts := func(delay time.Duration) []scheduler.Option {
		return []scheduler.Option{
			scheduler.WithDelay(delay),
			scheduler.WithClock(e.clock),
			scheduler.WithLogger(e.logger),
			scheduler.WithMetrics(e.metrics),
			scheduler.WithOutlineObserver(e.observeOutline),
		}
	}
	e.headingUpdater = scheduler.NewUpdater(ir.ScopeHeadings, e.headings, source, decorator,
		headingCompute(cfg), updaterOpts(cfg.Scheduler.HeadingDelay.Std())...)
	e.figureUpdater = scheduler.NewUpdater(ir.ScopeFigures, e.figures, source, decorator,
		figureCompute(cfg), updaterOpts(cfg.Scheduler.FigureDelay.Std())...)

	e.dispatcher.Subscribe(EventHeadingChanged, e.onChanged(e.headingUpdater))
	e.dispatcher.Subscribe(EventFigureChanged, e.onChanged(e.figureUpdater))
	return e
}

func headingCompute(cfg config.Config) scheduler.Compute {
	settings := cfg.HeadingSettings()
	return func(o *ir.OutlineNode) []ir.Entry {
		return numbering.NumberHeadings(o, settings)
	}
}

func figureCompute(cfg config.Config) scheduler.Compute {
	prefixes := cfg.Prefixes()
	return func(o *ir.OutlineNode) []ir.Entry {
		return numbering.IndexFigures(o, prefixes)
	}
}

// Start launches the dispatcher and the idle sweepers. They stop when ctx
// is cancelled or Close is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	run := func(name string, fn func(context.Context) error) {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("background loop failed", "loop", name, "error", err)
			}
		}()
	}
	run("dispatcher", e.dispatcher.Run)
	run("headings-sweeper", e.headings.Run)
	run("figures-sweeper", e.figures.Run)

	cfg := e.Config()
	e.logger.Info("engine started",
		"dispatch_delay", cfg.Dispatcher.Delay.String(),
		"heading_delay", cfg.Scheduler.HeadingDelay.String(),
		"figure_delay", cfg.Scheduler.FigureDelay.String())
}

// Close stops background work, cancels pending recomputes and clears all
// derived state.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	cancel := e.cancel
	e.mu.Unlock()

	e.dispatcher.Close()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.headingUpdater.Stop()
	e.figureUpdater.Stop()
	e.headings.Close()
	e.figures.Close()
	e.logger.Info("engine stopped")
}

// OpenDocument starts tracking key: its membership index is built and both
// annotation kinds are computed immediately. A failed membership fetch
// leaves the document closed. Recompute failures are returned but the
// document stays open, with the failure recorded in its state.
func (e *Engine) OpenDocument(ctx context.Context, key ir.DocumentKey) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if _, ok := e.docs[key]; ok {
		e.mu.Unlock()
		return nil
	}
	doc := &document{session: e.ids.Generate(), openedAt: e.clock.Now()}
	e.docs[key] = doc
	cfg := e.cfg
	e.mu.Unlock()

	if err := e.resolver.Open(ctx, key); err != nil {
		e.mu.Lock()
		delete(e.docs, key)
		e.mu.Unlock()
		return err
	}
	e.logger.Info("document opened", "key", key, "session", doc.session)

	var errs []error
	if cfg.HeadingNumbering(key) {
		errs = append(errs, e.headingUpdater.Refresh(ctx, key))
	}
	if cfg.CrossReference(key) {
		errs = append(errs, e.figureUpdater.Refresh(ctx, key))
	}
	return errors.Join(errs...)
}

// CloseDocument stops tracking key and discards its derived state.
func (e *Engine) CloseDocument(key ir.DocumentKey) error {
	e.mu.Lock()
	doc, ok := e.docs[key]
	delete(e.docs, key)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("close %s: %w", key, ErrNotOpen)
	}

	e.headingUpdater.Cancel(key)
	e.figureUpdater.Cancel(key)
	e.resolver.Close(key)
	e.known.drop(key)
	for _, s := range []*state.Store{e.headings, e.figures} {
		s.Clear(key)
		s.Notifier().RemoveKey(key)
	}
	e.logger.Info("document closed",
		"key", key,
		"session", doc.session,
		"open_for", e.clock.Now().Sub(doc.openedAt).String())
	return nil
}

// IsOpen reports whether key is being tracked.
func (e *Engine) IsOpen(key ir.DocumentKey) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.docs[key]
	return ok
}

// OpenDocuments lists tracked documents, sorted.
func (e *Engine) OpenDocuments() []ir.DocumentKey {
	return e.resolver.OpenKeys()
}

// Refresh recomputes both annotation kinds of key now, reapplying
// decorations even when nothing changed.
func (e *Engine) Refresh(ctx context.Context, key ir.DocumentKey) error {
	if !e.IsOpen(key) {
		return fmt.Errorf("refresh %s: %w", key, ErrNotOpen)
	}
	cfg := e.Config()
	var errs []error
	if cfg.HeadingNumbering(key) {
		errs = append(errs, e.headingUpdater.Refresh(ctx, key))
	}
	if cfg.CrossReference(key) {
		errs = append(errs, e.figureUpdater.Refresh(ctx, key))
	}
	return errors.Join(errs...)
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Clone()
}

// ApplyConfig switches to cfg. Numbering settings and delays take effect
// on the next recompute, which is scheduled for every open document.
// Documents whose toggle was switched off lose that annotation kind.
func (e *Engine) ApplyConfig(ctx context.Context, cfg config.Config) {
	cfg = cfg.Clone()
	e.mu.Lock()
	prev := e.cfg
	e.cfg = cfg
	keys := make([]ir.DocumentKey, 0, len(e.docs))
	for k := range e.docs {
		keys = append(keys, k)
	}
	e.mu.Unlock()

	e.dispatcher.SetDelay(cfg.Dispatcher.Delay.Std())
	e.headingUpdater.SetDelay(cfg.Scheduler.HeadingDelay.Std())
	e.figureUpdater.SetDelay(cfg.Scheduler.FigureDelay.Std())
	e.headingUpdater.SetCompute(headingCompute(cfg))
	e.figureUpdater.SetCompute(figureCompute(cfg))

	for _, key := range keys {
		switch {
		case cfg.HeadingNumbering(key):
			e.dispatcher.Publish(EventHeadingChanged, key, SourceConfig)
		case prev.HeadingNumbering(key):
			e.disable(ctx, key, e.headingUpdater, e.headings)
		}
		switch {
		case cfg.CrossReference(key):
			e.dispatcher.Publish(EventFigureChanged, key, SourceConfig)
		case prev.CrossReference(key):
			e.disable(ctx, key, e.figureUpdater, e.figures)
		}
	}
	e.logger.Info("configuration applied", "documents", len(keys))
}

// disable drops one annotation kind from a document and removes its
// decorations.
func (e *Engine) disable(ctx context.Context, key ir.DocumentKey, u *scheduler.Updater, s *state.Store) {
	u.Cancel(key)
	s.Clear(key)
	if err := e.decorator.ApplyDecorations(ctx, key, u.Scope(), nil); err != nil {
		e.logger.Warn("clearing decorations failed", "key", key, "scope", u.Scope(), "error", err)
	}
}

// State returns the derived state of key for scope.
func (e *Engine) State(scope ir.Scope, key ir.DocumentKey) (state.DerivedState, bool) {
	s := e.store(scope)
	if s == nil {
		return state.DerivedState{}, false
	}
	return s.Read(key)
}

// Subscribe registers a listener on the state notifications of scope.
func (e *Engine) Subscribe(scope ir.Scope, fn state.Listener, opts ...state.ListenerOption) (func(), error) {
	s := e.store(scope)
	if s == nil {
		return nil, fmt.Errorf("unknown scope %q", scope)
	}
	return s.Notifier().Subscribe(fn, opts...), nil
}

func (e *Engine) store(scope ir.Scope) *state.Store {
	switch scope {
	case ir.ScopeHeadings:
		return e.headings
	case ir.ScopeFigures:
		return e.figures
	}
	return nil
}

// Stats summarizes the engine's live state.
type Stats struct {
	OpenDocuments int
	PendingEvents int
	Headings      state.Stats
	Figures       state.Stats
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	open := len(e.docs)
	e.mu.RUnlock()
	return Stats{
		OpenDocuments: open,
		PendingEvents: e.dispatcher.Len(),
		Headings:      e.headings.Stats(),
		Figures:       e.figures.Stats(),
	}
}

// Idle reports whether no event is queued and no recompute is scheduled
// or running.
func (e *Engine) Idle() bool {
	return e.dispatcher.Idle() && !e.headingUpdater.Busy() && !e.figureUpdater.Busy()
}

// Drained reports whether every published event has been delivered.
// Recomputes the events scheduled may still be pending.
func (e *Engine) Drained() bool {
	return e.dispatcher.Idle()
}

// Settle blocks until the engine is idle and pending notifications have
// been delivered, or ctx is done.
func (e *Engine) Settle(ctx context.Context) error {
	const poll = 5 * time.Millisecond
	for !e.Idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
	e.headings.Notifier().Flush()
	e.figures.Notifier().Flush()
	return nil
}

func (e *Engine) onChanged(u *scheduler.Updater) dispatch.Handler {
	return func(ctx context.Context, ev dispatch.Event) error {
		key, ok := ev.Arg(0).(ir.DocumentKey)
		if !ok {
			return fmt.Errorf("%s: document key has type %T", ev.Type, ev.Arg(0))
		}
		if !e.IsOpen(key) {
			return nil
		}
		cfg := e.Config()
		enabled := cfg.HeadingNumbering(key)
		if u.Scope() == ir.ScopeFigures {
			enabled = cfg.CrossReference(key)
		}
		if !enabled {
			return nil
		}
		e.logger.Debug("recompute triggered", "scope", u.Scope(), "key", key, "source", ev.Arg(1))
		u.Trigger(ctx, key)
		return nil
	}
}

// observeOutline refreshes what the engine knows about a document each
// time an updater fetches its outline.
func (e *Engine) observeOutline(key ir.DocumentKey, outline *ir.OutlineNode) {
	if !e.IsOpen(key) || outline == nil {
		return
	}
	e.known.reset(key, outline)
	e.resolver.Reset(key, blockIDs(outline))
}
