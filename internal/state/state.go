package state

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/annosync/internal/clock"
	"github.com/roach88/annosync/internal/ir"
	"github.com/roach88/annosync/internal/metrics"
)

// Store defaults.
const (
	DefaultIdleTTL         = 30 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
)

// Notification sources used by the store itself.
const (
	SourceLoading = "loading"
	SourceError   = "error"
	SourceSettled = "settled"
)

// DerivedState is the last known good annotation payload of one document.
type DerivedState struct {
	Key         ir.DocumentKey
	Payload     []ir.Entry
	Version     int64
	LastUpdated time.Time
	Loading     bool
	Err         error
}

// Clone returns a copy that shares nothing mutable with s.
func (s DerivedState) Clone() DerivedState {
	s.Payload = ir.ClonePayload(s.Payload)
	return s
}

type liveEntry struct {
	state      DerivedState
	lastAccess time.Time
}

// Store is the authoritative, versioned map of derived states.
type Store struct {
	name string

	mu       sync.Mutex
	states   map[ir.DocumentKey]*liveEntry
	keyLocks map[ir.DocumentKey]*keyLock

	versions *clock.Logical
	cache    *Cache
	notifier *Notifier
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	cacheCapacity   int
	cacheTTL        time.Duration
	idleTTL         time.Duration
	cleanupInterval time.Duration
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the wall clock used for timestamps, TTLs and idle expiry.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithMetrics records commits and cache traffic.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithCache sets cache capacity and TTL.
func WithCache(capacity int, ttl time.Duration) Option {
	return func(s *Store) {
		s.cacheCapacity = capacity
		s.cacheTTL = ttl
	}
}

// WithIdleTTL sets how long a live state may go unread before the sweep
// evicts it.
func WithIdleTTL(d time.Duration) Option {
	return func(s *Store) {
		s.idleTTL = d
	}
}

// WithCleanupInterval sets the sweep period used by Run.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) {
		s.cleanupInterval = d
	}
}

// NewStore creates an empty store. name labels its metrics and logs.
func NewStore(name string, opts ...Option) *Store {
	s := &Store{
		name:            name,
		states:          make(map[ir.DocumentKey]*liveEntry),
		keyLocks:        make(map[ir.DocumentKey]*keyLock),
		versions:        clock.NewLogical(),
		clock:           clock.Real{},
		logger:          slog.Default(),
		idleTTL:         DefaultIdleTTL,
		cleanupInterval: DefaultCleanupInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = NewCache(s.cacheCapacity, s.cacheTTL, s.clock)
	s.notifier = NewNotifier(s.logger)
	return s
}

// Name returns the store's label.
func (s *Store) Name() string {
	return s.name
}

// Notifier returns the store's notifier.
func (s *Store) Notifier() *Notifier {
	return s.notifier
}

// commitConfig holds per-commit options.
type commitConfig struct {
	validate bool
	force    bool
	source   string
}

// CommitOption configures a single commit.
type CommitOption func(*commitConfig)

// SkipValidation commits without running the validator.
func SkipValidation() CommitOption {
	return func(c *commitConfig) {
		c.validate = false
	}
}

// Force commits even when the payload equals the stored one.
func Force() CommitOption {
	return func(c *commitConfig) {
		c.force = true
	}
}

// WithSource tags the resulting notification.
func WithSource(source string) CommitOption {
	return func(c *commitConfig) {
		c.source = source
	}
}

// CommitResult reports what a commit did.
type CommitResult struct {
	// State is a copy of the state after the commit.
	State DerivedState
	// Changed is false when the commit was a no-op.
	Changed bool
	// Warnings are the validator's soft findings.
	Warnings []string
}

// Commit validates payload and stores it as the new state of key.
//
// On validation failure it returns a VALIDATION_FAILED error listing every
// reason and leaves the stored state untouched. Unless forced, a payload
// element-wise equal to the stored one is a no-op: the version is kept and
// no notification is sent. A no-op commit still settles a pending loading
// flag or error, since the recompute it reports succeeded.
func (s *Store) Commit(key ir.DocumentKey, payload []ir.Entry, opts ...CommitOption) (CommitResult, error) {
	cfg := commitConfig{validate: true, source: "commit"}
	for _, opt := range opts {
		opt(&cfg)
	}

	unlock := s.lockKey(key)
	defer unlock()

	var warnings []string
	if cfg.validate {
		res := Validate(payload)
		if !res.Valid() {
			s.metrics.Commit(s.name, metrics.OutcomeRejected)
			s.logger.Warn("commit rejected",
				"store", s.name,
				"key", key,
				"reasons", res.Errors)
			return CommitResult{}, ir.NewValidationError(key, res.Errors)
		}
		warnings = res.Warnings
		if len(warnings) > 0 {
			s.logger.Debug("commit warnings", "store", s.name, "key", key, "warnings", warnings)
		}
	}

	now := s.clock.Now()
	cur, exists := s.live(key)

	if exists && !cfg.force && ir.SamePayload(cur.Payload, payload) {
		s.metrics.Commit(s.name, metrics.OutcomeNoop)
		if cur.Loading || cur.Err != nil {
			next := cur
			next.Loading = false
			if cur.Err != nil {
				next.Err = nil
				next.Version = s.versions.Next()
				next.LastUpdated = now
			}
			s.put(key, next, now)
			s.notifier.NotifyChanged(key, next, SourceSettled)
			cur = next
		}
		return CommitResult{State: cur.Clone(), Warnings: warnings}, nil
	}

	next := DerivedState{
		Key:         key,
		Payload:     ir.ClonePayload(payload),
		Version:     s.versions.Next(),
		LastUpdated: now,
	}
	s.put(key, next, now)
	s.notifier.NotifyChanged(key, next, cfg.source)
	s.metrics.Commit(s.name, metrics.OutcomeCommitted)

	s.logger.Debug("state committed",
		"store", s.name,
		"key", key,
		"version", next.Version,
		"entries", len(payload))

	return CommitResult{State: next.Clone(), Changed: true, Warnings: warnings}, nil
}

// Get returns a copy of the authoritative live state for key.
func (s *Store) Get(key ir.DocumentKey) (DerivedState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.states[key]
	if !ok {
		return DerivedState{}, false
	}
	e.lastAccess = s.clock.Now()
	return e.state.Clone(), true
}

// Read returns the state for key through the cache, falling back to the
// live map and repopulating the cache on a miss.
func (s *Store) Read(key ir.DocumentKey) (DerivedState, bool) {
	if st, ok := s.cache.Get(key); ok {
		s.metrics.CacheHit(s.name)
		s.touch(key)
		return st, true
	}
	s.metrics.CacheMiss(s.name)

	st, ok := s.Get(key)
	if !ok {
		return DerivedState{}, false
	}
	s.cache.Set(key, st)
	return st, true
}

// SetLoading marks key as having a recompute in flight. The state is
// created (empty) if it does not exist. The payload is preserved; a pending
// error is cleared when loading starts, since loading and error are
// mutually exclusive.
func (s *Store) SetLoading(key ir.DocumentKey, loading bool) {
	unlock := s.lockKey(key)
	defer unlock()

	now := s.clock.Now()
	cur, exists := s.live(key)
	switch {
	case !exists && !loading:
		return
	case !exists:
		cur = DerivedState{Key: key, Version: s.versions.Next(), LastUpdated: now}
	case cur.Loading == loading:
		return
	case loading && cur.Err != nil:
		cur.Err = nil
		cur.Version = s.versions.Next()
		cur.LastUpdated = now
	}
	cur.Loading = loading
	s.put(key, cur, now)
	s.notifier.NotifyChanged(key, cur, SourceLoading)
}

// SetError records a failed recompute. The last good payload is kept,
// loading is cleared and a new version is consumed.
func (s *Store) SetError(key ir.DocumentKey, err error) {
	if err == nil {
		return
	}
	unlock := s.lockKey(key)
	defer unlock()

	now := s.clock.Now()
	cur, exists := s.live(key)
	if !exists {
		cur = DerivedState{Key: key}
	}
	cur.Loading = false
	cur.Err = err
	cur.Version = s.versions.Next()
	cur.LastUpdated = now
	s.put(key, cur, now)
	s.notifier.NotifyChanged(key, cur, SourceError)
	s.metrics.Commit(s.name, metrics.OutcomeFailed)
}

// Clear removes key from the live map and the cache and sends a cleared
// notification. Clearing an unknown key is a no-op.
func (s *Store) Clear(key ir.DocumentKey) {
	unlock := s.lockKey(key)
	defer unlock()

	s.mu.Lock()
	_, existed := s.states[key]
	delete(s.states, key)
	n := len(s.states)
	s.mu.Unlock()

	s.cache.Delete(key)
	if existed {
		s.notifier.NotifyCleared(key)
		s.metrics.SetLiveStates(s.name, n)
	}
}

// Keys lists the keys with a live state, sorted.
func (s *Store) Keys() []ir.DocumentKey {
	s.mu.Lock()
	keys := make([]ir.DocumentKey, 0, len(s.states))
	for k := range s.states {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Stats is a snapshot of store occupancy.
type Stats struct {
	LiveKeys int
	Cache    CacheStats
}

// Stats returns occupancy and cache counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	n := len(s.states)
	s.mu.Unlock()
	return Stats{LiveKeys: n, Cache: s.cache.Stats()}
}

// Sweep drops expired cache entries and evicts live states that have not
// been read or written for longer than the idle TTL. Returns the evicted keys.
func (s *Store) Sweep() []ir.DocumentKey {
	s.cache.Cleanup()

	now := s.clock.Now()
	var idle []ir.DocumentKey
	s.mu.Lock()
	for k, e := range s.states {
		if now.Sub(e.lastAccess) >= s.idleTTL {
			idle = append(idle, k)
		}
	}
	s.mu.Unlock()

	sort.Slice(idle, func(i, j int) bool { return idle[i] < idle[j] })
	evicted := idle[:0]
	for _, k := range idle {
		if s.evictIfIdle(k) {
			evicted = append(evicted, k)
		}
	}
	if len(evicted) > 0 {
		s.logger.Debug("idle states evicted", "store", s.name, "keys", len(evicted))
	}
	return evicted
}

// Run sweeps on every cleanup interval of the store's clock until ctx is
// cancelled. A non-positive interval disables sweeping.
func (s *Store) Run(ctx context.Context) error {
	if s.cleanupInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		fired := make(chan struct{})
		t := s.clock.AfterFunc(s.cleanupInterval, func() { close(fired) })
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-fired:
			s.Sweep()
		}
	}
}

// Close drops every state and stops the notifier. Listeners receive a
// cleared notification for each key before they are detached.
func (s *Store) Close() {
	for _, k := range s.Keys() {
		s.Clear(k)
	}
	s.cache.Clear()
	s.notifier.Close()
}

// evictIfIdle re-checks idleness under the key lock so a concurrent commit
// is never evicted.
func (s *Store) evictIfIdle(key ir.DocumentKey) bool {
	unlock := s.lockKey(key)
	defer unlock()

	now := s.clock.Now()
	s.mu.Lock()
	e, ok := s.states[key]
	if !ok || now.Sub(e.lastAccess) < s.idleTTL {
		s.mu.Unlock()
		return false
	}
	delete(s.states, key)
	n := len(s.states)
	s.mu.Unlock()

	s.cache.Delete(key)
	s.notifier.NotifyCleared(key)
	s.metrics.SetLiveStates(s.name, n)
	return true
}

func (s *Store) live(key ir.DocumentKey) (DerivedState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.states[key]
	if !ok {
		return DerivedState{}, false
	}
	return e.state, true
}

// put stores st as the live state and refreshes the cache.
// Callers hold the key lock.
func (s *Store) put(key ir.DocumentKey, st DerivedState, now time.Time) {
	s.mu.Lock()
	s.states[key] = &liveEntry{state: st, lastAccess: now}
	n := len(s.states)
	s.mu.Unlock()

	s.cache.Set(key, st)
	s.metrics.SetLiveStates(s.name, n)
}

func (s *Store) touch(key ir.DocumentKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.states[key]; ok {
		e.lastAccess = s.clock.Now()
	}
}

// lockKey serializes writers of one key. Lock entries are reference
// counted and removed when the last holder releases them.
func (s *Store) lockKey(key ir.DocumentKey) func() {
	s.mu.Lock()
	kl, ok := s.keyLocks[key]
	if !ok {
		kl = &keyLock{}
		s.keyLocks[key] = kl
	}
	kl.refs++
	s.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		s.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(s.keyLocks, key)
		}
		s.mu.Unlock()
	}
}
