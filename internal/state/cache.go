package state

import (
	"sync"
	"time"

	"github.com/roach88/annosync/internal/clock"
	"github.com/roach88/annosync/internal/ir"
)

// Cache defaults.
const (
	DefaultCacheCapacity = 50
	DefaultCacheTTL      = 10 * time.Minute
)

// Cache is a bounded read cache of derived states.
//
// Entries expire after a TTL. When full, the entry with the lowest
// recency-and-frequency score is evicted, where
//
//	score = accessCount / (1 + secondsSinceLastAccess)
//
// The cache is a disposable shadow of the live map: losing an entry only
// costs a fall-through read, and it is never consulted for commit decisions.
type Cache struct {
	mu       sync.Mutex
	entries  map[ir.DocumentKey]*cacheEntry
	capacity int
	ttl      time.Duration
	clock    clock.Clock

	hits      uint64
	misses    uint64
	evictions uint64
}

type cacheEntry struct {
	state       DerivedState
	expiresAt   time.Time
	accessCount int
	lastAccess  time.Time
}

// NewCache creates a cache. Non-positive capacity or ttl select the defaults.
func NewCache(capacity int, ttl time.Duration, clk clock.Clock) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Cache{
		entries:  make(map[ir.DocumentKey]*cacheEntry, capacity),
		capacity: capacity,
		ttl:      ttl,
		clock:    clk,
	}
}

// Get returns a copy of the cached state for key.
func (c *Cache) Get(key ir.DocumentKey) (DerivedState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return DerivedState{}, false
	}
	if !now.Before(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return DerivedState{}, false
	}

	e.accessCount++
	e.lastAccess = now
	c.hits++
	return e.state.Clone(), true
}

// Set stores a copy of state under key, evicting if the cache is full.
func (c *Cache) Set(key ir.DocumentKey, state DerivedState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictLocked(now)
	}
	c.entries[key] = &cacheEntry{
		state:       state.Clone(),
		expiresAt:   now.Add(c.ttl),
		accessCount: 1,
		lastAccess:  now,
	}
}

// Delete removes key.
func (c *Cache) Delete(key ir.DocumentKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[ir.DocumentKey]*cacheEntry, c.capacity)
}

// Cleanup removes expired entries and returns how many were removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Size      int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Size:      len(c.entries),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// evictLocked removes the lowest-scoring entry. Ties go to the key that
// sorts first so eviction is deterministic.
func (c *Cache) evictLocked(now time.Time) {
	var victim ir.DocumentKey
	best := -1.0
	for k, e := range c.entries {
		s := score(e, now)
		if best < 0 || s < best || (s == best && k < victim) {
			victim = k
			best = s
		}
	}
	if best >= 0 {
		delete(c.entries, victim)
		c.evictions++
	}
}

func score(e *cacheEntry, now time.Time) float64 {
	idle := now.Sub(e.lastAccess).Seconds()
	if idle < 0 {
		idle = 0
	}
	return float64(e.accessCount) / (1 + idle)
}
