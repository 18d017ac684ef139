// Package cache is an in-process TTL cache shared by every origin caller.
//
// Expiry is lazy: an entry past its deadline is dropped on the next Get that
// sees it. An optional MaxEntries bound evicts expired entries first, then the
// entry closest to expiry.
package cache

import (
	"sort"
	"sync"
	"time"
)

const DefaultMaxEntries = 5000

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Size      int      `json:"size"`
	Keys      []string `json:"keys"`
	Hits      uint64   `json:"hits"`
	Misses    uint64   `json:"misses"`
	Evictions uint64   `json:"evictions"`
}

type Option func(*options)

type options struct {
	maxEntries int
	now        func() time.Time
}

// WithMaxEntries bounds the number of live entries. n <= 0 disables the bound.
func WithMaxEntries(n int) Option { return func(o *options) { o.maxEntries = n } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Cache maps string keys to values with a per-entry TTL. Safe for concurrent
// use; the lock is never held across caller code.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	max     int
	now     func() time.Time

	hits, misses, evictions uint64
}

func New[V any](opts ...Option) *Cache[V] {
	o := options{maxEntries: DefaultMaxEntries, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	return &Cache[V]{entries: map[string]entry[V]{}, max: o.maxEntries, now: o.now}
}

// Get returns the value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		c.evictions++
		var zero V
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key for ttl, replacing any previous entry and its
// expiry. A non-positive ttl stores an already-expired entry.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(ttl)}
	if c.max > 0 && len(c.entries) > c.max {
		c.shrinkLocked(now)
	}
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every entry. Counters are kept.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = map[string]entry[V]{}
	c.mu.Unlock()
}

// Len counts stored entries, including expired ones not yet observed.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	st := Stats{Size: len(c.entries), Hits: c.hits, Misses: c.misses, Evictions: c.evictions}
	c.mu.Unlock()

	sort.Strings(keys)
	st.Keys = keys
	return st
}

// shrinkLocked purges expired entries, then evicts the earliest expiries
// until the bound holds.
func (c *Cache[V]) shrinkLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			c.evictions++
		}
	}
	for len(c.entries) > c.max {
		var (
			minKey string
			minAt  time.Time
			found  bool
		)
		for k, e := range c.entries {
			if !found || e.expiresAt.Before(minAt) {
				minKey, minAt, found = k, e.expiresAt, true
			}
		}
		if !found {
			return
		}
		delete(c.entries, minKey)
		c.evictions++
	}
}
