// CLAUDE:SUMMARY Bounded TTL cache with lazy expiry and oldest-created-first eviction.
// Package cache holds extracted results keyed by request fingerprint.
//
// Entries are visible while now-created < ttl and removed lazily on read.
// When the cache is full, the entry with the oldest creation time is
// evicted before a new key is inserted. Reads never change eviction order;
// setting an existing key resets its age.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 500

type entry[V any] struct {
	value   V
	created time.Time
	ttl     time.Duration
}

func (e entry[V]) fresh(now time.Time) bool {
	return now.Sub(e.created) < e.ttl
}

// Stats counts cache activity since creation.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Expired   int64 `json:"expired"`
	Evictions int64 `json:"evictions"`
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, entry[V]]
	now   func() time.Time
	stats Stats
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(o *options) { o.now = fn }
}

// New creates a cache holding at most maxEntries values.
func New[V any](maxEntries int, opts ...Option) *Cache[V] {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	c := &Cache[V]{now: o.now}
	// NewLRU only fails on a non-positive size.
	c.lru, _ = simplelru.NewLRU[string, entry[V]](maxEntries, nil)
	return c
}

// Get returns the value for key if it exists and has not expired.
// An expired entry is removed.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lru.Peek(key)
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	if !e.fresh(c.now()) {
		c.removeExpired(key)
		c.stats.Misses++
		return zero, false
	}
	c.stats.Hits++
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl is a no-op.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// A re-set key becomes the newest entry.
	c.lru.Remove(key)
	if c.lru.Add(key, entry[V]{value: value, created: c.now(), ttl: ttl}) {
		c.stats.Evictions++
	}
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len returns the number of stored entries, including expired ones not
// yet swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge removes every entry.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Sweep removes all expired entries and returns how many were dropped.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for _, k := range c.lru.Keys() {
		if e, ok := c.lru.Peek(k); ok && !e.fresh(now) {
			c.removeExpired(k)
			n++
		}
	}
	return n
}

// Run sweeps expired entries every interval until ctx is done.
func (c *Cache[V]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			c.Sweep()
		}
	}
}

// Stats returns a copy of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.lru.Len()
	return s
}

// removeExpired must be called with mu held.
func (c *Cache[V]) removeExpired(key string) {
	if c.lru.Remove(key) {
		c.stats.Expired++
	}
}
