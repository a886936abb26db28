// Package cache provides a small in-process TTL cache for upstream reads.
//
// Entries expire after a fixed TTL and are dropped lazily on access. Writes
// that change upstream state call Invalidate with a key prefix so the next
// read refetches fresh data.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "housereno_cache_hits_total",
		Help: "Cache hits by key prefix.",
	}, []string{"prefix"})

	missesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "housereno_cache_misses_total",
		Help: "Cache misses by key prefix.",
	}, []string{"prefix"})
)

// Cache is a concurrency-safe TTL cache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]item

	ttl time.Duration
	now func() time.Time // injectable for tests
}

type item struct {
	value     any
	expiresAt time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source. Tests use this to control expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache whose entries expire after ttl.
func New(ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]item),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.entries[key]
	if !ok || !c.now().Before(it.expiresAt) {
		if ok {
			delete(c.entries, key)
		}
		missesTotal.WithLabelValues(keyPrefix(key)).Inc()
		return nil, false
	}
	hitsTotal.WithLabelValues(keyPrefix(key)).Inc()
	return it.value, true
}

// Set stores value under key with the cache's TTL.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = item{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate removes every entry whose key starts with prefix and returns
// how many were dropped. An empty prefix clears the whole cache.
func (c *Cache) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// keyPrefix extracts the metric label from a cache key. Keys are namespaced
// as "domain:detail"; everything before the first colon is the prefix.
func keyPrefix(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
