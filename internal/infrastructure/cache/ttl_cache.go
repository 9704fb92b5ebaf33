package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// cacheEntry wraps a cached value with its expiration time
type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e *cacheEntry[V]) isExpired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// TTLCache is a small concurrency-safe map whose entries expire after a fixed TTL.
// Expired entries are dropped lazily on read.
type TTLCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*cacheEntry[V]
	ttl     time.Duration
	now     func() time.Time

	hits   int64
	misses int64
}

// NewTTLCache creates a TTLCache. A non-positive ttl disables caching.
func NewTTLCache[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		entries: make(map[K]*cacheEntry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached value for key
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && !e.isExpired(c.now()) {
		atomic.AddInt64(&c.hits, 1)
		return e.value, true
	}
	if ok {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.isExpired(c.now()) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}
	atomic.AddInt64(&c.misses, 1)
	var zero V
	return zero, false
}

// Set stores value under key
func (c *TTLCache[K, V]) Set(key K, value V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = &cacheEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate removes key
func (c *TTLCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes every entry
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[K]*cacheEntry[V])
	c.mu.Unlock()
}

// Stats returns hit and miss counts
func (c *TTLCache[K, V]) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}
