package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var _ Interface[[]byte] = (*LRUCache[[]byte])(nil)

// LRUCache is a fixed-size LRU cache. A capacity <= 0 disables it.
type LRUCache[V any] struct {
	capacity int
	items    *lru.Cache[string, V]
	onHit    func(key string) // Optional: called on a cache hit.
	onMiss   func(key string) // Optional: called on a cache miss.

	hits        atomic.Int64
	misses      atomic.Int64
	hitCounter  prometheus.Counter
	missCounter prometheus.Counter
}

// NewLRUCache creates a new LRUCache.
func NewLRUCache[V any](capacity int, onEvicted func(key string, value V), onHit, onMiss func(key string)) *LRUCache[V] {
	c := &LRUCache[V]{
		capacity: capacity,
		onHit:    onHit,
		onMiss:   onMiss,
	}
	if capacity <= 0 {
		c.capacity = 0
		return c
	}
	var err error
	if onEvicted != nil {
		c.items, err = lru.NewWithEvict[string, V](capacity, onEvicted)
	} else {
		c.items, err = lru.New[string, V](capacity)
	}
	if err != nil {
		// Only returned for a non-positive size, which was handled above.
		panic(err)
	}
	return c
}

// SetMetrics attaches prometheus counters for hits and misses.
func (c *LRUCache[V]) SetMetrics(hits, misses prometheus.Counter) {
	c.hitCounter = hits
	c.missCounter = misses
}

// Get retrieves a value from the cache.
func (c *LRUCache[V]) Get(key string) (value V, ok bool) {
	if c.items == nil {
		// A disabled cache does not count misses.
		return value, false
	}
	value, ok = c.items.Get(key)
	if ok {
		c.hits.Add(1)
		if c.hitCounter != nil {
			c.hitCounter.Inc()
		}
		if c.onHit != nil {
			c.onHit(key)
		}
		return value, true
	}
	c.misses.Add(1)
	if c.missCounter != nil {
		c.missCounter.Inc()
	}
	if c.onMiss != nil {
		c.onMiss(key)
	}
	return value, false
}

// Put adds or replaces a value in the cache.
func (c *LRUCache[V]) Put(key string, value V) {
	if c.items == nil {
		return
	}
	c.items.Add(key, value)
}

// PutIfAbsent adds value only if key is not cached yet and reports whether it was added.
func (c *LRUCache[V]) PutIfAbsent(key string, value V) bool {
	if c.items == nil {
		return false
	}
	found, _ := c.items.ContainsOrAdd(key, value)
	return !found
}

// Remove drops key from the cache.
func (c *LRUCache[V]) Remove(key string) {
	if c.items == nil {
		return
	}
	c.items.Remove(key)
}

// Len returns the current number of items in the cache.
func (c *LRUCache[V]) Len() int {
	if c.items == nil {
		return 0
	}
	return c.items.Len()
}

// Clear removes all entries from the cache and resets the hit rate.
func (c *LRUCache[V]) Clear() {
	if c.items != nil {
		c.items.Purge()
	}
	c.hits.Store(0)
	c.misses.Store(0)
}

// GetHitRate calculates the cache hit rate since creation or the last Clear.
func (c *LRUCache[V]) GetHitRate() float64 {
	hits := float64(c.hits.Load())
	misses := float64(c.misses.Load())
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return hits / total
}
