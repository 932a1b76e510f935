// Package cache provides a small thread-safe LRU cache.
//
// The asset loader caches decoded images by URI and postfx pipelines share
// compiled programs per backend through one cache. Both workloads are small
// and read-mostly, so a single mutex guards the whole cache.
package cache

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the capacity used when New is given a non-positive value.
const DefaultCapacity = 64

// Cache is a thread-safe LRU cache.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	entries  map[K]*lruNode[K, V]
	lru      lruList[K, V]
	capacity int
	onEvict  func(K, V)

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// Stats holds cache statistics.
type Stats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// HitRate returns the hit ratio in [0, 1], or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// New creates a cache holding at most capacity entries.
// If capacity <= 0, DefaultCapacity is used.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache[K, V]{
		entries:  make(map[K]*lruNode[K, V]),
		capacity: capacity,
	}
}

// OnEvict registers fn to be called, outside the lock, for every entry
// removed by eviction, Delete or Clear.
func (c *Cache[K, V]) OnEvict(fn func(K, V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get retrieves a cached value by key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	node, ok := c.entries[key]
	if ok {
		c.lru.moveToFront(node)
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	return node.value, true
}

// Set stores a value, evicting the least recently used entries when the
// cache is full.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	if node, ok := c.entries[key]; ok {
		node.value = value
		c.lru.moveToFront(node)
		c.mu.Unlock()
		return
	}

	var evicted []*lruNode[K, V]
	for c.lru.len >= c.capacity {
		oldest := c.lru.removeOldest()
		if oldest == nil {
			break
		}
		delete(c.entries, oldest.key)
		evicted = append(evicted, oldest)
		c.evictions.Add(1)
	}
	c.entries[key] = c.lru.pushFront(key, value)
	onEvict := c.onEvict
	c.mu.Unlock()

	if onEvict != nil {
		for _, n := range evicted {
			onEvict(n.key, n.value)
		}
	}
}

// GetOrCreate returns the cached value for key, or calls create and caches
// its result. create runs outside the lock; concurrent callers for the same
// key may both run it, and the last result wins.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// Delete removes key from the cache.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	node, ok := c.entries[key]
	if ok {
		c.lru.remove(node)
		delete(c.entries, key)
	}
	onEvict := c.onEvict
	c.mu.Unlock()

	if ok && onEvict != nil {
		onEvict(node.key, node.value)
	}
}

// DeleteFunc removes every entry for which match returns true and reports
// how many were removed. match runs under the lock and must not call back
// into the cache.
func (c *Cache[K, V]) DeleteFunc(match func(K, V) bool) int {
	c.mu.Lock()
	var removed []*lruNode[K, V]
	for n := c.lru.head; n != nil; {
		next := n.next
		if match(n.key, n.value) {
			c.lru.remove(n)
			delete(c.entries, n.key)
			removed = append(removed, n)
		}
		n = next
	}
	onEvict := c.onEvict
	c.mu.Unlock()

	if onEvict != nil {
		for _, n := range removed {
			onEvict(n.key, n.value)
		}
	}
	return len(removed)
}

// Clear removes all entries. Statistics are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	var removed []*lruNode[K, V]
	if c.onEvict != nil {
		for n := c.lru.head; n != nil; n = n.next {
			removed = append(removed, n)
		}
	}
	c.entries = make(map[K]*lruNode[K, V])
	c.lru = lruList[K, V]{}
	onEvict := c.onEvict
	c.mu.Unlock()

	for _, n := range removed {
		onEvict(n.key, n.value)
	}
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.len
}

// Stats returns a snapshot of cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Len:       c.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
