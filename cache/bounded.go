// Package cache provides a bounded, value-keyed cache whose lifetime is tied
// to the render context that owns it.
package cache

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Bounded is a least-recently-used cache holding at most capacity entries.
// Evicted, replaced and purged values are handed to the eviction callback so
// that owners can release native resources deterministically. The callback
// must not call back into the cache.
type Bounded[K comparable, V any] struct {
	// Serializes writers so replaced values are released exactly once.
	mu      sync.Mutex
	entries *lru.Cache[K, V]
	onEvict func(K, V)

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Create a new cache. A capacity < 1 is treated as 1.
func New[K comparable, V any](capacity int, onEvict func(K, V)) *Bounded[K, V] {
	if capacity < 1 {
		capacity = 1
	}

	c := &Bounded[K, V]{onEvict: onEvict}
	var err error
	if onEvict != nil {
		c.entries, err = lru.NewWithEvict[K, V](capacity, onEvict)
	} else {
		c.entries, err = lru.New[K, V](capacity)
	}
	if err != nil {
		// Only returned for non-positive sizes
		panic(err)
	}
	return c
}

// Lookup a cached value.
func (c *Bounded[K, V]) Get(key K) (V, bool) {
	v, ok := c.entries.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Store a value, evicting the least recently used entry if the cache is full.
// Replacing the value of an existing key evicts the previous value.
func (c *Bounded[K, V]) Put(key K, value V) {
	c.mu.Lock()
	old, replaced := c.entries.Peek(key)
	c.entries.Add(key, value)
	c.mu.Unlock()

	if replaced {
		c.release(key, old)
	}
}

// Get a cached value or build and cache it. The builder runs without holding
// the cache lock; if two callers race the first stored value wins and the
// other one is released.
func (c *Bounded[K, V]) GetOrCreate(key K, build func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := build()
	if err != nil {
		return v, err
	}

	c.mu.Lock()
	existing, found, _ := c.entries.PeekOrAdd(key, v)
	c.mu.Unlock()

	if found {
		c.release(key, v)
		return existing, nil
	}
	return v, nil
}

// Number of cached entries.
func (c *Bounded[K, V]) Len() int {
	return c.entries.Len()
}

// Hit and miss counters.
func (c *Bounded[K, V]) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Drop all entries invoking the eviction callback for each one.
func (c *Bounded[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

func (c *Bounded[K, V]) release(key K, value V) {
	if c.onEvict != nil {
		c.onEvict(key, value)
	}
}
