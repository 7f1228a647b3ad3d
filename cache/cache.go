// Package cache provides the shared state primitives used by stateful
// processors: a size-bounded TTL cache with LRU eviction, and a registry
// of named locks for per-key critical sections.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Entry pairs a cached value with its creation time. TTL expiry is
// measured against CreatedAt; recency is tracked separately for LRU.
type entry struct {
	key       string
	value     any
	createdAt time.Time
}

// Cache is a mutex-serialized map with a maximum size, optional TTL,
// and O(1) amortized LRU eviction. The zero value is not usable; use New.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration // zero means no expiration

	order   *list.List // front = most recently used
	entries map[string]*list.Element

	hits      int64
	misses    int64
	evictions int64

	now func() time.Time // test hook
}

// New creates a cache holding at most maxSize entries. ttl of zero
// disables expiration. maxSize must be positive.
func New(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

// GetOrCreate returns the value for key if present and unexpired;
// otherwise it runs factory once under the cache lock, stores the
// result, and returns it. The factory must not call back into the cache.
func (c *Cache) GetOrCreate(key string, factory func() (any, error)) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	v, err := factory()
	if err != nil {
		return nil, err
	}
	c.store(key, v)
	return v, nil
}

// Get returns the value for key, or (nil, false) when absent or
// expired. Expired entries are removed on the way out. Access updates
// recency.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(key)
}

// Set stores a value, refreshing its creation time and recency.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value)
}

// Delete removes key. Returns true if it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	c.remove(elem)
	return true
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// CleanupExpired removes all expired entries and returns how many were
// removed. A no-op when the cache has no TTL.
func (c *Cache) CleanupExpired() int {
	if c.ttl <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.ttl)
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*entry).createdAt.Before(cutoff) {
			c.remove(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Utilization returns len/maxSize in [0,1].
func (c *Cache) Utilization() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(len(c.entries)) / float64(c.maxSize)
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Size      int
	MaxSize   int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Keys returns all live keys, most recently used first.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry).key)
	}
	return keys
}

// lookup returns the unexpired value for key and bumps recency.
// Caller must hold mu.
func (c *Cache) lookup(key string) (any, bool) {
	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	ent := elem.Value.(*entry)
	if c.ttl > 0 && c.now().Sub(ent.createdAt) > c.ttl {
		c.remove(elem)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return ent.value, true
}

// store inserts or refreshes key and enforces the size bound.
// Caller must hold mu.
func (c *Cache) store(key string, value any) {
	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry)
		ent.value = value
		ent.createdAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&entry{key: key, value: value, createdAt: c.now()})
	c.entries[key] = elem

	for len(c.entries) > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest)
		c.evictions++
	}
}

// remove unlinks an element. Caller must hold mu.
func (c *Cache) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*entry).key)
}
