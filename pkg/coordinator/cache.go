package coordinator

import (
	"container/list"
	"sync"
)

// resultCache is a bounded LRU of cached search result lists, with no
// TTL: the database facade invalidates it on mutation events instead
// of letting entries expire.
type resultCache struct {
	capacity int

	mu    sync.Mutex
	items map[cacheKey]*list.Element
	order *list.List

	hits   int64
	misses int64
}

type resultCacheEntry struct {
	key   cacheKey
	value []Result
}

func newResultCache(capacity int) *resultCache {
	return &resultCache{
		capacity: capacity,
		items:    make(map[cacheKey]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *resultCache) Get(key cacheKey) ([]Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return elem.Value.(*resultCacheEntry).value, true
}

func (c *resultCache) Put(key cacheKey, value []Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*resultCacheEntry).value = value
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&resultCacheEntry{key: key, value: value})
	c.items[key] = elem

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*resultCacheEntry).key)
		}
	}
}

// Clear drops every cached entry without resetting hit/miss counters.
func (c *resultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[cacheKey]*list.Element, c.capacity)
	c.order.Init()
}

// Len reports the current number of cached entries.
func (c *resultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats reports cache hit/miss counters.
func (c *resultCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
