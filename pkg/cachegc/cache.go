// Package cachegc bounds an LRU cache with a time-to-live per entry.
package cachegc

import (
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
)

// Cache is a local in-memory caching layer.
type Cache struct {
	simplelru.LRUCache
	TTL time.Duration
}

type cacheEntry struct {
	data        interface{}
	lastUpdated time.Time
}

// NewCache creates a new caching layer that keeps the number of entries specified.
func NewCache(cache simplelru.LRUCache, ttl time.Duration) *Cache {
	return &Cache{LRUCache: cache, TTL: ttl}
}

// Add inserts an entry, stamping it with the current time.
func (c *Cache) Add(key, value interface{}) bool {
	return c.LRUCache.Add(key, &cacheEntry{
		data:        value,
		lastUpdated: time.Now(),
	})
}

// Get returns an item in the cache, ignoring expired items.
func (c *Cache) Get(key interface{}) (value interface{}, ok bool) {
	entryI, ok := c.LRUCache.Get(key)
	if !ok {
		return nil, false
	}
	entry := entryI.(*cacheEntry)
	if time.Since(entry.lastUpdated) > c.TTL {
		c.LRUCache.Remove(key)
		c.GetOldest() // trigger GC
		return nil, false
	}
	return entry.data, true
}

// Peek returns an item without updating recency, ignoring expired items.
func (c *Cache) Peek(key interface{}) (value interface{}, ok bool) {
	entryI, ok := c.LRUCache.Peek(key)
	if !ok {
		return nil, false
	}
	entry := entryI.(*cacheEntry)
	if time.Since(entry.lastUpdated) > c.TTL {
		return nil, false
	}
	return entry.data, true
}

// GetOldest gets the oldest item that is not expired.
func (c *Cache) GetOldest() (interface{}, interface{}, bool) {
	now := time.Now()
	for {
		key, entryI, ok := c.LRUCache.GetOldest()
		if !ok {
			return nil, nil, false
		}
		entry := entryI.(*cacheEntry)
		if now.Sub(entry.lastUpdated) <= c.TTL {
			return key, entry.data, true
		}
		c.LRUCache.Remove(key)
	}
}
