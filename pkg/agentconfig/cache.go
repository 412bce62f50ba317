package agentconfig

import (
	"strings"
	"sync"
	"time"
)

// CacheStats is a snapshot of cache activity.
type CacheStats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type cacheEntry struct {
	value   *Resolved
	addedAt time.Time
}

// fifoCache is a TTL cache with oldest-inserted-first eviction on overflow.
// This is deliberately FIFO, not LRU: entries expire by TTL at read time and
// the bound only matters under unusual key churn, so insertion order is a
// sufficient eviction key.
type fifoCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string
	max     int
	ttl     time.Duration
	now     func() time.Time

	hits      uint64
	misses    uint64
	evictions uint64
}

func newFIFOCache(max int, ttl time.Duration) *fifoCache {
	return &fifoCache{
		entries: make(map[string]cacheEntry),
		max:     max,
		ttl:     ttl,
		now:     time.Now,
	}
}

// get returns the cached value if present and unexpired.
func (c *fifoCache) get(key string) (*Resolved, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(e.addedAt) > c.ttl {
		c.removeLocked(key)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// set stores a value, evicting the oldest-inserted entry on overflow.
// Replacing an existing key keeps its insertion position.
func (c *fifoCache) set(key string, value *Resolved) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if len(c.entries) >= c.max && len(c.order) > 0 {
			c.removeLocked(c.order[0])
			c.evictions++
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{value: value, addedAt: c.now()}
}

// invalidatePrefix removes every entry whose key starts with prefix and
// returns the count removed.
func (c *fifoCache) invalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(key)
			removed++
		}
	}
	return removed
}

// clear empties the cache.
func (c *fifoCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.order = nil
}

// stats snapshots cache activity.
func (c *fifoCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *fifoCache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
