// Package cache implements the directory's fixed-capacity file location
// cache.
//
// The cache short-circuits index walks on the hot lookup path: it maps a
// file name to the slot index of its owning node. Entries are evicted least
// recently used, with ties resolved by lowest slot position, and are
// invalidated on delete, registration rebuild, and node purge.
package cache

import (
	"sync"
	"time"

	"github.com/prosefs/prosefs/internal/logger"
)

// DefaultCapacity is the number of entries a directory keeps by default.
const DefaultCapacity = 16

type entry struct {
	filename  string
	nodeIndex int
	lastUsed  int64
	valid     bool
}

// Cache is a fixed-size LRU map from file name to node index.
//
// All operations are guarded by one mutex; the structure is a flat slot
// array scanned linearly, which at this capacity beats anything fancier.
type Cache struct {
	mu    sync.Mutex
	slots []entry
	now   func() int64

	hits   uint64
	misses uint64
}

// New returns a cache with the given capacity. Non-positive capacities fall
// back to DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		slots: make([]entry, capacity),
		now:   func() int64 { return time.Now().UnixNano() },
	}
}

// Lookup returns the cached node index for filename. The second return is
// false on a miss. A hit refreshes the entry's recency.
func (c *Cache) Lookup(filename string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.slots {
		if c.slots[i].valid && c.slots[i].filename == filename {
			c.slots[i].lastUsed = c.now()
			c.hits++
			logger.Debug("Cache hit for '%s'", filename)
			return c.slots[i].nodeIndex, true
		}
	}
	c.misses++
	logger.Debug("Cache miss for '%s'", filename)
	return -1, false
}

// Add inserts or refreshes the mapping for filename, evicting the least
// recently used entry when full. Ties on recency evict the lowest slot.
func (c *Cache) Add(filename string, nodeIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Prefer an existing entry for the same name, then a free slot, then
	// the stalest slot. Strict less-than keeps the lowest index on ties.
	victim := -1
	var oldest int64
	for i := range c.slots {
		if c.slots[i].valid && c.slots[i].filename == filename {
			victim = i
			break
		}
	}
	if victim == -1 {
		for i := range c.slots {
			if !c.slots[i].valid {
				victim = i
				break
			}
			if victim == -1 || c.slots[i].lastUsed < oldest {
				oldest = c.slots[i].lastUsed
				victim = i
			}
		}
	}

	if c.slots[victim].valid && c.slots[victim].filename != filename {
		logger.Debug("Cache evicting '%s' for '%s'", c.slots[victim].filename, filename)
	}
	c.slots[victim] = entry{
		filename:  filename,
		nodeIndex: nodeIndex,
		lastUsed:  c.now(),
		valid:     true,
	}
}

// Invalidate drops the entry for filename if present.
func (c *Cache) Invalidate(filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.slots {
		if c.slots[i].valid && c.slots[i].filename == filename {
			c.slots[i].valid = false
			logger.Debug("Cache invalidated '%s'", filename)
			return
		}
	}
}

// InvalidateNode drops every entry pointing at the given node slot.
func (c *Cache) InvalidateNode(nodeIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.slots {
		if c.slots[i].valid && c.slots[i].nodeIndex == nodeIndex {
			c.slots[i].valid = false
		}
	}
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
