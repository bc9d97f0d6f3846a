// Package meshstore holds the recent-packet cache the sync engine (C8)
// walks when answering a peer's REQUEST_SYNC filter, plus an optional
// pebble-backed persistent store for identity/fingerprint bindings that
// need to survive a restart.
package meshstore

import (
	"sync"

	"github.com/gosuda/bitchat-mesh/internal/packet"
)

// Entry is one cached packet: its ID for filter comparison, enough
// metadata to apply REQUEST_SYNC's optional filters, and its encoded bytes
// ready for retransmission.
type Entry struct {
	ID         packet.ID
	Type       packet.Type
	FragmentID [8]byte
	Timestamp  uint64
	Data       []byte
}

// Cache is a capacity-bounded FIFO of recently observed packets, keyed by
// packet ID, mirroring the seen-set's eviction discipline but also
// retaining the serialized bytes so the sync engine can replay them.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	order    []packet.ID
	entries  map[string]Entry
}

// NewCache creates a Cache holding at most capacity entries.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]Entry, capacity),
	}
}

// Put records e, evicting the oldest entry if the cache is at capacity.
// Re-putting an already-cached ID updates its entry in place without
// changing eviction order.
func (c *Cache) Put(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := e.ID.Key()
	if _, exists := c.entries[key]; exists {
		c.entries[key] = e
		return
	}

	c.entries[key] = e
	c.order = append(c.order, e.ID)
	if len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest.Key())
	}
}

// Filter options for walking the cache. A nil/zero field means "no
// constraint" for that dimension.
type Filter struct {
	Type          *packet.Type
	SinceTimestamp uint64
	FragmentID    *[8]byte
}

// Walk returns every cached entry matching f, oldest first.
func (c *Cache) Walk(f Filter) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.order))
	for _, id := range c.order {
		e, ok := c.entries[id.Key()]
		if !ok {
			continue
		}
		if f.Type != nil && e.Type != *f.Type {
			continue
		}
		if e.Timestamp < f.SinceTimestamp {
			continue
		}
		if f.FragmentID != nil && e.FragmentID != *f.FragmentID {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}
