// Package seenset implements the bounded FIFO of recently observed
// packet IDs used for mesh deduplication (C4, §3, §4.4).
package seenset

import (
	"container/list"
	"sync"

	"github.com/gosuda/bitchat-mesh/internal/packet"
)

// DefaultCapacity is N_seen's default value; §3 allows 10-1000.
const DefaultCapacity = 500

// MinCapacity and MaxCapacity bound the configurable range from §3.
const (
	MinCapacity = 10
	MaxCapacity = 1000
)

// SeenSet is a bounded FIFO of packet IDs: insertion order governs
// eviction, and membership queries are O(1) via an auxiliary index.
// A single mutex guards it; §5 notes contention is low because every
// operation here is O(1).
type SeenSet struct {
	mu       sync.Mutex
	capacity int
	order    *list.List               // front = oldest, back = newest
	index    map[string]*list.Element // ID.Key() -> list element
}

// New creates a SeenSet with the given capacity, clamped to
// [MinCapacity, MaxCapacity].
func New(capacity int) *SeenSet {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	if capacity > MaxCapacity {
		capacity = MaxCapacity
	}
	return &SeenSet{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Contains reports whether id has already been observed.
func (s *SeenSet) Contains(id packet.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id.Key()]
	return ok
}

// Insert records id as seen. Re-inserting an already-seen ID is a
// no-op and does not grow the set or change its eviction order
// (invariant §8.5). Returns true if the ID was newly added.
func (s *SeenSet) Insert(id packet.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := id.Key()
	if _, ok := s.index[key]; ok {
		return false
	}

	elem := s.order.PushBack(key)
	s.index[key] = elem

	if s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(string))
	}
	return true
}

// Len returns the current number of tracked IDs.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// RecentIDs returns up to n of the most-recently inserted IDs, newest
// last. Used by the sync engine (C8) to sample the filter it gossips.
func (s *SeenSet) RecentIDs(n int) []packet.ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > s.order.Len() {
		n = s.order.Len()
	}
	out := make([]packet.ID, 0, n)
	elem := s.order.Back()
	for i := 0; i < n && elem != nil; i++ {
		out = append(out, packet.ID(elem.Value.(string)))
		elem = elem.Prev()
	}
	// Restore oldest-first order for deterministic consumption downstream.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
