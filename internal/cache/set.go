// Package cache implements the Orchestrator's bounded, process-local soft
// caches. These are advisory only: losing an entry (on eviction or restart)
// degrades to redundant work, never to incorrect state, since every cache
// here short-circuits an operation the Pipeline State Store would otherwise
// reconstruct from durable Host data.
package cache

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Set is a capacity-bounded set of composite string keys (e.g.
// "issue:agent:pr"), used to remember work already done without needing to
// query the Host again. When Add would exceed Capacity, the oldest
// EvictCount entries (by insertion order) are evicted to make room.
//
// Keys are hashed with xxhash before storage so the entry size is fixed
// regardless of how long the composite key is.
type Set struct {
	mu         sync.Mutex
	capacity   int
	evictCount int
	entries    map[uint64]struct{}
	order      []uint64
}

// NewSet constructs a Set. capacity is the maximum number of entries kept
// before eviction kicks in; evictCount is how many of the oldest entries are
// dropped once that happens.
func NewSet(capacity, evictCount int) *Set {
	return &Set{
		capacity:   capacity,
		evictCount: evictCount,
		entries:    make(map[uint64]struct{}, capacity),
	}
}

func hashKey(key string) uint64 {
	return xxhash.Sum64String(key)
}

// Contains reports whether key was previously Added.
func (s *Set) Contains(key string) bool {
	h := hashKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[h]
	return ok
}

// Add records key, evicting the oldest entries first if the set is full.
// Re-adding an existing key is a no-op and does not refresh its position.
func (s *Set) Add(key string) {
	h := hashKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[h]; ok {
		return
	}

	if len(s.order) >= s.capacity {
		n := s.evictCount
		if n > len(s.order) {
			n = len(s.order)
		}
		for _, old := range s.order[:n] {
			delete(s.entries, old)
		}
		s.order = s.order[n:]
	}

	s.entries[h] = struct{}{}
	s.order = append(s.order, h)
}

// Len returns the current number of entries.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
