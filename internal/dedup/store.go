// Package dedup tracks event identifiers that have already been admitted
// to the fetch pipeline.
package dedup

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is the number of identifiers retained before the oldest
// are evicted.
const DefaultCapacity = 1_000_000

// Store is a set of seen identifiers with optional FIFO eviction.
// Safe for concurrent use.
type Store struct {
	capacity int

	// bounded; ContainsOrAdd never refreshes recency, so eviction is
	// insertion ordered.
	cache   *lru.Cache[string, struct{}]
	evicted atomic.Int64

	// unbounded
	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates a store holding at most capacity identifiers.
// A capacity of 0 disables eviction.
func New(capacity int) *Store {
	if capacity <= 0 {
		return &Store{seen: make(map[string]struct{})}
	}
	s := &Store{capacity: capacity}
	// NewWithEvict only fails for a non-positive size.
	s.cache, _ = lru.NewWithEvict[string, struct{}](capacity, func(string, struct{}) {
		s.evicted.Add(1)
	})
	return s
}

// MarkIfNew records id and reports whether it had not been seen before.
// Test and insert are a single atomic step.
func (s *Store) MarkIfNew(id string) bool {
	if s.cache != nil {
		found, _ := s.cache.ContainsOrAdd(id, struct{}{})
		return !found
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// Len returns the number of tracked identifiers.
func (s *Store) Len() int {
	if s.cache != nil {
		return s.cache.Len()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Evicted returns how many identifiers have been dropped to honor capacity.
func (s *Store) Evicted() int64 {
	return s.evicted.Load()
}

// Capacity returns the configured bound, 0 when unbounded.
func (s *Store) Capacity() int {
	return s.capacity
}
