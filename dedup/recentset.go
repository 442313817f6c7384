// Package dedup implements the bounded recent-ids set used to suppress
// duplicate envelope delivery across channels.
package dedup

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is the default size of a RecentSet.
const DefaultCapacity = 20000

// RecentSet is a fixed-capacity, insertion-order set: Add reports
// whether a value has been seen before, and evicts the oldest insertion
// once the set is full. It is backed by an LRU cache used strictly as an
// insertion-ordered bounded set — Contains never promotes an entry's
// recency, so "oldest" always means "oldest inserted" rather than a true
// least-recently-used policy.
type RecentSet struct {
	cache *lru.Cache[uint64, struct{}]
}

// New returns a RecentSet with the given capacity. Capacity must be > 0.
func New(capacity int) *RecentSet {
	cache, err := lru.New[uint64, struct{}](capacity)
	if err != nil {
		// Only returns an error for capacity <= 0, which is a
		// programmer error here.
		panic(err)
	}
	return &RecentSet{cache: cache}
}

// Add reports true the first time id is seen, false on any subsequent
// call while id is still within the capacity window. On overflow the
// oldest insertion is evicted automatically by the underlying cache.
func (s *RecentSet) Add(id uint64) bool {
	if s.cache.Contains(id) {
		return false
	}
	s.cache.Add(id, struct{}{})
	return true
}

// Len reports the number of ids currently tracked.
func (s *RecentSet) Len() int {
	return s.cache.Len()
}
