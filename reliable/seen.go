// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package reliable

import (
	"sync"

	"github.com/creachadair/mds/mapset"
)

// DefaultSeenLimit is the default capacity of a [SeenSet].
const DefaultSeenLimit = 4096

// A SeenSet records the IDs of inbound messages that have already been
// processed, so that retransmitted copies can be suppressed. When the set is
// full the oldest IDs are forgotten first. A SeenSet is safe for concurrent
// use.
type SeenSet struct {
	μ     sync.Mutex
	ids   mapset.Set[uint16]
	order []uint16 // insertion order, oldest first
	limit int
}

// NewSeenSet constructs an empty set that remembers at most limit IDs.
// If limit ≤ 0, DefaultSeenLimit is used.
func NewSeenSet(limit int) *SeenSet {
	if limit <= 0 {
		limit = DefaultSeenLimit
	}
	return &SeenSet{ids: mapset.New[uint16](), limit: limit}
}

// Add adds id to the set and reports whether it was new. A false result
// means id is a duplicate.
func (s *SeenSet) Add(id uint16) bool {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.ids.Has(id) {
		trackerMetrics.duplicates.Inc()
		return false
	}
	if len(s.order) >= s.limit {
		s.ids.Remove(s.order[0])
		s.order = s.order[1:]
	}
	s.ids.Add(id)
	s.order = append(s.order, id)
	return true
}

// Len reports the number of IDs currently remembered.
func (s *SeenSet) Len() int {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.ids.Len()
}
