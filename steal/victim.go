package steal

import (
	"math/rand/v2"
)

// Victim identifies a steal candidate together with the deque size the
// selector observed when it chose it (spec.md §4.5).
type Victim struct {
	Index int
	Size  int
}

// Selector picks a victim to steal from, given thief's index and the
// current size of every executor's deque (thief's own entry included;
// selectors must exclude it themselves).
type Selector interface {
	Select(thief int, sizes []int, lastStolenFrom []int64, now int64) (Victim, bool)
}

// BusiestFirst scans all deques and picks the largest, breaking ties by
// preferring the least-recently-stolen-from victim to avoid convoying
// (repeatedly draining the same unlucky executor).
type BusiestFirst struct{}

func (BusiestFirst) Select(thief int, sizes []int, lastStolenFrom []int64, now int64) (Victim, bool) {
	best := -1
	for i, sz := range sizes {
		if i == thief || sz <= 0 {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		if sz > sizes[best] {
			best = i
		} else if sz == sizes[best] && lastStolenFrom[i] < lastStolenFrom[best] {
			best = i
		}
	}
	if best == -1 {
		return Victim{}, false
	}
	return Victim{Index: best, Size: sizes[best]}, true
}

// Random picks uniformly among non-empty deques excluding the thief.
type Random struct{}

func (Random) Select(thief int, sizes []int, lastStolenFrom []int64, now int64) (Victim, bool) {
	candidates := make([]int, 0, len(sizes))
	for i, sz := range sizes {
		if i != thief && sz > 0 {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return Victim{}, false
	}
	idx := candidates[rand.IntN(len(candidates))]
	return Victim{Index: idx, Size: sizes[idx]}, true
}

// RoundRobin walks candidates in order from a per-thief cursor.
type RoundRobin struct {
	cursors []int
}

// NewRoundRobin creates a round-robin selector for numThieves distinct
// thief indices.
func NewRoundRobin(numThieves int) *RoundRobin {
	return &RoundRobin{cursors: make([]int, numThieves)}
}

func (s *RoundRobin) Select(thief int, sizes []int, lastStolenFrom []int64, now int64) (Victim, bool) {
	n := len(sizes)
	start := s.cursors[thief]
	for i := range n {
		idx := (start + i) % n
		if idx == thief {
			continue
		}
		if sizes[idx] > 0 {
			s.cursors[thief] = (idx + 1) % n
			return Victim{Index: idx, Size: sizes[idx]}, true
		}
	}
	return Victim{}, false
}
