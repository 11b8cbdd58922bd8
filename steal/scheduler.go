package steal

import (
	"sync"
	"time"

	"code.hybscloud.com/spin"
)

// DefaultCooldown is the per-thief minimum interval between steal attempts
// (spec.md §4.5, "default 10 ms since last attempt").
const DefaultCooldown = 10 * time.Millisecond

// DefaultStealCap bounds how many tasks a single steal transaction moves,
// together with half the victim's size (spec.md §4.5: "up to
// min(half_of_victim, steal_cap)").
const DefaultStealCap = 32

// maxStealAttempts bounds the retry loop for a single steal call before it
// abandons (spec.md §4.5: "retry the whole attempt up to a small bound,
// then abandon").
const maxStealAttempts = 4

// Stats are the scheduler's work-stealing counters (spec.md §4.5:
// "attempts, successes, tasks transferred, by victim and thief").
type Stats struct {
	mu               sync.Mutex
	attempts         map[int]int64 // by thief
	successes        map[int]int64 // by thief
	tasksTransferred map[int]int64 // by thief
	stolenFromCount  map[int]int64 // by victim
}

func newStats(n int) *Stats {
	return &Stats{
		attempts:         make(map[int]int64, n),
		successes:        make(map[int]int64, n),
		tasksTransferred: make(map[int]int64, n),
		stolenFromCount:  make(map[int]int64, n),
	}
}

func (s *Stats) recordAttempt(thief int) {
	s.mu.Lock()
	s.attempts[thief]++
	s.mu.Unlock()
}

func (s *Stats) recordSuccess(thief, victim int, n int) {
	s.mu.Lock()
	s.successes[thief]++
	s.tasksTransferred[thief] += int64(n)
	s.stolenFromCount[victim]++
	s.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the counters for index i.
func (s *Stats) Snapshot(i int) (attempts, successes, tasksTransferred, stolenFrom int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[i], s.successes[i], s.tasksTransferred[i], s.stolenFromCount[i]
}

// Scheduler owns one Deque[T] per executor and coordinates stealing
// between them (spec.md §4.5).
type Scheduler[T any] struct {
	deques   []*Deque[T]
	selector Selector
	stealCap int
	cooldown time.Duration
	lastAt   []int64 // unix nanos, last steal attempt per thief
	lastFrom []int64 // unix nanos, last time this index was stolen from (for BusiestFirst tie-break)
	Stats    *Stats
}

// NewScheduler creates a scheduler with one deque per executor.
func NewScheduler[T any](numExecutors int, selector Selector, stealCap int, cooldown time.Duration) *Scheduler[T] {
	if stealCap <= 0 {
		stealCap = DefaultStealCap
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	deques := make([]*Deque[T], numExecutors)
	for i := range deques {
		deques[i] = NewDeque[T](64)
	}
	return &Scheduler[T]{
		deques:   deques,
		selector: selector,
		stealCap: stealCap,
		cooldown: cooldown,
		lastAt:   make([]int64, numExecutors),
		lastFrom: make([]int64, numExecutors),
		Stats:    newStats(numExecutors),
	}
}

// Deque returns the executor's own deque (owner-side push/pop).
func (s *Scheduler[T]) Deque(i int) *Deque[T] {
	return s.deques[i]
}

// TryLocal pops from the thief's own deque, the first thing an idle
// executor does before attempting to steal.
func (s *Scheduler[T]) TryLocal(thief int) (T, bool) {
	return s.deques[thief].PopBottom()
}

// Steal attempts one victim selection + half-steal transaction for
// thief, honoring the per-thief cooldown. Returns the stolen items (the
// thief queues all but the first onto its own deque and runs the first)
// and whether the attempt produced anything.
func (s *Scheduler[T]) Steal(thief int, nowUnixNano int64) ([]T, bool) {
	if nowUnixNano-s.lastAt[thief] < s.cooldown.Nanoseconds() {
		return nil, false
	}
	s.lastAt[thief] = nowUnixNano

	sizes := make([]int, len(s.deques))
	for i, d := range s.deques {
		sizes[i] = d.Size()
	}

	backoff := spin.Wait{}
	for range maxStealAttempts {
		s.Stats.recordAttempt(thief)

		victim, ok := s.selector.Select(thief, sizes, s.lastFrom, nowUnixNano)
		if !ok {
			return nil, false
		}

		n := victim.Size / 2
		if n > s.stealCap {
			n = s.stealCap
		}
		if n <= 0 {
			return nil, false
		}

		items := s.deques[victim.Index].StealN(n)
		if len(items) > 0 {
			s.lastFrom[victim.Index] = nowUnixNano
			s.Stats.recordSuccess(thief, victim.Index, len(items))
			return items, true
		}

		// victim was drained by another thief between observation and
		// transaction; refresh and retry within the bound
		sizes[victim.Index] = s.deques[victim.Index].Size()
		backoff.Once()
	}
	return nil, false
}
