package steal

import (
	"context"
	"time"
)

// DefaultRebalanceInterval is how often the background rebalancer checks
// deque-size skew (spec.md §4.5, "default 1 s").
const DefaultRebalanceInterval = time.Second

// DefaultRebalanceRatio is the max/min deque-size ratio that triggers a
// rebalance (spec.md §4.5, "default 3×").
const DefaultRebalanceRatio = 3.0

// Rebalancer periodically moves tasks from the busiest deque to the
// least busy one when skew exceeds a threshold, independent of any idle
// executor's own steal attempts.
type Rebalancer[T any] struct {
	sched    *Scheduler[T]
	interval time.Duration
	ratio    float64
}

// NewRebalancer creates a rebalancer over sched's deques.
func NewRebalancer[T any](sched *Scheduler[T], interval time.Duration, ratio float64) *Rebalancer[T] {
	if interval <= 0 {
		interval = DefaultRebalanceInterval
	}
	if ratio <= 0 {
		ratio = DefaultRebalanceRatio
	}
	return &Rebalancer[T]{sched: sched, interval: interval, ratio: ratio}
}

// Run blocks, rebalancing at r.interval until ctx is cancelled.
func (r *Rebalancer[T]) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

// tick checks the current max/min deque-size ratio and, if it exceeds
// r.ratio, moves up to half the busiest deque's tasks to the least busy
// one.
func (r *Rebalancer[T]) tick() {
	busiest, idlest := -1, -1
	var maxSize, minSize int
	for i := range r.sched.deques {
		sz := r.sched.deques[i].Size()
		if busiest == -1 || sz > maxSize {
			busiest, maxSize = i, sz
		}
		if idlest == -1 || sz < minSize {
			idlest, minSize = i, sz
		}
	}
	if busiest == -1 || busiest == idlest {
		return
	}
	if minSize == 0 {
		if maxSize == 0 {
			return
		}
	} else if float64(maxSize)/float64(minSize) < r.ratio {
		return
	}

	n := maxSize / 2
	if n > r.sched.stealCap {
		n = r.sched.stealCap
	}
	if n <= 0 {
		return
	}
	items := r.sched.deques[busiest].StealN(n)
	for _, item := range items {
		r.sched.deques[idlest].PushBottom(item)
	}
	if len(items) > 0 {
		r.sched.Stats.recordSuccess(idlest, busiest, len(items))
	}
}
