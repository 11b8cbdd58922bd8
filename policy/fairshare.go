package policy

import (
	"sync"
	"time"
)

// fairShareAlpha is the exponential-moving-average weight for updating an
// executor's tracked task duration on completion (spec.md §4.4, default
// 0.7: "weight α ∈ (0,1), default 0.7").
const fairShareAlpha = 0.7

// FairShare chooses the ready executor minimizing total_execution_time +
// active_tasks·avg_task_duration, where total_execution_time is itself an
// EMA of completed task durations rather than a raw cumulative sum, so the
// quantity stays bounded under long-running pools (spec.md §4.4). Cold
// start (no executor has completed a task yet) falls back to round-robin.
type FairShare struct {
	mu     sync.Mutex
	avgDur map[int]time.Duration

	rr *RoundRobin
}

func NewFairShare() *FairShare {
	return &FairShare{
		avgDur: make(map[int]time.Duration),
		rr:     NewRoundRobin(),
	}
}

func (p *FairShare) cost(index int, activeTasks int32) (time.Duration, bool) {
	p.mu.Lock()
	avg, ok := p.avgDur[index]
	p.mu.Unlock()
	if !ok {
		return 0, false
	}
	return avg + time.Duration(activeTasks)*avg, true
}

func (p *FairShare) Select(candidates []Candidate, hint Hint) (Decision, bool) {
	ready := readyCandidates(candidates)
	if len(ready) == 0 {
		return Decision{}, false
	}

	p.mu.Lock()
	seen := len(p.avgDur)
	p.mu.Unlock()
	if seen == 0 {
		d, ok := p.rr.Select(ready, hint)
		if ok {
			d.Reason = "fair-share (cold start, round-robin)"
		}
		return d, ok
	}

	type scored struct {
		c    Candidate
		cost time.Duration
		seen bool
	}
	scoredList := make([]scored, len(ready))
	var sum time.Duration
	var scoredCount int
	for i, c := range ready {
		cost, ok := p.cost(c.Index, c.Record.ActiveTasks())
		scoredList[i] = scored{c: c, cost: cost, seen: ok}
		if ok {
			sum += cost
			scoredCount++
		}
	}

	var mean time.Duration
	if scoredCount > 0 {
		mean = sum / time.Duration(scoredCount)
	}

	if hint.AffinityIndex >= 0 {
		for _, s := range scoredList {
			if s.c.Index != hint.AffinityIndex {
				continue
			}
			if !s.seen {
				break // unseen executors have no fairness baseline yet
			}
			delta := s.cost - mean
			if delta < 0 {
				delta = -delta
			}
			if mean == 0 || delta <= mean/5 { // within 20% of the mean
				return Decision{Index: s.c.Index, Reason: "affinity"}, true
			}
			break
		}
	}

	best := scoredList[0]
	for _, s := range scoredList[1:] {
		// unseen (never completed a task) sorts as most attractive, same
		// as a zero EMA would, so new executors get their first task
		if !s.seen {
			return Decision{Index: s.c.Index, Reason: "fair-share (untried executor)"}, true
		}
		if s.cost < best.cost {
			best = s
		}
	}
	return Decision{Index: best.c.Index, Reason: "fair-share"}, true
}

func (p *FairShare) OnTaskComplete(executorIndex int, duration time.Duration, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.avgDur[executorIndex]
	if !ok {
		p.avgDur[executorIndex] = duration
		return
	}
	p.avgDur[executorIndex] = time.Duration(fairShareAlpha*float64(duration) + (1-fairShareAlpha)*float64(prev))
}

func (p *FairShare) OnExecutorAdded(executorIndex int) {}

func (p *FairShare) OnExecutorRemoved(executorIndex int) {
	p.mu.Lock()
	delete(p.avgDur, executorIndex)
	p.mu.Unlock()
}

func (p *FairShare) Reset() {
	p.mu.Lock()
	clear(p.avgDur)
	p.mu.Unlock()
	p.rr.Reset()
}
