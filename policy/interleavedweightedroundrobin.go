package policy

import (
	"sync"
	"time"
)

// InterleavedWeightedRoundRobin produces the same long-run ratios as
// WeightedRoundRobin but with smoother short-run distribution: it walks
// round numbers from 1 to max(weight), and within each round selects any
// executor whose weight covers that round, before moving to the next
// round (spec.md §4.4).
type InterleavedWeightedRoundRobin struct {
	mu    sync.Mutex
	round int32
	pos   int
}

func NewInterleavedWeightedRoundRobin() *InterleavedWeightedRoundRobin {
	return &InterleavedWeightedRoundRobin{round: 1}
}

func (p *InterleavedWeightedRoundRobin) Select(candidates []Candidate, hint Hint) (Decision, bool) {
	ready := readyCandidates(candidates)
	if len(ready) == 0 {
		return Decision{}, false
	}

	if d, ok := honorAffinity(ready, hint, func(c Candidate) bool { return true }); ok {
		return d, true
	}

	var maxWeight int32 = 1
	for _, c := range ready {
		if w := c.Record.Weight(); w > maxWeight {
			maxWeight = w
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(ready)
	for range n*int(maxWeight) + 1 {
		if p.pos >= n {
			p.pos = 0
			p.round++
			if p.round > maxWeight {
				p.round = 1
			}
		}
		c := ready[p.pos]
		p.pos++
		w := c.Record.Weight()
		if w <= 0 {
			w = 1
		}
		if w >= p.round {
			return Decision{Index: c.Index, Reason: "interleaved-weighted-round-robin"}, true
		}
	}
	return Decision{Index: ready[0].Index, Reason: "interleaved-weighted-round-robin (fallback)"}, true
}

func (p *InterleavedWeightedRoundRobin) OnTaskComplete(executorIndex int, duration time.Duration, success bool) {
}
func (p *InterleavedWeightedRoundRobin) OnExecutorAdded(executorIndex int)   {}
func (p *InterleavedWeightedRoundRobin) OnExecutorRemoved(executorIndex int) {}

func (p *InterleavedWeightedRoundRobin) Reset() {
	p.mu.Lock()
	p.round = 1
	p.pos = 0
	p.mu.Unlock()
}
