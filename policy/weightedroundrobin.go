package policy

import (
	"sync"
	"time"
)

// WeightedRoundRobin is the classical weighted round robin: a current-
// weight counter stepped down by gcd(weights) each full cycle, selecting
// the next executor whose weight covers the counter, producing the
// correct long-run dispatch ratios (spec.md §4.4).
type WeightedRoundRobin struct {
	mu         sync.Mutex
	lastIndex  int
	currWeight int32
}

func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{lastIndex: -1}
}

func (p *WeightedRoundRobin) Select(candidates []Candidate, hint Hint) (Decision, bool) {
	ready := readyCandidates(candidates)
	if len(ready) == 0 {
		return Decision{}, false
	}

	if d, ok := honorAffinity(ready, hint, func(c Candidate) bool { return true }); ok {
		return d, true
	}

	weights := make([]int32, len(ready))
	var maxWeight int32
	g := int32(0)
	for i, c := range ready {
		w := c.Record.Weight()
		if w <= 0 {
			w = 1
		}
		weights[i] = w
		if w > maxWeight {
			maxWeight = w
		}
		g = gcd32(g, w)
	}
	if g == 0 {
		g = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(ready)
	for range n*int(maxWeight/g) + n + 1 {
		p.lastIndex = (p.lastIndex + 1) % n
		if p.lastIndex == 0 {
			p.currWeight -= g
			if p.currWeight <= 0 {
				p.currWeight = maxWeight
			}
		}
		if weights[p.lastIndex] >= p.currWeight {
			return Decision{Index: ready[p.lastIndex].Index, Reason: "weighted-round-robin"}, true
		}
	}
	// degenerate fallback, should not be reached given the loop bound above
	return Decision{Index: ready[0].Index, Reason: "weighted-round-robin (fallback)"}, true
}

func (p *WeightedRoundRobin) OnTaskComplete(executorIndex int, duration time.Duration, success bool) {
}
func (p *WeightedRoundRobin) OnExecutorAdded(executorIndex int)   {}
func (p *WeightedRoundRobin) OnExecutorRemoved(executorIndex int) {}

func (p *WeightedRoundRobin) Reset() {
	p.mu.Lock()
	p.lastIndex = -1
	p.currWeight = 0
	p.mu.Unlock()
}

func gcd32(a, b int32) int32 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}
