package policy

import "time"

// LeastUsed chooses the ready executor minimizing total_completed
// (spec.md §4.4), favoring executors that have done less work overall
// rather than executors with less work queued right now.
type LeastUsed struct{}

func NewLeastUsed() *LeastUsed {
	return &LeastUsed{}
}

func (p *LeastUsed) Select(candidates []Candidate, hint Hint) (Decision, bool) {
	ready := readyCandidates(candidates)
	if len(ready) == 0 {
		return Decision{}, false
	}

	if d, ok := honorAffinity(ready, hint, func(c Candidate) bool { return true }); ok {
		return d, true
	}

	best := ready[0]
	for _, c := range ready[1:] {
		if c.Record.TotalCompleted() < best.Record.TotalCompleted() {
			best = c
		}
	}
	return Decision{Index: best.Index, Reason: "least-used"}, true
}

func (p *LeastUsed) OnTaskComplete(executorIndex int, duration time.Duration, success bool) {}
func (p *LeastUsed) OnExecutorAdded(executorIndex int)                                       {}
func (p *LeastUsed) OnExecutorRemoved(executorIndex int)                                     {}
func (p *LeastUsed) Reset()                                                                  {}
