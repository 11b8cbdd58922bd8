package policy

import "time"

// LeastBusy chooses the ready executor minimizing active_tasks +
// queued_tasks, early-exiting on zero (spec.md §4.4).
type LeastBusy struct{}

func NewLeastBusy() *LeastBusy {
	return &LeastBusy{}
}

func (p *LeastBusy) Select(candidates []Candidate, hint Hint) (Decision, bool) {
	ready := readyCandidates(candidates)
	if len(ready) == 0 {
		return Decision{}, false
	}

	eligible := func(c Candidate) bool { return true }
	if d, ok := honorAffinity(ready, hint, eligible); ok {
		return d, true
	}

	best := ready[0]
	bestLoad := int(best.Record.ActiveTasks()) + best.QueuedTasks
	for _, c := range ready[1:] {
		load := int(c.Record.ActiveTasks()) + c.QueuedTasks
		if load == 0 {
			return Decision{Index: c.Index, Reason: "least-busy (idle)"}, true
		}
		if load < bestLoad {
			best, bestLoad = c, load
		}
	}
	return Decision{Index: best.Index, Reason: "least-busy"}, true
}

func (p *LeastBusy) OnTaskComplete(executorIndex int, duration time.Duration, success bool) {}
func (p *LeastBusy) OnExecutorAdded(executorIndex int)                                       {}
func (p *LeastBusy) OnExecutorRemoved(executorIndex int)                                     {}
func (p *LeastBusy) Reset()                                                                  {}
