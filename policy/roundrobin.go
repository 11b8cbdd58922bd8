package policy

import (
	"sync/atomic"
	"time"

	"code.hybscloud.com/wpool/executor"
)

// RoundRobin rotates a cursor across executors, skipping non-ready ones;
// if no ready executor exists, it returns the next cursor target anyway
// so the task is locally queued (spec.md §4.4).
type RoundRobin struct {
	cursor atomic.Uint64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (p *RoundRobin) Select(candidates []Candidate, hint Hint) (Decision, bool) {
	if len(candidates) == 0 {
		return Decision{}, false
	}

	if d, ok := honorAffinity(candidates, hint, func(c Candidate) bool { return true }); ok {
		return d, true
	}

	start := int(p.cursor.Add(1) - 1)
	n := len(candidates)

	for i := range n {
		c := candidates[(start+i)%n]
		if c.Record.State() == executor.StateReady {
			return Decision{Index: c.Index, Reason: "round-robin"}, true
		}
	}

	// nobody ready: return the raw cursor target, task will be queued
	c := candidates[start%n]
	return Decision{Index: c.Index, Reason: "round-robin (no idle executor)"}, true
}

func (p *RoundRobin) OnTaskComplete(executorIndex int, duration time.Duration, success bool) {}
func (p *RoundRobin) OnExecutorAdded(executorIndex int)                                       {}
func (p *RoundRobin) OnExecutorRemoved(executorIndex int)                                     {}
func (p *RoundRobin) Reset()                                                                  { p.cursor.Store(0) }
