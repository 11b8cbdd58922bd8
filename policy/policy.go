// Package policy implements the pool's pluggable selection policies
// (spec.md §4.4): round-robin, least-busy, least-used, fair-share,
// weighted-round-robin, and interleaved-weighted-round-robin.
package policy

import (
	"time"

	"code.hybscloud.com/wpool/executor"
)

// Hint is the selection hint the coordinator attaches to a pick request:
// an affinity-nominated executor index, a task type, and an estimated
// duration, any of which a policy may use or ignore.
type Hint struct {
	AffinityIndex    int // -1 if no affinity nomination
	TaskType         string
	EstimatedDuration time.Duration
}

// Candidate is the read-only view a policy sees of one executor; policies
// never mutate executor state directly, they only read Record and return
// a decision. QueuedTasks is supplied by the caller (the per-worker deque
// depth, package steal) since it is not part of executor.Record.
type Candidate struct {
	Index       int
	Record      *executor.Record
	QueuedTasks int
}

// Decision is a policy's answer: which executor, and why (for the event
// stream / diagnostics).
type Decision struct {
	Index  int
	Reason string
}

// Policy is the contract every selection policy implements (spec.md
// §4.4): Select receives the current read-only executor list and a hint,
// and returns a Decision. The hook methods let a policy maintain rolling
// per-executor statistics across calls.
type Policy interface {
	Select(candidates []Candidate, hint Hint) (Decision, bool)
	OnTaskComplete(executorIndex int, duration time.Duration, success bool)
	OnExecutorAdded(executorIndex int)
	OnExecutorRemoved(executorIndex int)
	Reset()
}

// readyCandidates filters candidates to those in executor.StateReady,
// preserving order — the shared first step nearly every policy takes.
func readyCandidates(candidates []Candidate) []Candidate {
	ready := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Record.State() == executor.StateReady {
			ready = append(ready, c)
		}
	}
	return ready
}

// honorAffinity returns the affinity-nominated candidate when hint names
// one, it is present in candidates, and eligible reports it passes the
// policy's own fairness test (spec.md §4.4: "honored when the nominated
// executor is eligible under the policy's own fairness test").
func honorAffinity(candidates []Candidate, hint Hint, eligible func(Candidate) bool) (Decision, bool) {
	if hint.AffinityIndex < 0 {
		return Decision{}, false
	}
	for _, c := range candidates {
		if c.Index == hint.AffinityIndex && eligible(c) {
			return Decision{Index: c.Index, Reason: "affinity"}, true
		}
	}
	return Decision{}, false
}
