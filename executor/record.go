package executor

import (
	"time"

	"code.hybscloud.com/atomix"
)

// Record is the per-executor bookkeeping the rest of the core reads and
// writes concurrently (spec.md §3 "Executor record"): policies read
// ActiveTasks/Weight/AffinityLoad to select a target, the heartbeat
// monitor reads/writes LastHeartbeat/MissedHeartbeats, the dispatch path
// writes ActiveTasks/TotalCompleted/TotalExecutionTime/LastTaskEnd on
// completion. Each field is its own cache line, following the teacher's
// atomix convention for independently-contended counters (contrast with
// package slot's Slot, which packs fields densely for arena-row size
// instead).
type Record struct {
	ID string

	state atomix.Uint32

	activeTasks        atomix.Int32
	totalCompleted     atomix.Int64
	totalExecutionTime atomix.Int64 // nanoseconds, cumulative
	lastTaskEnd        atomix.Int64 // unix nanos

	weight       atomix.Int32 // static, set at admission (weighted/IWRR policies)
	affinityLoad atomix.Int32 // tasks currently routed to this executor via affinity

	lastHeartbeat    atomix.Int64 // unix nanos
	missedHeartbeats atomix.Int32
}

// NewRecord creates a Record in StateCold with the given static weight
// (used by the weighted and interleaved-weighted round-robin policies;
// pass 1 for unweighted policies).
func NewRecord(id string, weight int32) *Record {
	r := &Record{ID: id}
	r.state.StoreRelease(uint32(StateCold))
	r.weight.StoreRelaxed(weight)
	return r
}

func (r *Record) State() State {
	return State(r.state.LoadAcquire())
}

// TransitionTo attempts the lifecycle move and reports whether it was
// legal and applied.
func (r *Record) TransitionTo(to State) bool {
	from := State(r.state.LoadAcquire())
	if !CanTransition(from, to) {
		return false
	}
	return r.state.CompareAndSwapAcqRel(uint32(from), uint32(to))
}

func (r *Record) ActiveTasks() int32    { return r.activeTasks.LoadAcquire() }
func (r *Record) Weight() int32         { return r.weight.LoadRelaxed() }
func (r *Record) AffinityLoad() int32   { return r.affinityLoad.LoadAcquire() }
func (r *Record) TotalCompleted() int64 { return r.totalCompleted.LoadAcquire() }

// AverageExecutionTime returns the mean task duration, or 0 if none
// completed yet (used by the fair-share policy's EMA seed and by Stats).
func (r *Record) AverageExecutionTime() time.Duration {
	n := r.totalCompleted.LoadAcquire()
	if n == 0 {
		return 0
	}
	return time.Duration(r.totalExecutionTime.LoadAcquire() / n)
}

// OnDispatch records a task handed to this executor.
func (r *Record) OnDispatch() {
	r.activeTasks.AddAcqRel(1)
}

// OnComplete records a task finishing (success or failure alike; the
// distinction lives in the task's own error, not executor-level stats).
func (r *Record) OnComplete(duration time.Duration, now time.Time) {
	r.activeTasks.AddAcqRel(-1)
	r.totalCompleted.AddAcqRel(1)
	r.totalExecutionTime.AddAcqRel(int64(duration))
	r.lastTaskEnd.StoreRelease(now.UnixNano())
}

// SetAffinityLoad adds delta to the affinity load. The pool coordinator
// adds 1 when it routes an affinity-keyed task to this executor and
// subtracts 1 when that task's reply arrives.
func (r *Record) SetAffinityLoad(delta int32) {
	r.affinityLoad.AddAcqRel(delta)
}

// Heartbeat records a successful liveness probe, resetting the miss count.
func (r *Record) Heartbeat(now time.Time) {
	r.lastHeartbeat.StoreRelease(now.UnixNano())
	r.missedHeartbeats.StoreRelaxed(0)
}

// MissHeartbeat increments the miss counter and returns the new count.
func (r *Record) MissHeartbeat() int32 {
	return r.missedHeartbeats.AddAcqRel(1)
}

func (r *Record) MissedHeartbeats() int32 {
	return r.missedHeartbeats.LoadAcquire()
}

func (r *Record) LastHeartbeat() time.Time {
	return time.Unix(0, r.lastHeartbeat.LoadAcquire())
}
