package executor

import (
	"context"
	"fmt"

	"code.hybscloud.com/wpool/werr"
)

// Handle binds a Record to the underlying Executor implementation and
// drives its lifecycle transitions, giving the rest of the core one thing
// to hold per worker rather than an Executor plus a Record plus ad hoc
// glue at each call site.
type Handle struct {
	Record   *Record
	executor Executor
}

// NewHandle wraps exec with bookkeeping, in StateCold.
func NewHandle(id string, weight int32, exec Executor) *Handle {
	return &Handle{
		Record:   NewRecord(id, weight),
		executor: exec,
	}
}

// Start transitions cold → warming → ready, calling the underlying
// Executor's Start. Returns ErrWorkerCrashed if Start fails.
func (h *Handle) Start(ctx context.Context) error {
	if !h.Record.TransitionTo(StateWarming) {
		return fmt.Errorf("executor %s: Start from state %s: %w", h.Record.ID, h.Record.State(), werr.ErrValidation)
	}
	if err := h.executor.Start(ctx); err != nil {
		h.Record.TransitionTo(StateTerminating)
		h.Record.TransitionTo(StateTerminated)
		return fmt.Errorf("executor %s: %w: %v", h.Record.ID, werr.ErrWorkerCrashed, err)
	}
	h.Record.TransitionTo(StateReady)
	return nil
}

// Dispatch sends f to the worker, transitioning ready → busy. Callers
// must have already confirmed the executor is StateReady (selection
// policies read Record.State() before calling this).
func (h *Handle) Dispatch(ctx context.Context, f Frame) error {
	if !h.Record.TransitionTo(StateBusy) {
		return fmt.Errorf("executor %s: Dispatch from state %s: %w", h.Record.ID, h.Record.State(), werr.ErrNoWorkersAvailable)
	}
	h.Record.OnDispatch()
	if err := h.executor.Send(ctx, f); err != nil {
		return fmt.Errorf("executor %s: %w: %v", h.Record.ID, werr.ErrCommunicationLost, err)
	}
	return nil
}

// Receive blocks for the worker's next frame. On error it is the caller's
// responsibility (package pool) to decide whether to fail the in-flight
// task and/or transition the executor to terminating.
func (h *Handle) Receive(ctx context.Context) (Frame, error) {
	f, err := h.executor.Receive(ctx)
	if err != nil {
		return Frame{}, fmt.Errorf("executor %s: %w: %v", h.Record.ID, werr.ErrCommunicationLost, err)
	}
	return f, nil
}

// Release moves busy → ready after a task's result has been handed to
// the resolver, making the executor eligible for selection again.
func (h *Handle) Release() {
	h.Record.TransitionTo(StateReady)
}

// BeginCleanup moves ready/busy → cleaning, the state for a bounded
// CleanupReq/CleanupRes round trip before termination. pool.Terminate
// does not call it: its graceful path waits for the busy state to clear.
func (h *Handle) BeginCleanup() bool {
	return h.Record.TransitionTo(StateCleaning)
}

// Terminate moves the handle to terminating then terminated, calling Kill
// on the underlying Executor. Safe to call from any non-terminated state;
// the pool's Terminate (graceful or forced) and scale-down both funnel
// through it. A worker that is already gone goes through Crash instead.
func (h *Handle) Terminate() error {
	h.Record.TransitionTo(StateTerminating)
	err := h.executor.Kill()
	h.Record.TransitionTo(StateTerminated)
	if err != nil {
		return fmt.Errorf("executor %s: kill: %w", h.Record.ID, err)
	}
	return nil
}

// Ping sends f and waits for the worker's reply without touching the
// task-lifecycle state machine, for out-of-band control traffic
// (heartbeat, cleanup) that must work regardless of whether the worker
// is currently ready or busy running a task.
func (h *Handle) Ping(ctx context.Context, f Frame) (Frame, error) {
	if err := h.executor.Send(ctx, f); err != nil {
		return Frame{}, fmt.Errorf("executor %s: %w: %v", h.Record.ID, werr.ErrCommunicationLost, err)
	}
	reply, err := h.executor.Receive(ctx)
	if err != nil {
		return Frame{}, fmt.Errorf("executor %s: %w: %v", h.Record.ID, werr.ErrCommunicationLost, err)
	}
	return reply, nil
}

// Crash force-moves the handle straight to terminated, bypassing the
// terminating intermediate state, for a worker that is already gone
// (spec.md §3: "transitions are executor-private except for the terminal
// move, which is published"). Callers should follow this with an event
// publish (package pool) and the retry policy, if any.
func (h *Handle) Crash() {
	for {
		from := h.Record.State()
		if from == StateTerminated {
			return
		}
		if h.Record.state.CompareAndSwapAcqRel(uint32(from), uint32(StateTerminated)) {
			return
		}
	}
}
