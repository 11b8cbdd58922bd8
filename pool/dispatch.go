package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"code.hybscloud.com/wpool/executor"
	"code.hybscloud.com/wpool/policy"
	"code.hybscloud.com/wpool/werr"
	"code.hybscloud.com/wpool/wire"
)

// Submit allocates a task id, records a resolver, and routes the task
// through affinity + the selection policy (spec.md §4.9).
func (p *Pool) Submit(ctx context.Context, method string, params []byte, opts Task) (*Future, error) {
	if p.terminated.Load() {
		return nil, fmt.Errorf("pool: %w: pool terminated", werr.ErrValidation)
	}

	id := p.nextTaskID.Add(1)
	var taskCtx context.Context
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		taskCtx, cancel = context.WithCancel(ctx)
	}

	slotIdx, ok := p.slotArena.Allocate(id, int32(opts.Priority), methodID(method), time.Now().UnixNano())
	if !ok {
		cancel()
		return nil, fmt.Errorf("pool: %w: slot arena exhausted", werr.ErrQueueFull)
	}

	future := newFuture(id, cancel)
	item := &taskItem{
		id:          id,
		method:      method,
		params:      params,
		priority:    opts.Priority,
		affinityKey: opts.AffinityKey,
		taskType:    opts.TaskType,
		slotIndex:   slotIdx,
	}
	entry := &pendingEntry{future: future, item: item, ctx: taskCtx, cancel: cancel, start: time.Now(), execIdx: -1}

	p.pendingMu.Lock()
	p.pending[id] = entry
	p.pendingMu.Unlock()

	if opts.Timeout > 0 {
		p.bgWG.Add(1)
		go func() {
			defer p.bgWG.Done()
			<-taskCtx.Done()
			if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
				p.resolvePending(id, OutcomeTimeout, Result{}, werr.ErrTimeout)
			}
		}()
	}

	p.routeNewTask(item, entry)
	return future, nil
}

// selection is what routeNewTask's policy pick resolves to: dispatch
// immediately, queue onto a specific executor's deque (work-stealing
// path, busy or affinity-nominated), or fall through to the shared
// queue.
type selection struct {
	idx   int
	h     *executor.Handle
	deque bool
}

func (p *Pool) routeNewTask(item *taskItem, entry *pendingEntry) {
	p.mu.Lock()
	sel, ok := p.selectLocked(item)
	noWorkers := len(p.idIndex) == 0
	p.mu.Unlock()

	if !ok {
		if noWorkers && p.handleZeroWorkers(item, entry) {
			return
		}
		p.mu.Lock()
		enqOK, droppedID := p.enqueueLocked(item)
		p.mu.Unlock()
		p.finishEnqueue(item, entry, enqOK, droppedID)
		return
	}
	if sel.deque {
		p.stealSched.Deque(sel.idx).PushBottom(item)
		return
	}
	p.dispatch(sel.idx, sel.h, item, entry)
}

// handleZeroWorkers applies spec.md §8's zero-worker boundary behavior:
// "submit fails with NoWorkersAvailable under reject, blocks until
// scale-up under block." Queue capacity alone can't express this since a
// queue with room left would otherwise happily accept a task that no
// worker will ever exist to dispatch. Reports whether it fully disposed
// of the submission; any other back-pressure policy falls through to the
// ordinary capacity-based enqueue path (there being no workers at all is
// then just a transient condition the queue and later scale-up resolve
// the same way a fully busy pool would).
func (p *Pool) handleZeroWorkers(item *taskItem, entry *pendingEntry) bool {
	switch p.cfg.BackPressure {
	case BackPressureReject:
		p.resolvePending(item.id, OutcomeError, Result{}, werr.ErrNoWorkersAvailable)
		return true
	case BackPressureBlock:
		// Synchronous, like blockUntilSpace: Submit itself blocks the
		// caller until a worker exists or the bound elapses, matching
		// spec.md §8's "blocks until scale-up under block" rather than
		// returning a future that resolves later.
		if p.blockUntilWorker(entry.ctx) {
			p.routeNewTask(item, entry)
			return true
		}
		p.resolvePending(item.id, OutcomeError, Result{}, werr.ErrNoWorkersAvailable)
		return true
	default:
		return false
	}
}

// blockUntilWorker polls for at least one registered executor, bounded
// by cfg.BlockTimeout or entry.ctx, whichever comes first.
func (p *Pool) blockUntilWorker(ctx context.Context) bool {
	timeout := p.cfg.BlockTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		p.mu.Lock()
		n := len(p.idIndex)
		p.mu.Unlock()
		if n > 0 {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

// selectLocked must be called with p.mu held. It honors affinity first,
// then the configured selection policy (spec.md §4.4, §4.6).
func (p *Pool) selectLocked(item *taskItem) (selection, bool) {
	hint := policy.Hint{AffinityIndex: -1, TaskType: item.taskType}
	if p.router != nil && item.affinityKey != "" {
		if dec, ok := p.router.Route(item.affinityKey, time.Now()); ok {
			if idx, ok2 := p.idIndex[dec.ExecutorID]; ok2 && !p.unresponsive[idx] {
				hint.AffinityIndex = idx
			}
		}
	}

	candidates := p.buildCandidatesLocked()
	if len(candidates) == 0 {
		return selection{}, false
	}
	dec, ok := p.policy.Select(candidates, hint)
	if !ok {
		return selection{}, false
	}
	h := p.handles[dec.Index]
	if h == nil {
		return selection{}, false
	}

	ready := h.Record.State() == executor.StateReady
	if !ready && p.stealSched == nil {
		return selection{}, false
	}
	if item.affinityKey != "" {
		h.Record.SetAffinityLoad(1)
	}
	return selection{idx: dec.Index, h: h, deque: !ready}, true
}

// buildCandidatesLocked must be called with p.mu held.
func (p *Pool) buildCandidatesLocked() []policy.Candidate {
	candidates := make([]policy.Candidate, 0, len(p.handles))
	for i, h := range p.handles {
		if h == nil || p.unresponsive[i] {
			continue
		}
		queued := 0
		if p.stealSched != nil {
			queued = p.stealSched.Deque(i).Size()
		}
		candidates = append(candidates, policy.Candidate{Index: i, Record: h.Record, QueuedTasks: queued})
	}
	return candidates
}

// enqueueLocked must be called with p.mu held. It applies the configured
// back-pressure policy once the shared queue is at capacity, reporting a
// dropped task id for the caller to resolve outside the lock.
func (p *Pool) enqueueLocked(item *taskItem) (enqueued bool, droppedID uint64) {
	if p.cfg.QueueCapacity <= 0 || p.queue.Size() < p.cfg.QueueCapacity {
		if p.queue.Push(item) {
			return true, 0
		}
		// The ring is a fixed-capacity lock-free structure (spec.md §3):
		// an unbounded config can still exhaust its physical capacity.
		// Fall through to the same back-pressure handling a capacity-
		// based rejection gets.
	}
	switch p.cfg.BackPressure {
	case BackPressureDropOldest:
		old, ok := p.queue.Pop()
		pushed := p.queue.Push(item)
		if ok && pushed {
			return true, old.id
		}
		return pushed, 0
	default:
		// reject, drop-newest, block, and caller-runs all fail to enqueue
		// here; block retries via blockUntilSpace, the rest surface
		// ErrQueueFull to the caller.
		return false, 0
	}
}

// finishEnqueue runs outside p.mu. ok/droppedID come from enqueueLocked.
func (p *Pool) finishEnqueue(item *taskItem, entry *pendingEntry, ok bool, droppedID uint64) {
	if ok {
		if droppedID != 0 {
			p.resolvePending(droppedID, OutcomeError, Result{}, fmt.Errorf("%w: dropped for capacity", werr.ErrQueueFull))
		}
		return
	}
	if p.cfg.BackPressure == BackPressureBlock && p.blockUntilSpace() {
		p.mu.Lock()
		ok2, dropped2 := p.enqueueLocked(item)
		p.mu.Unlock()
		if ok2 {
			if dropped2 != 0 {
				p.resolvePending(dropped2, OutcomeError, Result{}, fmt.Errorf("%w: dropped for capacity", werr.ErrQueueFull))
			}
			return
		}
	}
	p.resolvePending(item.id, OutcomeError, Result{}, werr.ErrQueueFull)
}

// blockUntilSpace polls for queue headroom up to cfg.BlockTimeout
// (spec.md §4.9 back-pressure "block": "a bounded wait for capacity").
func (p *Pool) blockUntilSpace() bool {
	timeout := p.cfg.BlockTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		full := p.cfg.QueueCapacity > 0 && p.queue.Size() >= p.cfg.QueueCapacity
		p.mu.Unlock()
		if !full {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

// dispatch sends item to h, outside p.mu: Record.TransitionTo's CAS is
// the real reservation, so holding the coordinator-wide lock across the
// wire round trip would only serialize unrelated submissions.
func (p *Pool) dispatch(idx int, h *executor.Handle, item *taskItem, entry *pendingEntry) {
	entry.execIdx = idx
	req := wire.TaskRequestPayload{Method: item.method, Params: item.params}.Encode()
	header := wire.Header{
		Version:       wire.Version,
		Type:          wire.TypeTaskRequest,
		ID:            uint32(item.id),
		PayloadLength: uint32(len(req)),
		Sequence:      p.nextSeq.Add(1),
		Priority:      wirePriority(item.priority),
	}

	p.mu.Lock()
	p.idleSince[idx] = time.Time{}
	p.mu.Unlock()

	p.connMu[idx].Lock()
	if err := h.Dispatch(entry.ctx, executor.Frame{Header: header, Payload: req}); err != nil {
		p.connMu[idx].Unlock()
		if errors.Is(err, werr.ErrNoWorkersAvailable) {
			// Another dispatch won the ready → busy reservation first; the
			// executor is healthy, so route the task again.
			if item.affinityKey != "" {
				h.Record.SetAffinityLoad(-1)
			}
			p.routeNewTask(item, entry)
			return
		}
		p.handleDispatchFailure(idx, h, item, entry, err)
		return
	}
	p.bgWG.Add(1)
	go p.awaitReply(idx, h, item, entry)
}

// handleDispatchFailure runs when Send itself fails (the executor never
// even saw the task): the worker is treated as crashed and the task is
// resolved or retried like any other communication failure.
func (p *Pool) handleDispatchFailure(idx int, h *executor.Handle, item *taskItem, entry *pendingEntry, err error) {
	p.handleExecutorCrash(idx, h, err)
	p.resolveOrRetry(item, entry, fmt.Errorf("%w: %v", werr.ErrCommunicationLost, err))
}

// awaitReply owns the one Receive call for item's dispatch, holding
// connMu[idx] for its duration so the heartbeat prober's TryLock skips
// this executor until the round trip finishes.
func (p *Pool) awaitReply(idx int, h *executor.Handle, item *taskItem, entry *pendingEntry) {
	defer p.bgWG.Done()

	f, err := h.Receive(entry.ctx)
	p.connMu[idx].Unlock()

	if item.affinityKey != "" {
		h.Record.SetAffinityLoad(-1)
	}

	if err != nil {
		if ctxErr := entry.ctx.Err(); ctxErr != nil {
			// The task was cancelled or timed out locally; the executor
			// itself is healthy, it just hasn't answered this specific
			// request yet. Keep draining in the background so it is
			// eventually released, discarding the stale reply (spec.md
			// §4.9: "the eventual wire reply is simply discarded").
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				p.resolvePending(item.id, OutcomeTimeout, Result{}, werr.ErrTimeout)
			} else {
				p.resolvePending(item.id, OutcomeCancelled, Result{}, context.Canceled)
			}
			p.bgWG.Add(1)
			go p.drainCancelledReply(idx, h)
			return
		}
		p.handleExecutorCrash(idx, h, err)
		p.resolveOrRetry(item, entry, fmt.Errorf("%w: %v", werr.ErrCommunicationLost, err))
		return
	}

	switch f.Header.Type {
	case wire.TypeTaskResponse, wire.TypeTaskError:
		payload, derr := wire.DecodeTaskResultPayload(f.Payload)
		p.release(idx, h)
		p.pullBacklogFor(idx)
		if derr != nil {
			p.resolveOrRetry(item, entry, fmt.Errorf("%w: %v", werr.ErrProtocolMismatch, derr))
			return
		}
		h.Record.OnComplete(time.Since(entry.start), time.Now())
		if p.policy != nil {
			p.policy.OnTaskComplete(idx, time.Since(entry.start), payload.Success)
		}
		if payload.Success {
			p.resolvePending(item.id, OutcomeResult, Result{Value: payload.Result}, nil)
			return
		}
		ep, eerr := wire.DecodeErrorPayload(payload.Result)
		if eerr != nil {
			p.resolveOrRetry(item, entry, fmt.Errorf("%w: %v", werr.ErrExecutionFailed, eerr))
			return
		}
		p.resolveOrRetry(item, entry, &werr.TaskError{ErrCode: ep.Code, Message: ep.Message, Stack: ep.Stack})
	default:
		p.release(idx, h)
		p.pullBacklogFor(idx)
		p.resolvePending(item.id, OutcomeError, Result{}, fmt.Errorf("%w: unexpected reply type %s", werr.ErrProtocolMismatch, f.Header.Type))
	}
}

// drainCancelledReply waits out the real reply to a task whose future
// already resolved via cancel/timeout, so the executor gets released
// instead of sitting busy forever with nobody listening for its answer.
func (p *Pool) drainCancelledReply(idx int, h *executor.Handle) {
	defer p.bgWG.Done()
	p.connMu[idx].Lock()
	_, err := h.Receive(context.Background())
	p.connMu[idx].Unlock()
	if err != nil {
		p.handleExecutorCrash(idx, h, err)
		return
	}
	p.release(idx, h)
	p.pullBacklogFor(idx)
}

// release marks an executor ready-and-idle again, recording the instant
// for the scaler's idle-timeout scale-down check.
func (p *Pool) release(idx int, h *executor.Handle) {
	h.Release()
	p.mu.Lock()
	p.idleSince[idx] = time.Now()
	p.mu.Unlock()
}

// resolveOrRetry applies cfg.RetryPolicy (spec.md §7: "depending on
// retry options, either resubmit or surface the error") before falling
// back to a terminal resolution.
func (p *Pool) resolveOrRetry(item *taskItem, entry *pendingEntry, err error) {
	rp := p.cfg.RetryPolicy
	if rp != nil && werr.IsRetryable(err) && entry.attempt < rp.MaxRetries {
		entry.attempt++
		backoff := rp.Backoff
		if backoff == nil {
			backoff = defaultBackoff
		}
		delay := backoff(entry.attempt)
		p.bgWG.Add(1)
		go func() {
			defer p.bgWG.Done()
			select {
			case <-time.After(delay):
			case <-entry.ctx.Done():
				p.resolvePending(item.id, OutcomeError, Result{}, err)
				return
			}
			p.routeNewTask(item, entry)
		}()
		return
	}
	p.resolvePending(item.id, OutcomeError, Result{}, err)
}

// resolvePending resolves id's future exactly once, drops its
// bookkeeping entry, and releases its arena slot (spec.md §4.2 "returned
// to the free list after refcount → 0"). If the task is still sitting in
// the ring-backed backlog, Push's earlier Pin keeps the slot alive until
// ringQueue.Pop eventually dequeues and drops that second reference.
func (p *Pool) resolvePending(id uint64, outcome Outcome, result Result, err error) {
	p.pendingMu.Lock()
	entry, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()
	if !ok {
		return
	}
	p.slotArena.Release(entry.item.slotIndex)
	entry.future.resolve(outcome, result, err)
}

// pullBacklogFor gives an executor that just became ready (warm-up, or
// Release after a completion) its next unit of work: its own deque
// first, then the shared queue, then a steal attempt (spec.md §4.5 "the
// first thing an idle executor does before attempting to steal").
func (p *Pool) pullBacklogFor(idx int) {
	p.mu.Lock()
	h := p.handles[idx]
	if h == nil || p.unresponsive[idx] || h.Record.State() != executor.StateReady {
		p.mu.Unlock()
		return
	}

	var item *taskItem
	if p.stealSched != nil {
		if it, ok := p.stealSched.TryLocal(idx); ok {
			item = it
		}
	}
	if item == nil {
		if it, ok := p.queue.Pop(); ok {
			item = it
		}
	}
	if item == nil && p.stealSched != nil {
		if items, ok := p.stealSched.Steal(idx, time.Now().UnixNano()); ok && len(items) > 0 {
			item = items[0]
			for _, extra := range items[1:] {
				p.stealSched.Deque(idx).PushBottom(extra)
			}
		}
	}
	p.mu.Unlock()

	if item == nil {
		return
	}

	p.pendingMu.Lock()
	entry, ok := p.pending[item.id]
	p.pendingMu.Unlock()
	if !ok || entry.future.IsResolved() {
		if ok {
			// Resolved while queued: drop its entry and release its slot.
			p.resolvePending(item.id, OutcomeCancelled, Result{}, context.Canceled)
		}
		p.pullBacklogFor(idx)
		return
	}
	p.dispatch(idx, h, item, entry)
}

// handleExecutorCrash tears down a worker whose wire connection failed
// outright (as opposed to merely missing heartbeats): it is force-
// terminated, dropped from selection, and a replacement is started in
// the background (spec.md §4.8, §7.4).
func (p *Pool) handleExecutorCrash(idx int, h *executor.Handle, err error) {
	h.Crash()

	p.mu.Lock()
	id := h.Record.ID
	delete(p.idIndex, id)
	delete(p.unresponsive, idx)
	p.handles[idx] = nil
	if p.policy != nil {
		p.policy.OnExecutorRemoved(idx)
	}
	p.mu.Unlock()

	if p.router != nil {
		p.router.RemoveExecutor(id)
	}
	p.sink.Emit(Event{Kind: "executor_crashed", ExecutorID: id, Reason: err.Error()})
	p.requestReplacement()
}

func (p *Pool) requestReplacement() {
	if p.terminated.Load() {
		return
	}
	p.bgWG.Add(1)
	go func() {
		defer p.bgWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.AddExecutor(ctx)
	}()
}

// onExecutorUnresponsive is the heartbeat monitor's OnUnresponsive
// callback (spec.md §4.8): fail the executor's in-flight task (if any)
// with WorkerUnresponsive, remove it from selection without killing it,
// and request a replacement.
func (p *Pool) onExecutorUnresponsive(id string) {
	p.mu.Lock()
	idx, ok := p.idIndex[id]
	if ok {
		p.unresponsive[idx] = true
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	p.pendingMu.Lock()
	var victims []uint64
	for tid, entry := range p.pending {
		if entry.execIdx == idx {
			victims = append(victims, tid)
		}
	}
	p.pendingMu.Unlock()
	for _, tid := range victims {
		p.resolvePending(tid, OutcomeError, Result{}, werr.ErrWorkerUnresponsive)
	}

	p.requestReplacement()
}

// onExecutorRecovered is the heartbeat monitor's OnRecovered callback
// (spec.md §4.8): re-admit the executor to selection.
func (p *Pool) onExecutorRecovered(id string) {
	p.mu.Lock()
	if idx, ok := p.idIndex[id]; ok {
		delete(p.unresponsive, idx)
	}
	p.mu.Unlock()
}
