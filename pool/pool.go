// Package pool implements the coordinator that binds every other
// package into the public contract of spec.md §4.9: submit/submit_batch/
// map/stats/terminate, wiring the affinity router, a selection policy,
// the work-stealing scheduler, the adaptive scaler, and the heartbeat
// monitor over a set of executor.Handle workers.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/wpool/affinity"
	"code.hybscloud.com/wpool/executor"
	"code.hybscloud.com/wpool/heartbeat"
	"code.hybscloud.com/wpool/policy"
	"code.hybscloud.com/wpool/queue"
	"code.hybscloud.com/wpool/ring"
	"code.hybscloud.com/wpool/scaler"
	"code.hybscloud.com/wpool/slot"
	"code.hybscloud.com/wpool/steal"
	"code.hybscloud.com/wpool/werr"
	"code.hybscloud.com/wpool/wire"
)

// defaultArenaCapacity bounds the slot arena when Config.QueueCapacity
// leaves the backlog nominally unbounded; the ring buffer backing both
// the arena's free list and the default FIFO backlog is necessarily a
// fixed-size lock-free structure (spec.md §3 "capacity is a power of
// two"), so "unbounded" becomes "generously bounded" instead.
const defaultArenaCapacity = 4096

// DefaultMaxWorkers bounds the fixed-size executor slot table when
// Config.MaxWorkers is left at zero. Work-stealing's Scheduler and the
// selection policies' candidate slices both need a fixed index space, so
// the pool pre-allocates slots up front rather than growing them.
const DefaultMaxWorkers = 64

// Factory starts a new, not-yet-running Executor for the pool to wrap in
// a Handle. Spawning mechanics (process/thread/web-worker) are entirely
// the factory's concern; the pool only calls Start/Send/Receive/Kill
// through the Handle (spec.md §1 Non-goals).
type Factory func() (executor.Executor, error)

// taskItem is the coordinator-internal record of one submitted task: the
// wire-ready fields plus enough identity to look its pendingEntry back up
// after a round trip.
type taskItem struct {
	id          uint64
	method      string
	params      []byte
	priority    int16
	affinityKey string
	taskType    string
	slotIndex   uint32 // arena slot this task's id/priority/methodID live in
}

// pendingEntry tracks a submitted task from Submit until its Future
// resolves, across whichever path gets there first: a successful reply,
// a crash, a cancel, or a timeout.
type pendingEntry struct {
	future  *Future
	item    *taskItem
	ctx     context.Context
	cancel  context.CancelFunc
	attempt int
	start   time.Time
	execIdx int // -1 until dispatched to a specific executor
}

// Pool is the scheduler's coordinator (spec.md §4.9).
type Pool struct {
	cfg     Config
	factory Factory
	policy  policy.Policy
	sink    Sink

	router       *affinity.Router
	stealSched   *steal.Scheduler[*taskItem]
	rebalancer   *steal.Rebalancer[*taskItem]
	scalerImpl   *scaler.Scaler
	heartbeatMon *heartbeat.Monitor

	mu           sync.Mutex
	handles      []*executor.Handle // len == cfg.MaxWorkers, nil until spawned
	idIndex      map[string]int
	unresponsive map[int]bool // executors removed from selection pending recovery
	queue        pendingQueue
	slotArena    *slot.Arena
	connMu       []sync.Mutex
	idleSince    []time.Time

	pendingMu sync.Mutex
	pending   map[uint64]*pendingEntry

	nextTaskID atomic.Uint64
	nextSeq    atomic.Uint32
	nextSlot   atomic.Uint64 // round-robin search cursor for AddExecutor

	scaleUpCount, scaleDownCount int

	terminated atomic.Bool
	bgCancel   context.CancelFunc
	bgWG       sync.WaitGroup
}

// New builds a Pool and warms it up to cfg.MinWorkers executors.
func New(ctx context.Context, cfg Config, factory Factory, pol policy.Policy) (*Pool, error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.VirtualNodes <= 0 {
		cfg.VirtualNodes = affinity.DefaultVirtualNodes
	}
	if cfg.Sink == nil {
		cfg.Sink = NewZerologSink()
	}

	p := &Pool{
		cfg:          cfg,
		factory:      factory,
		policy:       pol,
		sink:         cfg.Sink,
		handles:      make([]*executor.Handle, cfg.MaxWorkers),
		idIndex:      make(map[string]int, cfg.MaxWorkers),
		unresponsive: make(map[int]bool),
		connMu:       make([]sync.Mutex, cfg.MaxWorkers),
		idleSince:    make([]time.Time, cfg.MaxWorkers),
		pending:      make(map[uint64]*pendingEntry),
	}

	arenaCapacity := cfg.QueueCapacity
	if arenaCapacity <= 0 {
		arenaCapacity = defaultArenaCapacity
	}
	arenaCapacity += cfg.MaxWorkers // headroom for tasks dispatched without ever touching the backlog
	p.slotArena = slot.NewArena(arenaCapacity, ring.NewIndexFreeList(arenaCapacity))
	p.queue = newQueue(cfg, p)

	if cfg.EnableAffinity {
		p.router = affinity.NewRouter(cfg.VirtualNodes, cfg.StickyTTL, int32(cfg.OverloadCeiling), p.affinityLoad)
	}
	if cfg.EnableStealing {
		p.stealSched = steal.NewScheduler[*taskItem](cfg.MaxWorkers, steal.BusiestFirst{}, cfg.StealCap, cfg.StealCooldown)
		p.rebalancer = steal.NewRebalancer[*taskItem](p.stealSched, 0, 0)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	p.bgCancel = cancel

	for i := 0; i < cfg.MinWorkers; i++ {
		if _, err := p.AddExecutor(ctx); err != nil {
			cancel()
			return nil, fmt.Errorf("pool: warm-up executor %d: %w", i, err)
		}
	}

	if cfg.EnableScaling {
		scalerCfg := scaler.Config{
			Interval:             cfg.Scaler.Interval,
			ScaleUpThreshold:     cfg.Scaler.ScaleUpThreshold,
			ScaleUpStep:          cfg.Scaler.ScaleUpStep,
			MaxWorkers:           cfg.MaxWorkers,
			MinWorkers:           cfg.MinWorkers,
			ScaleDownStep:        cfg.Scaler.ScaleDownStep,
			ScaleDownIdleTimeout: cfg.Scaler.ScaleDownIdleTimeout,
			Cooldown:             cfg.Scaler.Cooldown,
		}
		p.scalerImpl = scaler.New(scalerCfg, (*loadSource)(p), p.scalerSpawn, p.scalerTerminate, (*scalerSink)(p))
		p.bgWG.Add(1)
		go func() {
			defer p.bgWG.Done()
			p.scalerImpl.Run(bgCtx)
		}()
	}

	if cfg.EnableHeartbeat {
		hbCfg := heartbeat.Config{
			Interval:  cfg.HeartbeatTuning.Interval,
			Timeout:   cfg.HeartbeatTuning.Timeout,
			MaxMissed: cfg.HeartbeatTuning.MaxMissed,
		}
		p.heartbeatMon = heartbeat.New(hbCfg, (*heartbeatSink)(p), heartbeat.Callbacks{
			OnUnresponsive: p.onExecutorUnresponsive,
			OnRecovered:    p.onExecutorRecovered,
		})
		p.bgWG.Add(1)
		go func() {
			defer p.bgWG.Done()
			p.runHeartbeatLoop(bgCtx)
		}()
	}

	if p.rebalancer != nil {
		p.bgWG.Add(1)
		go func() {
			defer p.bgWG.Done()
			p.rebalancer.Run(bgCtx)
		}()
	}

	return p, nil
}

// newQueue builds the shared pending queue for the configured strategy.
// QueueFIFO, the default, is backed directly by the slot arena and its
// ring.Ring (spec.md §4.1/§4.2): the coordinator publishes packed
// (priority, slot index) entries into the ring and dequeues them from
// it, rather than holding *taskItem pointers in a generic container.
// LIFO and Priority keep using package queue's single-owner disciplines
// instead, since the ring only ever yields entries in publish order and
// has no notion of either. Priority order is inverted at construction
// (higher Task.Priority number means lower urgency per spec.md §8
// scenario 2's "ascending numeric priority dispatches first among queued
// tasks"), rather than changing queue.Priority's own documented "higher
// value first" convention, since other callers of that type may depend
// on it as written.
func newQueue(cfg Config, p *Pool) pendingQueue {
	switch cfg.QueueStrategy {
	case QueueLIFO:
		return queueAdapter{queue.NewLIFO[*taskItem](64)}
	case QueuePriority:
		return queueAdapter{queue.NewPriority(func(item *taskItem) int16 { return -item.priority })}
	default:
		capacity := cfg.QueueCapacity
		if capacity <= 0 {
			capacity = defaultArenaCapacity
		}
		return newRingQueue(capacity, p.slotArena, p)
	}
}

// wirePriority maps a Task's wide i16 priority (lower dispatches first,
// spec.md §8 scenario 2) onto the wire header's coarse 2-bit class.
// Negative priorities are treated as progressively more urgent.
func wirePriority(p int16) wire.Priority {
	switch {
	case p <= -10:
		return wire.PriorityCritical
	case p < 0:
		return wire.PriorityHigh
	case p == 0:
		return wire.PriorityNormal
	default:
		return wire.PriorityLow
	}
}

// AddExecutor spawns a new worker via the pool's factory, registers it
// with the affinity router and work-stealing scheduler, and starts it.
// Returns its assigned id.
func (p *Pool) AddExecutor(ctx context.Context) (string, error) {
	exec, err := p.factory()
	if err != nil {
		return "", fmt.Errorf("pool: factory: %w", err)
	}

	p.mu.Lock()
	idx := -1
	n := len(p.handles)
	start := int(p.nextSlot.Add(1)-1) % n
	for i := 0; i < n; i++ {
		j := (start + i) % n
		if p.handles[j] == nil {
			idx = j
			break
		}
	}
	if idx == -1 {
		p.mu.Unlock()
		return "", fmt.Errorf("pool: %w: at MaxWorkers capacity (%d)", werr.ErrValidation, n)
	}
	id := fmt.Sprintf("exec-%d", idx)
	h := executor.NewHandle(id, 1, exec)
	p.handles[idx] = h
	p.idIndex[id] = idx
	p.idleSince[idx] = time.Now()
	if p.policy != nil {
		p.policy.OnExecutorAdded(idx)
	}
	p.mu.Unlock()

	if err := h.Start(ctx); err != nil {
		p.mu.Lock()
		delete(p.idIndex, id)
		p.handles[idx] = nil
		p.mu.Unlock()
		return "", err
	}

	if p.router != nil {
		p.router.AddExecutor(id)
	}
	p.sink.Emit(Event{Kind: "executor_started", ExecutorID: id})
	p.pullBacklogFor(idx)
	return id, nil
}

// RemoveExecutor evicts an executor by id: it is dropped from selection
// immediately, then terminated. Any task still in flight on it is the
// caller's responsibility to have drained first (scale-down only targets
// idle executors); a crash is instead handled by handleExecutorCrash.
func (p *Pool) RemoveExecutor(id string) error {
	p.mu.Lock()
	idx, ok := p.idIndex[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("pool: %w: unknown executor %q", werr.ErrValidation, id)
	}
	h := p.handles[idx]
	delete(p.idIndex, id)
	p.handles[idx] = nil
	if p.policy != nil {
		p.policy.OnExecutorRemoved(idx)
	}
	p.mu.Unlock()

	if p.router != nil {
		p.router.RemoveExecutor(id)
	}
	err := h.Terminate()
	p.sink.Emit(Event{Kind: "executor_removed", ExecutorID: id})
	return err
}

// affinityLoad adapts Record.AffinityLoad to affinity.LoadFunc.
func (p *Pool) affinityLoad(executorID string) int32 {
	p.mu.Lock()
	idx, ok := p.idIndex[executorID]
	h := (*executor.Handle)(nil)
	if ok {
		h = p.handles[idx]
	}
	p.mu.Unlock()
	if h == nil {
		return 0
	}
	return h.Record.AffinityLoad()
}

// Terminate shuts the pool down (spec.md §4.9). Without force, each busy
// executor is given up to timeout (cfg.CleanupTimeout when timeout is
// zero) to finish its in-flight task before it is killed; no CleanupReq
// is sent. With force, outstanding tasks fail immediately with
// ErrCancelled-by-termination and every executor is killed. Idempotent:
// a second call returns immediately.
func (p *Pool) Terminate(ctx context.Context, force bool, timeout time.Duration) error {
	if !p.terminated.CompareAndSwap(false, true) {
		return nil
	}
	p.bgCancel()

	p.mu.Lock()
	ids := make([]string, 0, len(p.handles))
	for id := range p.idIndex {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	p.pendingMu.Lock()
	for _, entry := range p.pending {
		entry.future.resolve(OutcomeCancelled, Result{}, werr.ErrCancelled)
		if entry.cancel != nil {
			entry.cancel()
		}
		p.slotArena.Release(entry.item.slotIndex)
	}
	p.pendingMu.Unlock()

	if timeout <= 0 {
		timeout = p.cfg.CleanupTimeout
	}

	for _, id := range ids {
		p.mu.Lock()
		idx, ok := p.idIndex[id]
		var h *executor.Handle
		if ok {
			h = p.handles[idx]
		}
		p.mu.Unlock()
		if h == nil {
			continue
		}
		if !force && timeout > 0 {
			p.drainOne(ctx, h, timeout)
		}
	}

	p.mu.Lock()
	for i, h := range p.handles {
		if h == nil {
			continue
		}
		h.Terminate()
		p.handles[i] = nil
	}
	p.idIndex = map[string]int{}
	p.mu.Unlock()

	// Killing every handle above aborts any Send/Receive still blocked on
	// its connection, which is what lets awaitReply/drainCancelledReply
	// background goroutines (tracked in bgWG for in-flight tasks whose
	// futures were just resolved above) return and unwind. Wait for them
	// with a bound rather than unconditionally: a Factory/Executor that
	// doesn't actually abort a blocked Receive on Kill must not hang
	// Terminate forever.
	p.waitBackground(5 * time.Second)
	return nil
}

// waitBackground waits for all tracked background goroutines to finish,
// giving up after timeout so a misbehaving Executor cannot hang
// Terminate indefinitely.
func (p *Pool) waitBackground(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		p.bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// drainOne gives a worker up to timeout to finish its in-flight task
// before the caller moves on to killing it outright; it does not itself
// kill, leaving that to the final sweep in Terminate so force and
// graceful shutdown share one teardown path.
func (p *Pool) drainOne(ctx context.Context, h *executor.Handle, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for h.Record.State() == executor.StateBusy && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}
