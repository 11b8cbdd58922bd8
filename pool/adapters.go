package pool

import (
	"context"
	"time"

	"code.hybscloud.com/wpool/executor"
	"code.hybscloud.com/wpool/heartbeat"
	"code.hybscloud.com/wpool/scaler"
)

// loadSource adapts Pool to scaler.LoadSource. Defined as a distinct
// named type over the same underlying struct (rather than a small
// wrapper struct holding a *Pool) so its methods can be attached without
// widening Pool's own exported method set with scaler-specific names.
type loadSource Pool

func (l *loadSource) p() *Pool { return (*Pool)(l) }

func (l *loadSource) Queued() int {
	p := l.p()
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.queue.Size()
	if p.stealSched != nil {
		for i := range p.handles {
			n += p.stealSched.Deque(i).Size()
		}
	}
	return n
}

func (l *loadSource) Active() int {
	p := l.p()
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, h := range p.handles {
		if h != nil && h.Record.State() == executor.StateBusy {
			n++
		}
	}
	return n
}

func (l *loadSource) CurrentWorkers() int {
	p := l.p()
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, h := range p.handles {
		if h != nil {
			n++
		}
	}
	return n
}

func (l *loadSource) IdleWorkers() []scaler.IdleWorker {
	p := l.p()
	p.mu.Lock()
	defer p.mu.Unlock()
	var idle []scaler.IdleWorker
	for i, h := range p.handles {
		if h == nil || p.unresponsive[i] {
			continue
		}
		if h.Record.State() != executor.StateReady {
			continue
		}
		if p.idleSince[i].IsZero() {
			continue
		}
		idle = append(idle, scaler.IdleWorker{ID: h.Record.ID, IdleSince: p.idleSince[i]})
	}
	return idle
}

// scalerSpawn is the scaler.SpawnFunc the Scaler calls to grow the pool.
func (p *Pool) scalerSpawn(n int) int {
	spawned := 0
	for i := 0; i < n; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := p.AddExecutor(ctx)
		cancel()
		if err != nil {
			break
		}
		spawned++
	}
	if spawned > 0 {
		p.mu.Lock()
		p.scaleUpCount += spawned
		p.mu.Unlock()
	}
	return spawned
}

// scalerTerminate is the scaler.TerminateFunc the Scaler calls to shrink
// the pool.
func (p *Pool) scalerTerminate(ids []string) {
	removed := 0
	for _, id := range ids {
		if err := p.RemoveExecutor(id); err == nil {
			removed++
		}
	}
	if removed > 0 {
		p.mu.Lock()
		p.scaleDownCount += removed
		p.mu.Unlock()
	}
}

// scalerSink adapts Pool's event Sink to scaler.Sink.
type scalerSink Pool

func (s *scalerSink) Emit(e scaler.Event) {
	(*Pool)(s).sink.Emit(Event{Kind: e.Kind, Count: e.Count, Reason: e.Reason})
}

// heartbeatSink adapts Pool's event Sink to heartbeat.Sink.
type heartbeatSink Pool

func (s *heartbeatSink) Emit(e heartbeat.Event) {
	(*Pool)(s).sink.Emit(Event{Kind: e.Kind, ExecutorID: e.ExecutorID})
}

// runHeartbeatLoop drives liveness probing on its own ticker rather than
// heartbeat.Monitor.Run, because Run probes every handle unconditionally
// and this coordinator must not race a probe's Send/Receive against a
// task reply's Send/Receive on the same wire connection. Probing only
// targets currently-Ready (idle) executors: a Busy executor's single
// in-flight Receive already owns the connection, and its liveness is
// instead covered by that task's own communication-lost path.
func (p *Pool) runHeartbeatLoop(ctx context.Context) {
	interval := p.cfg.HeartbeatTuning.Interval
	if interval <= 0 {
		interval = heartbeat.DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.heartbeatTick(ctx)
		}
	}
}

func (p *Pool) heartbeatTick(ctx context.Context) {
	type probe struct {
		idx int
		h   *executor.Handle
	}

	p.mu.Lock()
	probes := make([]probe, 0, len(p.handles))
	for i, h := range p.handles {
		if h == nil || p.unresponsive[i] {
			continue
		}
		if h.Record.State() != executor.StateReady {
			continue
		}
		probes = append(probes, probe{i, h})
	}
	p.mu.Unlock()

	now := time.Now()
	for _, pr := range probes {
		if !p.connMu[pr.idx].TryLock() {
			continue // mid-dispatch this instant; retried next tick
		}
		idx, h := pr.idx, pr.h
		p.bgWG.Add(1)
		go func() {
			defer p.bgWG.Done()
			defer p.connMu[idx].Unlock()
			p.heartbeatMon.CheckOne(ctx, h, now)
		}()
	}
}

// workerCount reports the pool's current worker count, used as
// submit_batch's default concurrency (spec.md §4.9: "concurrency
// (default = worker count)").
func (p *Pool) workerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, h := range p.handles {
		if h != nil {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}
