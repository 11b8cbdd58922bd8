package pool

import "code.hybscloud.com/wpool/executor"

// WorkerCounts tallies executors by lifecycle state (spec.md §4.9
// stats()).
type WorkerCounts struct {
	Cold, Warming, Ready, Busy, Cleaning, Terminating, Terminated int
}

// Snapshot is the pool's point-in-time status (spec.md §4.9 stats()):
// worker counts by lifecycle state, the shared queue's length, and the
// scale-up and scale-down counters. It carries no per-policy or
// work-stealing statistics.
type Snapshot struct {
	Workers        WorkerCounts
	QueuedTasks    int
	ScaleUpCount   int
	ScaleDownCount int
}

func (p *Pool) snapshotWorkers() WorkerCounts {
	var wc WorkerCounts
	for _, h := range p.handles {
		if h == nil {
			continue
		}
		switch h.Record.State() {
		case executor.StateCold:
			wc.Cold++
		case executor.StateWarming:
			wc.Warming++
		case executor.StateReady:
			wc.Ready++
		case executor.StateBusy:
			wc.Busy++
		case executor.StateCleaning:
			wc.Cleaning++
		case executor.StateTerminating:
			wc.Terminating++
		case executor.StateTerminated:
			wc.Terminated++
		}
	}
	return wc
}

// Stats returns a snapshot of the pool's current status.
func (p *Pool) Stats() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Workers:        p.snapshotWorkers(),
		QueuedTasks:    p.queue.Size(),
		ScaleUpCount:   p.scaleUpCount,
		ScaleDownCount: p.scaleDownCount,
	}
}
