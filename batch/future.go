// Package batch implements the pool's batch/map aggregator (spec.md
// §4.9 submit_batch/map, §4.10 internal batch executor): bounded
// concurrency, per-task and overall timeouts, fail-fast, throttled
// progress, and pause/resume.
package batch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is used only when a caller doesn't know its own
// worker count; spec.md §4.9 pins the real default to "= worker count",
// which is the pool coordinator's responsibility to supply.
const DefaultConcurrency = 4

// TaskFunc is a single unit of batch work. Its position in the tasks
// slice becomes its Result.Index for ordered result collection.
type TaskFunc[R any] func(ctx context.Context) (R, error)

// Result is one task's outcome, in original submission order.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Progress is handed to Options.OnProgress, throttled by
// Options.ProgressInterval.
type Progress struct {
	Completed int
	Total     int
	Succeeded int
	Failed    int
}

// Summary is the batch's final record (spec.md §4.9: "a record of every
// task outcome in original submission order, counts of
// successes/failures, total duration, and a cancelled flag").
type Summary[R any] struct {
	Results   []Result[R]
	Succeeded int
	Failed    int
	Duration  time.Duration
	Cancelled bool
	Err       error // set when FailFast aborted the batch
}

// Options configures a batch run (spec.md §4.9).
type Options struct {
	Concurrency      int
	FailFast         bool
	TaskTimeout      time.Duration
	OverallTimeout   time.Duration
	ProgressInterval time.Duration
	OnProgress       func(Progress)
}

func (o *Options) setDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
}

// Future is a running (or completed) batch, supporting cancel and
// pause/resume (spec.md §4.9: "the batch may itself be cancelled or
// paused/resumed; pause blocks further dispatch but lets in-flight
// tasks complete").
type Future[R any] struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	paused       bool
	resumeCh     chan struct{}
	lastProgress time.Time
	summary      Summary[R]
}

// Run launches tasks against opts and returns immediately with a
// Future that resolves once every task has run (or the batch was
// cancelled/fail-fast-aborted).
func Run[R any](ctx context.Context, tasks []TaskFunc[R], opts Options) *Future[R] {
	opts.setDefaults()

	cancelTimeout := func() {}
	if opts.OverallTimeout > 0 {
		ctx, cancelTimeout = context.WithTimeout(ctx, opts.OverallTimeout)
	}
	runCtx, cancelRun := context.WithCancel(ctx)
	cancel := func() {
		cancelRun()
		cancelTimeout()
	}

	f := &Future[R]{
		opts:   opts,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		summary: Summary[R]{
			Results: make([]Result[R], len(tasks)),
		},
	}

	go f.run(tasks)
	return f
}

func (f *Future[R]) run(tasks []TaskFunc[R]) {
	start := time.Now()
	defer f.cancel()
	defer func() {
		f.mu.Lock()
		f.summary.Duration = time.Since(start)
		f.mu.Unlock()
		close(f.done)
	}()

	sem := semaphore.NewWeighted(int64(f.opts.Concurrency))
	var wg sync.WaitGroup

	for i, task := range tasks {
		if f.aborted() {
			f.markCancelledFrom(i, len(tasks))
			break
		}
		if err := f.waitIfPaused(); err != nil {
			f.markCancelledFrom(i, len(tasks))
			break
		}
		if err := sem.Acquire(f.ctx, 1); err != nil {
			f.markCancelledFrom(i, len(tasks))
			break
		}
		// Pause may have been called while Acquire was blocked.
		if err := f.waitIfPaused(); err != nil {
			sem.Release(1)
			f.markCancelledFrom(i, len(tasks))
			break
		}

		wg.Add(1)
		go func(i int, task TaskFunc[R]) {
			defer wg.Done()
			defer sem.Release(1)
			f.runOne(i, task, len(tasks))
		}(i, task)
	}

	wg.Wait()
}

func (f *Future[R]) runOne(i int, task TaskFunc[R], total int) {
	taskCtx := f.ctx
	if f.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(f.ctx, f.opts.TaskTimeout)
		defer cancel()
	}

	value, err := task(taskCtx)

	f.mu.Lock()
	f.summary.Results[i] = Result[R]{Index: i, Value: value, Err: err}
	if err != nil {
		f.summary.Failed++
	} else {
		f.summary.Succeeded++
	}
	completed := f.summary.Succeeded + f.summary.Failed
	if err != nil && f.opts.FailFast && f.summary.Err == nil {
		f.summary.Err = err
		f.cancel()
	}
	f.maybeFireProgress(completed, total)
	f.mu.Unlock()
}

// maybeFireProgress must be called with f.mu held.
func (f *Future[R]) maybeFireProgress(completed, total int) {
	if f.opts.OnProgress == nil {
		return
	}
	now := time.Now()
	if !f.lastProgress.IsZero() && now.Sub(f.lastProgress) < f.opts.ProgressInterval {
		return
	}
	f.lastProgress = now
	f.opts.OnProgress(Progress{
		Completed: completed,
		Total:     total,
		Succeeded: f.summary.Succeeded,
		Failed:    f.summary.Failed,
	})
}

func (f *Future[R]) aborted() bool {
	select {
	case <-f.ctx.Done():
		return true
	default:
		return false
	}
}

// markCancelledFrom records every task index in [i, total) — none of
// which were ever dispatched — as cancelled. Safe to call even though
// earlier-dispatched tasks at those indices don't exist, since dispatch
// proceeds strictly in order and breaks before launching index i.
func (f *Future[R]) markCancelledFrom(i, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summary.Cancelled = true
	for ; i < total; i++ {
		f.summary.Results[i] = Result[R]{Index: i, Err: context.Canceled}
	}
}

// Cancel stops dispatch of further tasks and cancels the context handed
// to in-flight tasks; Wait still waits for those tasks to return.
func (f *Future[R]) Cancel() {
	f.mu.Lock()
	f.summary.Cancelled = true
	f.mu.Unlock()
	f.cancel()
}

// Pause blocks further dispatch but lets in-flight tasks complete.
func (f *Future[R]) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paused {
		return
	}
	f.paused = true
	f.resumeCh = make(chan struct{})
}

// Resume un-blocks dispatch after a Pause.
func (f *Future[R]) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.paused {
		return
	}
	f.paused = false
	close(f.resumeCh)
}

func (f *Future[R]) waitIfPaused() error {
	f.mu.Lock()
	if !f.paused {
		f.mu.Unlock()
		return nil
	}
	ch := f.resumeCh
	f.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-f.ctx.Done():
		return f.ctx.Err()
	}
}

// Wait blocks until the batch completes and returns its summary.
func (f *Future[R]) Wait() Summary[R] {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summary
}

// Done returns a channel closed when the batch completes.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}
