package pool_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/wpool/batch"
	"code.hybscloud.com/wpool/executor"
	"code.hybscloud.com/wpool/policy"
	"code.hybscloud.com/wpool/pool"
	"code.hybscloud.com/wpool/werr"
	"code.hybscloud.com/wpool/wire"
)

// fakeExecutor answers TaskRequest frames according to its method name,
// standing in for a real worker process (spec.md §1 Non-goals: spawn
// mechanics are out of scope, only Start/Send/Receive/Kill matter here).
//
//   - "echo"  : succeeds immediately, result == params
//   - "slow"  : succeeds after delay
//   - "fail"  : replies with a TaskError (CodeExecutionFailed)
//   - "hang"  : never replies until Kill
type fakeExecutor struct {
	delay   time.Duration
	replies chan executor.Frame
	killed  chan struct{}

	// onSend, if set, is invoked synchronously inside Send before any
	// reply is queued, letting a test observe the exact order requests
	// arrive at the worker.
	onSend func(method string, params []byte)
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		replies: make(chan executor.Frame, 4),
		killed:  make(chan struct{}),
	}
}

func (e *fakeExecutor) Start(ctx context.Context) error { return nil }

func (e *fakeExecutor) Send(ctx context.Context, f executor.Frame) error {
	req, err := wire.DecodeTaskRequestPayload(f.Payload)
	if err != nil {
		return err
	}
	if e.onSend != nil {
		e.onSend(req.Method, req.Params)
	}
	switch req.Method {
	case "hang":
		// never reply
	case "fail":
		ep := wire.ErrorPayload{Code: werr.CodeExecutionFailed, Message: "boom"}.Encode()
		result := wire.TaskResultPayload{Success: false, Result: ep}.Encode()
		e.replies <- executor.Frame{Header: wire.Header{Version: wire.Version, Type: wire.TypeTaskError, ID: f.Header.ID}, Payload: result}
	case "slow":
		go func() {
			time.Sleep(e.delay)
			result := wire.TaskResultPayload{Success: true, Result: req.Params}.Encode()
			e.replies <- executor.Frame{Header: wire.Header{Version: wire.Version, Type: wire.TypeTaskResponse, ID: f.Header.ID}, Payload: result}
		}()
	default:
		result := wire.TaskResultPayload{Success: true, Result: req.Params}.Encode()
		e.replies <- executor.Frame{Header: wire.Header{Version: wire.Version, Type: wire.TypeTaskResponse, ID: f.Header.ID}, Payload: result}
	}
	return nil
}

func (e *fakeExecutor) Receive(ctx context.Context) (executor.Frame, error) {
	select {
	case f := <-e.replies:
		return f, nil
	case <-e.killed:
		return executor.Frame{}, errors.New("fake: killed")
	case <-ctx.Done():
		return executor.Frame{}, ctx.Err()
	}
}

func (e *fakeExecutor) Kill() error {
	select {
	case <-e.killed:
	default:
		close(e.killed)
	}
	return nil
}

func fakeFactory() pool.Factory {
	return func() (executor.Executor, error) {
		return newFakeExecutor(), nil
	}
}

func newTestPool(t *testing.T, cfg pool.Config, pol policy.Policy) *pool.Pool {
	t.Helper()
	return newTestPoolWithFactory(t, cfg, pol, fakeFactory())
}

func newTestPoolWithFactory(t *testing.T, cfg pool.Config, pol policy.Policy, factory pool.Factory) *pool.Pool {
	t.Helper()
	if pol == nil {
		pol = policy.NewRoundRobin()
	}
	p, err := pool.New(context.Background(), cfg, factory, pol)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Terminate(ctx, true, 0)
	})
	return p
}

func TestSubmitEchoResolvesWithResult(t *testing.T) {
	p := newTestPool(t, pool.Config{MinWorkers: 1, MaxWorkers: 2}, nil)

	fut, err := p.Submit(context.Background(), "echo", []byte("hi"), pool.Task{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	outcome, res, err := fut.Wait()
	if outcome != pool.OutcomeResult || err != nil {
		t.Fatalf("outcome=%v err=%v, want Result/nil", outcome, err)
	}
	if string(res.Value) != "hi" {
		t.Fatalf("result=%q, want %q", res.Value, "hi")
	}
}

func TestSubmitFailResolvesWithTaskError(t *testing.T) {
	p := newTestPool(t, pool.Config{MinWorkers: 1, MaxWorkers: 2}, nil)

	fut, err := p.Submit(context.Background(), "fail", nil, pool.Task{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	outcome, _, ferr := fut.Wait()
	if outcome != pool.OutcomeError {
		t.Fatalf("outcome=%v, want Error", outcome)
	}
	var te *werr.TaskError
	if !errors.As(ferr, &te) || te.ErrCode != werr.CodeExecutionFailed {
		t.Fatalf("err=%v, want *werr.TaskError{CodeExecutionFailed}", ferr)
	}
}

// TestFutureResolvesExactlyOnce cancels a hanging task twice, then once
// more after it resolved, and checks the future's outcome never flips
// after first resolution (spec.md §8: "no lost wakeup ... resolved
// exactly once").
func TestFutureResolvesExactlyOnce(t *testing.T) {
	p := newTestPool(t, pool.Config{MinWorkers: 1, MaxWorkers: 1}, nil)

	fut, err := p.Submit(context.Background(), "hang", nil, pool.Task{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	fut.Cancel()
	fut.Cancel() // no-op per spec.md §8
	outcome, _, _ := fut.Wait()
	if outcome != pool.OutcomeCancelled {
		t.Fatalf("outcome=%v, want Cancelled", outcome)
	}

	// A second Cancel after resolution must not alter the recorded
	// outcome.
	fut.Cancel()
	outcome2, _, _ := fut.Wait()
	if outcome2 != pool.OutcomeCancelled {
		t.Fatalf("outcome after repeated Cancel=%v, want Cancelled (unchanged)", outcome2)
	}
}

func TestSubmitTimeout(t *testing.T) {
	p := newTestPool(t, pool.Config{MinWorkers: 1, MaxWorkers: 1}, nil)

	fut, err := p.Submit(context.Background(), "hang", nil, pool.Task{Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	outcome, _, ferr := fut.Wait()
	if outcome != pool.OutcomeTimeout || !errors.Is(ferr, werr.ErrTimeout) {
		t.Fatalf("outcome=%v err=%v, want Timeout/ErrTimeout", outcome, ferr)
	}
}

// TestBackPressureReject checks the shared queue surfaces ErrQueueFull
// once at capacity, rather than blocking or silently dropping, under the
// default reject policy (spec.md §4.9).
func TestBackPressureReject(t *testing.T) {
	p := newTestPool(t, pool.Config{
		MinWorkers:    1,
		MaxWorkers:    1,
		QueueCapacity: 1,
		BackPressure:  pool.BackPressureReject,
	}, nil)

	// Occupy the sole worker so subsequent submissions queue. Its
	// eventual reply is never delivered in this test; Terminate(force)
	// in cleanup kills it outright rather than waiting it out.
	if _, err := p.Submit(context.Background(), "hang", nil, pool.Task{}); err != nil {
		t.Fatalf("Submit busy: %v", err)
	}

	if _, err := p.Submit(context.Background(), "echo", []byte("a"), pool.Task{}); err != nil {
		t.Fatalf("Submit queued: %v", err)
	}

	// Queue is now at capacity (1); this one must be rejected.
	rejected, err := p.Submit(context.Background(), "echo", []byte("b"), pool.Task{})
	if err != nil {
		t.Fatalf("Submit overflow: %v", err)
	}
	outcome, _, ferr := rejected.Wait()
	if outcome != pool.OutcomeError || !errors.Is(ferr, werr.ErrQueueFull) {
		t.Fatalf("overflow outcome=%v err=%v, want Error/ErrQueueFull", outcome, ferr)
	}
}

// TestTerminateIdempotent checks a second Terminate call is a no-op
// (spec.md §4.9).
func TestTerminateIdempotent(t *testing.T) {
	p := newTestPool(t, pool.Config{MinWorkers: 1, MaxWorkers: 1}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Terminate(ctx, true, 0); err != nil {
		t.Fatalf("first Terminate: %v", err)
	}
	if err := p.Terminate(ctx, true, 0); err != nil {
		t.Fatalf("second Terminate: %v", err)
	}
}

// TestSubmitAfterTerminateFails checks the pool refuses new work once
// terminated rather than hanging a caller forever.
func TestSubmitAfterTerminateFails(t *testing.T) {
	p := newTestPool(t, pool.Config{MinWorkers: 1, MaxWorkers: 1}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Terminate(ctx, true, 0)

	if _, err := p.Submit(context.Background(), "echo", nil, pool.Task{}); !errors.Is(err, werr.ErrValidation) {
		t.Fatalf("Submit after Terminate err=%v, want ErrValidation", err)
	}
}

// TestZeroWorkersRejectsImmediately checks the literal §8 boundary: with
// zero workers and the (default) reject policy, submit fails with
// NoWorkersAvailable rather than queuing indefinitely for a worker that
// may never arrive.
func TestZeroWorkersRejectsImmediately(t *testing.T) {
	p := newTestPool(t, pool.Config{MinWorkers: 0, MaxWorkers: 2, QueueCapacity: 4}, nil)

	fut, err := p.Submit(context.Background(), "echo", []byte("z"), pool.Task{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	outcome, _, ferr := fut.Wait()
	if outcome != pool.OutcomeError || !errors.Is(ferr, werr.ErrNoWorkersAvailable) {
		t.Fatalf("outcome=%v err=%v, want Error/ErrNoWorkersAvailable", outcome, ferr)
	}
}

// TestZeroWorkersBlocksUntilScaleUp checks the other half of the same
// boundary: under the block policy, submit waits rather than failing,
// and succeeds once a worker is added (spec.md §8: "blocks until
// scale-up under block").
func TestZeroWorkersBlocksUntilScaleUp(t *testing.T) {
	p := newTestPool(t, pool.Config{
		MinWorkers:    0,
		MaxWorkers:    2,
		QueueCapacity: 4,
		BackPressure:  pool.BackPressureBlock,
		BlockTimeout:  time.Second,
	}, nil)

	// Submit blocks synchronously (mirroring the block policy's
	// queue-capacity behavior) until a worker exists, so it runs on its
	// own goroutine while the test adds one concurrently.
	type submitResult struct {
		fut *pool.Future
		err error
	}
	resultCh := make(chan submitResult, 1)
	go func() {
		fut, err := p.Submit(context.Background(), "echo", []byte("z"), pool.Task{})
		resultCh <- submitResult{fut, err}
	}()

	time.Sleep(10 * time.Millisecond) // let Submit reach blockUntilWorker
	if _, err := p.AddExecutor(context.Background()); err != nil {
		t.Fatalf("AddExecutor: %v", err)
	}

	sr := <-resultCh
	if sr.err != nil {
		t.Fatalf("Submit: %v", sr.err)
	}
	outcome, res, err := sr.fut.Wait()
	if outcome != pool.OutcomeResult || err != nil {
		t.Fatalf("outcome=%v err=%v, want Result/nil", outcome, err)
	}
	if string(res.Value) != "z" {
		t.Fatalf("result=%q, want %q", res.Value, "z")
	}
}

// TestPriorityQueueDispatchesAscending checks that once a worker frees
// up, queued tasks dispatch in ascending Task.Priority order regardless
// of submission order (spec.md §8 scenario 2).
func TestPriorityQueueDispatchesAscending(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(method string, params []byte) {
		if method != "echo" {
			return
		}
		mu.Lock()
		order = append(order, string(params))
		mu.Unlock()
	}
	factory := func() (executor.Executor, error) {
		e := newFakeExecutor()
		e.delay = 20 * time.Millisecond
		e.onSend = record
		return e, nil
	}
	p := newTestPoolWithFactory(t, pool.Config{
		MinWorkers:    1,
		MaxWorkers:    1,
		QueueStrategy: pool.QueuePriority,
		QueueCapacity: 8,
	}, nil, factory)

	// Occupies the sole worker long enough for all three queued
	// submissions below to land before it frees up.
	busy, err := p.Submit(context.Background(), "slow", []byte("busy"), pool.Task{})
	if err != nil {
		t.Fatalf("Submit busy: %v", err)
	}

	submit := func(name string, prio int16) *pool.Future {
		fut, err := p.Submit(context.Background(), "echo", []byte(name), pool.Task{Priority: prio})
		if err != nil {
			t.Fatalf("Submit %s: %v", name, err)
		}
		return fut
	}
	low := submit("low", 10)
	high := submit("high", -5)
	mid := submit("mid", 0)

	for _, fut := range []*pool.Future{busy, high, mid, low} {
		outcome, _, _ := fut.Wait()
		if outcome != pool.OutcomeResult {
			t.Fatalf("outcome=%v, want Result", outcome)
		}
	}

	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()
	want := []string{"high", "mid", "low"}
	if len(got) != len(want) {
		t.Fatalf("dispatch order=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order=%v, want %v", got, want)
		}
	}
}

func TestStatsReportsWorkerCounts(t *testing.T) {
	p := newTestPool(t, pool.Config{MinWorkers: 2, MaxWorkers: 4}, nil)
	snap := p.Stats()
	if snap.Workers.Ready != 2 {
		t.Fatalf("Ready=%d, want 2", snap.Workers.Ready)
	}
}

func TestAddRemoveExecutor(t *testing.T) {
	p := newTestPool(t, pool.Config{MinWorkers: 0, MaxWorkers: 2}, nil)
	id, err := p.AddExecutor(context.Background())
	if err != nil {
		t.Fatalf("AddExecutor: %v", err)
	}
	if snap := p.Stats(); snap.Workers.Ready != 1 {
		t.Fatalf("Ready=%d, want 1", snap.Workers.Ready)
	}
	if err := p.RemoveExecutor(id); err != nil {
		t.Fatalf("RemoveExecutor: %v", err)
	}
	if snap := p.Stats(); snap.Workers.Ready != 0 {
		t.Fatalf("Ready after remove=%d, want 0", snap.Workers.Ready)
	}
}

func TestAddExecutorAtCapacityFails(t *testing.T) {
	p := newTestPool(t, pool.Config{MinWorkers: 1, MaxWorkers: 1}, nil)
	if _, err := p.AddExecutor(context.Background()); !errors.Is(err, werr.ErrValidation) {
		t.Fatalf("AddExecutor at capacity err=%v, want ErrValidation", err)
	}
}

func TestSubmitBatchCollectsAllInOrder(t *testing.T) {
	p := newTestPool(t, pool.Config{MinWorkers: 3, MaxWorkers: 3}, nil)

	tasks := make([]pool.Task, 5)
	for i := range tasks {
		tasks[i] = pool.Task{Method: "echo", Params: []byte(fmt.Sprintf("t%d", i))}
	}
	fut := p.SubmitBatch(context.Background(), tasks, batch.Options{})
	summary := fut.Wait()
	if summary.Failed != 0 || summary.Succeeded != len(tasks) {
		t.Fatalf("summary=%+v, want all %d succeeded", summary, len(tasks))
	}
	for i, r := range summary.Results {
		want := fmt.Sprintf("t%d", i)
		if r.Err != nil || string(r.Value.Value) != want {
			t.Fatalf("result[%d]=%+v, want Value=%q", i, r, want)
		}
	}
}
