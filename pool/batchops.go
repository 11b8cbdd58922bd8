package pool

import (
	"context"
	"fmt"

	"code.hybscloud.com/wpool/batch"
)

// SubmitBatch runs tasks through the pool concurrently, collecting every
// outcome in original submission order (spec.md §4.9 submit_batch).
// Each task is itself a full Submit/Wait round trip, so back-pressure,
// affinity, retries, and per-task timeouts all apply exactly as they
// would to a standalone Submit.
func (p *Pool) SubmitBatch(ctx context.Context, tasks []Task, opts batch.Options) *batch.Future[Result] {
	if opts.Concurrency <= 0 {
		opts.Concurrency = p.workerCount()
	}
	fns := make([]batch.TaskFunc[Result], len(tasks))
	for i, t := range tasks {
		t := t
		fns[i] = func(taskCtx context.Context) (Result, error) {
			return p.submitAndWait(taskCtx, t)
		}
	}
	return batch.Run(ctx, fns, opts)
}

// Map specializes SubmitBatch to tasks[i] = (method, paramsList[i])
// (spec.md §4.9 map). chunk_size's role of bounding per-message overhead
// for very large batches (spec.md §4.10) is package batch's own
// Chunks/chunked-dispatch concern at the wire-serialization layer below
// Submit, not something Map re-implements here; one Task is still one
// Submit per item.
func (p *Pool) Map(ctx context.Context, method string, paramsList [][]byte, opts batch.Options) *batch.Future[Result] {
	tasks := make([]Task, len(paramsList))
	for i, params := range paramsList {
		tasks[i] = Task{Method: method, Params: params}
	}
	return p.SubmitBatch(ctx, tasks, opts)
}

func (p *Pool) submitAndWait(ctx context.Context, t Task) (Result, error) {
	fut, err := p.Submit(ctx, t.Method, t.Params, t)
	if err != nil {
		return Result{}, err
	}
	outcome, res, ferr := fut.Wait()
	if outcome != OutcomeResult {
		if ferr == nil {
			ferr = fmt.Errorf("pool: task outcome %s", outcome)
		}
		return Result{}, ferr
	}
	return res, nil
}
