package batch

import "context"

// Map is submit_batch specialized to tasks[i] = (fn, items[i])
// (spec.md §4.9).
func Map[T, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error), opts Options) *Future[R] {
	tasks := make([]TaskFunc[R], len(items))
	for i, item := range items {
		item := item
		tasks[i] = func(ctx context.Context) (R, error) {
			return fn(ctx, item)
		}
	}
	return Run(ctx, tasks, opts)
}
