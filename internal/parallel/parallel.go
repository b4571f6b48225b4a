// Package parallel runs independent I/O-bound subtasks with a concurrency
// cap. Each task is its own failure domain: an error is recorded and
// reported, it never cancels sibling tasks and never aborts the batch.
package parallel

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is used when a caller passes a non-positive limit.
const DefaultWorkers = 8

// Task is one unit of work. Name identifies the item in failure reports,
// e.g. "image 1234" or "attached file report.pdf".
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Failure records one task that returned an error.
type Failure struct {
	Name string
	Err  error
}

// Run executes the tasks with at most limit running at once and returns
// the failures, in no particular order. A task error never propagates to
// the group: siblings keep running and the batch always completes. The
// context is only consulted by the tasks themselves.
func Run(ctx context.Context, limit int, tasks []Task) []Failure {
	if limit <= 0 {
		limit = DefaultWorkers
	}

	var (
		mu       sync.Mutex
		failures []Failure
	)

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(limit)

	for _, task := range tasks {
		task := task
		group.Go(func() error {
			if err := task.Run(ctx); err != nil {
				mu.Lock()
				failures = append(failures, Failure{Name: task.Name, Err: err})
				mu.Unlock()
			}
			// Failures are collected, not returned, so one bad item
			// cannot cancel the group context for its siblings.
			return nil
		})
	}

	// Wait cannot fail: every task returns nil to the group.
	_ = group.Wait()
	return failures
}

// ForEach is a convenience for homogeneous batches: it builds one task per
// item with a caller-supplied namer and runner.
func ForEach[T any](ctx context.Context, limit int, items []T, name func(T) string, run func(ctx context.Context, item T) error) []Failure {
	tasks := make([]Task, 0, len(items))
	for _, item := range items {
		item := item
		tasks = append(tasks, Task{
			Name: name(item),
			Run: func(ctx context.Context) error {
				return run(ctx, item)
			},
		})
	}
	return Run(ctx, limit, tasks)
}
