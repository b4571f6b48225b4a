package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestAllTasksRun(t *testing.T) {
	var ran atomic.Int32

	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = Task{
			Name: fmt.Sprintf("task %d", i),
			Run: func(ctx context.Context) error {
				ran.Add(1)
				return nil
			},
		}
	}

	failures := Run(context.Background(), 4, tasks)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if got := ran.Load(); got != 20 {
		t.Errorf("ran %d tasks, want 20", got)
	}
}

func TestOneFailureDoesNotAbortBatch(t *testing.T) {
	const n = 10
	boom := errors.New("simulated network error")

	var succeeded atomic.Int32
	tasks := make([]Task, n)
	for i := range tasks {
		fail := i == 3
		tasks[i] = Task{
			Name: fmt.Sprintf("item %d", i),
			Run: func(ctx context.Context) error {
				if fail {
					return boom
				}
				succeeded.Add(1)
				return nil
			},
		}
	}

	failures := Run(context.Background(), 3, tasks)

	if got := succeeded.Load(); got != n-1 {
		t.Errorf("%d side effects, want %d", got, n-1)
	}
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1: %v", len(failures), failures)
	}
	if failures[0].Name != "item 3" {
		t.Errorf("failure name = %q, want %q", failures[0].Name, "item 3")
	}
	if !errors.Is(failures[0].Err, boom) {
		t.Errorf("failure err = %v, want %v", failures[0].Err, boom)
	}
}

func TestConcurrencyCapRespected(t *testing.T) {
	const limit = 3

	var mu sync.Mutex
	current, peak := 0, 0

	tasks := make([]Task, 24)
	started := make(chan struct{}, len(tasks))
	for i := range tasks {
		tasks[i] = Task{
			Name: fmt.Sprintf("task %d", i),
			Run: func(ctx context.Context) error {
				mu.Lock()
				current++
				if current > peak {
					peak = current
				}
				mu.Unlock()

				started <- struct{}{}

				mu.Lock()
				current--
				mu.Unlock()
				return nil
			},
		}
	}

	Run(context.Background(), limit, tasks)

	if len(started) != len(tasks) {
		t.Fatalf("started %d tasks, want %d", len(started), len(tasks))
	}
	if peak > limit {
		t.Errorf("peak concurrency %d exceeds limit %d", peak, limit)
	}
}

func TestForEach(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	var sum atomic.Int64
	failures := ForEach(context.Background(), 2, items,
		func(i int) string { return fmt.Sprintf("item %d", i) },
		func(ctx context.Context, i int) error {
			if i == 4 {
				return errors.New("no")
			}
			sum.Add(int64(i))
			return nil
		})

	if got := sum.Load(); got != 1+2+3+5 {
		t.Errorf("sum = %d, want %d", got, 1+2+3+5)
	}
	if len(failures) != 1 || failures[0].Name != "item 4" {
		t.Errorf("failures = %v, want single failure for item 4", failures)
	}
}

func TestEmptyBatch(t *testing.T) {
	if failures := Run(context.Background(), 0, nil); len(failures) != 0 {
		t.Errorf("unexpected failures: %v", failures)
	}
}
