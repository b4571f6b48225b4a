package converge

import (
	"context"
	"testing"
	"time"

	"github.com/cytomig/cytomig/internal/cytomine"
)

// countSequenceLister returns counts[i] fabricated image instances on the
// i-th call, repeating the last entry once the sequence is exhausted.
type countSequenceLister struct {
	counts  []int
	queries int
}

func (l *countSequenceLister) ProjectImages(ctx context.Context, projectID int64) ([]cytomine.ImageInstance, error) {
	idx := l.queries
	if idx >= len(l.counts) {
		idx = len(l.counts) - 1
	}
	l.queries++

	images := make([]cytomine.ImageInstance, l.counts[idx])
	for i := range images {
		images[i] = cytomine.ImageInstance{ID: int64(i + 1), Project: projectID}
	}
	return images, nil
}

func fastPoller() Poller {
	return Poller{Interval: time.Millisecond}
}

func TestConvergesAtAttemptK(t *testing.T) {
	lister := &countSequenceLister{counts: []int{0, 1, 3}}

	images, attempts := fastPoller().AwaitImages(context.Background(), lister, 7, 3)

	if len(images) != 3 {
		t.Errorf("got %d images, want 3", len(images))
	}
	if attempts != 3 {
		t.Errorf("performed %d attempts, want 3", attempts)
	}
	if lister.queries != 3 {
		t.Errorf("performed %d queries, want 3", lister.queries)
	}
}

func TestImmediateConvergenceQueriesOnce(t *testing.T) {
	lister := &countSequenceLister{counts: []int{2}}

	images, attempts := fastPoller().AwaitImages(context.Background(), lister, 7, 2)

	if len(images) != 2 || attempts != 1 {
		t.Errorf("got %d images in %d attempts, want 2 in 1", len(images), attempts)
	}
}

func TestBudgetIsFiveAttemptsPerExpectedItem(t *testing.T) {
	// Never reaches the expected count of 2; budget is 2*5 = 10.
	lister := &countSequenceLister{counts: []int{1}}

	images, attempts := fastPoller().AwaitImages(context.Background(), lister, 7, 2)

	if attempts != 10 {
		t.Errorf("performed %d attempts, want 10", attempts)
	}
	if len(images) != 1 {
		t.Errorf("partial result has %d images, want the best observed 1", len(images))
	}
}

func TestShortfallIsNotAnError(t *testing.T) {
	lister := &countSequenceLister{counts: []int{0}}

	// Must return (no panic, no error surface) with the empty partial set.
	images, _ := fastPoller().AwaitImages(context.Background(), lister, 7, 3)
	if len(images) != 0 {
		t.Errorf("got %d images, want 0", len(images))
	}
}

func TestZeroExpectedQueriesOnce(t *testing.T) {
	lister := &countSequenceLister{counts: []int{0}}

	images, attempts := fastPoller().AwaitImages(context.Background(), lister, 7, 0)
	if attempts != 1 {
		t.Errorf("performed %d attempts, want 1", attempts)
	}
	if len(images) != 0 {
		t.Errorf("got %d images, want 0", len(images))
	}
}

func TestCancelledContextStopsPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lister := &countSequenceLister{counts: []int{0}}
	_, attempts := fastPoller().AwaitImages(ctx, lister, 7, 4)

	if attempts > 1 {
		t.Errorf("performed %d attempts after cancellation, want at most 1", attempts)
	}
}
