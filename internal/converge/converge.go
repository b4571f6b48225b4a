// Package converge waits for the target's asynchronous image ingestion
// pipeline to produce the image instances an import expects.
//
// The wait is a bounded fixed-interval poll: the attempt budget scales
// with the expected count, the first query runs immediately, and the
// result is the best observed set. A shortfall is not an error; the
// caller matches whatever arrived against its pending uploads.
package converge

import (
	"context"
	"errors"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.uber.org/zap"

	"github.com/cytomig/cytomig/internal/cytomine"
)

// ImageLister is the one gateway query the poller needs.
type ImageLister interface {
	ProjectImages(ctx context.Context, projectID int64) ([]cytomine.ImageInstance, error)
}

// Poller polls a target project until the expected number of image
// instances exists or the attempt budget runs out.
type Poller struct {
	// Interval between attempts. Defaults to 5 seconds.
	Interval time.Duration
	// AttemptsPerItem scales the budget with the expected count.
	// Defaults to 5.
	AttemptsPerItem int
	// Clock drives the inter-attempt sleep. Defaults to the wall clock.
	Clock clock.Clock

	Log *zap.Logger
}

var errNotConverged = errors.New("converge: expected count not reached")

// AwaitImages queries the project's image instances until the observed
// count reaches expected or attempts are exhausted, and returns the last
// observed set together with the number of queries performed. It never
// fails on a shortfall; only the caller's context can end it early.
func (p Poller) AwaitImages(ctx context.Context, gw ImageLister, projectID int64, expected int) ([]cytomine.ImageInstance, int) {
	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	perItem := p.AttemptsPerItem
	if perItem <= 0 {
		perItem = 5
	}
	pollClock := p.Clock
	if pollClock == nil {
		pollClock = clock.WallClock
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}

	budget := expected * perItem
	if budget < 1 {
		budget = 1
	}

	var (
		observed []cytomine.ImageInstance
		attempts int
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			images, err := gw.ProjectImages(ctx, projectID)
			if err != nil {
				log.Warn("image instance query failed",
					zap.Int64("project", projectID),
					zap.Int("attempt", attempts),
					zap.Error(err))
				return err
			}
			observed = images
			if len(observed) != expected {
				return errNotConverged
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			if errors.Is(err, errNotConverged) {
				log.Info("waiting for image deployment",
					zap.Int64("project", projectID),
					zap.Int("observed", len(observed)),
					zap.Int("expected", expected),
					zap.Int("attempt", attempt))
			}
		},
		Attempts: budget,
		Delay:    interval,
		Clock:    pollClock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		log.Warn("image deployment did not fully converge",
			zap.Int64("project", projectID),
			zap.Int("observed", len(observed)),
			zap.Int("expected", expected),
			zap.Int("attempts", attempts))
	}
	return observed, attempts
}
