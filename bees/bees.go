// Package bees runs jobs on a bounded hive of goroutines. A coordinator
// schedules jobs with [Hive.TrySchedule] and collects the responses from
// [Hive.Respond]. Jobs that are ready to run wait in a [Queue] ordered by
// their sequence number so dispatch order does not depend on timing.
package bees

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"git.fractalqb.de/fractalqb/mkplan/mkerr"
)

type Response[T any] struct {
	Job T
	Err error
}

// Hive runs at most Bees jobs concurrently.
type Hive[T any] struct {
	Bees int

	g       *errgroup.Group
	ctx     context.Context
	respond chan Response[T]
	busy    int
}

// NewHive creates a hive with size bees. A size less than 1 is added to the
// number of CPUs, with at least one bee.
func NewHive[T any](size int) *Hive[T] {
	if size < 1 {
		size = runtime.NumCPU() + size
		if size < 1 {
			size = 1
		}
	}
	return &Hive[T]{Bees: size}
}

func (h *Hive[T]) Start(ctx context.Context) {
	if h.Bees <= 0 {
		h.Bees = 1
	}
	h.g, h.ctx = errgroup.WithContext(ctx)
	h.g.SetLimit(h.Bees)
	h.respond = make(chan Response[T], h.Bees)
	h.busy = 0
}

// Busy returns the number of scheduled jobs whose response was not yet
// received.
func (h *Hive[T]) Busy() int { return h.busy }

// TrySchedule runs do(job) on a free bee. It returns false if all bees are
// busy. A panic in do is reported as an invariant violation. The bee of a
// received response may still hold its slot for a moment, so Go may block
// briefly.
func (h *Hive[T]) TrySchedule(job T, do func(context.Context, T) error) bool {
	if h.busy >= h.Bees {
		return false
	}
	h.busy++
	h.g.Go(func() error {
		res := Response[T]{Job: job}
		func() {
			defer mkerr.Recover(func(cause error) { res.Err = cause })
			res.Err = do(h.ctx, job)
		}()
		h.respond <- res
		return nil
	})
	return true
}

// Respond waits for the next response. Must only be called while Busy() > 0.
func (h *Hive[T]) Respond() Response[T] {
	res := <-h.respond
	h.busy--
	return res
}

// Stop waits for all bees to finish.
func (h *Hive[T]) Stop() error {
	if h.g == nil {
		return nil
	}
	err := h.g.Wait()
	h.g = nil
	return err
}
