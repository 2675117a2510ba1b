// Package poll implements bounded polling over execution status. The
// watcher is a pure observer: when its budget runs out it reports a
// local timeout and leaves the execution untouched, since the underlying
// operation may still complete.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solsuite/treasuryd/internal/domain/execution"
)

// ErrTimeout is returned when the attempt budget is exhausted before the
// execution reached a terminal status.
var ErrTimeout = errors.New("status polling timed out")

// Source provides execution snapshots. Satisfied by the coordinator.
type Source interface {
	Get(ctx context.Context, id string) (execution.Execution, error)
}

// Watcher polls a Source on a fixed interval until the watched execution
// turns terminal or the attempt budget runs out.
type Watcher struct {
	source      Source
	interval    time.Duration
	maxAttempts int

	sleep func(ctx context.Context, d time.Duration) error // for testing
}

// NewWatcher creates a Watcher. A maxAttempts of 0 falls back to a
// single attempt.
func NewWatcher(source Source, interval time.Duration, maxAttempts int) *Watcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Watcher{
		source:      source,
		interval:    interval,
		maxAttempts: maxAttempts,
		sleep:       sleepCtx,
	}
}

// Wait blocks until the execution reaches a terminal status, the attempt
// budget is exhausted (ErrTimeout), or ctx is cancelled. The last
// observed snapshot is returned alongside ErrTimeout so callers can
// render the in-flight state.
func (w *Watcher) Wait(ctx context.Context, id string) (execution.Execution, error) {
	var last execution.Execution

	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := w.sleep(ctx, w.interval); err != nil {
				return last, fmt.Errorf("polling aborted: %w", err)
			}
		}

		e, err := w.source.Get(ctx, id)
		if err != nil {
			return last, err
		}
		last = e

		if e.Status.IsTerminal() {
			return e, nil
		}
	}

	return last, fmt.Errorf("%w after %d attempt(s)", ErrTimeout, w.maxAttempts)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
