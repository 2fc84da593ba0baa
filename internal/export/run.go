// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package export

import (
	"context"
	"time"

	"github.com/pdiddy/zotexport/internal/ctxlog"
	"github.com/pdiddy/zotexport/pkg/types"
)

// Trigger coalesces export requests from any number of sources into a
// single channel. A request that arrives while another is pending is
// dropped: the pending export will see the same library state.
type Trigger struct {
	ch chan struct{}
}

// NewTrigger returns a trigger with nothing pending.
func NewTrigger() *Trigger {
	return &Trigger{ch: make(chan struct{}, 1)}
}

// Fire requests an export. It never blocks.
func (t *Trigger) Fire() {
	select {
	case t.ch <- struct{}{}:
	default:
	}
}

// C returns the channel Run consumes.
func (t *Trigger) C() <-chan struct{} {
	return t.ch
}

// Every fires t immediately and then once per period until ctx is done.
// A non-positive period fires only the immediate export.
func (t *Trigger) Every(ctx context.Context, period time.Duration) {
	t.Fire()
	if period <= 0 {
		ctxlog.FromContext(ctx).Warn("ignoring non-positive export period", "period", period)
		return
	}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ctxlog.FromContext(ctx).Debug("periodic trigger fired")
				t.Fire()
			}
		}
	}()
}

// Summary counts the outcomes of the exports a Run performed.
type Summary struct {
	Written   int
	Unchanged int
}

// Total returns the number of completed exports.
func (s Summary) Total() int {
	return s.Written + s.Unchanged
}

// Run exports once per value received from triggers, one export at a time,
// until ctx is cancelled or triggers is closed. The first failed export
// stops the loop and its error is returned; cancellation is not an error.
func (e *Exporter) Run(ctx context.Context, triggers <-chan struct{}) (Summary, error) {
	log := ctxlog.FromContext(ctx)
	var sum Summary
	for {
		select {
		case <-ctx.Done():
			log.Info("cancellation requested, stopping exports", "written", sum.Written, "unchanged", sum.Unchanged)
			return sum, nil
		case _, ok := <-triggers:
			if !ok {
				return sum, nil
			}
			run, err := e.Once(ctx)
			if err != nil {
				if ctx.Err() != nil {
					log.Info("export interrupted by cancellation")
					return sum, nil
				}
				log.Error("aborting exports due to error", "error", err)
				return sum, err
			}
			if run.Status == types.RunUnchanged {
				sum.Unchanged++
			} else {
				sum.Written++
			}
		}
	}
}
