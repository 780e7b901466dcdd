package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Trigger is one request to run a deployment. The three trigger surfaces
// (schedule, manual, code-push webhook) all produce the same Trigger.
type Trigger struct {
	// Source is "schedule", "manual", or "push".
	Source string
	// RequestedAt is when the trigger arrived.
	RequestedAt time.Time
}

// Coordinator enforces the single-flight, coalescing deployment
// discipline: at most one run is in flight at any time, a trigger that
// arrives during a run waits in a single slot, and a newer trigger
// displaces an older waiting one. In-progress runs are never preempted by
// a trigger; only queued, not-yet-started triggers can be superseded.
//
// The slot is a capacity-1 channel. The worker drains it only when idle,
// so whatever sits in the slot when a run finishes is the latest intent;
// everything older was already discarded on arrival.
type Coordinator struct {
	slot   chan Trigger
	run    func(context.Context, Trigger)
	logger *slog.Logger

	busy      atomic.Bool
	triggers  atomic.Int64
	coalesced atomic.Int64
	runs      atomic.Int64
}

// CoordinatorStats are point-in-time counters.
type CoordinatorStats struct {
	Busy      bool  `json:"busy"`
	Triggers  int64 `json:"triggers"`
	Coalesced int64 `json:"coalesced"`
	Runs      int64 `json:"runs"`
	Pending   int   `json:"pending"`
}

// NewCoordinator creates a Coordinator that executes run for each trigger
// that survives coalescing. Call Run to start the worker.
func NewCoordinator(run func(context.Context, Trigger), logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		slot:   make(chan Trigger, 1),
		run:    run,
		logger: logger,
	}
}

// Request hands a trigger to the worker. It never blocks: when the slot
// already holds a pending trigger, the older one is dropped in favor of t.
// Reports whether a pending trigger was displaced.
func (c *Coordinator) Request(t Trigger) bool {
	c.triggers.Add(1)
	displaced := false
	for {
		select {
		case c.slot <- t:
			if displaced {
				c.logger.Info("trigger coalesced", "kept", t.Source, "requested_at", t.RequestedAt)
			}
			return displaced
		default:
		}
		select {
		case old := <-c.slot:
			c.coalesced.Add(1)
			displaced = true
			c.logger.Debug("discarding superseded trigger", "source", old.Source, "requested_at", old.RequestedAt)
		default:
			// The worker claimed the slot between our two selects;
			// loop and enqueue into the now-empty slot.
		}
	}
}

// Run blocks until ctx is cancelled, executing queued triggers strictly
// sequentially. A run that is underway when ctx is cancelled is not
// interrupted here; its own step timeouts bound how long it can last.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-c.slot:
			c.runs.Add(1)
			c.busy.Store(true)
			c.run(ctx, t)
			c.busy.Store(false)
		}
	}
}

// Stats returns the current counters.
func (c *Coordinator) Stats() CoordinatorStats {
	return CoordinatorStats{
		Busy:      c.busy.Load(),
		Triggers:  c.triggers.Load(),
		Coalesced: c.coalesced.Load(),
		Runs:      c.runs.Load(),
		Pending:   len(c.slot),
	}
}
