// Package scheduler fires scheduled triggers on a fixed tick. Triggers
// that slipped past the grace window are dropped, never replayed as a
// backlog after downtime.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
	"github.com/flowstone-io/flowstone/pkg/telemetry"
)

// Runner defaults.
const (
	DefaultTickInterval = 60 * time.Second
	DefaultGracePeriod  = 300 * time.Second
	DefaultBatchSize    = 100
)

// Runner polls for due scheduled triggers and queues executions for them.
type Runner struct {
	store   persistence.Persistence
	logger  *slog.Logger
	metrics *telemetry.Metrics

	tickInterval time.Duration
	gracePeriod  time.Duration
	batchSize    int
	now          func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithTickInterval overrides the poll interval.
func WithTickInterval(interval time.Duration) Option {
	return func(r *Runner) {
		if interval > 0 {
			r.tickInterval = interval
		}
	}
}

// WithGracePeriod overrides how far behind a trigger may be and still fire.
func WithGracePeriod(grace time.Duration) Option {
	return func(r *Runner) {
		if grace > 0 {
			r.gracePeriod = grace
		}
	}
}

// WithBatchSize overrides the per-tick trigger cap.
func WithBatchSize(size int) Option {
	return func(r *Runner) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a runner with the default tick, grace and batch size.
func NewRunner(store persistence.Persistence, logger *slog.Logger, metrics *telemetry.Metrics, opts ...Option) *Runner {
	if metrics == nil {
		metrics = telemetry.NewMetrics(logger)
	}

	runner := &Runner{
		store:        store,
		logger:       logger.With("module", "scheduler"),
		metrics:      metrics,
		tickInterval: DefaultTickInterval,
		gracePeriod:  DefaultGracePeriod,
		batchSize:    DefaultBatchSize,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(runner)
	}

	return runner
}

// Run ticks until the context is canceled. The first tick happens after
// one full interval, matching a fresh process joining mid-window.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Scheduler started",
		"tick", r.tickInterval, "grace", r.gracePeriod, "batch", r.batchSize)

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Scheduler stopped")

			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick fires every due trigger inside the grace window, oldest first. One
// trigger's failure is logged and the loop continues.
func (r *Runner) Tick(ctx context.Context) {
	now := r.now().UTC()

	due, err := r.store.Triggers().DueScheduled(ctx, now, r.gracePeriod, r.batchSize)
	if err != nil {
		r.logger.Error("Failed to query due triggers", "error", err)

		return
	}

	for _, trigger := range due {
		err := r.fire(ctx, trigger, now)
		if err != nil {
			r.logger.Error("Failed to fire scheduled trigger",
				"trigger_id", trigger.ID, "graph_id", trigger.GraphID, "error", err)
		}
	}
}

// fire queues one execution for the trigger and advances its schedule.
// One-shot triggers (no cron expression) deactivate after firing.
func (r *Runner) fire(ctx context.Context, trigger *models.WorkflowTrigger, now time.Time) error {
	execution := &models.WorkflowExecution{
		ID:        uuid.New().String(),
		TenantID:  trigger.TenantID,
		GraphID:   trigger.GraphID,
		TriggerID: trigger.ID,
		TriggerData: map[string]any{
			"source":       models.ExecutionSourceScheduled,
			"scheduled_at": trigger.NextRunAt,
			"fired_at":     now,
		},
		Status:   models.ExecutionStatusPending,
		QueuedAt: now,
	}

	err := r.store.Executions().Enqueue(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to queue scheduled execution: %w", err)
	}

	telemetry.Add(ctx, r.metrics.ExecutionsQueued, 1)

	trigger.LastRunAt = &now
	trigger.RunCount++
	trigger.UpdatedAt = now

	if trigger.IsOneShot() {
		trigger.IsActive = false
		trigger.NextRunAt = nil
	} else {
		next := NextRun(trigger.CronExpression, now)
		trigger.NextRunAt = &next
	}

	err = r.store.Triggers().Save(ctx, trigger)
	if err != nil {
		return fmt.Errorf("failed to advance trigger schedule: %w", err)
	}

	r.logger.Info("Scheduled trigger fired",
		"trigger_id", trigger.ID,
		"execution_id", execution.ID,
		"next_run_at", trigger.NextRunAt)

	return nil
}
