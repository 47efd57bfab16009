// Package worker claims pending workflow executions and runs them through
// an external executor, protected by the circuit breaker and loop guard.
// Multiple worker processes can run concurrently; the claim uses
// lock-and-skip semantics so no execution is ever double-run.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowstone-io/flowstone/pkg/breaker"
	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
	"github.com/flowstone-io/flowstone/pkg/telemetry"
)

// Worker defaults.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultClaimBatch   = 10
)

// Run is one claimed execution handed to the executor, together with its
// graph and the loop guard for this run.
type Run struct {
	Execution *models.WorkflowExecution
	Graph     *models.WorkflowGraph

	guard *breaker.LoopGuard
}

// Continue records one loop-back traversal and fails once the run exceeds
// its loop budget. Executors must call it before re-entering a node.
func (r *Run) Continue() error {
	return r.guard.CanContinue(r.Execution.ID)
}

// Executor interprets the graph's node types and runs node actions. It
// reports the run's outcome through its return value; the worker owns the
// status transition.
type Executor interface {
	Execute(ctx context.Context, run *Run) error
}

// Worker polls the execution queue and drives claimed runs to a terminal
// status.
type Worker struct {
	id       string
	store    persistence.Persistence
	executor Executor
	breaker  *breaker.Breaker
	guard    *breaker.LoopGuard
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer

	pollInterval time.Duration
	claimBatch   int
}

// Option configures a Worker.
type Option func(*Worker)

// WithPollInterval overrides the queue poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithClaimBatch overrides how many executions one poll may claim.
func WithClaimBatch(batch int) Option {
	return func(w *Worker) {
		if batch > 0 {
			w.claimBatch = batch
		}
	}
}

// WithMaxLoops overrides the per-execution loop budget.
func WithMaxLoops(maxLoops int) Option {
	return func(w *Worker) {
		w.guard = breaker.NewLoopGuard(maxLoops)
	}
}

// WithTracer overrides the tracer used for per-execution spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(w *Worker) {
		if tracer != nil {
			w.tracer = tracer
		}
	}
}

// NewWorker creates a worker with a fresh id, breaker and loop guard.
func NewWorker(store persistence.Persistence, executor Executor, logger *slog.Logger, metrics *telemetry.Metrics, opts ...Option) *Worker {
	if metrics == nil {
		metrics = telemetry.NewMetrics(logger)
	}

	id := "worker-" + uuid.New().String()

	worker := &Worker{
		id:           id,
		store:        store,
		executor:     executor,
		breaker:      breaker.NewBreaker(breaker.DefaultConfig(), logger),
		guard:        breaker.NewLoopGuard(breaker.DefaultMaxLoops),
		logger:       logger.With("module", "worker", "worker_id", id),
		metrics:      metrics,
		tracer:       otel.Tracer("flowstone.worker"),
		pollInterval: DefaultPollInterval,
		claimBatch:   DefaultClaimBatch,
	}

	for _, opt := range opts {
		opt(worker)
	}

	return worker
}

// ID returns the worker's claim identity.
func (w *Worker) ID() string {
	return w.id
}

// Run polls until the context is canceled. An empty claim waits one poll
// interval; a non-empty claim polls again immediately.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started", "poll", w.pollInterval, "batch", w.claimBatch)

	for {
		claimed, err := w.Poll(ctx)
		if err != nil {
			w.logger.Error("Failed to claim executions", "error", err)
		}

		if claimed > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopped")

			return ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}

// Poll claims up to claimBatch pending executions and processes them
// sequentially. Returns how many were claimed.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	executions, err := w.store.Executions().Claim(ctx, w.id, w.claimBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to claim executions: %w", err)
	}

	for _, execution := range executions {
		w.process(ctx, execution)
	}

	return len(executions), nil
}

// process drives one claimed execution to completed or failed. Failures
// are recorded as data on the execution row, never propagated.
func (w *Worker) process(ctx context.Context, execution *models.WorkflowExecution) {
	ctx, span := telemetry.StartSpan(ctx, w.tracer, "worker.process execution",
		attribute.String(telemetry.ExecutionIDKey, execution.ID),
		attribute.String(telemetry.GraphIDKey, execution.GraphID),
		attribute.String(telemetry.WorkerIDKey, w.id),
	)
	defer span.End()

	w.logger.Info("Processing execution",
		"execution_id", execution.ID, "graph_id", execution.GraphID)

	defer w.guard.Release(execution.ID)

	graph, err := w.store.Graphs().GetByID(ctx, execution.GraphID)
	if err != nil {
		err = fmt.Errorf("failed to load graph %s: %w", execution.GraphID, err)
		telemetry.SetError(span, err)
		w.fail(ctx, execution, err)

		return
	}

	key := "graph:" + execution.GraphID

	err = w.breaker.CanExecute(key)
	if err != nil {
		telemetry.SetError(span, err)
		w.fail(ctx, execution, err)

		return
	}

	run := &Run{Execution: execution, Graph: graph, guard: w.guard}

	err = w.executor.Execute(ctx, run)
	if err != nil {
		w.breaker.RecordFailure(key)
		telemetry.SetError(span, err)
		w.fail(ctx, execution, err)

		return
	}

	w.breaker.RecordSuccess(key)
	w.complete(ctx, execution)
}

func (w *Worker) complete(ctx context.Context, execution *models.WorkflowExecution) {
	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusCompleted
	execution.CompletedAt = &now
	execution.Error = ""

	err := w.store.Executions().Update(ctx, execution)
	if err != nil {
		w.logger.Error("Failed to mark execution completed",
			"execution_id", execution.ID, "error", err)

		return
	}

	telemetry.Add(ctx, w.metrics.ExecutionsSucceeded, 1)

	w.logger.Info("Execution completed", "execution_id", execution.ID)
}

func (w *Worker) fail(ctx context.Context, execution *models.WorkflowExecution, cause error) {
	now := time.Now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.CompletedAt = &now
	execution.Error = cause.Error()

	err := w.store.Executions().Update(ctx, execution)
	if err != nil {
		w.logger.Error("Failed to mark execution failed",
			"execution_id", execution.ID, "error", err)

		return
	}

	telemetry.Add(ctx, w.metrics.ExecutionsFailed, 1)

	w.logger.Warn("Execution failed", "execution_id", execution.ID, "error", cause)
}
