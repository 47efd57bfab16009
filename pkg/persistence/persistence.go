// Package persistence provides the durable store abstraction consumed by the
// event log, trigger registry, scheduler, dispatcher and execution workers.
package persistence

import (
	"context"
	"time"

	"github.com/flowstone-io/flowstone/pkg/models"
)

// EventRepository stores the append-only event streams.
type EventRepository interface {
	// Append inserts a single envelope. A conflicting concurrent writer is
	// rejected with a *ConflictError via the store's uniqueness constraint
	// on (aggregate_id, version) - never a silent overwrite.
	Append(ctx context.Context, event *models.EventEnvelope) error

	// ForAggregate returns every event with version > afterVersion for the
	// aggregate, in ascending version order.
	ForAggregate(ctx context.Context, aggregateID string, afterVersion int64) ([]*models.EventEnvelope, error)

	// Since returns all events with occurred_at >= cutoff in ascending
	// occurred_at order. Used by administrative replay.
	Since(ctx context.Context, cutoff time.Time) ([]*models.EventEnvelope, error)
}

// SnapshotRepository stores materialized aggregate state keyed by
// (aggregate_id, version).
type SnapshotRepository interface {
	Save(ctx context.Context, snapshot *models.AggregateSnapshot) error

	// Latest returns the newest snapshot for the aggregate, or
	// ErrSnapshotNotFound when none exists.
	Latest(ctx context.Context, aggregateID string) (*models.AggregateSnapshot, error)
}

// TriggerRepository stores workflow trigger definitions.
type TriggerRepository interface {
	Save(ctx context.Context, trigger *models.WorkflowTrigger) error
	GetByID(ctx context.Context, id string) (*models.WorkflowTrigger, error)
	ListByGraph(ctx context.Context, graphID string) ([]*models.WorkflowTrigger, error)
	Delete(ctx context.Context, id string) error

	// ActiveForPublishedGraphs returns every active trigger belonging to a
	// published graph. The trigger registry refreshes its cache from this.
	ActiveForPublishedGraphs(ctx context.Context) ([]*models.WorkflowTrigger, error)

	// DueScheduled returns active scheduled triggers with
	// now-grace <= next_run_at <= now, ordered by next_run_at ascending,
	// capped at limit. Triggers older than the grace window are dropped
	// intentionally to avoid firing a backlog after downtime.
	DueScheduled(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]*models.WorkflowTrigger, error)
}

// GraphRepository stores workflow graph definitions.
type GraphRepository interface {
	Save(ctx context.Context, graph *models.WorkflowGraph) error
	GetByID(ctx context.Context, id string) (*models.WorkflowGraph, error)
	List(ctx context.Context, tenantID string) ([]*models.WorkflowGraph, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository is the durable execution queue.
type ExecutionRepository interface {
	Enqueue(ctx context.Context, execution *models.WorkflowExecution) error

	// Claim atomically selects up to limit pending executions not held by
	// any other worker (lock-and-skip), marks them running and assigns
	// workerID. Two workers never receive the same execution.
	Claim(ctx context.Context, workerID string, limit int) ([]*models.WorkflowExecution, error)

	Update(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
}

// DeadLetterRepository stores events that exhausted their handler retry
// budget.
type DeadLetterRepository interface {
	Save(ctx context.Context, entry *models.DeadLetterEntry) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.DeadLetterEntry, error)
	Clear(ctx context.Context) error
}

// Persistence aggregates the repositories of one durable store.
type Persistence interface {
	Events() EventRepository
	Snapshots() SnapshotRepository
	Triggers() TriggerRepository
	Graphs() GraphRepository
	Executions() ExecutionRepository
	DeadLetters() DeadLetterRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
