// Package memory provides an in-memory persistence implementation for tests
// and single-process development. All repositories are safe for concurrent
// use; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
)

// Persistence implements persistence.Persistence on top of process memory.
type Persistence struct {
	mu sync.RWMutex

	events      []*models.EventEnvelope
	byAggregate map[string]map[int64]bool // aggregate id -> taken versions
	snapshots   map[string][]*models.AggregateSnapshot
	triggers    map[string]*models.WorkflowTrigger
	graphs      map[string]*models.WorkflowGraph
	executions  map[string]*models.WorkflowExecution
	deadLetters map[string]*models.DeadLetterEntry
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		byAggregate: make(map[string]map[int64]bool),
		snapshots:   make(map[string][]*models.AggregateSnapshot),
		triggers:    make(map[string]*models.WorkflowTrigger),
		graphs:      make(map[string]*models.WorkflowGraph),
		executions:  make(map[string]*models.WorkflowExecution),
		deadLetters: make(map[string]*models.DeadLetterEntry),
	}
}

func (p *Persistence) Events() persistence.EventRepository { return (*eventRepository)(p) }

func (p *Persistence) Snapshots() persistence.SnapshotRepository { return (*snapshotRepository)(p) }

func (p *Persistence) Triggers() persistence.TriggerRepository { return (*triggerRepository)(p) }

func (p *Persistence) Graphs() persistence.GraphRepository { return (*graphRepository)(p) }

func (p *Persistence) Executions() persistence.ExecutionRepository { return (*executionRepository)(p) }

func (p *Persistence) DeadLetters() persistence.DeadLetterRepository { return (*deadLetterRepository)(p) }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }

type eventRepository Persistence

func (r *eventRepository) Append(_ context.Context, event *models.EventEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	taken := r.byAggregate[event.AggregateID]
	if taken == nil {
		taken = make(map[int64]bool)
		r.byAggregate[event.AggregateID] = taken
	}

	if taken[event.Version] {
		return &persistence.ConflictError{
			AggregateID:     event.AggregateID,
			ExpectedVersion: event.Version - 1,
		}
	}

	taken[event.Version] = true

	stored := *event
	r.events = append(r.events, &stored)

	return nil
}

func (r *eventRepository) ForAggregate(_ context.Context, aggregateID string, afterVersion int64) ([]*models.EventEnvelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.EventEnvelope, 0)

	for _, event := range r.events {
		if event.AggregateID == aggregateID && event.Version > afterVersion {
			copied := *event
			result = append(result, &copied)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })

	return result, nil
}

func (r *eventRepository) Since(_ context.Context, cutoff time.Time) ([]*models.EventEnvelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.EventEnvelope, 0)

	for _, event := range r.events {
		if !event.OccurredAt.Before(cutoff) {
			copied := *event
			result = append(result, &copied)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].OccurredAt.Before(result[j].OccurredAt) })

	return result, nil
}

type snapshotRepository Persistence

func (r *snapshotRepository) Save(_ context.Context, snapshot *models.AggregateSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *snapshot
	stored.State = append([]byte(nil), snapshot.State...)
	r.snapshots[snapshot.AggregateID] = append(r.snapshots[snapshot.AggregateID], &stored)

	return nil
}

func (r *snapshotRepository) Latest(_ context.Context, aggregateID string) (*models.AggregateSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := r.snapshots[aggregateID]
	if len(snapshots) == 0 {
		return nil, persistence.ErrSnapshotNotFound
	}

	latest := snapshots[0]
	for _, snapshot := range snapshots[1:] {
		if snapshot.Version > latest.Version {
			latest = snapshot
		}
	}

	copied := *latest

	return &copied, nil
}

type triggerRepository Persistence

func (r *triggerRepository) Save(_ context.Context, trigger *models.WorkflowTrigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *trigger
	r.triggers[trigger.ID] = &stored

	return nil
}

func (r *triggerRepository) GetByID(_ context.Context, id string) (*models.WorkflowTrigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	trigger, ok := r.triggers[id]
	if !ok {
		return nil, persistence.ErrTriggerNotFound
	}

	copied := *trigger

	return &copied, nil
}

func (r *triggerRepository) ListByGraph(_ context.Context, graphID string) ([]*models.WorkflowTrigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.WorkflowTrigger, 0)

	for _, trigger := range r.triggers {
		if trigger.GraphID != graphID {
			continue
		}

		copied := *trigger
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })

	return result, nil
}

func (r *triggerRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.triggers[id]; !ok {
		return persistence.ErrTriggerNotFound
	}

	delete(r.triggers, id)

	return nil
}

func (r *triggerRepository) ActiveForPublishedGraphs(_ context.Context) ([]*models.WorkflowTrigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.WorkflowTrigger, 0)

	for _, trigger := range r.triggers {
		if !trigger.IsActive {
			continue
		}

		graph, ok := r.graphs[trigger.GraphID]
		if !ok || graph.Status != models.GraphStatusPublished {
			continue
		}

		copied := *trigger
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (r *triggerRepository) DueScheduled(_ context.Context, now time.Time, grace time.Duration, limit int) ([]*models.WorkflowTrigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	oldest := now.Add(-grace)
	result := make([]*models.WorkflowTrigger, 0)

	for _, trigger := range r.triggers {
		if !trigger.IsActive || trigger.TriggerType != models.TriggerTypeScheduled || trigger.NextRunAt == nil {
			continue
		}

		if trigger.NextRunAt.After(now) || trigger.NextRunAt.Before(oldest) {
			continue
		}

		copied := *trigger
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].NextRunAt.Before(*result[j].NextRunAt) })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

type graphRepository Persistence

func (r *graphRepository) Save(_ context.Context, graph *models.WorkflowGraph) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *graph
	r.graphs[graph.ID] = &stored

	return nil
}

func (r *graphRepository) GetByID(_ context.Context, id string) (*models.WorkflowGraph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	graph, ok := r.graphs[id]
	if !ok {
		return nil, persistence.ErrGraphNotFound
	}

	copied := *graph

	return &copied, nil
}

func (r *graphRepository) List(_ context.Context, tenantID string) ([]*models.WorkflowGraph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.WorkflowGraph, 0)

	for _, graph := range r.graphs {
		if tenantID != "" && graph.TenantID != tenantID {
			continue
		}

		copied := *graph
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (r *graphRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.graphs[id]; !ok {
		return persistence.ErrGraphNotFound
	}

	delete(r.graphs, id)

	return nil
}

type executionRepository Persistence

func (r *executionRepository) Enqueue(_ context.Context, execution *models.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *execution
	r.executions[execution.ID] = &stored

	return nil
}

func (r *executionRepository) Claim(_ context.Context, workerID string, limit int) ([]*models.WorkflowExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make([]*models.WorkflowExecution, 0)

	for _, execution := range r.executions {
		if execution.Status == models.ExecutionStatusPending {
			pending = append(pending, execution)
		}
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].QueuedAt.Before(pending[j].QueuedAt) })

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	now := time.Now().UTC()
	claimed := make([]*models.WorkflowExecution, 0, len(pending))

	for _, execution := range pending {
		execution.Status = models.ExecutionStatusRunning
		execution.WorkerID = workerID
		startedAt := now
		execution.StartedAt = &startedAt

		copied := *execution
		claimed = append(claimed, &copied)
	}

	return claimed, nil
}

func (r *executionRepository) Update(_ context.Context, execution *models.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.executions[execution.ID]; !ok {
		return persistence.ErrExecutionNotFound
	}

	stored := *execution
	r.executions[execution.ID] = &stored

	return nil
}

func (r *executionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	execution, ok := r.executions[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	copied := *execution

	return &copied, nil
}

type deadLetterRepository Persistence

func (r *deadLetterRepository) Save(_ context.Context, entry *models.DeadLetterEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *entry
	r.deadLetters[entry.ID] = &stored

	return nil
}

func (r *deadLetterRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.deadLetters[id]; !ok {
		return persistence.ErrDeadLetterNotFound
	}

	delete(r.deadLetters, id)

	return nil
}

func (r *deadLetterRepository) List(_ context.Context) ([]*models.DeadLetterEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*models.DeadLetterEntry, 0, len(r.deadLetters))

	for _, entry := range r.deadLetters {
		copied := *entry
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].FailedAt.Before(result[j].FailedAt) })

	return result, nil
}

func (r *deadLetterRepository) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deadLetters = make(map[string]*models.DeadLetterEntry)

	return nil
}
