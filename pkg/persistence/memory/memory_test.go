package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
)

func TestEventAppend_Conflict(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	event := &models.EventEnvelope{
		EventID:       uuid.New().String(),
		AggregateID:   "deal-1",
		AggregateType: "deal",
		EventType:     "DealCreated",
		TenantID:      "tenant-1",
		OccurredAt:    time.Now().UTC(),
		Version:       1,
	}

	require.NoError(t, store.Events().Append(ctx, event))

	duplicate := *event
	duplicate.EventID = uuid.New().String()

	err := store.Events().Append(ctx, &duplicate)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))

	// The same version on a different aggregate is fine.
	other := *event
	other.EventID = uuid.New().String()
	other.AggregateID = "deal-2"

	assert.NoError(t, store.Events().Append(ctx, &other))
}

func TestClaim_ExclusiveAndOrdered(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()
	base := time.Now().UTC()

	// Enqueued out of order; claims follow queue time.
	ids := []string{"a", "b", "c"}
	for i, offset := range []time.Duration{2 * time.Second, 0, time.Second} {
		require.NoError(t, store.Executions().Enqueue(ctx, &models.WorkflowExecution{
			ID:       ids[i],
			TenantID: "tenant-1",
			GraphID:  "graph-1",
			Status:   models.ExecutionStatusPending,
			QueuedAt: base.Add(offset),
		}))
	}

	claimed, err := store.Executions().Claim(ctx, "worker-a", 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	assert.Equal(t, "b", claimed[0].ID)
	assert.Equal(t, "c", claimed[1].ID)
	assert.Equal(t, models.ExecutionStatusRunning, claimed[0].Status)
	assert.Equal(t, "worker-a", claimed[0].WorkerID)
	require.NotNil(t, claimed[0].StartedAt)

	remaining, err := store.Executions().Claim(ctx, "worker-b", 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "a", remaining[0].ID)

	empty, err := store.Executions().Claim(ctx, "worker-c", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDueScheduled_Window(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()
	now := time.Now().UTC()

	save := func(id string, nextRunAt *time.Time, triggerType models.TriggerType, active bool) {
		require.NoError(t, store.Triggers().Save(ctx, &models.WorkflowTrigger{
			ID:          id,
			GraphID:     "graph-1",
			TenantID:    "tenant-1",
			TriggerType: triggerType,
			IsActive:    active,
			NextRunAt:   nextRunAt,
		}))
	}

	due := now.Add(-time.Minute)
	stale := now.Add(-10 * time.Minute)
	future := now.Add(time.Hour)

	save("due", &due, models.TriggerTypeScheduled, true)
	save("stale", &stale, models.TriggerTypeScheduled, true)
	save("future", &future, models.TriggerTypeScheduled, true)
	save("inactive", &due, models.TriggerTypeScheduled, false)
	save("webhook", &due, models.TriggerTypeWebhook, true)
	save("unscheduled", nil, models.TriggerTypeScheduled, true)

	triggers, err := store.Triggers().DueScheduled(ctx, now, 5*time.Minute, 100)
	require.NoError(t, err)

	require.Len(t, triggers, 1)
	assert.Equal(t, "due", triggers[0].ID)
}

func TestActiveForPublishedGraphs(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	require.NoError(t, store.Graphs().Save(ctx, &models.WorkflowGraph{
		ID: "published", TenantID: "tenant-1", Name: "live", Status: models.GraphStatusPublished,
	}))
	require.NoError(t, store.Graphs().Save(ctx, &models.WorkflowGraph{
		ID: "draft", TenantID: "tenant-1", Name: "wip", Status: models.GraphStatusDraft,
	}))

	save := func(id, graphID string, active bool) {
		require.NoError(t, store.Triggers().Save(ctx, &models.WorkflowTrigger{
			ID:          id,
			GraphID:     graphID,
			TenantID:    "tenant-1",
			TriggerType: models.TriggerTypeRecordCreated,
			IsActive:    active,
		}))
	}

	save("live", "published", true)
	save("disabled", "published", false)
	save("on-draft", "draft", true)
	save("orphan", "missing-graph", true)

	active, err := store.Triggers().ActiveForPublishedGraphs(ctx)
	require.NoError(t, err)

	require.Len(t, active, 1)
	assert.Equal(t, "live", active[0].ID)
}

func TestSnapshotLatest(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	_, err := store.Snapshots().Latest(ctx, "deal-1")
	assert.ErrorIs(t, err, persistence.ErrSnapshotNotFound)

	for _, version := range []int64{3, 7, 5} {
		require.NoError(t, store.Snapshots().Save(ctx, &models.AggregateSnapshot{
			AggregateID: "deal-1",
			Version:     version,
			State:       []byte(`{}`),
			CreatedAt:   time.Now().UTC(),
		}))
	}

	latest, err := store.Snapshots().Latest(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), latest.Version)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	require.NoError(t, store.Triggers().Save(ctx, &models.WorkflowTrigger{
		ID:          "t1",
		GraphID:     "graph-1",
		TenantID:    "tenant-1",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
	}))

	fetched, err := store.Triggers().GetByID(ctx, "t1")
	require.NoError(t, err)

	// Mutating the returned value must not leak into the store.
	fetched.IsActive = false

	stored, err := store.Triggers().GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
}
