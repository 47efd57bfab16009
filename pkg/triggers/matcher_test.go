package triggers

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func publishedGraph(t *testing.T, store *memory.Persistence, tenantID string) *models.WorkflowGraph {
	t.Helper()

	graph := &models.WorkflowGraph{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Name:     "deal-followup",
		Status:   models.GraphStatusPublished,
		Nodes: []*models.GraphNode{
			{ID: "t1", NodeType: "trigger:event", IsEnabled: true},
		},
	}

	require.NoError(t, store.Graphs().Save(context.Background(), graph))

	return graph
}

func saveTrigger(t *testing.T, store *memory.Persistence, trigger *models.WorkflowTrigger) *models.WorkflowTrigger {
	t.Helper()

	if trigger.ID == "" {
		trigger.ID = uuid.New().String()
	}

	require.NoError(t, store.Triggers().Save(context.Background(), trigger))

	return trigger
}

func dealCreatedEvent(tenantID string) *models.EventEnvelope {
	return &models.EventEnvelope{
		EventID:       uuid.New().String(),
		AggregateID:   "deal-1",
		AggregateType: "deal",
		EventType:     "DealCreated",
		EventData:     map[string]any{"amount": 42.0, "stage": "new"},
		TenantID:      tenantID,
		OccurredAt:    time.Now().UTC(),
		Version:       1,
	}
}

func setupMatcher(t *testing.T, store *memory.Persistence) *Matcher {
	t.Helper()

	registry := NewRegistry(store, testLogger())
	require.NoError(t, registry.Refresh(context.Background()))

	return NewMatcher(registry, store, testLogger(), nil)
}

func TestFindMatching_RecordCreated(t *testing.T) {
	store := memory.NewPersistence()
	graph := publishedGraph(t, store, "tenant-1")

	trigger := saveTrigger(t, store, &models.WorkflowTrigger{
		GraphID:     graph.ID,
		TenantID:    "tenant-1",
		TriggerType: models.TriggerTypeRecordCreated,
		EntityType:  "deal",
		IsActive:    true,
	})

	matcher := setupMatcher(t, store)

	matches := matcher.FindMatching(dealCreatedEvent("tenant-1"))

	require.Len(t, matches, 1)
	assert.Equal(t, graph.ID, matches[0].GraphID)
	assert.Equal(t, trigger.ID, matches[0].TriggerID)
	assert.Equal(t, models.ExecutionSourceEvent, matches[0].TriggerData["source"])
	assert.Equal(t, "DealCreated", matches[0].TriggerData["event_type"])
}

func TestFindMatching_TenantIsolation(t *testing.T) {
	store := memory.NewPersistence()
	graph := publishedGraph(t, store, "tenant-1")

	saveTrigger(t, store, &models.WorkflowTrigger{
		GraphID:     graph.ID,
		TenantID:    "tenant-1",
		TriggerType: models.TriggerTypeRecordCreated,
		IsActive:    true,
	})

	matcher := setupMatcher(t, store)

	assert.Empty(t, matcher.FindMatching(dealCreatedEvent("tenant-2")))
}

func TestFindMatching_EntityTypeFilter(t *testing.T) {
	store := memory.NewPersistence()
	graph := publishedGraph(t, store, "tenant-1")

	saveTrigger(t, store, &models.WorkflowTrigger{
		GraphID:     graph.ID,
		TenantID:    "tenant-1",
		TriggerType: models.TriggerTypeRecordCreated,
		EntityType:  "contact",
		IsActive:    true,
	})

	matcher := setupMatcher(t, store)

	// Event aggregate type is "deal", trigger wants "contact".
	assert.Empty(t, matcher.FindMatching(dealCreatedEvent("tenant-1")))
}

func TestFindMatching_EventTypeSubstring(t *testing.T) {
	store := memory.NewPersistence()
	graph := publishedGraph(t, store, "tenant-1")

	saveTrigger(t, store, &models.WorkflowTrigger{
		GraphID:     graph.ID,
		TenantID:    "tenant-1",
		TriggerType: models.TriggerTypeRecordUpdated,
		IsActive:    true,
	})

	matcher := setupMatcher(t, store)

	// "Created" does not satisfy a record_updated trigger.
	assert.Empty(t, matcher.FindMatching(dealCreatedEvent("tenant-1")))

	updated := dealCreatedEvent("tenant-1")
	updated.EventType = "DealUpdated"

	assert.Len(t, matcher.FindMatching(updated), 1)

	// "Changed" also counts as an update.
	changed := dealCreatedEvent("tenant-1")
	changed.EventType = "DealStageChanged"

	assert.Len(t, matcher.FindMatching(changed), 1)
}

func TestFindMatching_FieldChanged(t *testing.T) {
	store := memory.NewPersistence()
	graph := publishedGraph(t, store, "tenant-1")

	saveTrigger(t, store, &models.WorkflowTrigger{
		GraphID:     graph.ID,
		TenantID:    "tenant-1",
		TriggerType: models.TriggerTypeFieldChanged,
		FieldName:   "stage",
		IsActive:    true,
	})

	matcher := setupMatcher(t, store)

	// Update event carrying the watched field.
	match := dealCreatedEvent("tenant-1")
	match.EventType = "DealUpdated"

	assert.Len(t, matcher.FindMatching(match), 1)

	// Update event without the watched field.
	noField := dealCreatedEvent("tenant-1")
	noField.EventType = "DealUpdated"
	noField.EventData = map[string]any{"amount": 10.0}

	assert.Empty(t, matcher.FindMatching(noField))

	// Created events never satisfy field_changed.
	assert.Empty(t, matcher.FindMatching(dealCreatedEvent("tenant-1")))
}

func TestFindMatching_FilterConditions(t *testing.T) {
	store := memory.NewPersistence()
	graph := publishedGraph(t, store, "tenant-1")

	saveTrigger(t, store, &models.WorkflowTrigger{
		GraphID:          graph.ID,
		TenantID:         "tenant-1",
		TriggerType:      models.TriggerTypeRecordCreated,
		FilterConditions: map[string]any{"stage": "new", "amount": 42.0},
		IsActive:         true,
	})

	matcher := setupMatcher(t, store)

	// All conditions hold.
	assert.Len(t, matcher.FindMatching(dealCreatedEvent("tenant-1")), 1)

	// One condition value differs.
	differs := dealCreatedEvent("tenant-1")
	differs.EventData = map[string]any{"amount": 42.0, "stage": "won"}

	assert.Empty(t, matcher.FindMatching(differs))

	// One condition key missing.
	missing := dealCreatedEvent("tenant-1")
	missing.EventData = map[string]any{"amount": 42.0}

	assert.Empty(t, matcher.FindMatching(missing))
}

func TestFindMatching_NonEventTriggersNeverMatch(t *testing.T) {
	store := memory.NewPersistence()
	graph := publishedGraph(t, store, "tenant-1")

	for _, triggerType := range []models.TriggerType{
		models.TriggerTypeScheduled,
		models.TriggerTypeWebhook,
		models.TriggerTypeManual,
	} {
		saveTrigger(t, store, &models.WorkflowTrigger{
			GraphID:     graph.ID,
			TenantID:    "tenant-1",
			TriggerType: triggerType,
			IsActive:    true,
		})
	}

	matcher := setupMatcher(t, store)

	assert.Empty(t, matcher.FindMatching(dealCreatedEvent("tenant-1")))
}

func TestHandleEvent_QueuesExactlyOneExecution(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	graph := publishedGraph(t, store, "tenant-1")

	trigger := saveTrigger(t, store, &models.WorkflowTrigger{
		GraphID:     graph.ID,
		TenantID:    "tenant-1",
		TriggerType: models.TriggerTypeRecordCreated,
		EntityType:  "deal",
		IsActive:    true,
	})

	// Distractors: wrong tenant, inactive, unpublished graph.
	saveTrigger(t, store, &models.WorkflowTrigger{
		GraphID:     graph.ID,
		TenantID:    "tenant-2",
		TriggerType: models.TriggerTypeRecordCreated,
		IsActive:    true,
	})
	saveTrigger(t, store, &models.WorkflowTrigger{
		GraphID:     graph.ID,
		TenantID:    "tenant-1",
		TriggerType: models.TriggerTypeRecordCreated,
		IsActive:    false,
	})

	draft := &models.WorkflowGraph{
		ID:       uuid.New().String(),
		TenantID: "tenant-1",
		Name:     "draft-graph",
		Status:   models.GraphStatusDraft,
	}
	require.NoError(t, store.Graphs().Save(ctx, draft))
	saveTrigger(t, store, &models.WorkflowTrigger{
		GraphID:     draft.ID,
		TenantID:    "tenant-1",
		TriggerType: models.TriggerTypeRecordCreated,
		IsActive:    true,
	})

	matcher := setupMatcher(t, store)

	require.NoError(t, matcher.HandleEvent(ctx, dealCreatedEvent("tenant-1")))

	claimed, err := store.Executions().Claim(ctx, "test-observer", 0)
	require.NoError(t, err)

	require.Len(t, claimed, 1)
	assert.Equal(t, graph.ID, claimed[0].GraphID)
	assert.Equal(t, trigger.ID, claimed[0].TriggerID)
	assert.Equal(t, "tenant-1", claimed[0].TenantID)
}

func TestRegistry_RefreshReplacesCache(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	graph := publishedGraph(t, store, "tenant-1")

	trigger := saveTrigger(t, store, &models.WorkflowTrigger{
		GraphID:     graph.ID,
		TenantID:    "tenant-1",
		TriggerType: models.TriggerTypeRecordCreated,
		IsActive:    true,
	})

	registry := NewRegistry(store, testLogger())

	// Before the first refresh the cache is empty.
	assert.Empty(t, registry.Triggers())

	require.NoError(t, registry.Refresh(ctx))
	require.Len(t, registry.Triggers(), 1)

	// Deactivating the trigger empties the cache on the next refresh.
	trigger.IsActive = false
	require.NoError(t, store.Triggers().Save(ctx, trigger))
	require.NoError(t, registry.Refresh(ctx))

	assert.Empty(t, registry.Triggers())
}
