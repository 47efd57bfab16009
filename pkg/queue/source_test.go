package queue

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
	"github.com/flowstone-io/flowstone/pkg/persistence"
	"github.com/flowstone-io/flowstone/pkg/persistence/memory"
	"github.com/flowstone-io/flowstone/pkg/telemetry"
)

func newTestSource(store *memory.Persistence) *Source {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	return &Source{
		store:   store,
		logger:  logger,
		metrics: telemetry.NewMetrics(logger),
		queue:   DefaultQueue,
	}
}

func saveManualTrigger(t *testing.T, store *memory.Persistence, triggerType models.TriggerType, active bool) *models.WorkflowTrigger {
	t.Helper()

	now := time.Now().UTC()
	trigger := &models.WorkflowTrigger{
		ID:          uuid.New().String(),
		GraphID:     uuid.New().String(),
		TenantID:    "tenant-1",
		TriggerType: triggerType,
		IsActive:    active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	require.NoError(t, store.Triggers().Save(context.Background(), trigger))

	return trigger
}

func TestFire_QueuesExecution(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	source := newTestSource(store)
	trigger := saveManualTrigger(t, store, models.TriggerTypeManual, true)

	executionID, err := source.Fire(ctx, trigger.ID, map[string]any{"reason": "ops"})
	require.NoError(t, err)

	execution, err := store.Executions().GetByID(ctx, executionID)
	require.NoError(t, err)

	assert.Equal(t, trigger.GraphID, execution.GraphID)
	assert.Equal(t, trigger.ID, execution.TriggerID)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, models.ExecutionSourceManual, execution.TriggerData["source"])
	assert.Equal(t, map[string]any{"reason": "ops"}, execution.TriggerData["data"])
}

func TestFire_Rejections(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	source := newTestSource(store)

	_, err := source.Fire(ctx, "missing", nil)
	assert.ErrorIs(t, err, persistence.ErrTriggerNotFound)

	webhookTrigger := saveManualTrigger(t, store, models.TriggerTypeWebhook, true)

	_, err = source.Fire(ctx, webhookTrigger.ID, nil)
	assert.ErrorIs(t, err, ErrNotManual)

	inactive := saveManualTrigger(t, store, models.TriggerTypeManual, false)

	_, err = source.Fire(ctx, inactive.ID, nil)
	assert.ErrorIs(t, err, ErrInactive)
}
