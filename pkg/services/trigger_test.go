package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence/memory"
)

func newTrigger(triggerType models.TriggerType) *models.WorkflowTrigger {
	return &models.WorkflowTrigger{
		GraphID:     uuid.New().String(),
		TenantID:    "tenant-1",
		TriggerType: triggerType,
	}
}

func TestTriggerCreate_Webhook(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	service := NewTrigger(store)

	created, secret, err := service.Create(ctx, newTrigger(models.TriggerTypeWebhook))
	require.NoError(t, err)

	// 32 random bytes, hex-encoded, shown exactly once.
	assert.Len(t, secret, 64)
	assert.True(t, created.IsActive)
	assert.NotEmpty(t, created.ID)

	stored, err := store.Triggers().GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, secret, stored.Secret)
}

func TestTriggerCreate_ScheduledComputesNextRun(t *testing.T) {
	ctx := context.Background()
	service := NewTrigger(memory.NewPersistence())

	trigger := newTrigger(models.TriggerTypeScheduled)
	trigger.CronExpression = "@hourly"

	created, secret, err := service.Create(ctx, trigger)
	require.NoError(t, err)

	assert.Empty(t, secret)
	require.NotNil(t, created.NextRunAt)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), *created.NextRunAt, time.Minute)
}

func TestTriggerCreate_ScheduledKeepsExplicitNextRun(t *testing.T) {
	ctx := context.Background()
	service := NewTrigger(memory.NewPersistence())

	runAt := time.Now().UTC().Add(45 * time.Minute)
	trigger := newTrigger(models.TriggerTypeScheduled)
	trigger.NextRunAt = &runAt

	created, _, err := service.Create(ctx, trigger)
	require.NoError(t, err)

	require.NotNil(t, created.NextRunAt)
	assert.Equal(t, runAt, *created.NextRunAt)
	assert.True(t, created.IsOneShot())
}

func TestTriggerCreate_Validation(t *testing.T) {
	ctx := context.Background()
	service := NewTrigger(memory.NewPersistence())

	_, _, err := service.Create(ctx, nil)
	assert.ErrorIs(t, err, ErrTriggerNil)

	// Missing tenant fails struct validation.
	invalid := newTrigger(models.TriggerTypeManual)
	invalid.TenantID = ""

	_, _, err = service.Create(ctx, invalid)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.True(t, IsValidationError(err))

	// Scheduled triggers need a cron expression or an explicit run time.
	_, _, err = service.Create(ctx, newTrigger(models.TriggerTypeScheduled))
	assert.ErrorIs(t, err, ErrInvalidTriggerConfig)

	// A present but unparseable cron expression is rejected.
	badCron := newTrigger(models.TriggerTypeScheduled)
	badCron.CronExpression = "not a cron"

	_, _, err = service.Create(ctx, badCron)
	assert.ErrorIs(t, err, ErrInvalidCronExpression)

	// field_changed requires the watched field name.
	_, _, err = service.Create(ctx, newTrigger(models.TriggerTypeFieldChanged))
	assert.ErrorIs(t, err, ErrInvalidTriggerConfig)
}

func TestTriggerUpdate_PreservesSecretAndStats(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	service := NewTrigger(store)

	created, secret, err := service.Create(ctx, newTrigger(models.TriggerTypeWebhook))
	require.NoError(t, err)

	// Simulate accumulated run statistics.
	stored, err := store.Triggers().GetByID(ctx, created.ID)
	require.NoError(t, err)

	lastRun := time.Now().UTC()
	stored.RunCount = 7
	stored.LastRunAt = &lastRun
	require.NoError(t, store.Triggers().Save(ctx, stored))

	changed := newTrigger(models.TriggerTypeWebhook)
	changed.GraphID = created.GraphID
	changed.EntityType = "deal"
	changed.IsActive = true

	updated, err := service.Update(ctx, created.ID, changed)
	require.NoError(t, err)

	assert.Equal(t, secret, updated.Secret)
	assert.Equal(t, int64(7), updated.RunCount)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, "deal", updated.EntityType)
}

func TestTriggerDeactivate(t *testing.T) {
	ctx := context.Background()
	service := NewTrigger(memory.NewPersistence())

	created, _, err := service.Create(ctx, newTrigger(models.TriggerTypeManual))
	require.NoError(t, err)
	require.True(t, created.IsActive)

	deactivated, err := service.Deactivate(ctx, created.ID)
	require.NoError(t, err)

	assert.False(t, deactivated.IsActive)
}

func TestTriggerDelete(t *testing.T) {
	ctx := context.Background()
	service := NewTrigger(memory.NewPersistence())

	created, _, err := service.Create(ctx, newTrigger(models.TriggerTypeManual))
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, created.ID))

	err = service.Delete(ctx, created.ID)
	assert.ErrorIs(t, err, ErrTriggerNotFound)
}

func TestScheduleDelayed(t *testing.T) {
	ctx := context.Background()
	service := NewTrigger(memory.NewPersistence())

	trigger, err := service.ScheduleDelayed(ctx, "graph-1", "tenant-1", 30*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, models.TriggerTypeScheduled, trigger.TriggerType)
	assert.True(t, trigger.IsOneShot())
	assert.True(t, trigger.IsActive)
	require.NotNil(t, trigger.NextRunAt)
	assert.WithinDuration(t, time.Now().UTC().Add(30*time.Minute), *trigger.NextRunAt, time.Minute)
}

func TestTriggerRun_Manual(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	service := NewTrigger(store)

	created, _, err := service.Create(ctx, newTrigger(models.TriggerTypeManual))
	require.NoError(t, err)

	executionID, err := service.Run(ctx, created.ID, map[string]any{"reason": "ops"})
	require.NoError(t, err)

	execution, err := store.Executions().GetByID(ctx, executionID)
	require.NoError(t, err)

	assert.Equal(t, created.GraphID, execution.GraphID)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, models.ExecutionSourceManual, execution.TriggerData["source"])
}

func TestTriggerRun_Rejections(t *testing.T) {
	ctx := context.Background()
	service := NewTrigger(memory.NewPersistence())

	webhookTrigger, _, err := service.Create(ctx, newTrigger(models.TriggerTypeWebhook))
	require.NoError(t, err)

	_, err = service.Run(ctx, webhookTrigger.ID, nil)
	assert.ErrorIs(t, err, ErrNotManualTrigger)

	manual, _, err := service.Create(ctx, newTrigger(models.TriggerTypeManual))
	require.NoError(t, err)

	_, err = service.Deactivate(ctx, manual.ID)
	require.NoError(t, err)

	_, err = service.Run(ctx, manual.ID, nil)
	assert.ErrorIs(t, err, ErrTriggerInactive)

	_, err = service.Run(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrTriggerNotFound)
}

func TestRotateSecret(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	service := NewTrigger(store)

	created, original, err := service.Create(ctx, newTrigger(models.TriggerTypeWebhook))
	require.NoError(t, err)

	rotated, err := service.RotateSecret(ctx, created.ID)
	require.NoError(t, err)

	assert.Len(t, rotated, 64)
	assert.NotEqual(t, original, rotated)

	stored, err := store.Triggers().GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, rotated, stored.Secret)

	manual, _, err := service.Create(ctx, newTrigger(models.TriggerTypeManual))
	require.NoError(t, err)

	_, err = service.RotateSecret(ctx, manual.ID)
	assert.ErrorIs(t, err, ErrNotWebhookTrigger)
}

func TestRotateSecretForGraph(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	service := NewTrigger(store)

	trigger := newTrigger(models.TriggerTypeWebhook)
	graphID := trigger.GraphID

	manual := newTrigger(models.TriggerTypeManual)
	manual.GraphID = graphID

	_, _, err := service.Create(ctx, manual)
	require.NoError(t, err)

	created, original, err := service.Create(ctx, trigger)
	require.NoError(t, err)

	rotated, err := service.RotateSecretForGraph(ctx, graphID)
	require.NoError(t, err)

	assert.NotEqual(t, original, rotated)

	stored, err := store.Triggers().GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, rotated, stored.Secret)

	_, err = service.RotateSecretForGraph(ctx, "graph-without-webhook")
	assert.ErrorIs(t, err, ErrTriggerNotFound)
}
