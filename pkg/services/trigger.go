package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
	"github.com/flowstone-io/flowstone/pkg/scheduler"
	"github.com/flowstone-io/flowstone/pkg/webhook"
)

// ErrTriggerNotFound is returned when a trigger is not found.
var ErrTriggerNotFound = persistence.ErrTriggerNotFound

// Trigger owns the trigger lifecycle: creation, schedule setup, secret
// rotation and deactivation.
type Trigger struct {
	persistence persistence.Persistence
	validate    *validator.Validate
}

// NewTrigger creates a new trigger service.
func NewTrigger(persistence persistence.Persistence) *Trigger {
	return &Trigger{
		persistence: persistence,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// configSchemas holds the per-type JSON schema for a trigger's
// type-specific fields.
var configSchemas = map[models.TriggerType]map[string]any{
	models.TriggerTypeFieldChanged: {
		"type":     "object",
		"required": []any{"field_name"},
		"properties": map[string]any{
			"field_name": map[string]any{"type": "string", "minLength": 1},
		},
	},
	models.TriggerTypeScheduled: {
		"type": "object",
		"anyOf": []any{
			map[string]any{"required": []any{"cron_expression"}},
			map[string]any{"required": []any{"next_run_at"}},
		},
		"properties": map[string]any{
			"cron_expression": map[string]any{"type": "string", "minLength": 1},
			"next_run_at":     map[string]any{"type": "string"},
		},
	},
}

// Create validates and persists a new trigger. For webhook triggers the
// returned secret is shown exactly once; it is never retrievable again.
func (t *Trigger) Create(ctx context.Context, trigger *models.WorkflowTrigger) (*models.WorkflowTrigger, string, error) {
	if trigger == nil {
		return nil, "", ErrTriggerNil
	}

	now := time.Now().UTC()
	trigger.ID = uuid.New().String()
	trigger.CreatedAt = now
	trigger.UpdatedAt = now
	trigger.IsActive = true
	trigger.RunCount = 0

	err := t.validateTrigger(ctx, trigger)
	if err != nil {
		return nil, "", err
	}

	secret := ""

	switch trigger.TriggerType {
	case models.TriggerTypeWebhook:
		secret, err = webhook.NewSecret()
		if err != nil {
			return nil, "", fmt.Errorf("failed to generate secret: %w", err)
		}

		trigger.Secret = secret
	case models.TriggerTypeScheduled:
		if trigger.NextRunAt == nil {
			next := scheduler.NextRun(trigger.CronExpression, now)
			trigger.NextRunAt = &next
		}
	default:
	}

	err = t.persistence.Triggers().Save(ctx, trigger)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create trigger: %w", err)
	}

	return trigger, secret, nil
}

// Update persists changes to an existing trigger, preserving its secret,
// creation time and run statistics.
func (t *Trigger) Update(ctx context.Context, triggerID string, trigger *models.WorkflowTrigger) (*models.WorkflowTrigger, error) {
	if trigger == nil {
		return nil, ErrTriggerNil
	}

	existing, err := t.persistence.Triggers().GetByID(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	trigger.ID = triggerID
	trigger.Secret = existing.Secret
	trigger.CreatedAt = existing.CreatedAt
	trigger.LastRunAt = existing.LastRunAt
	trigger.RunCount = existing.RunCount
	trigger.UpdatedAt = time.Now().UTC()

	err = t.validateTrigger(ctx, trigger)
	if err != nil {
		return nil, err
	}

	if trigger.TriggerType == models.TriggerTypeScheduled && trigger.NextRunAt == nil {
		next := scheduler.NextRun(trigger.CronExpression, trigger.UpdatedAt)
		trigger.NextRunAt = &next
	}

	err = t.persistence.Triggers().Save(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to update trigger: %w", err)
	}

	return trigger, nil
}

// FetchByID retrieves a trigger by its ID.
func (t *Trigger) FetchByID(ctx context.Context, id string) (*models.WorkflowTrigger, error) {
	return t.persistence.Triggers().GetByID(ctx, id)
}

// Deactivate flips a trigger to inactive. Deactivation is also how a
// pending delayed action is cancelled.
func (t *Trigger) Deactivate(ctx context.Context, triggerID string) (*models.WorkflowTrigger, error) {
	existing, err := t.persistence.Triggers().GetByID(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	existing.IsActive = false
	existing.UpdatedAt = time.Now().UTC()

	err = t.persistence.Triggers().Save(ctx, existing)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate trigger: %w", err)
	}

	return existing, nil
}

// Delete removes a trigger.
func (t *Trigger) Delete(ctx context.Context, triggerID string) error {
	err := t.persistence.Triggers().Delete(ctx, triggerID)
	if err != nil {
		if errors.Is(err, persistence.ErrTriggerNotFound) {
			return ErrTriggerNotFound
		}

		return fmt.Errorf("failed to delete trigger: %w", err)
	}

	return nil
}

// ScheduleDelayed creates a one-shot scheduled trigger that fires once
// after delay. Used for "N time-units after event X" actions.
func (t *Trigger) ScheduleDelayed(ctx context.Context, graphID, tenantID string, delay time.Duration) (*models.WorkflowTrigger, error) {
	now := time.Now().UTC()
	runAt := now.Add(delay)

	trigger := &models.WorkflowTrigger{
		ID:          uuid.New().String(),
		GraphID:     graphID,
		TenantID:    tenantID,
		TriggerType: models.TriggerTypeScheduled,
		IsActive:    true,
		NextRunAt:   &runAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := t.persistence.Triggers().Save(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule delayed trigger: %w", err)
	}

	return trigger, nil
}

// Run fires an active manual trigger, queueing one pending execution.
func (t *Trigger) Run(ctx context.Context, triggerID string, data map[string]any) (string, error) {
	trigger, err := t.persistence.Triggers().GetByID(ctx, triggerID)
	if err != nil {
		return "", err
	}

	if trigger.TriggerType != models.TriggerTypeManual {
		return "", fmt.Errorf("trigger %s: %w", triggerID, ErrNotManualTrigger)
	}

	if !trigger.IsActive {
		return "", fmt.Errorf("trigger %s: %w", triggerID, ErrTriggerInactive)
	}

	execution := &models.WorkflowExecution{
		ID:        uuid.New().String(),
		TenantID:  trigger.TenantID,
		GraphID:   trigger.GraphID,
		TriggerID: trigger.ID,
		TriggerData: map[string]any{
			"source": models.ExecutionSourceManual,
			"data":   data,
		},
		Status:   models.ExecutionStatusPending,
		QueuedAt: time.Now().UTC(),
	}

	err = t.persistence.Executions().Enqueue(ctx, execution)
	if err != nil {
		return "", fmt.Errorf("failed to queue manual execution: %w", err)
	}

	return execution.ID, nil
}

// RotateSecret replaces a webhook trigger's secret and returns the new
// value exactly once.
func (t *Trigger) RotateSecret(ctx context.Context, triggerID string) (string, error) {
	existing, err := t.persistence.Triggers().GetByID(ctx, triggerID)
	if err != nil {
		return "", err
	}

	if existing.TriggerType != models.TriggerTypeWebhook {
		return "", fmt.Errorf("trigger %s: %w", triggerID, ErrNotWebhookTrigger)
	}

	secret, err := webhook.NewSecret()
	if err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}

	existing.Secret = secret
	existing.UpdatedAt = time.Now().UTC()

	err = t.persistence.Triggers().Save(ctx, existing)
	if err != nil {
		return "", fmt.Errorf("failed to rotate secret: %w", err)
	}

	return secret, nil
}

// RotateSecretForGraph rotates the secret of the graph's webhook trigger.
// Returns ErrTriggerNotFound when the graph has no webhook trigger.
func (t *Trigger) RotateSecretForGraph(ctx context.Context, graphID string) (string, error) {
	triggers, err := t.persistence.Triggers().ListByGraph(ctx, graphID)
	if err != nil {
		return "", fmt.Errorf("failed to list graph triggers: %w", err)
	}

	for _, trigger := range triggers {
		if trigger.TriggerType == models.TriggerTypeWebhook {
			return t.RotateSecret(ctx, trigger.ID)
		}
	}

	return "", fmt.Errorf("graph %s has no webhook trigger: %w", graphID, ErrTriggerNotFound)
}

func (t *Trigger) validateTrigger(ctx context.Context, trigger *models.WorkflowTrigger) error {
	err := t.validate.StructCtx(ctx, trigger)
	if err != nil {
		return NewValidationError("validateTrigger", "INVALID_TRIGGER", err.Error(), ErrInvalidRequest)
	}

	err = t.validateConfig(trigger)
	if err != nil {
		return err
	}

	if trigger.TriggerType == models.TriggerTypeScheduled &&
		trigger.CronExpression != "" && !scheduler.Parseable(trigger.CronExpression) {
		return NewValidationError(
			"validateTrigger",
			"INVALID_CRON",
			fmt.Sprintf("cron expression %q is not parseable", trigger.CronExpression),
			ErrInvalidCronExpression,
		)
	}

	return nil
}

// validateConfig checks the trigger's type-specific fields against the
// type's JSON schema, when one is declared.
func (t *Trigger) validateConfig(trigger *models.WorkflowTrigger) error {
	schema, ok := configSchemas[trigger.TriggerType]
	if !ok {
		return nil
	}

	config := map[string]any{}

	if trigger.FieldName != "" {
		config["field_name"] = trigger.FieldName
	}

	if trigger.CronExpression != "" {
		config["cron_expression"] = trigger.CronExpression
	}

	if trigger.NextRunAt != nil {
		config["next_run_at"] = trigger.NextRunAt.Format(time.RFC3339)
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate trigger config: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return NewValidationError(
			"validateConfig",
			"INVALID_TRIGGER_CONFIG",
			strings.Join(details, "; "),
			ErrInvalidTriggerConfig,
		)
	}

	return nil
}
