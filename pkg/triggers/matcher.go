package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
	"github.com/flowstone-io/flowstone/pkg/telemetry"
)

// Matcher evaluates events against the cached triggers and queues
// executions for matches.
type Matcher struct {
	registry *Registry
	store    persistence.Persistence
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// NewMatcher creates a matcher over the given registry and store.
func NewMatcher(registry *Registry, store persistence.Persistence, logger *slog.Logger, metrics *telemetry.Metrics) *Matcher {
	if metrics == nil {
		metrics = telemetry.NewMetrics(logger)
	}

	return &Matcher{
		registry: registry,
		store:    store,
		logger:   logger.With("module", "matcher"),
		metrics:  metrics,
	}
}

// FindMatching returns one MatchedWorkflow per cached trigger the event
// satisfies. Scheduled, webhook and manual triggers never match live
// events; they are fired by their own components.
func (m *Matcher) FindMatching(event *models.EventEnvelope) []*models.MatchedWorkflow {
	matches := make([]*models.MatchedWorkflow, 0)

	for _, trigger := range m.registry.Triggers() {
		if !matchesTrigger(trigger, event) {
			continue
		}

		matches = append(matches, &models.MatchedWorkflow{
			GraphID:   trigger.GraphID,
			TriggerID: trigger.ID,
			TenantID:  trigger.TenantID,
			TriggerData: map[string]any{
				"source":         models.ExecutionSourceEvent,
				"event_id":       event.EventID,
				"event_type":     event.EventType,
				"aggregate_id":   event.AggregateID,
				"aggregate_type": event.AggregateType,
				"event_data":     event.EventData,
				"occurred_at":    event.OccurredAt,
			},
		})
	}

	return matches
}

// QueueExecution inserts a pending execution for the match and returns its
// id. Not deduplicated: publishing the same event twice queues twice.
func (m *Matcher) QueueExecution(ctx context.Context, matched *models.MatchedWorkflow) (string, error) {
	execution := &models.WorkflowExecution{
		ID:          uuid.New().String(),
		TenantID:    matched.TenantID,
		GraphID:     matched.GraphID,
		TriggerID:   matched.TriggerID,
		TriggerData: matched.TriggerData,
		Status:      models.ExecutionStatusPending,
		QueuedAt:    time.Now().UTC(),
	}

	err := m.store.Executions().Enqueue(ctx, execution)
	if err != nil {
		return "", fmt.Errorf("failed to queue execution for graph %s: %w", matched.GraphID, err)
	}

	telemetry.Add(ctx, m.metrics.ExecutionsQueued, 1)

	m.logger.Info("Execution queued",
		"execution_id", execution.ID,
		"graph_id", matched.GraphID,
		"trigger_id", matched.TriggerID)

	return execution.ID, nil
}

// HandleEvent matches one event and queues every resulting execution. One
// failed enqueue fails the handler so the dispatcher retry policy applies.
func (m *Matcher) HandleEvent(ctx context.Context, event *models.EventEnvelope) error {
	for _, matched := range m.FindMatching(event) {
		_, err := m.QueueExecution(ctx, matched)
		if err != nil {
			return err
		}
	}

	return nil
}

func matchesTrigger(trigger *models.WorkflowTrigger, event *models.EventEnvelope) bool {
	if trigger.TenantID != event.TenantID {
		return false
	}

	if trigger.EntityType != "" && trigger.EntityType != event.AggregateType {
		return false
	}

	if !matchesEventType(trigger, event) {
		return false
	}

	return matchesConditions(trigger.FilterConditions, event.EventData)
}

// matchesEventType applies tag-substring matching of the trigger type
// against the event type.
func matchesEventType(trigger *models.WorkflowTrigger, event *models.EventEnvelope) bool {
	switch trigger.TriggerType {
	case models.TriggerTypeRecordCreated:
		return strings.Contains(event.EventType, "Created")
	case models.TriggerTypeRecordUpdated:
		return strings.Contains(event.EventType, "Updated") || strings.Contains(event.EventType, "Changed")
	case models.TriggerTypeRecordDeleted:
		return strings.Contains(event.EventType, "Deleted")
	case models.TriggerTypeFieldChanged:
		if !strings.Contains(event.EventType, "Updated") && !strings.Contains(event.EventType, "Changed") {
			return false
		}

		_, present := event.EventData[trigger.FieldName]

		return present
	default:
		return false
	}
}

// matchesConditions is a conjunctive equality match: every condition key
// must be present in the payload with an equal value. No conditions means
// always true.
func matchesConditions(conditions map[string]any, payload map[string]any) bool {
	for key, want := range conditions {
		got, present := payload[key]
		if !present || !reflect.DeepEqual(got, want) {
			return false
		}
	}

	return true
}
