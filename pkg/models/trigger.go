package models

import "time"

// TriggerType is the closed set of ways a workflow can be started.
type TriggerType string

const (
	TriggerTypeRecordCreated TriggerType = "record_created"
	TriggerTypeRecordUpdated TriggerType = "record_updated"
	TriggerTypeRecordDeleted TriggerType = "record_deleted"
	TriggerTypeFieldChanged  TriggerType = "field_changed"
	TriggerTypeScheduled     TriggerType = "scheduled"
	TriggerTypeWebhook       TriggerType = "webhook"
	TriggerTypeManual        TriggerType = "manual"
)

// IsEventDriven reports whether the trigger type is matched against live
// domain events. Scheduled, webhook and manual triggers are fired by their
// own components instead.
func (t TriggerType) IsEventDriven() bool {
	switch t {
	case TriggerTypeRecordCreated, TriggerTypeRecordUpdated,
		TriggerTypeRecordDeleted, TriggerTypeFieldChanged:
		return true
	case TriggerTypeScheduled, TriggerTypeWebhook, TriggerTypeManual:
		return false
	}

	return false
}

// WorkflowTrigger binds a trigger definition to exactly one workflow graph.
type WorkflowTrigger struct {
	ID          string      `json:"id"           validate:"required"`
	GraphID     string      `json:"graph_id"     validate:"required"`
	TenantID    string      `json:"tenant_id"    validate:"required"`
	TriggerType TriggerType `json:"trigger_type" validate:"required"`

	// EntityType optionally restricts event-driven triggers to one
	// aggregate type (e.g. "deal").
	EntityType string `json:"entity_type,omitempty"`

	// FieldName is the watched payload field for field_changed triggers.
	FieldName string `json:"field_name,omitempty"`

	// FilterConditions is a conjunctive equality predicate evaluated
	// against the event payload. Nil means no filtering.
	FilterConditions map[string]any `json:"filter_conditions,omitempty"`

	// CronExpression drives scheduled triggers. Empty on a scheduled
	// trigger marks it one-shot (delayed action): it is deactivated after
	// firing once.
	CronExpression string `json:"cron_expression,omitempty"`

	// Secret authenticates webhook invocations via HMAC. It is returned
	// to the caller exactly once at generation time and never serialized.
	Secret string `json:"-"`

	IsActive  bool       `json:"is_active"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	RunCount  int64      `json:"run_count"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsOneShot reports whether a scheduled trigger fires once and is then
// deactivated instead of being rescheduled from a cron expression.
func (t *WorkflowTrigger) IsOneShot() bool {
	return t.TriggerType == TriggerTypeScheduled && t.CronExpression == ""
}
