// Package web provides HTTP request and response types for the workflow
// orchestration API.
package web

import (
	"time"

	"github.com/flowstone-io/flowstone/pkg/models"
)

// CreateGraphRequest represents the request body for creating a workflow
// graph. Nodes and edges are validated structurally before persisting.
type CreateGraphRequest struct {
	Name        string             `json:"name"        validate:"required,min=3"`
	Description string             `json:"description"`
	TenantID    string             `json:"tenant_id"   validate:"required"`
	Nodes       []*models.GraphNode `json:"nodes"       validate:"required,min=1"`
	Edges       []*models.GraphEdge `json:"edges"`
}

// UpdateGraphRequest represents the request body for updating a graph.
// All fields are optional to support partial updates.
type UpdateGraphRequest struct {
	Name        *string             `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string             `json:"description,omitempty"`
	Nodes       []*models.GraphNode `json:"nodes,omitempty"`
	Edges       []*models.GraphEdge `json:"edges,omitempty"`
}

// CreateTriggerRequest represents the request body for attaching a trigger
// to a graph.
type CreateTriggerRequest struct {
	TriggerType      models.TriggerType `json:"trigger_type"                validate:"required,oneof=record_created record_updated record_deleted field_changed scheduled webhook manual"`
	EntityType       string             `json:"entity_type,omitempty"`
	FieldName        string             `json:"field_name,omitempty"`
	FilterConditions map[string]any     `json:"filter_conditions,omitempty"`
	CronExpression   string             `json:"cron_expression,omitempty"`
	NextRunAt        *time.Time         `json:"next_run_at,omitempty"`
	TenantID         string             `json:"tenant_id"                   validate:"required"`
}

// UpdateTriggerRequest represents the request body for updating a trigger.
// The trigger type and secret never change through this endpoint.
type UpdateTriggerRequest struct {
	EntityType       *string        `json:"entity_type,omitempty"`
	FieldName        *string        `json:"field_name,omitempty"`
	FilterConditions map[string]any `json:"filter_conditions,omitempty"`
	CronExpression   *string        `json:"cron_expression,omitempty"`
	NextRunAt        *time.Time     `json:"next_run_at,omitempty"`
	IsActive         *bool          `json:"is_active,omitempty"`
}

// CreateTriggerResponse carries the created trigger and, for webhook
// triggers, the secret - shown exactly once.
type CreateTriggerResponse struct {
	Trigger *models.WorkflowTrigger `json:"trigger"`
	Secret  string                  `json:"secret,omitempty"`
}

// SecretResponse carries a freshly rotated webhook secret.
type SecretResponse struct {
	Secret string `json:"secret"`
}

// AppendEventRequest represents the request body for appending a domain
// event to an aggregate's stream.
type AppendEventRequest struct {
	AggregateID     string         `json:"aggregate_id"     validate:"required"`
	AggregateType   string         `json:"aggregate_type"   validate:"required"`
	ExpectedVersion int64          `json:"expected_version" validate:"min=0"`
	EventType       string         `json:"event_type"       validate:"required"`
	EventData       map[string]any `json:"event_data"`
	TenantID        string         `json:"tenant_id"        validate:"required"`
	CausedBy        string         `json:"caused_by,omitempty"`
}

// RunTriggerRequest represents the request body for firing a manual
// trigger.
type RunTriggerRequest struct {
	Data map[string]any `json:"data,omitempty"`
}

// ReplayRequest represents the request body for administrative replay.
// Exactly one of AggregateID or Since must be set.
type ReplayRequest struct {
	AggregateID string     `json:"aggregate_id,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
}

// ExecutionAccepted is the 202 response for queued executions.
type ExecutionAccepted struct {
	ExecutionID string `json:"execution_id"`
}
