package models

import "time"

// ExecutionStatus defines the lifecycle of a queued workflow execution.
// Transitions are pending → running → {completed | failed}, exactly once.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Trigger data source tags recorded on queued executions.
const (
	ExecutionSourceEvent     = "event"
	ExecutionSourceScheduled = "scheduled"
	ExecutionSourceWebhook   = "webhook"
	ExecutionSourceManual    = "manual"
)

// WorkflowExecution is a durable row in the execution queue, claimed
// exclusively by a single worker.
type WorkflowExecution struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	GraphID     string          `json:"graph_id"`
	TriggerID   string          `json:"trigger_id"`
	TriggerData map[string]any  `json:"trigger_data"`
	Status      ExecutionStatus `json:"status"`
	WorkerID    string          `json:"worker_id,omitempty"`
	QueuedAt    time.Time       `json:"queued_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// MatchedWorkflow is produced by the trigger matcher for every trigger that
// accepts an event. TriggerData embeds the full event context for downstream
// node consumption.
type MatchedWorkflow struct {
	GraphID     string         `json:"graph_id"`
	TriggerID   string         `json:"trigger_id"`
	TenantID    string         `json:"tenant_id"`
	TriggerData map[string]any `json:"trigger_data"`
}
