// Package models defines the core domain models for the event-sourced
// workflow orchestration layer.
package models

import "time"

// EventEnvelope is an immutable domain fact appended to an aggregate's
// stream. Versions are contiguous per aggregate, starting at 1.
type EventEnvelope struct {
	EventID       string         `json:"event_id"       validate:"required"`
	AggregateID   string         `json:"aggregate_id"   validate:"required"`
	AggregateType string         `json:"aggregate_type" validate:"required"`
	EventType     string         `json:"event_type"     validate:"required"`
	EventData     map[string]any `json:"event_data"`
	TenantID      string         `json:"tenant_id"      validate:"required"`
	CausedBy      string         `json:"caused_by"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Version       int64          `json:"version"        validate:"min=1"`
}

// AggregateSnapshot is a materialized aggregate state at a specific version,
// used purely as a replay optimization. The event stream stays authoritative;
// a missing or corrupt snapshot is always recoverable by full replay.
type AggregateSnapshot struct {
	AggregateID   string    `json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	Version       int64     `json:"version"`
	State         []byte    `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
}
