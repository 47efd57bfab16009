package models

import (
	"strings"
	"time"
)

// GraphStatus represents the lifecycle state of a workflow graph.
type GraphStatus string

const (
	GraphStatusDraft       GraphStatus = "draft"       // Editable, not executable
	GraphStatusPublished   GraphStatus = "published"   // Current active, executable
	GraphStatusUnpublished GraphStatus = "unpublished" // Historical, not executable
)

// Trigger node types carry a "trigger:" prefix; every valid graph contains
// at least one such node.
const TriggerNodePrefix = "trigger"

// GraphNode is a node instance in a workflow graph. Nodes live in a flat
// collection addressed by id; edges reference them by id only.
type GraphNode struct {
	ID        string         `json:"id"        validate:"required"`
	NodeType  string         `json:"node_type" validate:"required"`
	Label     string         `json:"label"`
	PositionX int            `json:"position_x"`
	PositionY int            `json:"position_y"`
	Config    map[string]any `json:"config"`
	IsEnabled bool           `json:"is_enabled"`
}

// IsTrigger reports whether the node's type tag denotes a trigger node.
func (n *GraphNode) IsTrigger() bool {
	return strings.HasPrefix(n.NodeType, TriggerNodePrefix)
}

// GraphEdge connects two nodes through named ports.
type GraphEdge struct {
	ID         string `json:"id"          validate:"required"`
	SourceNode string `json:"source_node" validate:"required"`
	SourcePort string `json:"source_port"`
	TargetNode string `json:"target_node" validate:"required"`
	TargetPort string `json:"target_port"`
}

// WorkflowGraph is the persisted DAG definition of a workflow. Structural
// invariants are enforced at save time; an invalid graph is never persisted.
type WorkflowGraph struct {
	ID          string       `json:"id"`
	TenantID    string       `json:"tenant_id" validate:"required"`
	Name        string       `json:"name"      validate:"required,min=3"`
	Description string       `json:"description"`
	Status      GraphStatus  `json:"status"    validate:"required"`
	Nodes       []*GraphNode `json:"nodes"`
	Edges       []*GraphEdge `json:"edges"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	PublishedAt *time.Time   `json:"published_at,omitempty"`
}
