package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowstone-io/flowstone/pkg/graph"
	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
)

// ErrGraphNotFound is returned when a workflow graph is not found.
var ErrGraphNotFound = persistence.ErrGraphNotFound

// Graph owns the workflow graph lifecycle. Structural validation runs on
// every save; an invalid graph is never persisted.
type Graph struct {
	persistence persistence.Persistence
}

// NewGraph creates a new graph service.
func NewGraph(persistence persistence.Persistence) *Graph {
	return &Graph{persistence: persistence}
}

// HealthCheck checks the health of the persistence layer.
func (g *Graph) HealthCheck(ctx context.Context) (string, bool) {
	if g.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := g.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List retrieves graphs, optionally scoped to a tenant.
func (g *Graph) List(ctx context.Context, tenantID string) ([]*models.WorkflowGraph, error) {
	graphs, err := g.persistence.Graphs().List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list graphs: %w", err)
	}

	return graphs, nil
}

// FetchByID retrieves a graph by its ID.
func (g *Graph) FetchByID(ctx context.Context, id string) (*models.WorkflowGraph, error) {
	return g.persistence.Graphs().GetByID(ctx, id)
}

// Create validates and persists a new draft graph.
func (g *Graph) Create(ctx context.Context, workflowGraph *models.WorkflowGraph) (*models.WorkflowGraph, error) {
	if workflowGraph == nil {
		return nil, ErrGraphNil
	}

	if workflowGraph.Name == "" {
		return nil, ErrGraphNameRequired
	}

	err := graph.Validate(workflowGraph)
	if err != nil {
		return nil, NewValidationError("Create", "INVALID_GRAPH", err.Error(), fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	now := time.Now().UTC()
	workflowGraph.ID = uuid.New().String()
	workflowGraph.CreatedAt = now
	workflowGraph.UpdatedAt = now

	if workflowGraph.Status == "" {
		workflowGraph.Status = models.GraphStatusDraft
	}

	err = g.persistence.Graphs().Save(ctx, workflowGraph)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph: %w", err)
	}

	return workflowGraph, nil
}

// Update validates and persists changes to an existing graph. Published
// graphs must be unpublished before they can change.
func (g *Graph) Update(ctx context.Context, graphID string, workflowGraph *models.WorkflowGraph) (*models.WorkflowGraph, error) {
	if workflowGraph == nil {
		return nil, ErrGraphNil
	}

	existing, err := g.persistence.Graphs().GetByID(ctx, graphID)
	if err != nil {
		return nil, err
	}

	if existing.Status == models.GraphStatusPublished {
		return nil, ErrCannotModifyPublished
	}

	err = graph.Validate(workflowGraph)
	if err != nil {
		return nil, NewValidationError("Update", "INVALID_GRAPH", err.Error(), fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	workflowGraph.ID = graphID
	workflowGraph.TenantID = existing.TenantID
	workflowGraph.Status = existing.Status
	workflowGraph.CreatedAt = existing.CreatedAt
	workflowGraph.PublishedAt = existing.PublishedAt
	workflowGraph.UpdatedAt = time.Now().UTC()

	err = g.persistence.Graphs().Save(ctx, workflowGraph)
	if err != nil {
		return nil, fmt.Errorf("failed to update graph: %w", err)
	}

	return workflowGraph, nil
}

// Publish transitions a graph to published after the stricter publish
// validation. Only published graphs have their triggers matched and fired.
func (g *Graph) Publish(ctx context.Context, graphID string) (*models.WorkflowGraph, error) {
	existing, err := g.persistence.Graphs().GetByID(ctx, graphID)
	if err != nil {
		return nil, err
	}

	if existing.Status == models.GraphStatusPublished {
		return nil, ErrAlreadyPublished
	}

	err = graph.ValidateForPublish(existing)
	if err != nil {
		return nil, NewValidationError("Publish", "INVALID_GRAPH", err.Error(), fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	now := time.Now().UTC()
	existing.Status = models.GraphStatusPublished
	existing.PublishedAt = &now
	existing.UpdatedAt = now

	err = g.persistence.Graphs().Save(ctx, existing)
	if err != nil {
		return nil, fmt.Errorf("failed to publish graph: %w", err)
	}

	return existing, nil
}

// Unpublish takes a published graph out of rotation.
func (g *Graph) Unpublish(ctx context.Context, graphID string) (*models.WorkflowGraph, error) {
	existing, err := g.persistence.Graphs().GetByID(ctx, graphID)
	if err != nil {
		return nil, err
	}

	if existing.Status != models.GraphStatusPublished {
		return nil, ErrNotPublished
	}

	existing.Status = models.GraphStatusUnpublished
	existing.UpdatedAt = time.Now().UTC()

	err = g.persistence.Graphs().Save(ctx, existing)
	if err != nil {
		return nil, fmt.Errorf("failed to unpublish graph: %w", err)
	}

	return existing, nil
}

// Delete removes a graph; its triggers cascade.
func (g *Graph) Delete(ctx context.Context, graphID string) error {
	err := g.persistence.Graphs().Delete(ctx, graphID)
	if err != nil {
		if errors.Is(err, persistence.ErrGraphNotFound) {
			return ErrGraphNotFound
		}

		return fmt.Errorf("failed to delete graph: %w", err)
	}

	return nil
}
