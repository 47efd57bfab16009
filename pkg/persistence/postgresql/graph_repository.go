package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
)

// GraphRepository handles workflow graph database operations. Nodes and
// edges are stored as JSONB documents: the validator is the only writer
// gate, so the relational layer treats the graph body as opaque.
type GraphRepository struct {
	db *sql.DB
}

// Save upserts a graph row.
func (r *GraphRepository) Save(ctx context.Context, graph *models.WorkflowGraph) error {
	nodesJSON, err := json.Marshal(graph.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edgesJSON, err := json.Marshal(graph.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	query := `
		INSERT INTO workflow_graphs (
			id, tenant_id, name, description, status, nodes, edges,
			created_at, updated_at, published_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at
	`

	_, err = r.db.ExecContext(ctx, query,
		graph.ID,
		graph.TenantID,
		graph.Name,
		graph.Description,
		graph.Status,
		nodesJSON,
		edgesJSON,
		graph.CreatedAt,
		graph.UpdatedAt,
		graph.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow graph: %w", err)
	}

	return nil
}

// GetByID returns a graph by its id.
func (r *GraphRepository) GetByID(ctx context.Context, id string) (*models.WorkflowGraph, error) {
	query := `
		SELECT id, tenant_id, name, description, status, nodes, edges,
			   created_at, updated_at, published_at
		FROM workflow_graphs
		WHERE id = $1
	`

	graph, err := scanGraph(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrGraphNotFound
		}

		return nil, fmt.Errorf("failed to load workflow graph: %w", err)
	}

	return graph, nil
}

// List returns all graphs, optionally filtered by tenant.
func (r *GraphRepository) List(ctx context.Context, tenantID string) ([]*models.WorkflowGraph, error) {
	query := `
		SELECT id, tenant_id, name, description, status, nodes, edges,
			   created_at, updated_at, published_at
		FROM workflow_graphs
		WHERE ($1 = '' OR tenant_id = $1)
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow graphs: %w", err)
	}
	defer rows.Close()

	graphs := make([]*models.WorkflowGraph, 0)

	for rows.Next() {
		graph, err := scanGraph(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow graph: %w", err)
		}

		graphs = append(graphs, graph)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflow graphs: %w", err)
	}

	return graphs, nil
}

// Delete removes a graph row; triggers cascade.
func (r *GraphRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflow_graphs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow graph: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrGraphNotFound
	}

	return nil
}

func scanGraph(row rowScanner) (*models.WorkflowGraph, error) {
	var (
		graph       models.WorkflowGraph
		nodesJSON   []byte
		edgesJSON   []byte
		publishedAt sql.NullTime
	)

	err := row.Scan(
		&graph.ID,
		&graph.TenantID,
		&graph.Name,
		&graph.Description,
		&graph.Status,
		&nodesJSON,
		&edgesJSON,
		&graph.CreatedAt,
		&graph.UpdatedAt,
		&publishedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(nodesJSON, &graph.Nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	err = json.Unmarshal(edgesJSON, &graph.Edges)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	if publishedAt.Valid {
		graph.PublishedAt = &publishedAt.Time
	}

	return &graph, nil
}
