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

// ExecutionRepository is the durable execution queue backed by PostgreSQL.
type ExecutionRepository struct {
	db *sql.DB
}

// Enqueue inserts a pending execution row.
func (r *ExecutionRepository) Enqueue(ctx context.Context, execution *models.WorkflowExecution) error {
	triggerDataJSON, err := json.Marshal(execution.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	query := `
		INSERT INTO workflow_executions (
			id, tenant_id, graph_id, trigger_id, trigger_data, status,
			worker_id, queued_at, started_at, completed_at, error_message
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.TenantID,
		execution.GraphID,
		nullString(execution.TriggerID),
		triggerDataJSON,
		execution.Status,
		nullString(execution.WorkerID),
		execution.QueuedAt,
		execution.StartedAt,
		execution.CompletedAt,
		nullString(execution.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue execution: %w", err)
	}

	return nil
}

// Claim marks up to limit pending executions as running for workerID using
// FOR UPDATE SKIP LOCKED, so concurrent workers never double-claim a row.
func (r *ExecutionRepository) Claim(ctx context.Context, workerID string, limit int) ([]*models.WorkflowExecution, error) {
	query := `
		UPDATE workflow_executions
		SET status = 'running', worker_id = $1, started_at = NOW()
		WHERE id IN (
			SELECT id FROM workflow_executions
			WHERE status = 'pending'
			ORDER BY queued_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, graph_id, trigger_id, trigger_data, status,
				  worker_id, queued_at, started_at, completed_at, error_message
	`

	rows, err := r.db.QueryContext(ctx, query, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim executions: %w", err)
	}
	defer rows.Close()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimed executions: %w", err)
	}

	return executions, nil
}

// Update persists an execution's status transition.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	triggerDataJSON, err := json.Marshal(execution.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	query := `
		UPDATE workflow_executions
		SET status = $2, worker_id = $3, trigger_data = $4,
			started_at = $5, completed_at = $6, error_message = $7
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.Status,
		nullString(execution.WorkerID),
		triggerDataJSON,
		execution.StartedAt,
		execution.CompletedAt,
		nullString(execution.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrExecutionNotFound
	}

	return nil
}

// GetByID returns an execution by its id.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `
		SELECT id, tenant_id, graph_id, trigger_id, trigger_data, status,
			   worker_id, queued_at, started_at, completed_at, error_message
		FROM workflow_executions
		WHERE id = $1
	`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	return execution, nil
}

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution       models.WorkflowExecution
		triggerID       sql.NullString
		triggerDataJSON []byte
		workerID        sql.NullString
		startedAt       sql.NullTime
		completedAt     sql.NullTime
		errorMessage    sql.NullString
	)

	err := row.Scan(
		&execution.ID,
		&execution.TenantID,
		&execution.GraphID,
		&triggerID,
		&triggerDataJSON,
		&execution.Status,
		&workerID,
		&execution.QueuedAt,
		&startedAt,
		&completedAt,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	execution.TriggerID = triggerID.String
	execution.WorkerID = workerID.String
	execution.Error = errorMessage.String

	if len(triggerDataJSON) > 0 {
		err = json.Unmarshal(triggerDataJSON, &execution.TriggerData)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
		}
	}

	if startedAt.Valid {
		execution.StartedAt = &startedAt.Time
	}

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	return &execution, nil
}
