package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
)

// TriggerRepository handles workflow trigger database operations.
type TriggerRepository struct {
	db *sql.DB
}

const triggerColumns = `
	id, graph_id, tenant_id, trigger_type, entity_type, field_name,
	filter_conditions, cron_expression, secret, is_active,
	next_run_at, last_run_at, run_count, created_at, updated_at
`

// Save upserts a trigger row.
func (r *TriggerRepository) Save(ctx context.Context, trigger *models.WorkflowTrigger) error {
	var filterJSON []byte

	if trigger.FilterConditions != nil {
		var err error

		filterJSON, err = json.Marshal(trigger.FilterConditions)
		if err != nil {
			return fmt.Errorf("failed to marshal filter conditions: %w", err)
		}
	}

	query := `
		INSERT INTO workflow_triggers (` + triggerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			field_name = EXCLUDED.field_name,
			filter_conditions = EXCLUDED.filter_conditions,
			cron_expression = EXCLUDED.cron_expression,
			secret = EXCLUDED.secret,
			is_active = EXCLUDED.is_active,
			next_run_at = EXCLUDED.next_run_at,
			last_run_at = EXCLUDED.last_run_at,
			run_count = EXCLUDED.run_count,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		trigger.ID,
		trigger.GraphID,
		trigger.TenantID,
		trigger.TriggerType,
		nullString(trigger.EntityType),
		nullString(trigger.FieldName),
		filterJSON,
		nullString(trigger.CronExpression),
		nullString(trigger.Secret),
		trigger.IsActive,
		trigger.NextRunAt,
		trigger.LastRunAt,
		trigger.RunCount,
		trigger.CreatedAt,
		trigger.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trigger: %w", err)
	}

	return nil
}

// GetByID returns a trigger by its id.
func (r *TriggerRepository) GetByID(ctx context.Context, id string) (*models.WorkflowTrigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM workflow_triggers WHERE id = $1`

	trigger, err := scanTrigger(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTriggerNotFound
		}

		return nil, fmt.Errorf("failed to load trigger: %w", err)
	}

	return trigger, nil
}

// ListByGraph returns every trigger belonging to the graph.
func (r *TriggerRepository) ListByGraph(ctx context.Context, graphID string) ([]*models.WorkflowTrigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM workflow_triggers WHERE graph_id = $1 ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, graphID)
	if err != nil {
		return nil, fmt.Errorf("failed to query graph triggers: %w", err)
	}
	defer rows.Close()

	return scanTriggers(rows)
}

// Delete removes a trigger row.
func (r *TriggerRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflow_triggers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrTriggerNotFound
	}

	return nil
}

// ActiveForPublishedGraphs returns active triggers whose owning graph is
// published.
func (r *TriggerRepository) ActiveForPublishedGraphs(ctx context.Context) ([]*models.WorkflowTrigger, error) {
	query := `
		SELECT ` + triggerAliasedColumns("t") + `
		FROM workflow_triggers t
		JOIN workflow_graphs g ON g.id = t.graph_id
		WHERE t.is_active = true AND g.status = 'published'
		ORDER BY t.id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active triggers: %w", err)
	}
	defer rows.Close()

	return scanTriggers(rows)
}

// DueScheduled returns active scheduled triggers due within the grace
// window, oldest first.
func (r *TriggerRepository) DueScheduled(ctx context.Context, now time.Time, grace time.Duration, limit int) ([]*models.WorkflowTrigger, error) {
	query := `
		SELECT ` + triggerColumns + `
		FROM workflow_triggers
		WHERE trigger_type = 'scheduled'
		  AND is_active = true
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= $1
		  AND next_run_at >= $2
		ORDER BY next_run_at ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, now, now.Add(-grace), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}
	defer rows.Close()

	return scanTriggers(rows)
}

func triggerAliasedColumns(alias string) string {
	return alias + `.id, ` + alias + `.graph_id, ` + alias + `.tenant_id, ` +
		alias + `.trigger_type, ` + alias + `.entity_type, ` + alias + `.field_name, ` +
		alias + `.filter_conditions, ` + alias + `.cron_expression, ` + alias + `.secret, ` +
		alias + `.is_active, ` + alias + `.next_run_at, ` + alias + `.last_run_at, ` +
		alias + `.run_count, ` + alias + `.created_at, ` + alias + `.updated_at`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (*models.WorkflowTrigger, error) {
	var (
		trigger    models.WorkflowTrigger
		entityType sql.NullString
		fieldName  sql.NullString
		filterJSON []byte
		cronExpr   sql.NullString
		secret     sql.NullString
		nextRunAt  sql.NullTime
		lastRunAt  sql.NullTime
	)

	err := row.Scan(
		&trigger.ID,
		&trigger.GraphID,
		&trigger.TenantID,
		&trigger.TriggerType,
		&entityType,
		&fieldName,
		&filterJSON,
		&cronExpr,
		&secret,
		&trigger.IsActive,
		&nextRunAt,
		&lastRunAt,
		&trigger.RunCount,
		&trigger.CreatedAt,
		&trigger.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	trigger.EntityType = entityType.String
	trigger.FieldName = fieldName.String
	trigger.CronExpression = cronExpr.String
	trigger.Secret = secret.String

	if len(filterJSON) > 0 {
		err = json.Unmarshal(filterJSON, &trigger.FilterConditions)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal filter conditions: %w", err)
		}
	}

	if nextRunAt.Valid {
		trigger.NextRunAt = &nextRunAt.Time
	}

	if lastRunAt.Valid {
		trigger.LastRunAt = &lastRunAt.Time
	}

	return &trigger, nil
}

func scanTriggers(rows *sql.Rows) ([]*models.WorkflowTrigger, error) {
	triggers := make([]*models.WorkflowTrigger, 0)

	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}

		triggers = append(triggers, trigger)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate triggers: %w", err)
	}

	return triggers, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
