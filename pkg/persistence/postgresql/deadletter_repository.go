package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
)

// DeadLetterRepository stores dead-lettered events in PostgreSQL.
type DeadLetterRepository struct {
	db *sql.DB
}

// Save upserts a dead-letter entry.
func (r *DeadLetterRepository) Save(ctx context.Context, entry *models.DeadLetterEntry) error {
	eventJSON, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter event: %w", err)
	}

	query := `
		INSERT INTO dead_letters (id, event, handler, error_message, retry_count, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			error_message = EXCLUDED.error_message,
			retry_count = EXCLUDED.retry_count,
			failed_at = EXCLUDED.failed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		eventJSON,
		entry.Handler,
		entry.Error,
		entry.RetryCount,
		entry.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save dead letter: %w", err)
	}

	return nil
}

// Delete removes a dead-letter entry.
func (r *DeadLetterRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM dead_letters WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrDeadLetterNotFound
	}

	return nil
}

// List returns all dead-letter entries, oldest failures first.
func (r *DeadLetterRepository) List(ctx context.Context) ([]*models.DeadLetterEntry, error) {
	query := `
		SELECT id, event, handler, error_message, retry_count, failed_at
		FROM dead_letters
		ORDER BY failed_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.DeadLetterEntry, 0)

	for rows.Next() {
		var (
			entry     models.DeadLetterEntry
			eventJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&eventJSON,
			&entry.Handler,
			&entry.Error,
			&entry.RetryCount,
			&entry.FailedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}

		err = json.Unmarshal(eventJSON, &entry.Event)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter event: %w", err)
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead letters: %w", err)
	}

	return entries, nil
}

// Clear empties the dead-letter table.
func (r *DeadLetterRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM dead_letters")
	if err != nil {
		return fmt.Errorf("failed to clear dead letters: %w", err)
	}

	return nil
}
