package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
)

// uniqueViolation is the PostgreSQL error code raised when the
// (aggregate_id, version) constraint rejects a concurrent writer.
const uniqueViolation = "23505"

// EventRepository handles event stream database operations.
type EventRepository struct {
	db *sql.DB
}

// Append inserts one event row. A version collision is surfaced as a
// *persistence.ConflictError, never a silent overwrite.
func (r *EventRepository) Append(ctx context.Context, event *models.EventEnvelope) error {
	eventDataJSON, err := json.Marshal(event.EventData)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	query := `
		INSERT INTO events (
			event_id, aggregate_id, aggregate_type, event_type, event_data,
			tenant_id, caused_by, occurred_at, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.EventID,
		event.AggregateID,
		event.AggregateType,
		event.EventType,
		eventDataJSON,
		event.TenantID,
		event.CausedBy,
		event.OccurredAt,
		event.Version,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return &persistence.ConflictError{
				AggregateID:     event.AggregateID,
				ExpectedVersion: event.Version - 1,
			}
		}

		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ForAggregate returns the aggregate's events with version > afterVersion in
// ascending version order.
func (r *EventRepository) ForAggregate(ctx context.Context, aggregateID string, afterVersion int64) ([]*models.EventEnvelope, error) {
	query := `
		SELECT event_id, aggregate_id, aggregate_type, event_type, event_data,
			   tenant_id, caused_by, occurred_at, version
		FROM events
		WHERE aggregate_id = $1 AND version > $2
		ORDER BY version ASC
	`

	rows, err := r.db.QueryContext(ctx, query, aggregateID, afterVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Since returns all events with occurred_at >= cutoff in ascending time order.
func (r *EventRepository) Since(ctx context.Context, cutoff time.Time) ([]*models.EventEnvelope, error) {
	query := `
		SELECT event_id, aggregate_id, aggregate_type, event_type, event_data,
			   tenant_id, caused_by, occurred_at, version
		FROM events
		WHERE occurred_at >= $1
		ORDER BY occurred_at ASC, version ASC
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*models.EventEnvelope, error) {
	events := make([]*models.EventEnvelope, 0)

	for rows.Next() {
		var (
			event         models.EventEnvelope
			eventDataJSON []byte
			causedBy      sql.NullString
		)

		err := rows.Scan(
			&event.EventID,
			&event.AggregateID,
			&event.AggregateType,
			&event.EventType,
			&eventDataJSON,
			&event.TenantID,
			&causedBy,
			&event.OccurredAt,
			&event.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if len(eventDataJSON) > 0 {
			err = json.Unmarshal(eventDataJSON, &event.EventData)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}

		event.CausedBy = causedBy.String

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

// SnapshotRepository handles aggregate snapshot database operations.
type SnapshotRepository struct {
	db *sql.DB
}

// Save upserts a snapshot keyed by (aggregate_id, version).
func (r *SnapshotRepository) Save(ctx context.Context, snapshot *models.AggregateSnapshot) error {
	query := `
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (aggregate_id, version) DO UPDATE SET
			state = EXCLUDED.state,
			created_at = EXCLUDED.created_at
	`

	_, err := r.db.ExecContext(ctx, query,
		snapshot.AggregateID,
		snapshot.AggregateType,
		snapshot.Version,
		snapshot.State,
		snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// Latest returns the highest-version snapshot for the aggregate.
func (r *SnapshotRepository) Latest(ctx context.Context, aggregateID string) (*models.AggregateSnapshot, error) {
	query := `
		SELECT aggregate_id, aggregate_type, version, state, created_at
		FROM snapshots
		WHERE aggregate_id = $1
		ORDER BY version DESC
		LIMIT 1
	`

	var snapshot models.AggregateSnapshot

	err := r.db.QueryRowContext(ctx, query, aggregateID).Scan(
		&snapshot.AggregateID,
		&snapshot.AggregateType,
		&snapshot.Version,
		&snapshot.State,
		&snapshot.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSnapshotNotFound
		}

		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return &snapshot, nil
}
