// Package postgresql provides the PostgreSQL persistence implementation for
// the event log, triggers, graphs, executions and dead letters.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/flowstone-io/flowstone/pkg/persistence"
	"github.com/flowstone-io/flowstone/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	events      *EventRepository
	snapshots   *SnapshotRepository
	triggers    *TriggerRepository
	graphs      *GraphRepository
	executions  *ExecutionRepository
	deadLetters *DeadLetterRepository
}

// NewPersistence connects to PostgreSQL and runs schema migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:          database,
		logger:      logger,
		events:      &EventRepository{db: database},
		snapshots:   &SnapshotRepository{db: database},
		triggers:    &TriggerRepository{db: database},
		graphs:      &GraphRepository{db: database},
		executions:  &ExecutionRepository{db: database},
		deadLetters: &DeadLetterRepository{db: database},
	}, nil
}

func (p *Persistence) Events() persistence.EventRepository { return p.events }

func (p *Persistence) Snapshots() persistence.SnapshotRepository { return p.snapshots }

func (p *Persistence) Triggers() persistence.TriggerRepository { return p.triggers }

func (p *Persistence) Graphs() persistence.GraphRepository { return p.graphs }

func (p *Persistence) Executions() persistence.ExecutionRepository { return p.executions }

func (p *Persistence) DeadLetters() persistence.DeadLetterRepository { return p.deadLetters }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
