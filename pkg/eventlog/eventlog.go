// Package eventlog implements the append-only durable event log with
// optimistic concurrency and snapshot-assisted aggregate loading.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
	"github.com/flowstone-io/flowstone/pkg/telemetry"
)

// DefaultSnapshotInterval is the number of replayed events after which a
// fresh snapshot is persisted opportunistically.
const DefaultSnapshotInterval = 50

const snapshotWriteTimeout = 10 * time.Second

// ErrAggregateNotFound is returned by Load when no events exist for an id.
var ErrAggregateNotFound = persistence.ErrAggregateNotFound

// Aggregate is the in-memory state reconstructed from an event stream.
// Event-application logic is owned by the aggregate type, not by the log.
type Aggregate interface {
	AggregateID() string
	AggregateType() string
	CurrentVersion() int64
	ApplyEvent(event *models.EventEnvelope) error
}

// Snapshotter is implemented by aggregates that support materialized
// snapshots. Snapshots are a read optimization only; a failed restore
// always falls back to full replay from version 0.
type Snapshotter interface {
	SnapshotState() ([]byte, error)
	RestoreSnapshot(version int64, state []byte) error
}

// AppendRequest describes one event to append to an aggregate's stream.
type AppendRequest struct {
	AggregateID     string
	AggregateType   string
	ExpectedVersion int64
	EventType       string
	EventData       map[string]any
	TenantID        string
	CausedBy        string

	// SnapshotState optionally carries the caller's materialized state
	// after this event, used for the interval-boundary snapshot write.
	SnapshotState []byte
}

// Log is the durable event log. Snapshot failures never fail an append or
// a read; they only degrade the next replay.
type Log struct {
	store            persistence.Persistence
	logger           *slog.Logger
	metrics          *telemetry.Metrics
	snapshotInterval int64

	wg sync.WaitGroup
}

// Option configures a Log.
type Option func(*Log)

// WithSnapshotInterval overrides the default snapshot interval.
func WithSnapshotInterval(interval int64) Option {
	return func(l *Log) {
		if interval > 0 {
			l.snapshotInterval = interval
		}
	}
}

// NewLog creates an event log on top of the given store.
func NewLog(store persistence.Persistence, logger *slog.Logger, metrics *telemetry.Metrics, opts ...Option) *Log {
	if metrics == nil {
		metrics = telemetry.NewMetrics(logger)
	}

	log := &Log{
		store:            store,
		logger:           logger.With("module", "eventlog"),
		metrics:          metrics,
		snapshotInterval: DefaultSnapshotInterval,
	}

	for _, opt := range opts {
		opt(log)
	}

	return log
}

// Append inserts one event at expectedVersion+1. A concurrent writer racing
// for the same version receives a *persistence.ConflictError; the caller
// must reload and retry its command. On an interval boundary a snapshot
// write is scheduled asynchronously and never blocks the append.
func (l *Log) Append(ctx context.Context, req AppendRequest) (*models.EventEnvelope, error) {
	if req.AggregateID == "" {
		return nil, errors.New("aggregate id is required")
	}

	event := &models.EventEnvelope{
		EventID:       uuid.New().String(),
		AggregateID:   req.AggregateID,
		AggregateType: req.AggregateType,
		EventType:     req.EventType,
		EventData:     req.EventData,
		TenantID:      req.TenantID,
		CausedBy:      req.CausedBy,
		OccurredAt:    time.Now().UTC(),
		Version:       req.ExpectedVersion + 1,
	}

	err := l.store.Events().Append(ctx, event)
	if err != nil {
		return nil, err
	}

	telemetry.Add(ctx, l.metrics.EventsAppended, 1)

	if req.SnapshotState != nil && req.ExpectedVersion > 0 && req.ExpectedVersion%l.snapshotInterval == 0 {
		l.scheduleSnapshot(&models.AggregateSnapshot{
			AggregateID:   req.AggregateID,
			AggregateType: req.AggregateType,
			Version:       event.Version,
			State:         req.SnapshotState,
			CreatedAt:     event.OccurredAt,
		})
	}

	return event, nil
}

// Load reconstructs an aggregate: restore the latest snapshot when the
// aggregate supports one, then replay every later event in version order.
// Returns ErrAggregateNotFound when the stream is empty and no snapshot
// applied.
func (l *Log) Load(ctx context.Context, aggregate Aggregate) error {
	aggregateID := aggregate.AggregateID()
	fromVersion := int64(0)

	snapshotter, canSnapshot := aggregate.(Snapshotter)
	if canSnapshot {
		fromVersion = l.restoreSnapshot(ctx, aggregateID, snapshotter)
	}

	events, err := l.store.Events().ForAggregate(ctx, aggregateID, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to read events for %s: %w", aggregateID, err)
	}

	if len(events) == 0 && fromVersion == 0 {
		return fmt.Errorf("aggregate %s: %w", aggregateID, ErrAggregateNotFound)
	}

	for _, event := range events {
		err = aggregate.ApplyEvent(event)
		if err != nil {
			return fmt.Errorf("failed to apply event %s (version %d): %w", event.EventID, event.Version, err)
		}
	}

	telemetry.Add(ctx, l.metrics.EventsReplayed, int64(len(events)))

	if canSnapshot && int64(len(events)) >= l.snapshotInterval {
		l.snapshotAggregate(ctx, aggregate, snapshotter)
	}

	return nil
}

// restoreSnapshot applies the latest snapshot and returns the version to
// replay from. Every failure path degrades to full replay from version 0.
func (l *Log) restoreSnapshot(ctx context.Context, aggregateID string, snapshotter Snapshotter) int64 {
	snapshot, err := l.store.Snapshots().Latest(ctx, aggregateID)
	if err != nil {
		if !errors.Is(err, persistence.ErrSnapshotNotFound) {
			l.logger.Warn("Failed to load snapshot, falling back to full replay",
				"aggregate_id", aggregateID, "error", err)
		}

		return 0
	}

	err = snapshotter.RestoreSnapshot(snapshot.Version, snapshot.State)
	if err != nil {
		l.logger.Warn("Failed to restore snapshot, falling back to full replay",
			"aggregate_id", aggregateID, "version", snapshot.Version, "error", err)

		return 0
	}

	telemetry.Add(ctx, l.metrics.SnapshotsLoaded, 1)

	return snapshot.Version
}

// snapshotAggregate persists a fresh snapshot after a long replay. Failures
// are logged and swallowed: they must never fail the read.
func (l *Log) snapshotAggregate(ctx context.Context, aggregate Aggregate, snapshotter Snapshotter) {
	state, err := snapshotter.SnapshotState()
	if err != nil {
		l.logger.Warn("Failed to materialize snapshot state",
			"aggregate_id", aggregate.AggregateID(), "error", err)

		return
	}

	err = l.store.Snapshots().Save(ctx, &models.AggregateSnapshot{
		AggregateID:   aggregate.AggregateID(),
		AggregateType: aggregate.AggregateType(),
		Version:       aggregate.CurrentVersion(),
		State:         state,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		l.logger.Warn("Failed to persist snapshot",
			"aggregate_id", aggregate.AggregateID(), "error", err)

		return
	}

	telemetry.Add(ctx, l.metrics.SnapshotsCreated, 1)
}

// scheduleSnapshot writes a snapshot in the background, detached from the
// caller's context so a finished request cannot cancel it.
func (l *Log) scheduleSnapshot(snapshot *models.AggregateSnapshot) {
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), snapshotWriteTimeout)
		defer cancel()

		err := l.store.Snapshots().Save(ctx, snapshot)
		if err != nil {
			l.logger.Warn("Failed to persist scheduled snapshot",
				"aggregate_id", snapshot.AggregateID, "version", snapshot.Version, "error", err)

			return
		}

		telemetry.Add(ctx, l.metrics.SnapshotsCreated, 1)
	}()
}

// Close waits for in-flight snapshot writes to finish.
func (l *Log) Close() {
	l.wg.Wait()
}
