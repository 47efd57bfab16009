package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics exposes the counters the core increments at its documented
// transition points. Transport and export are owned by external tooling;
// instrument creation failures degrade to no-op instruments.
type Metrics struct {
	EventsAppended      metric.Int64Counter
	EventsReplayed      metric.Int64Counter
	SnapshotsCreated    metric.Int64Counter
	SnapshotsLoaded     metric.Int64Counter
	ExecutionsQueued    metric.Int64Counter
	ExecutionsSucceeded metric.Int64Counter
	ExecutionsFailed    metric.Int64Counter
	DeadLetterSize      metric.Int64UpDownCounter
}

// NewMetrics registers the core counters on the global meter provider.
func NewMetrics(logger *slog.Logger) *Metrics {
	meter := otel.Meter("flowstone")
	m := &Metrics{}

	var err error

	if m.EventsAppended, err = meter.Int64Counter("flowstone.events.appended"); err != nil {
		logger.Warn("Failed to create counter", "name", "flowstone.events.appended", "error", err)
	}

	if m.EventsReplayed, err = meter.Int64Counter("flowstone.events.replayed"); err != nil {
		logger.Warn("Failed to create counter", "name", "flowstone.events.replayed", "error", err)
	}

	if m.SnapshotsCreated, err = meter.Int64Counter("flowstone.snapshots.created"); err != nil {
		logger.Warn("Failed to create counter", "name", "flowstone.snapshots.created", "error", err)
	}

	if m.SnapshotsLoaded, err = meter.Int64Counter("flowstone.snapshots.loaded"); err != nil {
		logger.Warn("Failed to create counter", "name", "flowstone.snapshots.loaded", "error", err)
	}

	if m.ExecutionsQueued, err = meter.Int64Counter("flowstone.executions.queued"); err != nil {
		logger.Warn("Failed to create counter", "name", "flowstone.executions.queued", "error", err)
	}

	if m.ExecutionsSucceeded, err = meter.Int64Counter("flowstone.executions.succeeded"); err != nil {
		logger.Warn("Failed to create counter", "name", "flowstone.executions.succeeded", "error", err)
	}

	if m.ExecutionsFailed, err = meter.Int64Counter("flowstone.executions.failed"); err != nil {
		logger.Warn("Failed to create counter", "name", "flowstone.executions.failed", "error", err)
	}

	if m.DeadLetterSize, err = meter.Int64UpDownCounter("flowstone.dlq.size"); err != nil {
		logger.Warn("Failed to create counter", "name", "flowstone.dlq.size", "error", err)
	}

	return m
}

// Add increments a counter when both the metrics handle and the instrument
// are present. Components treat metrics as optional side work.
func Add(ctx context.Context, counter metric.Int64Counter, value int64) {
	if counter != nil {
		counter.Add(ctx, value)
	}
}

// AddUpDown increments or decrements an up-down counter if present.
func AddUpDown(ctx context.Context, counter metric.Int64UpDownCounter, value int64) {
	if counter != nil {
		counter.Add(ctx, value)
	}
}
