// Package dispatcher fans appended events out to projection handlers with
// bounded retry, a dead-letter queue and a best-effort broadcast channel.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
	"github.com/flowstone-io/flowstone/pkg/telemetry"
)

// BroadcastTopic carries every published event to live subscribers.
const BroadcastTopic = "flowstone.events"

// Default retry policy for projection handlers.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 100 * time.Millisecond
)

// ErrDeadLetterNotFound is returned when a retry references an unknown
// dead-letter entry.
var ErrDeadLetterNotFound = persistence.ErrDeadLetterNotFound

// Handler is a projection invoked for every published event. Handlers do
// not see each other's state and are retried independently.
type Handler interface {
	Name() string
	Handle(ctx context.Context, event *models.EventEnvelope) error
}

// HandlerError wraps a projection handler failure with its handler name.
type HandlerError struct {
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed: %v", e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

type handlerFunc struct {
	name string
	fn   func(ctx context.Context, event *models.EventEnvelope) error
}

func (h *handlerFunc) Name() string { return h.name }

func (h *handlerFunc) Handle(ctx context.Context, event *models.EventEnvelope) error {
	return h.fn(ctx, event)
}

// NewHandler adapts a function into a named Handler.
func NewHandler(name string, fn func(ctx context.Context, event *models.EventEnvelope) error) Handler {
	return &handlerFunc{name: name, fn: fn}
}

// Dispatcher delivers events to registered handlers in registration order.
type Dispatcher struct {
	mu          sync.RWMutex
	handlers    []Handler
	deadLetters []*models.DeadLetterEntry

	store       persistence.Persistence
	broadcaster message.Publisher
	logger      *slog.Logger
	metrics     *telemetry.Metrics

	maxRetries int
	baseDelay  time.Duration
	dlqEnabled bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetryPolicy overrides the default handler retry budget and base
// backoff delay.
func WithRetryPolicy(maxRetries int, baseDelay time.Duration) Option {
	return func(d *Dispatcher) {
		if maxRetries >= 0 {
			d.maxRetries = maxRetries
		}

		if baseDelay > 0 {
			d.baseDelay = baseDelay
		}
	}
}

// WithStore enables durable dead-letter persistence and administrative
// replay from the given store.
func WithStore(store persistence.Persistence) Option {
	return func(d *Dispatcher) {
		d.store = store
	}
}

// WithBroadcaster enables the best-effort real-time broadcast channel.
func WithBroadcaster(publisher message.Publisher) Option {
	return func(d *Dispatcher) {
		d.broadcaster = publisher
	}
}

// WithoutDeadLetterQueue disables dead-lettering; exhausted events are
// dropped after logging.
func WithoutDeadLetterQueue() Option {
	return func(d *Dispatcher) {
		d.dlqEnabled = false
	}
}

// NewDispatcher creates a dispatcher with the default retry policy.
func NewDispatcher(logger *slog.Logger, metrics *telemetry.Metrics, opts ...Option) *Dispatcher {
	if metrics == nil {
		metrics = telemetry.NewMetrics(logger)
	}

	dispatcher := &Dispatcher{
		logger:     logger.With("module", "dispatcher"),
		metrics:    metrics,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		dlqEnabled: true,
	}

	for _, opt := range opts {
		opt(dispatcher)
	}

	return dispatcher
}

// Register appends a handler. Delivery order is registration order.
func (d *Dispatcher) Register(handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers = append(d.handlers, handler)
}

// Publish broadcasts the event and invokes every registered handler with
// bounded retry. Handler failures never fail the publish; they end up in
// the dead-letter queue.
func (d *Dispatcher) Publish(ctx context.Context, event *models.EventEnvelope) error {
	d.broadcast(event)

	d.mu.RLock()
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	for _, handler := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := d.deliver(ctx, handler, event)
		if err != nil {
			d.deadLetter(ctx, event, handler.Name(), err)
		}
	}

	return nil
}

// broadcast pushes the event to live subscribers. Delivery is best-effort:
// failures are logged, never surfaced.
func (d *Dispatcher) broadcast(event *models.EventEnvelope) {
	if d.broadcaster == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Warn("Failed to marshal event for broadcast", "event_id", event.EventID, "error", err)

		return
	}

	msg := message.NewMessage(event.EventID, payload)
	msg.Metadata.Set("aggregate_id", event.AggregateID)
	msg.Metadata.Set("event_type", event.EventType)

	err = d.broadcaster.Publish(BroadcastTopic, msg)
	if err != nil {
		d.logger.Warn("Failed to broadcast event", "event_id", event.EventID, "error", err)
	}
}

// deliver invokes one handler up to maxRetries+1 times with exponential
// backoff between attempts.
func (d *Dispatcher) deliver(ctx context.Context, handler Handler, event *models.EventEnvelope) error {
	var lastErr error

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		lastErr = handler.Handle(ctx, event)
		if lastErr == nil {
			return nil
		}

		d.logger.Warn("Projection handler failed",
			"handler", handler.Name(),
			"event_id", event.EventID,
			"attempt", attempt+1,
			"error", lastErr)

		if attempt < d.maxRetries {
			delay := d.baseDelay * (1 << attempt)

			select {
			case <-ctx.Done():
				return &HandlerError{Handler: handler.Name(), Err: ctx.Err()}
			case <-time.After(delay):
			}
		}
	}

	return &HandlerError{Handler: handler.Name(), Err: lastErr}
}

// deadLetter records an exhausted event in memory and, when a store is
// configured, durably. Persistence failures are logged, not thrown.
func (d *Dispatcher) deadLetter(ctx context.Context, event *models.EventEnvelope, handlerName string, cause error) {
	if !d.dlqEnabled {
		d.logger.Error("Dropping event after exhausted retries, dead-letter queue disabled",
			"handler", handlerName, "event_id", event.EventID, "error", cause)

		return
	}

	entry := &models.DeadLetterEntry{
		ID:         uuid.New().String(),
		Event:      *event,
		Handler:    handlerName,
		Error:      cause.Error(),
		RetryCount: d.maxRetries + 1,
		FailedAt:   time.Now().UTC(),
	}

	d.mu.Lock()
	d.deadLetters = append(d.deadLetters, entry)
	d.mu.Unlock()

	telemetry.AddUpDown(ctx, d.metrics.DeadLetterSize, 1)

	d.logger.Error("Event dead-lettered",
		"handler", handlerName, "event_id", event.EventID, "error", cause)

	if d.store != nil {
		err := d.store.DeadLetters().Save(ctx, entry)
		if err != nil {
			d.logger.Warn("Failed to persist dead letter", "entry_id", entry.ID, "error", err)
		}
	}
}

// DeadLetters returns a copy of the in-memory dead-letter list.
func (d *Dispatcher) DeadLetters() []*models.DeadLetterEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries := make([]*models.DeadLetterEntry, len(d.deadLetters))
	copy(entries, d.deadLetters)

	return entries
}

// AllDeadLetters returns the durable dead-letter list when a store is
// configured, falling back to the in-memory list otherwise.
func (d *Dispatcher) AllDeadLetters(ctx context.Context) ([]*models.DeadLetterEntry, error) {
	if d.store == nil {
		return d.DeadLetters(), nil
	}

	entries, err := d.store.DeadLetters().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	return entries, nil
}

// RetryDeadLetter removes every dead-letter entry for the event and
// re-invokes the failed handlers under the same retry policy. A renewed
// failure produces a fresh entry.
func (d *Dispatcher) RetryDeadLetter(ctx context.Context, eventID string) error {
	d.mu.Lock()

	matched := make([]*models.DeadLetterEntry, 0, 1)
	remaining := d.deadLetters[:0]

	for _, entry := range d.deadLetters {
		if entry.Event.EventID == eventID {
			matched = append(matched, entry)
		} else {
			remaining = append(remaining, entry)
		}
	}

	d.deadLetters = remaining
	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.Unlock()

	if len(matched) == 0 {
		return fmt.Errorf("event %s: %w", eventID, ErrDeadLetterNotFound)
	}

	for _, entry := range matched {
		telemetry.AddUpDown(ctx, d.metrics.DeadLetterSize, -1)

		if d.store != nil {
			err := d.store.DeadLetters().Delete(ctx, entry.ID)
			if err != nil && !errors.Is(err, persistence.ErrDeadLetterNotFound) {
				d.logger.Warn("Failed to delete persisted dead letter", "entry_id", entry.ID, "error", err)
			}
		}

		handler := findHandler(handlers, entry.Handler)
		if handler == nil {
			d.logger.Warn("Dead-letter handler no longer registered", "handler", entry.Handler)

			continue
		}

		event := entry.Event

		err := d.deliver(ctx, handler, &event)
		if err != nil {
			d.deadLetter(ctx, &event, handler.Name(), err)
		}
	}

	return nil
}

// ClearDeadLetters empties the in-memory list and the durable table.
func (d *Dispatcher) ClearDeadLetters(ctx context.Context) error {
	d.mu.Lock()
	cleared := len(d.deadLetters)
	d.deadLetters = nil
	d.mu.Unlock()

	telemetry.AddUpDown(ctx, d.metrics.DeadLetterSize, int64(-cleared))

	if d.store != nil {
		err := d.store.DeadLetters().Clear(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear persisted dead letters: %w", err)
		}
	}

	return nil
}

func findHandler(handlers []Handler, name string) Handler {
	for _, handler := range handlers {
		if handler.Name() == name {
			return handler
		}
	}

	return nil
}
