// Package queue consumes manual trigger requests from a Redis list and
// turns them into queued workflow executions. It lets operators and
// upstream systems fire manual triggers without going through the API.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
	"github.com/flowstone-io/flowstone/pkg/telemetry"
)

// DefaultQueue is the Redis list manual trigger requests are pushed to.
const DefaultQueue = "flowstone:manual-triggers"

const popTimeout = 1 * time.Second

// Request is the message shape expected on the queue.
type Request struct {
	TriggerID string         `json:"trigger_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Source consumes manual trigger requests until stopped.
type Source struct {
	client  redis.UniversalClient
	store   persistence.Persistence
	logger  *slog.Logger
	metrics *telemetry.Metrics
	queue   string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Source.
type Option func(*Source)

// WithQueue overrides the Redis list name.
func WithQueue(queue string) Option {
	return func(s *Source) {
		if queue != "" {
			s.queue = queue
		}
	}
}

// NewSource connects to Redis and prepares a consumer for the manual
// trigger queue.
func NewSource(ctx context.Context, redisURL string, store persistence.Persistence, logger *slog.Logger, metrics *telemetry.Metrics, opts ...Option) (*Source, error) {
	if metrics == nil {
		metrics = telemetry.NewMetrics(logger)
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	source := &Source{
		client:  client,
		store:   store,
		metrics: metrics,
		queue:   DefaultQueue,
		stopCh:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(source)
	}

	source.logger = logger.With("module", "queue", "queue", source.queue)

	return source, nil
}

// Start launches the consumer loop.
func (s *Source) Start(ctx context.Context) {
	s.logger.Info("Starting manual trigger consumer")

	s.wg.Add(1)

	go s.consume(ctx)
}

func (s *Source) consume(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			s.logger.Info("Manual trigger consumer stopped")

			return
		case <-ctx.Done():
			s.logger.Info("Context cancelled, stopping manual trigger consumer")

			return
		default:
			err := s.processMessage(ctx)
			if err != nil {
				s.logger.Error("Error processing manual trigger request", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// processMessage pops one request and queues an execution for it. Invalid
// messages are logged and dropped; storage errors are surfaced so the loop
// backs off.
func (s *Source) processMessage(ctx context.Context) error {
	result, err := s.client.BLPop(ctx, popTimeout, s.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop manual trigger request: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var request Request

	err = json.Unmarshal([]byte(result[1]), &request)
	if err != nil || request.TriggerID == "" {
		s.logger.Warn("Dropping malformed manual trigger request", "message", result[1])

		return nil
	}

	_, err = s.Fire(ctx, request.TriggerID, request.Data)
	if err != nil {
		if errors.Is(err, persistence.ErrTriggerNotFound) || errors.Is(err, ErrNotManual) || errors.Is(err, ErrInactive) {
			s.logger.Warn("Dropping manual trigger request", "trigger_id", request.TriggerID, "error", err)

			return nil
		}

		return err
	}

	return nil
}

// Manual trigger rejection errors.
var (
	ErrNotManual = errors.New("trigger is not a manual trigger")
	ErrInactive  = errors.New("trigger is inactive")
)

// Fire queues one execution for an active manual trigger.
func (s *Source) Fire(ctx context.Context, triggerID string, data map[string]any) (string, error) {
	trigger, err := s.store.Triggers().GetByID(ctx, triggerID)
	if err != nil {
		return "", err
	}

	if trigger.TriggerType != models.TriggerTypeManual {
		return "", fmt.Errorf("trigger %s: %w", triggerID, ErrNotManual)
	}

	if !trigger.IsActive {
		return "", fmt.Errorf("trigger %s: %w", triggerID, ErrInactive)
	}

	execution := &models.WorkflowExecution{
		ID:        uuid.New().String(),
		TenantID:  trigger.TenantID,
		GraphID:   trigger.GraphID,
		TriggerID: trigger.ID,
		TriggerData: map[string]any{
			"source": models.ExecutionSourceManual,
			"data":   data,
		},
		Status:   models.ExecutionStatusPending,
		QueuedAt: time.Now().UTC(),
	}

	err = s.store.Executions().Enqueue(ctx, execution)
	if err != nil {
		return "", fmt.Errorf("failed to queue manual execution: %w", err)
	}

	telemetry.Add(ctx, s.metrics.ExecutionsQueued, 1)

	s.logger.Info("Manual execution queued",
		"trigger_id", trigger.ID, "execution_id", execution.ID)

	return execution.ID, nil
}

// Stop halts the consumer and closes the Redis client.
func (s *Source) Stop() error {
	close(s.stopCh)
	s.wg.Wait()

	err := s.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	return nil
}
