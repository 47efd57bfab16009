// Package webhook validates and queues externally-signed trigger
// invocations. Requests are authenticated with an HMAC-SHA256 signature
// over the raw body; verification is constant-time.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
	"github.com/flowstone-io/flowstone/pkg/telemetry"
)

// SignatureHeader carries the request signature as "sha256=<hex>".
const (
	SignatureHeader = "X-Webhook-Signature"
	signaturePrefix = "sha256="
	secretBytes     = 32
)

// Invocation failures, each mapping to one HTTP status.
var (
	ErrTriggerNotFound     = errors.New("webhook trigger not found")
	ErrTriggerInactive     = errors.New("webhook trigger is inactive")
	ErrSecretNotConfigured = errors.New("webhook trigger has no secret configured")
	ErrSignatureMismatch   = errors.New("webhook signature mismatch")
	ErrBadPayload          = errors.New("webhook payload is not valid JSON")
)

// Payload is the expected request body shape.
type Payload struct {
	EventType string         `json:"event_type,omitempty"`
	Data      map[string]any `json:"data"`
}

// Service looks up webhook triggers, verifies signatures and queues
// executions.
type Service struct {
	store   persistence.Persistence
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewService creates a webhook service.
func NewService(store persistence.Persistence, logger *slog.Logger, metrics *telemetry.Metrics) *Service {
	if metrics == nil {
		metrics = telemetry.NewMetrics(logger)
	}

	return &Service{
		store:   store,
		logger:  logger.With("module", "webhook"),
		metrics: metrics,
	}
}

// Invoke authenticates one webhook call and queues an execution. The
// returned error distinguishes not-found, inactive/unconfigured, bad
// signature and bad payload so the HTTP layer can map statuses precisely.
func (s *Service) Invoke(ctx context.Context, triggerID, signature string, body []byte) (string, error) {
	trigger, err := s.store.Triggers().GetByID(ctx, triggerID)
	if err != nil {
		if errors.Is(err, persistence.ErrTriggerNotFound) {
			return "", fmt.Errorf("trigger %s: %w", triggerID, ErrTriggerNotFound)
		}

		return "", fmt.Errorf("failed to load trigger %s: %w", triggerID, err)
	}

	if trigger.TriggerType != models.TriggerTypeWebhook {
		return "", fmt.Errorf("trigger %s: %w", triggerID, ErrTriggerNotFound)
	}

	if !trigger.IsActive {
		return "", fmt.Errorf("trigger %s: %w", triggerID, ErrTriggerInactive)
	}

	if trigger.Secret == "" {
		return "", fmt.Errorf("trigger %s: %w", triggerID, ErrSecretNotConfigured)
	}

	if !VerifySignature(trigger.Secret, body, signature) {
		return "", fmt.Errorf("trigger %s: %w", triggerID, ErrSignatureMismatch)
	}

	var payload Payload

	err = json.Unmarshal(body, &payload)
	if err != nil {
		return "", fmt.Errorf("trigger %s: %w", triggerID, ErrBadPayload)
	}

	execution := &models.WorkflowExecution{
		ID:        uuid.New().String(),
		TenantID:  trigger.TenantID,
		GraphID:   trigger.GraphID,
		TriggerID: trigger.ID,
		TriggerData: map[string]any{
			"source":     models.ExecutionSourceWebhook,
			"event_type": payload.EventType,
			"data":       payload.Data,
		},
		Status:   models.ExecutionStatusPending,
		QueuedAt: time.Now().UTC(),
	}

	err = s.store.Executions().Enqueue(ctx, execution)
	if err != nil {
		return "", fmt.Errorf("failed to queue webhook execution: %w", err)
	}

	telemetry.Add(ctx, s.metrics.ExecutionsQueued, 1)

	s.logger.Info("Webhook execution queued",
		"trigger_id", trigger.ID, "execution_id", execution.ID)

	return execution.ID, nil
}

// Sign computes the signature header value for a body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" signature against the raw body
// using a constant-time comparison that never short-circuits on the first
// differing byte.
func VerifySignature(secret string, body []byte, signature string) bool {
	provided, found := strings.CutPrefix(signature, signaturePrefix)
	if !found {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(provided))
}

// NewSecret returns 32 bytes of cryptographically secure randomness,
// hex-encoded. Callers must show it exactly once; it is never retrievable
// from the API again.
func NewSecret() (string, error) {
	buf := make([]byte, secretBytes)

	_, err := rand.Read(buf)
	if err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}

	return hex.EncodeToString(buf), nil
}
