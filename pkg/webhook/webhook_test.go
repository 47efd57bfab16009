package webhook

import (
	"context"
	"encoding/hex"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence/memory"
)

func newTestService(store *memory.Persistence) *Service {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	return NewService(store, logger, nil)
}

func webhookTrigger(secret string) *models.WorkflowTrigger {
	return &models.WorkflowTrigger{
		ID:          uuid.New().String(),
		GraphID:     uuid.New().String(),
		TenantID:    "tenant-1",
		TriggerType: models.TriggerTypeWebhook,
		Secret:      secret,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestSignAndVerify(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"data":{"amount":42}}`)

	signature := Sign(secret, body)

	assert.True(t, strings.HasPrefix(signature, "sha256="))
	assert.True(t, VerifySignature(secret, body, signature))
}

func TestVerifySignature_Rejections(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"data":{}}`)
	signature := Sign(secret, body)

	// Wrong secret.
	assert.False(t, VerifySignature("other-secret", body, signature))

	// Tampered body.
	assert.False(t, VerifySignature(secret, []byte(`{"data":{"x":1}}`), signature))

	// Missing prefix.
	assert.False(t, VerifySignature(secret, body, strings.TrimPrefix(signature, "sha256=")))

	// Same length, one hex digit flipped.
	tampered := []byte(signature)
	last := len(tampered) - 1

	if tampered[last] == '0' {
		tampered[last] = '1'
	} else {
		tampered[last] = '0'
	}

	assert.False(t, VerifySignature(secret, body, string(tampered)))

	// Empty signature.
	assert.False(t, VerifySignature(secret, body, ""))
}

func TestNewSecret(t *testing.T) {
	first, err := NewSecret()
	require.NoError(t, err)

	second, err := NewSecret()
	require.NoError(t, err)

	// 32 random bytes, hex-encoded.
	assert.Len(t, first, 64)
	assert.NotEqual(t, first, second)

	_, err = hex.DecodeString(first)
	assert.NoError(t, err)
}

func TestInvoke_QueuesExecution(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	service := newTestService(store)

	trigger := webhookTrigger("s3cret")
	require.NoError(t, store.Triggers().Save(ctx, trigger))

	body := []byte(`{"event_type":"payment.received","data":{"amount":42}}`)

	executionID, err := service.Invoke(ctx, trigger.ID, Sign("s3cret", body), body)
	require.NoError(t, err)
	require.NotEmpty(t, executionID)

	execution, err := store.Executions().GetByID(ctx, executionID)
	require.NoError(t, err)

	assert.Equal(t, trigger.GraphID, execution.GraphID)
	assert.Equal(t, trigger.ID, execution.TriggerID)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, models.ExecutionSourceWebhook, execution.TriggerData["source"])
	assert.Equal(t, "payment.received", execution.TriggerData["event_type"])
}

func TestInvoke_UnknownTrigger(t *testing.T) {
	ctx := context.Background()
	service := newTestService(memory.NewPersistence())

	_, err := service.Invoke(ctx, "missing", "sha256=00", []byte(`{}`))

	assert.ErrorIs(t, err, ErrTriggerNotFound)
}

func TestInvoke_NonWebhookTriggerLooksAbsent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	service := newTestService(store)

	trigger := webhookTrigger("s3cret")
	trigger.TriggerType = models.TriggerTypeManual
	require.NoError(t, store.Triggers().Save(ctx, trigger))

	body := []byte(`{}`)

	_, err := service.Invoke(ctx, trigger.ID, Sign("s3cret", body), body)

	assert.ErrorIs(t, err, ErrTriggerNotFound)
}

func TestInvoke_InactiveTrigger(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	service := newTestService(store)

	trigger := webhookTrigger("s3cret")
	trigger.IsActive = false
	require.NoError(t, store.Triggers().Save(ctx, trigger))

	body := []byte(`{}`)

	_, err := service.Invoke(ctx, trigger.ID, Sign("s3cret", body), body)

	assert.ErrorIs(t, err, ErrTriggerInactive)
}

func TestInvoke_MissingSecret(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	service := newTestService(store)

	trigger := webhookTrigger("")
	require.NoError(t, store.Triggers().Save(ctx, trigger))

	_, err := service.Invoke(ctx, trigger.ID, "sha256=00", []byte(`{}`))

	assert.ErrorIs(t, err, ErrSecretNotConfigured)
}

func TestInvoke_BadSignature(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	service := newTestService(store)

	trigger := webhookTrigger("s3cret")
	require.NoError(t, store.Triggers().Save(ctx, trigger))

	body := []byte(`{}`)

	_, err := service.Invoke(ctx, trigger.ID, Sign("wrong-secret", body), body)

	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestInvoke_BadPayload(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	service := newTestService(store)

	trigger := webhookTrigger("s3cret")
	require.NoError(t, store.Triggers().Save(ctx, trigger))

	// Correctly signed, but not JSON. Signature verification happens first
	// so an attacker cannot probe payload parsing without the secret.
	body := []byte(`not-json`)

	_, err := service.Invoke(ctx, trigger.ID, Sign("s3cret", body), body)

	assert.ErrorIs(t, err, ErrBadPayload)
}
