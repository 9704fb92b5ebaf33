package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/infrastructure/cache"
)

func newWebhookService(t *testing.T, h *harness) *WebhookService {
	t.Helper()
	store := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = store.Close() })
	return NewWebhookService(WebhookServiceConfig{
		Integrations: h.integrations,
		Runner:       h.orchestrator,
		Deliveries:   store,
		Events:       h.events,
		Metrics:      h.metrics,
		Logger:       zap.NewNop(),
	})
}

func signed(i *integration.Integration, event integration.WebhookEvent, body string) WebhookRequest {
	return WebhookRequest{
		IntegrationID: i.ID,
		Event:         event,
		Payload:       []byte(body),
		Signature:     integration.SignPayload(i.WebhookConfig.SecretKey, []byte(body)),
	}
}

func TestWebhookService_AcceptedPushRunsOneRecord(t *testing.T) {
	h := newHarness(t)
	svc := newWebhookService(t, h)
	i := h.activeIntegration(t, integration.SyncDirectionInbound)

	result, err := svc.Handle(context.Background(),
		signed(i, integration.WebhookEventContractCreated, `{"data":{"id":"w-1","title":"Pushed"}}`))
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.NotNil(t, result.OperationID)
	op, err := h.operations.FindByID(context.Background(), *result.OperationID)
	require.NoError(t, err)
	assert.Equal(t, integration.SyncTypeWebhook, op.Type)
	assert.Equal(t, integration.SyncStatusCompleted, op.Status)
	assert.Equal(t, integration.TriggerWebhook, op.Trigger.Source)
	assert.Equal(t, integration.WebhookEventContractCreated, op.Trigger.WebhookEvent)
	assert.Equal(t, "w-1", op.Trigger.ExternalRecordID)
	assert.Equal(t, 1, op.RecordsProcessed)
	assert.Equal(t, 1, op.RecordsCreated)
	assert.Equal(t, 0, h.adapter.fetchCalls)
	assert.Equal(t, 1, h.contracts.count())

	stored := h.integrations.get(t, i.ID)
	assert.Equal(t, int64(1), stored.Stats.TotalSyncs)
	assert.Contains(t, h.events.types(), integration.EventTypeSyncFinished)
}

func TestWebhookService_Gates(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong signature", func(t *testing.T) {
		h := newHarness(t)
		svc := newWebhookService(t, h)
		i := h.activeIntegration(t, integration.SyncDirectionInbound)
		req := signed(i, integration.WebhookEventContractCreated, `{"id":"w-1","title":"Pushed"}`)
		req.Signature = integration.SignPayload("not-the-secret", req.Payload)

		result, err := svc.Handle(ctx, req)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Nil(t, result.OperationID)
		assert.Equal(t, 0, h.operations.count())
		assert.Contains(t, h.metrics.webhook, "signature")
		assert.Contains(t, h.events.types(), integration.EventTypeWebhookRejected)
	})

	t.Run("event not configured", func(t *testing.T) {
		h := newHarness(t)
		svc := newWebhookService(t, h)
		i := h.activeIntegration(t, integration.SyncDirectionInbound)

		result, err := svc.Handle(ctx, signed(i, integration.WebhookEventContractSigned, `{"id":"w-1","title":"Pushed"}`))
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "Event not configured for this integration", result.Message)
		assert.Equal(t, 0, h.operations.count())
	})

	t.Run("unknown event", func(t *testing.T) {
		h := newHarness(t)
		svc := newWebhookService(t, h)
		i := h.activeIntegration(t, integration.SyncDirectionInbound)

		result, err := svc.Handle(ctx, signed(i, "contract.deleted", `{"id":"w-1","title":"Pushed"}`))
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, 0, h.operations.count())
	})

	t.Run("webhooks disabled", func(t *testing.T) {
		h := newHarness(t)
		svc := newWebhookService(t, h)
		i := h.activeIntegration(t, integration.SyncDirectionOutbound)

		result, err := svc.Handle(ctx, signed(i, integration.WebhookEventContractCreated, `{"id":"w-1"}`))
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, h.metrics.webhook, "not_enabled")
	})

	t.Run("unknown integration", func(t *testing.T) {
		h := newHarness(t)
		svc := newWebhookService(t, h)

		result, err := svc.Handle(ctx, WebhookRequest{IntegrationID: uuid.New(), Event: integration.WebhookEventContractCreated, Payload: []byte(`{}`)})
		require.NoError(t, err)
		assert.False(t, result.Success)
	})

	t.Run("payload without identifier", func(t *testing.T) {
		h := newHarness(t)
		svc := newWebhookService(t, h)
		i := h.activeIntegration(t, integration.SyncDirectionInbound)

		result, err := svc.Handle(ctx, signed(i, integration.WebhookEventContractCreated, `{"data":{"title":"Pushed"}}`))
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, 0, h.operations.count())
	})

	t.Run("event without mappings for its record type", func(t *testing.T) {
		h := newHarness(t)
		svc := newWebhookService(t, h)
		i := h.activeIntegration(t, integration.SyncDirectionInbound)
		stored := h.integrations.get(t, i.ID)
		stored.WebhookConfig.Events = append(stored.WebhookConfig.Events, integration.WebhookEventVendorUpdated)
		require.NoError(t, h.integrations.Save(ctx, stored))

		result, err := svc.Handle(ctx, signed(stored, integration.WebhookEventVendorUpdated, `{"id":"v-1","title":"Vendor"}`))
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "No data mappings configured for vendor records", result.Message)
		assert.Contains(t, h.metrics.webhook, "mapping")
		assert.Equal(t, 0, h.operations.count())
		assert.Equal(t, 0, h.contracts.count())
	})

	t.Run("malformed json", func(t *testing.T) {
		h := newHarness(t)
		svc := newWebhookService(t, h)
		i := h.activeIntegration(t, integration.SyncDirectionInbound)

		result, err := svc.Handle(ctx, signed(i, integration.WebhookEventContractCreated, `{"id":`))
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, h.metrics.webhook, "payload")
	})
}

func TestWebhookService_EventFromBody(t *testing.T) {
	h := newHarness(t)
	svc := newWebhookService(t, h)
	i := h.activeIntegration(t, integration.SyncDirectionInbound)

	result, err := svc.Handle(context.Background(),
		signed(i, "", `{"event":"contract.updated","data":{"id":"w-2","title":"Body"}}`))
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestWebhookService_DuplicateDelivery(t *testing.T) {
	h := newHarness(t)
	svc := newWebhookService(t, h)
	i := h.activeIntegration(t, integration.SyncDirectionInbound)
	req := signed(i, integration.WebhookEventContractUpdated, `{"id":"w-3","title":"Once"}`)
	req.DeliveryID = "delivery-1"

	first, err := svc.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.False(t, first.Duplicate)

	second, err := svc.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, h.operations.count())
}

func TestWebhookService_RetriedDeliveryIsAppliedAfterConflict(t *testing.T) {
	h := newHarness(t)
	svc := newWebhookService(t, h)
	i := h.activeIntegration(t, integration.SyncDirectionInbound)
	ctx := context.Background()
	req := signed(i, integration.WebhookEventContractCreated, `{"id":"w-9","title":"Retried"}`)
	req.DeliveryID = "d-9"

	token, err := h.lock.TryAcquire(ctx, i.ID, DefaultRunLockTTL)
	require.NoError(t, err)
	_, err = svc.Handle(ctx, req)
	require.ErrorIs(t, err, integration.ErrSyncInProgress)
	require.NoError(t, h.lock.Release(ctx, i.ID, token))

	retry, err := svc.Handle(ctx, req)
	require.NoError(t, err)
	assert.True(t, retry.Success)
	assert.False(t, retry.Duplicate)
	assert.Equal(t, 1, h.contracts.count())

	again, err := svc.Handle(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, 1, h.operations.count())
}

func TestWebhookService_FailedDeliveryIsNotRemembered(t *testing.T) {
	h := newHarness(t)
	svc := newWebhookService(t, h)
	i := h.activeIntegration(t, integration.SyncDirectionInbound)
	ctx := context.Background()
	h.mappings.createErr = errBoom
	req := signed(i, integration.WebhookEventContractCreated, `{"id":"w-10","title":"Flaky"}`)
	req.DeliveryID = "d-10"

	first, err := svc.Handle(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Success)

	retry, err := svc.Handle(ctx, req)
	require.NoError(t, err)
	assert.True(t, retry.Success)
	assert.False(t, retry.Duplicate)
	assert.Equal(t, 1, h.contracts.count())
	assert.Equal(t, 2, h.operations.count())
}

func TestWebhookService_RecordFailureIsReported(t *testing.T) {
	h := newHarness(t)
	svc := newWebhookService(t, h)
	i := h.activeIntegration(t, integration.SyncDirectionInbound)

	result, err := svc.Handle(context.Background(),
		signed(i, integration.WebhookEventContractCreated, `{"id":"w-4","title":"Much too long for the rule"}`))
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotNil(t, result.OperationID)

	op, err := h.operations.FindByID(context.Background(), *result.OperationID)
	require.NoError(t, err)
	assert.Equal(t, integration.SyncStatusCompleted, op.Status)
	assert.Equal(t, 1, op.RecordsFailed)
	require.Len(t, op.Errors, 1)
	assert.Equal(t, "w-4", op.Errors[0].RecordID)
}

func TestWebhookService_LockedIntegration(t *testing.T) {
	h := newHarness(t)
	svc := newWebhookService(t, h)
	i := h.activeIntegration(t, integration.SyncDirectionInbound)
	token, err := h.lock.TryAcquire(context.Background(), i.ID, DefaultRunLockTTL)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = svc.Handle(context.Background(), signed(i, integration.WebhookEventContractCreated, `{"id":"w-5","title":"Busy"}`))
	assert.ErrorIs(t, err, integration.ErrSyncInProgress)
	assert.Equal(t, 0, h.operations.count())
}
