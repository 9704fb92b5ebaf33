package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/domain/shared"
	"github.com/contractiq/backend/internal/infrastructure/logger"
	"github.com/contractiq/backend/internal/infrastructure/telemetry"
)

// Messages returned to webhook senders
const (
	msgWebhookNotEnabled  = "Webhook not enabled for this integration"
	msgInvalidSignature   = "Invalid signature"
	msgEventNotConfigured = "Event not configured for this integration"
	msgInvalidPayload     = "Invalid payload"
	msgDuplicateDelivery  = "Delivery already processed"
	msgNoMappings         = "No data mappings configured for %s records"
)

// DefaultDeliveryTTL is how long delivery ids are remembered
const DefaultDeliveryTTL = 24 * time.Hour

// WebhookRequest is one inbound push as received by the transport
type WebhookRequest struct {
	IntegrationID uuid.UUID
	// Event comes from a header; when empty the payload's "event" field is used
	Event      integration.WebhookEvent
	Payload    []byte
	Signature  string
	DeliveryID string
}

// webhookRunner is the part of Orchestrator the webhook service drives
type webhookRunner interface {
	RunWebhook(ctx context.Context, i *integration.Integration, event integration.WebhookEvent, record integration.Record, externalID string) (*integration.SyncOperation, error)
}

// WebhookService verifies inbound pushes and turns each accepted one into a
// single-record webhook_sync run
type WebhookService struct {
	integrations integration.IntegrationReader
	runner       webhookRunner
	deliveries   shared.IdempotencyStore
	deliveryTTL  time.Duration
	events       shared.EventPublisher
	metrics      SyncMetrics
	logger       *zap.Logger
}

// WebhookServiceConfig contains the collaborators of WebhookService
type WebhookServiceConfig struct {
	Integrations integration.IntegrationReader
	Runner       webhookRunner
	// Deliveries drops redelivered pushes when the sender supplies a delivery
	// id; optional. A delivery is remembered only once it was applied.
	Deliveries  shared.IdempotencyStore
	DeliveryTTL time.Duration
	Events      shared.EventPublisher
	Metrics     SyncMetrics
	Logger      *zap.Logger
}

// NewWebhookService creates a WebhookService
func NewWebhookService(cfg WebhookServiceConfig) *WebhookService {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.DeliveryTTL <= 0 {
		cfg.DeliveryTTL = DefaultDeliveryTTL
	}
	return &WebhookService{
		integrations: cfg.Integrations,
		runner:       cfg.Runner,
		deliveries:   cfg.Deliveries,
		deliveryTTL:  cfg.DeliveryTTL,
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.Named("webhook"),
	}
}

// Handle runs the gates in order: the integration exists with webhooks
// enabled, the signature verifies, the event is configured. A rejected push
// returns Success false and creates no operation. An error is returned only
// when the push was accepted but could not be run.
func (s *WebhookService) Handle(ctx context.Context, req WebhookRequest) (*WebhookResult, error) {
	ctx = logger.WithIntegrationID(ctx, req.IntegrationID.String())
	ctx, span := telemetry.StartServiceSpan(ctx, "webhook", "handle",
		telemetry.WithAttribute("integration.id", req.IntegrationID.String()))
	defer span.End()
	log := logger.WithLogger(ctx, s.logger)

	i, err := s.integrations.FindByID(ctx, req.IntegrationID)
	if err != nil {
		if errors.Is(err, integration.ErrIntegrationNotFound) {
			s.metrics.WebhookRejected(ctx, "", "not_found")
			return &WebhookResult{Success: false, Message: msgWebhookNotEnabled}, nil
		}
		return nil, err
	}
	if !i.WebhookEnabled() {
		return s.reject(ctx, i, req.Event, "not_enabled", msgWebhookNotEnabled), nil
	}

	if !integration.VerifySignature(i.WebhookConfig.SecretKey, req.Payload, req.Signature) {
		log.Warn("Webhook signature mismatch")
		return s.reject(ctx, i, req.Event, "signature", msgInvalidSignature), nil
	}

	var payload integration.Record
	if err := json.Unmarshal(req.Payload, &payload); err != nil || payload == nil {
		return s.reject(ctx, i, req.Event, "payload", msgInvalidPayload), nil
	}
	event := req.Event
	if event == "" {
		if name, ok := payload["event"].(string); ok {
			event = integration.WebhookEvent(name)
		}
	}
	if !event.IsValid() || !i.WebhookConfig.HasEvent(event) {
		return s.reject(ctx, i, event, "event", msgEventNotConfigured), nil
	}

	if len(i.MappingsFor(event.RecordType())) == 0 {
		return s.reject(ctx, i, event, "mapping", fmt.Sprintf(msgNoMappings, event.RecordType())), nil
	}

	record, externalID, err := integration.WebhookRecord(payload)
	if err != nil {
		return s.reject(ctx, i, event, "payload", msgInvalidPayload+": "+err.Error()), nil
	}

	// A delivery is marked only after it was applied, so a push rejected
	// with 409 or lost to an infrastructure error is run again on retry.
	deliveryKey := ""
	if req.DeliveryID != "" && s.deliveries != nil {
		deliveryKey = fmt.Sprintf("webhook:%s:%s", i.ID, req.DeliveryID)
		seen, err := s.deliveries.IsProcessed(ctx, deliveryKey)
		if err != nil {
			log.Warn("Delivery dedupe unavailable, processing anyway", zap.Error(err))
		} else if seen {
			log.Info("Duplicate webhook delivery dropped", zap.String("delivery_id", req.DeliveryID))
			return &WebhookResult{Success: true, Message: msgDuplicateDelivery, Duplicate: true}, nil
		}
	}

	s.metrics.WebhookAccepted(ctx, i.Provider, event)
	op, err := s.runner.RunWebhook(ctx, i, event, record, externalID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	result := &WebhookResult{Success: true, OperationID: &op.ID}
	switch {
	case !op.IsTerminal():
		result.Message = "Webhook accepted, sync still running"
	case op.Status == integration.SyncStatusCompleted && op.RecordsFailed == 0:
		result.Message = "Webhook processed"
		s.markDelivered(ctx, deliveryKey)
	default:
		result.Success = false
		result.Message = webhookFailureMessage(op)
	}
	log.Info("Webhook handled",
		zap.String("event", event.String()),
		zap.String("external_id", externalID),
		zap.String("sync_operation_id", op.ID.String()),
		zap.String("status", op.Status.String()),
	)
	return result, nil
}

// markDelivered remembers an applied delivery. A failure only means a
// redelivery is applied again, which the upsert tolerates.
func (s *WebhookService) markDelivered(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if _, err := s.deliveries.MarkProcessed(context.WithoutCancel(ctx), key, s.deliveryTTL); err != nil {
		logger.WithLogger(ctx, s.logger).Warn("Failed to remember webhook delivery", zap.Error(err))
	}
}

func (s *WebhookService) reject(ctx context.Context, i *integration.Integration, event integration.WebhookEvent, reason, message string) *WebhookResult {
	s.metrics.WebhookRejected(ctx, i.Provider, reason)
	if s.events != nil {
		if err := s.events.Publish(ctx, integration.NewWebhookRejectedEvent(i, event, reason)); err != nil {
			logger.WithLogger(ctx, s.logger).Warn("Failed to publish webhook rejection", zap.Error(err))
		}
	}
	return &WebhookResult{Success: false, Message: message}
}

func webhookFailureMessage(op *integration.SyncOperation) string {
	if op.FailureReason != "" {
		return op.FailureReason
	}
	for _, se := range op.Errors {
		if se.RecordID != "" {
			return se.Message
		}
	}
	return "Webhook record was not applied"
}
