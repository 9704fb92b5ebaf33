package integration

import (
	"context"

	"go.uber.org/zap"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/domain/shared"
)

// AuditHandler writes every integration event to the audit log. It
// subscribes to all event types and never fails the publisher.
type AuditHandler struct {
	logger *zap.Logger
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(logger *zap.Logger) *AuditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditHandler{logger: logger.Named("audit")}
}

// EventTypes returns nil so the handler receives every event
func (h *AuditHandler) EventTypes() []string {
	return nil
}

// Handle logs one event
func (h *AuditHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.EventID().String()),
		zap.String("event_type", event.EventType()),
		zap.String("aggregate_type", event.AggregateType()),
		zap.String("aggregate_id", event.AggregateID().String()),
		zap.String("organization_id", event.OrganizationID().String()),
		zap.Time("occurred_at", event.OccurredAt()),
	}

	switch e := event.(type) {
	case *integration.IntegrationCreatedEvent:
		fields = append(fields,
			zap.String("provider", e.Provider.String()),
			zap.String("direction", e.Direction.String()),
		)
	case *integration.IntegrationStatusChangedEvent:
		fields = append(fields,
			zap.String("from", e.From.String()),
			zap.String("to", e.To.String()),
			zap.String("reason", e.Reason),
		)
	case *integration.CredentialsRotatedEvent:
		fields = append(fields, zap.String("key_id", e.KeyID))
	case *integration.SyncFinishedEvent:
		fields = append(fields,
			zap.String("sync_operation_id", e.OperationID.String()),
			zap.String("operation_type", string(e.OperationType)),
			zap.String("status", e.Status.String()),
			zap.String("trigger", string(e.Trigger)),
			zap.Int("records_processed", e.RecordsProcessed),
			zap.Int("records_successful", e.RecordsSuccessful),
			zap.Int("records_failed", e.RecordsFailed),
		)
		if e.FailureReason != "" {
			fields = append(fields, zap.String("failure_reason", e.FailureReason))
		}
	case *integration.WebhookRejectedEvent:
		fields = append(fields,
			zap.String("event", e.Event.String()),
			zap.String("reason", e.Reason),
		)
		h.logger.Warn("audit", fields...)
		return nil
	}

	h.logger.Info("audit", fields...)
	return nil
}
