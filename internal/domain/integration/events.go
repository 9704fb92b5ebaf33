package integration

import (
	"github.com/contractiq/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Event type constants
const (
	EventTypeIntegrationCreated       = "integration.created"
	EventTypeIntegrationStatusChanged = "integration.status_changed"
	EventTypeCredentialsRotated       = "integration.credentials_rotated"
	EventTypeSyncFinished             = "integration.sync_finished"
	EventTypeWebhookRejected          = "integration.webhook_rejected"
)

// IntegrationCreatedEvent is raised when an integration is registered
type IntegrationCreatedEvent struct {
	shared.BaseDomainEvent
	Provider  ProviderCode  `json:"provider"`
	Direction SyncDirection `json:"direction"`
}

// NewIntegrationCreatedEvent creates an IntegrationCreatedEvent
func NewIntegrationCreatedEvent(i *Integration) *IntegrationCreatedEvent {
	return &IntegrationCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeIntegrationCreated, AggregateTypeIntegration, i.ID, i.OrganizationID),
		Provider:        i.Provider,
		Direction:       i.Direction,
	}
}

// IntegrationStatusChangedEvent is raised on every manual status change
type IntegrationStatusChangedEvent struct {
	shared.BaseDomainEvent
	From   IntegrationStatus `json:"from"`
	To     IntegrationStatus `json:"to"`
	Reason string            `json:"reason,omitempty"`
}

// NewIntegrationStatusChangedEvent creates an IntegrationStatusChangedEvent
func NewIntegrationStatusChangedEvent(i *Integration, from, to IntegrationStatus, reason string) *IntegrationStatusChangedEvent {
	return &IntegrationStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeIntegrationStatusChanged, AggregateTypeIntegration, i.ID, i.OrganizationID),
		From:            from,
		To:              to,
		Reason:          reason,
	}
}

// CredentialsRotatedEvent is raised when new credentials are stored. It never carries secrets.
type CredentialsRotatedEvent struct {
	shared.BaseDomainEvent
	KeyID string `json:"key_id"`
}

// NewCredentialsRotatedEvent creates a CredentialsRotatedEvent
func NewCredentialsRotatedEvent(i *Integration, keyID string) *CredentialsRotatedEvent {
	return &CredentialsRotatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeCredentialsRotated, AggregateTypeIntegration, i.ID, i.OrganizationID),
		KeyID:           keyID,
	}
}

// SyncFinishedEvent is raised once per run when it reaches a terminal state,
// whatever the trigger
type SyncFinishedEvent struct {
	shared.BaseDomainEvent
	OperationID       uuid.UUID         `json:"operation_id"`
	OperationType     SyncOperationType `json:"operation_type"`
	Status            SyncStatus        `json:"status"`
	Trigger           TriggerSource     `json:"trigger"`
	RecordsProcessed  int               `json:"records_processed"`
	RecordsSuccessful int               `json:"records_successful"`
	RecordsFailed     int               `json:"records_failed"`
	FailureReason     string            `json:"failure_reason,omitempty"`
}

// NewSyncFinishedEvent creates a SyncFinishedEvent
func NewSyncFinishedEvent(i *Integration, op *SyncOperation) *SyncFinishedEvent {
	return &SyncFinishedEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent(EventTypeSyncFinished, AggregateTypeIntegration, i.ID, i.OrganizationID),
		OperationID:       op.ID,
		OperationType:     op.Type,
		Status:            op.Status,
		Trigger:           op.Trigger.Source,
		RecordsProcessed:  op.RecordsProcessed,
		RecordsSuccessful: op.RecordsSuccessful,
		RecordsFailed:     op.RecordsFailed,
		FailureReason:     op.FailureReason,
	}
}

// WebhookRejectedEvent is raised when a push fails a gate. No operation exists for it.
type WebhookRejectedEvent struct {
	shared.BaseDomainEvent
	Event  WebhookEvent `json:"event"`
	Reason string       `json:"reason"`
}

// NewWebhookRejectedEvent creates a WebhookRejectedEvent
func NewWebhookRejectedEvent(i *Integration, event WebhookEvent, reason string) *WebhookRejectedEvent {
	return &WebhookRejectedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeWebhookRejected, AggregateTypeIntegration, i.ID, i.OrganizationID),
		Event:           event,
		Reason:          reason,
	}
}
