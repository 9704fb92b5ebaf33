package integration

import (
	"time"

	"github.com/google/uuid"

	"github.com/contractiq/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Inputs
// ---------------------------------------------------------------------------

// CreateIntegrationInput registers a new integration. Zero-valued
// configuration fields and an empty mapping list take provider defaults.
type CreateIntegrationInput struct {
	OrganizationID uuid.UUID
	Name           string
	Provider       integration.ProviderCode
	Direction      integration.SyncDirection
	Configuration  integration.Configuration
	DataMappings   []integration.DataMapping
	WebhookConfig  *integration.WebhookConfig
	SyncSchedule   *integration.SyncSchedule
}

// StartSyncInput requests a run
type StartSyncInput struct {
	IntegrationID uuid.UUID
	// OrganizationID scopes the lookup when set
	OrganizationID uuid.UUID
	// Type defaults to incremental when the integration has a cursor, full otherwise
	Type        integration.SyncOperationType
	Source      integration.TriggerSource
	RequestedBy string
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

// WebhookConfigResponse omits the shared secret
type WebhookConfigResponse struct {
	Enabled     bool                       `json:"enabled"`
	EndpointURL string                     `json:"endpoint_url"`
	Events      []integration.WebhookEvent `json:"events"`
	HasSecret   bool                       `json:"has_secret"`
}

// SyncStatsResponse is SyncStats with derived rates
type SyncStatsResponse struct {
	integration.SyncStats
	ErrorRate       float64 `json:"error_rate"`
	RecordErrorRate float64 `json:"record_error_rate"`
}

// IntegrationResponse is the API view of an integration. Credentials are
// reduced to whether they are set and which key encrypted them.
type IntegrationResponse struct {
	ID                 uuid.UUID                     `json:"id"`
	OrganizationID     uuid.UUID                     `json:"organization_id"`
	Name               string                        `json:"name"`
	Provider           integration.ProviderCode      `json:"provider"`
	Direction          integration.SyncDirection     `json:"sync_direction"`
	Status             integration.IntegrationStatus `json:"status"`
	Configuration      integration.Configuration     `json:"configuration"`
	DataMappings       []integration.DataMapping     `json:"data_mappings"`
	WebhookConfig      *WebhookConfigResponse        `json:"webhook_config,omitempty"`
	SyncSchedule       *integration.SyncSchedule     `json:"sync_schedule,omitempty"`
	HasCredentials     bool                          `json:"has_credentials"`
	CredentialsKeyID   string                        `json:"credentials_key_id,omitempty"`
	Stats              SyncStatsResponse             `json:"stats"`
	LastSyncAt         *time.Time                    `json:"last_sync_at,omitempty"`
	SyncCursor         string                        `json:"sync_cursor,omitempty"`
	OutboundWatermark  *time.Time                    `json:"outbound_watermark,omitempty"`
	LastError          string                        `json:"last_error,omitempty"`
	NextScheduledRunAt *time.Time                    `json:"next_scheduled_run_at,omitempty"`
	CreatedAt          time.Time                     `json:"created_at"`
	UpdatedAt          time.Time                     `json:"updated_at"`
}

// ToIntegrationResponse converts an integration to its API view
func ToIntegrationResponse(i *integration.Integration) IntegrationResponse {
	resp := IntegrationResponse{
		ID:             i.ID,
		OrganizationID: i.OrganizationID,
		Name:           i.Name,
		Provider:       i.Provider,
		Direction:      i.Direction,
		Status:         i.Status,
		Configuration:  i.Configuration,
		DataMappings:   i.DataMappings,
		SyncSchedule:   i.SyncSchedule,
		HasCredentials: !i.Credentials.IsEmpty(),
		Stats: SyncStatsResponse{
			SyncStats:       i.Stats,
			ErrorRate:       i.Stats.ErrorRate(),
			RecordErrorRate: i.Stats.RecordErrorRate(),
		},
		LastSyncAt:        i.LastSyncAt,
		SyncCursor:        i.SyncCursor,
		OutboundWatermark: i.OutboundWatermark,
		LastError:         i.LastError,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
	}
	if resp.HasCredentials {
		resp.CredentialsKeyID = i.Credentials.KeyID
	}
	if w := i.WebhookConfig; w != nil {
		resp.WebhookConfig = &WebhookConfigResponse{
			Enabled:     w.Enabled,
			EndpointURL: w.EndpointURL,
			Events:      w.Events,
			HasSecret:   w.SecretKey != "",
		}
	}
	return resp
}

// ToIntegrationResponses converts a list
func ToIntegrationResponses(list []*integration.Integration) []IntegrationResponse {
	out := make([]IntegrationResponse, 0, len(list))
	for _, i := range list {
		out = append(out, ToIntegrationResponse(i))
	}
	return out
}

// SyncOperationResponse is the API view of a run
type SyncOperationResponse struct {
	ID                uuid.UUID                     `json:"id"`
	IntegrationID     uuid.UUID                     `json:"integration_id"`
	Type              integration.SyncOperationType `json:"operation_type"`
	Direction         integration.SyncDirection     `json:"direction"`
	Status            integration.SyncStatus        `json:"status"`
	StartedAt         *time.Time                    `json:"started_at,omitempty"`
	CompletedAt       *time.Time                    `json:"completed_at,omitempty"`
	DurationMs        int64                         `json:"duration_ms"`
	RecordsProcessed  int                           `json:"records_processed"`
	RecordsSuccessful int                           `json:"records_successful"`
	RecordsFailed     int                           `json:"records_failed"`
	RecordsCreated    int                           `json:"records_created"`
	RecordsUpdated    int                           `json:"records_updated"`
	ErrorDetails      []integration.SyncError       `json:"error_details"`
	Trigger           integration.TriggerMetadata   `json:"trigger_metadata"`
	FailureReason     string                        `json:"failure_reason,omitempty"`
	CreatedAt         time.Time                     `json:"created_at"`
}

// ToSyncOperationResponse converts an operation to its API view
func ToSyncOperationResponse(op *integration.SyncOperation) SyncOperationResponse {
	errs := op.Errors
	if errs == nil {
		errs = []integration.SyncError{}
	}
	return SyncOperationResponse{
		ID:                op.ID,
		IntegrationID:     op.IntegrationID,
		Type:              op.Type,
		Direction:         op.Direction,
		Status:            op.Status,
		StartedAt:         op.StartedAt,
		CompletedAt:       op.CompletedAt,
		DurationMs:        op.Duration().Milliseconds(),
		RecordsProcessed:  op.RecordsProcessed,
		RecordsSuccessful: op.RecordsSuccessful,
		RecordsFailed:     op.RecordsFailed,
		RecordsCreated:    op.RecordsCreated,
		RecordsUpdated:    op.RecordsUpdated,
		ErrorDetails:      errs,
		Trigger:           op.Trigger,
		FailureReason:     op.FailureReason,
		CreatedAt:         op.CreatedAt,
	}
}

// ToSyncOperationResponses converts a list
func ToSyncOperationResponses(list []*integration.SyncOperation) []SyncOperationResponse {
	out := make([]SyncOperationResponse, 0, len(list))
	for _, op := range list {
		out = append(out, ToSyncOperationResponse(op))
	}
	return out
}

// WebhookResult is the outcome of one webhook delivery
type WebhookResult struct {
	Success     bool       `json:"success"`
	Message     string     `json:"message"`
	OperationID *uuid.UUID `json:"operation_id,omitempty"`
	// Duplicate is set when the delivery id was already processed
	Duplicate bool `json:"duplicate,omitempty"`
}
