package handler

import (
	"github.com/google/uuid"

	integrationapp "github.com/contractiq/backend/internal/application/integration"
	"github.com/contractiq/backend/internal/domain/integration"
)

// CreateIntegrationRequest is the body of POST /integrations. Omitted
// configuration fields and an empty mapping list take provider defaults.
type CreateIntegrationRequest struct {
	Name          string                    `json:"name" binding:"omitempty,max=100"`
	Provider      string                    `json:"provider" binding:"required,clm_provider"`
	SyncDirection string                    `json:"sync_direction" binding:"omitempty,oneof=inbound outbound bidirectional"`
	Configuration integration.Configuration `json:"configuration"`
	DataMappings  []integration.DataMapping `json:"data_mappings"`
	WebhookConfig *WebhookConfigRequest     `json:"webhook_config"`
	SyncSchedule  *SyncScheduleRequest      `json:"sync_schedule"`
	Credentials   *CredentialsRequest       `json:"credentials"`
}

// WebhookConfigRequest configures inbound pushes
type WebhookConfigRequest struct {
	Enabled     bool     `json:"enabled"`
	EndpointURL string   `json:"endpoint_url" binding:"omitempty,url"`
	SecretKey   string   `json:"secret_key" binding:"omitempty,min=16"`
	Events      []string `json:"events" binding:"omitempty,dive,webhook_event"`
}

// SyncScheduleRequest configures automatic syncs
type SyncScheduleRequest struct {
	Enabled   bool   `json:"enabled"`
	Frequency string `json:"frequency" binding:"required,oneof=hourly daily weekly"`
	TimeOfDay string `json:"time_of_day" binding:"omitempty,len=5"`
	Timezone  string `json:"timezone" binding:"omitempty,timezone"`
}

// CredentialsRequest carries plaintext provider credentials. They are
// encrypted before they are stored and never echoed back.
type CredentialsRequest struct {
	APIKey       string            `json:"api_key"`
	AccessToken  string            `json:"access_token"`
	ClientID     string            `json:"client_id"`
	ClientSecret string            `json:"client_secret"`
	Extra        map[string]string `json:"extra"`
}

// UpdateStatusRequest is the body of PUT /integrations/:id/status
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active inactive error"`
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// StartSyncRequest is the body of POST /integrations/:id/sync. An empty
// type picks incremental when a cursor exists and full otherwise.
type StartSyncRequest struct {
	Type string `json:"type" binding:"omitempty,oneof=full_sync incremental_sync"`
}

// ConnectionCheckResponse is one entry of an organization-wide connection check
type ConnectionCheckResponse struct {
	IntegrationID uuid.UUID `json:"integration_id"`
	integration.ConnectionResult
}

// toInput converts the request to the application input
func (r *CreateIntegrationRequest) toInput(organizationID uuid.UUID) integrationapp.CreateIntegrationInput {
	in := integrationapp.CreateIntegrationInput{
		OrganizationID: organizationID,
		Name:           r.Name,
		Provider:       integration.ProviderCode(r.Provider),
		Direction:      integration.SyncDirection(r.SyncDirection),
		Configuration:  r.Configuration,
		DataMappings:   r.DataMappings,
	}
	if w := r.WebhookConfig; w != nil {
		events := make([]integration.WebhookEvent, 0, len(w.Events))
		for _, e := range w.Events {
			events = append(events, integration.WebhookEvent(e))
		}
		in.WebhookConfig = &integration.WebhookConfig{
			Enabled:     w.Enabled,
			EndpointURL: w.EndpointURL,
			SecretKey:   w.SecretKey,
			Events:      events,
		}
	}
	if s := r.SyncSchedule; s != nil {
		in.SyncSchedule = &integration.SyncSchedule{
			Enabled:   s.Enabled,
			Frequency: integration.SyncFrequency(s.Frequency),
			TimeOfDay: s.TimeOfDay,
			Timezone:  s.Timezone,
		}
	}
	return in
}

func (r *CredentialsRequest) toCredentials() integration.Credentials {
	return integration.Credentials{
		APIKey:       r.APIKey,
		AccessToken:  r.AccessToken,
		ClientID:     r.ClientID,
		ClientSecret: r.ClientSecret,
		Extra:        r.Extra,
	}
}
