package integration

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ExternalIDMapping links an internal contract to its identifier at one
// provider. There is at most one mapping per (ContractID, Provider).
type ExternalIDMapping struct {
	ID            uuid.UUID
	IntegrationID uuid.UUID
	ContractID    uuid.UUID
	Provider      ProviderCode
	ExternalID    string
	LastSyncedAt  time.Time
	CreatedAt     time.Time
}

// NewExternalIDMapping creates a mapping
func NewExternalIDMapping(integrationID, contractID uuid.UUID, provider ProviderCode, externalID string) (*ExternalIDMapping, error) {
	if contractID == uuid.Nil {
		return nil, errors.New("integration: invalid contract ID")
	}
	if !provider.IsValid() {
		return nil, NewConfigurationError("provider", "unrecognized provider "+string(provider))
	}
	if externalID == "" {
		return nil, ErrRecordIDMissing
	}
	now := time.Now()
	return &ExternalIDMapping{
		ID:            uuid.New(),
		IntegrationID: integrationID,
		ContractID:    contractID,
		Provider:      provider,
		ExternalID:    externalID,
		LastSyncedAt:  now,
		CreatedAt:     now,
	}, nil
}
