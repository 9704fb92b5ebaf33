package models

import (
	"time"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/google/uuid"
)

// ExternalIDMappingModel links an internal contract to a provider identifier.
// The two unique indexes enforce one mapping per contract and provider, and
// one contract per external identifier.
type ExternalIDMappingModel struct {
	ID            uuid.UUID                `gorm:"type:uuid;primaryKey"`
	IntegrationID uuid.UUID                `gorm:"type:uuid;not null;index"`
	ContractID    uuid.UUID                `gorm:"type:uuid;not null;uniqueIndex:idx_external_id_contract_provider,priority:1"`
	Provider      integration.ProviderCode `gorm:"type:varchar(20);not null;uniqueIndex:idx_external_id_contract_provider,priority:2;uniqueIndex:idx_external_id_provider_external,priority:1"`
	ExternalID    string                   `gorm:"type:varchar(255);not null;uniqueIndex:idx_external_id_provider_external,priority:2"`
	LastSyncedAt  time.Time                `gorm:"not null"`
	CreatedAt     time.Time                `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ExternalIDMappingModel) TableName() string {
	return "external_id_mappings"
}

// ToDomain converts the persistence model to a domain ExternalIDMapping.
func (m *ExternalIDMappingModel) ToDomain() *integration.ExternalIDMapping {
	return &integration.ExternalIDMapping{
		ID:            m.ID,
		IntegrationID: m.IntegrationID,
		ContractID:    m.ContractID,
		Provider:      m.Provider,
		ExternalID:    m.ExternalID,
		LastSyncedAt:  m.LastSyncedAt,
		CreatedAt:     m.CreatedAt,
	}
}

// ExternalIDMappingModelFromDomain creates a persistence model from a domain mapping.
func ExternalIDMappingModelFromDomain(e *integration.ExternalIDMapping) *ExternalIDMappingModel {
	return &ExternalIDMappingModel{
		ID:            e.ID,
		IntegrationID: e.IntegrationID,
		ContractID:    e.ContractID,
		Provider:      e.Provider,
		ExternalID:    e.ExternalID,
		LastSyncedAt:  e.LastSyncedAt,
		CreatedAt:     e.CreatedAt,
	}
}
