package models

import (
	"time"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ContractModel stores a contract in the internal schema as a JSON document.
type ContractModel struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey"`
	OrganizationID uuid.UUID         `gorm:"type:uuid;not null;index:idx_contracts_org_updated,priority:1"`
	Data           datatypes.JSONMap `gorm:"not null"`
	CreatedAt      time.Time         `gorm:"not null"`
	UpdatedAt      time.Time         `gorm:"not null;index:idx_contracts_org_updated,priority:2"`
}

// TableName returns the table name for GORM
func (ContractModel) TableName() string {
	return "contracts"
}

// ToDomain converts the persistence model to a ContractRecord.
func (m *ContractModel) ToDomain() *integration.ContractRecord {
	data := integration.Record{}
	for k, v := range m.Data {
		data[k] = v
	}
	return &integration.ContractRecord{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Data:           data,
		UpdatedAt:      m.UpdatedAt,
	}
}
