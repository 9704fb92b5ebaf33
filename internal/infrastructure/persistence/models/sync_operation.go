package models

import (
	"time"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SyncOperationModel is the persistence model for a SyncOperation.
type SyncOperationModel struct {
	ID                uuid.UUID                     `gorm:"type:uuid;primaryKey"`
	IntegrationID     uuid.UUID                     `gorm:"type:uuid;not null;index:idx_sync_operations_integration,priority:1"`
	OrganizationID    uuid.UUID                     `gorm:"type:uuid;not null"`
	Type              integration.SyncOperationType `gorm:"type:varchar(30);not null"`
	Direction         integration.SyncDirection     `gorm:"type:varchar(20);not null"`
	Status            integration.SyncStatus        `gorm:"type:varchar(20);not null;index:idx_sync_operations_status"`
	StartedAt         *time.Time                    `gorm:""`
	CompletedAt       *time.Time                    `gorm:""`
	RecordsProcessed  int                           `gorm:"not null;default:0"`
	RecordsSuccessful int                           `gorm:"not null;default:0"`
	RecordsFailed     int                           `gorm:"not null;default:0"`
	RecordsCreated    int                           `gorm:"not null;default:0"`
	RecordsUpdated    int                           `gorm:"not null;default:0"`

	Errors  datatypes.JSONType[[]integration.SyncError]     `gorm:"not null"`
	Trigger datatypes.JSONType[integration.TriggerMetadata] `gorm:"not null"`

	FailureReason string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;index:idx_sync_operations_integration,priority:2,sort:desc"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncOperationModel) TableName() string {
	return "sync_operations"
}

// ToDomain converts the persistence model to a domain SyncOperation.
func (m *SyncOperationModel) ToDomain() *integration.SyncOperation {
	errs := m.Errors.Data()
	if errs == nil {
		errs = make([]integration.SyncError, 0)
	}
	return &integration.SyncOperation{
		ID:                m.ID,
		IntegrationID:     m.IntegrationID,
		OrganizationID:    m.OrganizationID,
		Type:              m.Type,
		Direction:         m.Direction,
		Status:            m.Status,
		StartedAt:         m.StartedAt,
		CompletedAt:       m.CompletedAt,
		RecordsProcessed:  m.RecordsProcessed,
		RecordsSuccessful: m.RecordsSuccessful,
		RecordsFailed:     m.RecordsFailed,
		RecordsCreated:    m.RecordsCreated,
		RecordsUpdated:    m.RecordsUpdated,
		Errors:            errs,
		Trigger:           m.Trigger.Data(),
		FailureReason:     m.FailureReason,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// SyncOperationModelFromDomain creates a persistence model from a domain SyncOperation.
func SyncOperationModelFromDomain(op *integration.SyncOperation) *SyncOperationModel {
	errs := op.Errors
	if errs == nil {
		errs = make([]integration.SyncError, 0)
	}
	return &SyncOperationModel{
		ID:                op.ID,
		IntegrationID:     op.IntegrationID,
		OrganizationID:    op.OrganizationID,
		Type:              op.Type,
		Direction:         op.Direction,
		Status:            op.Status,
		StartedAt:         op.StartedAt,
		CompletedAt:       op.CompletedAt,
		RecordsProcessed:  op.RecordsProcessed,
		RecordsSuccessful: op.RecordsSuccessful,
		RecordsFailed:     op.RecordsFailed,
		RecordsCreated:    op.RecordsCreated,
		RecordsUpdated:    op.RecordsUpdated,
		Errors:            datatypes.NewJSONType(errs),
		Trigger:           datatypes.NewJSONType(op.Trigger),
		FailureReason:     op.FailureReason,
		CreatedAt:         op.CreatedAt,
		UpdatedAt:         op.UpdatedAt,
	}
}
