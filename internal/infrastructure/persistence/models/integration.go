package models

import (
	"time"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// IntegrationModel is the persistence model for the Integration aggregate.
type IntegrationModel struct {
	AggregateModel
	OrganizationID uuid.UUID                     `gorm:"type:uuid;not null;index:idx_integrations_org"`
	Name           string                        `gorm:"type:varchar(200);not null"`
	Provider       integration.ProviderCode      `gorm:"type:varchar(20);not null"`
	Direction      integration.SyncDirection     `gorm:"type:varchar(20);not null"`
	Status         integration.IntegrationStatus `gorm:"type:varchar(20);not null;index:idx_integrations_status"`

	Configuration datatypes.JSONType[integration.Configuration]  `gorm:"not null"`
	DataMappings  datatypes.JSONType[[]integration.DataMapping]  `gorm:"not null"`
	WebhookConfig datatypes.JSONType[*integration.WebhookConfig] `gorm:"not null"`
	SyncSchedule  datatypes.JSONType[*integration.SyncSchedule]  `gorm:"not null"`

	CredentialsCiphertext []byte
	CredentialsMethod     string     `gorm:"type:varchar(40)"`
	CredentialsKeyID      string     `gorm:"type:varchar(64)"`
	CredentialsCreatedAt  *time.Time

	TotalSyncs       int64 `gorm:"not null;default:0"`
	SuccessfulSyncs  int64 `gorm:"not null;default:0"`
	FailedSyncs      int64 `gorm:"not null;default:0"`
	CancelledSyncs   int64 `gorm:"not null;default:0"`
	RecordsProcessed int64 `gorm:"not null;default:0"`
	RecordsCreated   int64 `gorm:"not null;default:0"`
	RecordsUpdated   int64 `gorm:"not null;default:0"`
	RecordsFailed    int64 `gorm:"not null;default:0"`

	LastSyncAt        *time.Time
	SyncCursor        string     `gorm:"type:varchar(255)"`
	OutboundWatermark *time.Time
	LastError         string     `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (IntegrationModel) TableName() string {
	return "integrations"
}

// ToDomain converts the persistence model to a domain Integration.
func (m *IntegrationModel) ToDomain() *integration.Integration {
	i := &integration.Integration{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		OrganizationID:    m.OrganizationID,
		Name:              m.Name,
		Provider:          m.Provider,
		Direction:         m.Direction,
		Status:            m.Status,
		Configuration:     m.Configuration.Data(),
		DataMappings:      m.DataMappings.Data(),
		WebhookConfig:     m.WebhookConfig.Data(),
		SyncSchedule:      m.SyncSchedule.Data(),
		Stats: integration.SyncStats{
			TotalSyncs:       m.TotalSyncs,
			SuccessfulSyncs:  m.SuccessfulSyncs,
			FailedSyncs:      m.FailedSyncs,
			CancelledSyncs:   m.CancelledSyncs,
			RecordsProcessed: m.RecordsProcessed,
			RecordsCreated:   m.RecordsCreated,
			RecordsUpdated:   m.RecordsUpdated,
			RecordsFailed:    m.RecordsFailed,
		},
		LastSyncAt:        m.LastSyncAt,
		SyncCursor:        m.SyncCursor,
		OutboundWatermark: m.OutboundWatermark,
		LastError:         m.LastError,
	}
	m.PopulateAggregateRoot(&i.BaseAggregateRoot)

	if len(m.CredentialsCiphertext) > 0 {
		enc := &integration.EncryptedCredentials{
			Ciphertext: m.CredentialsCiphertext,
			Method:     integration.EncryptionMethod(m.CredentialsMethod),
			KeyID:      m.CredentialsKeyID,
		}
		if m.CredentialsCreatedAt != nil {
			enc.CreatedAt = *m.CredentialsCreatedAt
		}
		i.Credentials = enc
	}
	return i
}

// FromDomain populates the persistence model from a domain Integration.
func (m *IntegrationModel) FromDomain(i *integration.Integration) {
	m.FromDomainAggregateRoot(i.BaseAggregateRoot)
	m.OrganizationID = i.OrganizationID
	m.Name = i.Name
	m.Provider = i.Provider
	m.Direction = i.Direction
	m.Status = i.Status
	m.Configuration = datatypes.NewJSONType(i.Configuration)
	m.DataMappings = datatypes.NewJSONType(i.DataMappings)
	m.WebhookConfig = datatypes.NewJSONType(i.WebhookConfig)
	m.SyncSchedule = datatypes.NewJSONType(i.SyncSchedule)

	m.CredentialsCiphertext = nil
	m.CredentialsMethod = ""
	m.CredentialsKeyID = ""
	m.CredentialsCreatedAt = nil
	if !i.Credentials.IsEmpty() {
		created := i.Credentials.CreatedAt
		m.CredentialsCiphertext = i.Credentials.Ciphertext
		m.CredentialsMethod = string(i.Credentials.Method)
		m.CredentialsKeyID = i.Credentials.KeyID
		m.CredentialsCreatedAt = &created
	}

	m.TotalSyncs = i.Stats.TotalSyncs
	m.SuccessfulSyncs = i.Stats.SuccessfulSyncs
	m.FailedSyncs = i.Stats.FailedSyncs
	m.CancelledSyncs = i.Stats.CancelledSyncs
	m.RecordsProcessed = i.Stats.RecordsProcessed
	m.RecordsCreated = i.Stats.RecordsCreated
	m.RecordsUpdated = i.Stats.RecordsUpdated
	m.RecordsFailed = i.Stats.RecordsFailed

	m.LastSyncAt = i.LastSyncAt
	m.SyncCursor = i.SyncCursor
	m.OutboundWatermark = i.OutboundWatermark
	m.LastError = i.LastError
}

// IntegrationModelFromDomain creates a persistence model from a domain Integration.
func IntegrationModelFromDomain(i *integration.Integration) *IntegrationModel {
	m := &IntegrationModel{}
	m.FromDomain(i)
	return m
}
