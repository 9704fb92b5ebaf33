package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Integration repository
// ---------------------------------------------------------------------------

// IntegrationReader reads integrations
type IntegrationReader interface {
	// FindByID returns ErrIntegrationNotFound if absent
	FindByID(ctx context.Context, id uuid.UUID) (*Integration, error)
	// FindActive returns integrations that are active, syncing or in error
	FindActive(ctx context.Context) ([]*Integration, error)
	// FindByOrganization returns every integration of an organization
	FindByOrganization(ctx context.Context, organizationID uuid.UUID) ([]*Integration, error)
}

// IntegrationWriter persists integrations
type IntegrationWriter interface {
	Save(ctx context.Context, integration *Integration) error
}

// IntegrationRepository combines read and write access
type IntegrationRepository interface {
	IntegrationReader
	IntegrationWriter
}

// ---------------------------------------------------------------------------
// Sync operation repository
// ---------------------------------------------------------------------------

// SyncOperationRepository persists sync operations
type SyncOperationRepository interface {
	// FindByID returns ErrOperationNotFound if absent
	FindByID(ctx context.Context, id uuid.UUID) (*SyncOperation, error)
	// FindByIntegration returns the newest operations first
	FindByIntegration(ctx context.Context, integrationID uuid.UUID, limit int) ([]*SyncOperation, error)
	Save(ctx context.Context, op *SyncOperation) error
}

// ---------------------------------------------------------------------------
// External ID mapping repository
// ---------------------------------------------------------------------------

// ExternalIDMappingRepository persists ExternalIDMapping rows
type ExternalIDMappingRepository interface {
	// FindByContract returns ErrExternalIDMappingNotFound if absent
	FindByContract(ctx context.Context, contractID uuid.UUID, provider ProviderCode) (*ExternalIDMapping, error)
	// FindByExternalID returns ErrExternalIDMappingNotFound if absent
	FindByExternalID(ctx context.Context, provider ProviderCode, externalID string) (*ExternalIDMapping, error)
	// Create returns ErrExternalIDMappingExists if the pair is already mapped
	Create(ctx context.Context, mapping *ExternalIDMapping) error
	// Touch records a successful sync of an existing mapping
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ---------------------------------------------------------------------------
// Contract store collaborator
// ---------------------------------------------------------------------------

// ContractRecord is a contract in the internal schema
type ContractRecord struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Data           Record
	UpdatedAt      time.Time
}

// ContractStore is the narrow record CRUD interface of the contract store
type ContractStore interface {
	// Get returns ErrContractNotFound if absent
	Get(ctx context.Context, id uuid.UUID) (*ContractRecord, error)
	Create(ctx context.Context, organizationID uuid.UUID, data Record) (uuid.UUID, error)
	Update(ctx context.Context, id uuid.UUID, data Record) error
	// ChangedSince lists contracts updated after since; nil lists all
	ChangedSince(ctx context.Context, organizationID uuid.UUID, since *time.Time) ([]*ContractRecord, error)
}

// SyncUnitOfWork runs fn against a contract store and mapping repository
// bound to one transaction. An error from fn rolls back every write it made.
type SyncUnitOfWork interface {
	Do(ctx context.Context, fn func(contracts ContractStore, mappings ExternalIDMappingRepository) error) error
}

// ---------------------------------------------------------------------------
// Run-lock
// ---------------------------------------------------------------------------

// RunLock guarantees at most one in-flight run per integration, across
// processes when backed by a shared store. Leases expire after ttl so a
// crashed holder cannot block an integration forever.
type RunLock interface {
	// TryAcquire returns a non-empty lease token if the lock was taken and
	// "" if another holder has it
	TryAcquire(ctx context.Context, integrationID uuid.UUID, ttl time.Duration) (string, error)
	// Release frees the lock if token still owns it
	Release(ctx context.Context, integrationID uuid.UUID, token string) error
	// Extend resets the lease to ttl if token still owns it. false means
	// the lease expired or another holder took it.
	Extend(ctx context.Context, integrationID uuid.UUID, token string, ttl time.Duration) (bool, error)
}
