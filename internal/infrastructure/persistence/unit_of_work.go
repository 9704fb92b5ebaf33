package persistence

import (
	"context"

	"github.com/contractiq/backend/internal/domain/integration"
	"gorm.io/gorm"
)

// GormSyncUnitOfWork implements integration.SyncUnitOfWork. Contract and
// mapping writes made through the stores handed to fn share one transaction.
type GormSyncUnitOfWork struct {
	db        *gorm.DB
	contracts *GormContractStore
	mappings  *GormExternalIDMappingRepository
}

// NewGormSyncUnitOfWork creates a unit of work over the given stores
func NewGormSyncUnitOfWork(db *gorm.DB, contracts *GormContractStore, mappings *GormExternalIDMappingRepository) *GormSyncUnitOfWork {
	return &GormSyncUnitOfWork{db: db, contracts: contracts, mappings: mappings}
}

var _ integration.SyncUnitOfWork = (*GormSyncUnitOfWork)(nil)

// Do runs fn in a transaction, committing when it returns nil
func (u *GormSyncUnitOfWork) Do(ctx context.Context, fn func(contracts integration.ContractStore, mappings integration.ExternalIDMappingRepository) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(u.contracts.WithTx(tx), u.mappings.WithTx(tx))
	})
}
