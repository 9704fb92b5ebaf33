package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormExternalIDMappingRepository implements integration.ExternalIDMappingRepository using GORM.
// The database connection must be opened with TranslateError so unique
// violations surface as gorm.ErrDuplicatedKey.
type GormExternalIDMappingRepository struct {
	db *gorm.DB
}

// NewGormExternalIDMappingRepository creates a new GormExternalIDMappingRepository
func NewGormExternalIDMappingRepository(db *gorm.DB) *GormExternalIDMappingRepository {
	return &GormExternalIDMappingRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *GormExternalIDMappingRepository) WithTx(tx *gorm.DB) *GormExternalIDMappingRepository {
	return &GormExternalIDMappingRepository{db: tx}
}

var _ integration.ExternalIDMappingRepository = (*GormExternalIDMappingRepository)(nil)

// FindByContract finds the mapping of a contract at a provider
func (r *GormExternalIDMappingRepository) FindByContract(ctx context.Context, contractID uuid.UUID, provider integration.ProviderCode) (*integration.ExternalIDMapping, error) {
	var model models.ExternalIDMappingModel
	if err := r.db.WithContext(ctx).
		Where("contract_id = ? AND provider = ?", contractID, provider).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrExternalIDMappingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByExternalID finds the mapping for a provider's record identifier
func (r *GormExternalIDMappingRepository) FindByExternalID(ctx context.Context, provider integration.ProviderCode, externalID string) (*integration.ExternalIDMapping, error) {
	var model models.ExternalIDMappingModel
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND external_id = ?", provider, externalID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrExternalIDMappingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create inserts a new mapping
func (r *GormExternalIDMappingRepository) Create(ctx context.Context, mapping *integration.ExternalIDMapping) error {
	err := r.db.WithContext(ctx).Create(models.ExternalIDMappingModelFromDomain(mapping)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return integration.ErrExternalIDMappingExists
	}
	return err
}

// Touch updates LastSyncedAt of an existing mapping
func (r *GormExternalIDMappingRepository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.ExternalIDMappingModel{}).
		Where("id = ?", id).
		Update("last_synced_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrExternalIDMappingNotFound
	}
	return nil
}
