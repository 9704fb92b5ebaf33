package persistence

import (
	"context"
	"errors"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormIntegrationRepository implements integration.IntegrationRepository using GORM
type GormIntegrationRepository struct {
	db *gorm.DB
}

// NewGormIntegrationRepository creates a new GormIntegrationRepository
func NewGormIntegrationRepository(db *gorm.DB) *GormIntegrationRepository {
	return &GormIntegrationRepository{db: db}
}

var _ integration.IntegrationRepository = (*GormIntegrationRepository)(nil)

// FindByID finds an integration by its ID
func (r *GormIntegrationRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.Integration, error) {
	var model models.IntegrationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrIntegrationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindActive returns integrations in active, syncing or error status
func (r *GormIntegrationRepository) FindActive(ctx context.Context) ([]*integration.Integration, error) {
	var rows []models.IntegrationModel
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []integration.IntegrationStatus{
			integration.IntegrationStatusActive,
			integration.IntegrationStatusSyncing,
			integration.IntegrationStatusError,
		}).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toIntegrations(rows), nil
}

// FindByOrganization returns every integration owned by an organization
func (r *GormIntegrationRepository) FindByOrganization(ctx context.Context, organizationID uuid.UUID) ([]*integration.Integration, error) {
	var rows []models.IntegrationModel
	if err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toIntegrations(rows), nil
}

// Save creates or updates an integration
func (r *GormIntegrationRepository) Save(ctx context.Context, i *integration.Integration) error {
	return r.db.WithContext(ctx).Save(models.IntegrationModelFromDomain(i)).Error
}

func toIntegrations(rows []models.IntegrationModel) []*integration.Integration {
	out := make([]*integration.Integration, len(rows))
	for idx := range rows {
		out[idx] = rows[idx].ToDomain()
	}
	return out
}
