package persistence

import (
	"context"
	"errors"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultOperationHistoryLimit caps FindByIntegration when no limit is given
const DefaultOperationHistoryLimit = 50

// GormSyncOperationRepository implements integration.SyncOperationRepository using GORM
type GormSyncOperationRepository struct {
	db *gorm.DB
}

// NewGormSyncOperationRepository creates a new GormSyncOperationRepository
func NewGormSyncOperationRepository(db *gorm.DB) *GormSyncOperationRepository {
	return &GormSyncOperationRepository{db: db}
}

var _ integration.SyncOperationRepository = (*GormSyncOperationRepository)(nil)

// FindByID finds a sync operation by its ID
func (r *GormSyncOperationRepository) FindByID(ctx context.Context, id uuid.UUID) (*integration.SyncOperation, error) {
	var model models.SyncOperationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrOperationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIntegration returns the most recent operations of an integration, newest first
func (r *GormSyncOperationRepository) FindByIntegration(ctx context.Context, integrationID uuid.UUID, limit int) ([]*integration.SyncOperation, error) {
	if limit <= 0 {
		limit = DefaultOperationHistoryLimit
	}
	var rows []models.SyncOperationModel
	if err := r.db.WithContext(ctx).
		Where("integration_id = ?", integrationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	ops := make([]*integration.SyncOperation, len(rows))
	for i := range rows {
		ops[i] = rows[i].ToDomain()
	}
	return ops, nil
}

// Save creates or updates a sync operation
func (r *GormSyncOperationRepository) Save(ctx context.Context, op *integration.SyncOperation) error {
	return r.db.WithContext(ctx).Save(models.SyncOperationModelFromDomain(op)).Error
}
