package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/contractiq/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GormContractStore implements integration.ContractStore over the contracts table.
// Timestamps are stored in UTC so ChangedSince compares consistently on every driver.
type GormContractStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormContractStore creates a new GormContractStore
func NewGormContractStore(db *gorm.DB) *GormContractStore {
	return &GormContractStore{db: db, now: time.Now}
}

// WithTx returns a store bound to tx
func (s *GormContractStore) WithTx(tx *gorm.DB) *GormContractStore {
	return &GormContractStore{db: tx, now: s.now}
}

var _ integration.ContractStore = (*GormContractStore)(nil)

// Get returns a contract by ID
func (s *GormContractStore) Get(ctx context.Context, id uuid.UUID) (*integration.ContractRecord, error) {
	var model models.ContractModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrContractNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create stores a new contract and returns its ID
func (s *GormContractStore) Create(ctx context.Context, organizationID uuid.UUID, data integration.Record) (uuid.UUID, error) {
	now := s.now().UTC()
	model := &models.ContractModel{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		Data:           datatypes.JSONMap(data.Clone()),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return uuid.Nil, err
	}
	return model.ID, nil
}

// Update replaces the document of an existing contract
func (s *GormContractStore) Update(ctx context.Context, id uuid.UUID, data integration.Record) error {
	result := s.db.WithContext(ctx).
		Model(&models.ContractModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"data":       datatypes.JSONMap(data.Clone()),
			"updated_at": s.now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return integration.ErrContractNotFound
	}
	return nil
}

// ChangedSince lists an organization's contracts updated strictly after since,
// oldest first. A nil since lists every contract.
func (s *GormContractStore) ChangedSince(ctx context.Context, organizationID uuid.UUID, since *time.Time) ([]*integration.ContractRecord, error) {
	query := s.db.WithContext(ctx).Where("organization_id = ?", organizationID)
	if since != nil {
		query = query.Where("updated_at > ?", since.UTC())
	}

	var rows []models.ContractModel
	if err := query.Order("updated_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]*integration.ContractRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}
