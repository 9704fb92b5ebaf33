package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockIntegrationRepository creates a GormIntegrationRepository over a mocked postgres connection
func newMockIntegrationRepository(t *testing.T) (*GormIntegrationRepository, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return NewGormIntegrationRepository(gormDB), mock, mockDB
}

func TestGormIntegrationRepository_FindByID_Postgres(t *testing.T) {
	t.Run("maps not found", func(t *testing.T) {
		repo, mock, mockDB := newMockIntegrationRepository(t)
		defer mockDB.Close()

		id := uuid.New()
		mock.ExpectQuery(`SELECT \* FROM "integrations" WHERE id = \$1 ORDER BY .* LIMIT .*`).
			WithArgs(id, 1).
			WillReturnError(gorm.ErrRecordNotFound)

		_, err := repo.FindByID(context.Background(), id)
		assert.ErrorIs(t, err, integration.ErrIntegrationNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("propagates driver errors", func(t *testing.T) {
		repo, mock, mockDB := newMockIntegrationRepository(t)
		defer mockDB.Close()

		id := uuid.New()
		boom := errors.New("connection reset")
		mock.ExpectQuery(`SELECT \* FROM "integrations" WHERE id = \$1`).
			WithArgs(id, 1).
			WillReturnError(boom)

		_, err := repo.FindByID(context.Background(), id)
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormIntegrationRepository_FindActive_Postgres(t *testing.T) {
	repo, mock, mockDB := newMockIntegrationRepository(t)
	defer mockDB.Close()

	mock.ExpectQuery(`SELECT \* FROM "integrations" WHERE status IN \(\$1,\$2,\$3\) ORDER BY created_at ASC`).
		WithArgs("active", "syncing", "error").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	found, err := repo.FindActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}
