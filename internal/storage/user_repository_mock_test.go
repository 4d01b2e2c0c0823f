package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chatline/internal/models"
	"chatline/internal/storage"
)

// setupMockDB opens gorm on the postgres dialect backed by sqlmock.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}),
		storage.NewGormConfig(logger.Default.LogMode(logger.Silent)))
	require.NoError(t, err)
	return db, mock
}

func TestUserRepository_GetByID_Postgres(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := storage.NewGormUserRepository(db)
	ctx := context.Background()
	id := models.NewID()

	tests := []struct {
		name         string
		mockBehavior func()
		wantErr      error
		wantName     string
	}{
		{
			name: "found",
			mockBehavior: func() {
				rows := sqlmock.NewRows([]string{"id", "username", "email", "status_current"}).
					AddRow(id, "alice", "alice@example.com", models.StatusOnline)
				mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
					WithArgs(id, 1).
					WillReturnRows(rows)
			},
			wantName: "alice",
		},
		{
			name: "not found",
			mockBehavior: func() {
				mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
					WithArgs(id, 1).
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			wantErr: gorm.ErrRecordNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockBehavior()
			user, err := repo.GetByID(ctx, id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else if assert.NoError(t, err) {
				assert.Equal(t, tt.wantName, user.Username)
				assert.Equal(t, models.StatusOnline, user.Status.Current)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_UpdateCredentialHash_Postgres(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := storage.NewGormUserRepository(db)
	ctx := context.Background()
	id := models.NewID()

	t.Run("missing row", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "users" SET "credential_hash"=\$1,"updated_at"=\$2 WHERE id = \$3`).
			WithArgs("new-hash", sqlmock.AnyArg(), id).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := repo.UpdateCredentialHash(ctx, id, "new-hash")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver error rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "users"`).WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		err := repo.UpdateCredentialHash(ctx, id, "new-hash")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
