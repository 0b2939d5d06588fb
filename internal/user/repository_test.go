package user

import (
	"context"
	"testing"
	"time"

	"roomchat/internal/apperr"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestRepository_CreateUser(t *testing.T) {
	ctx := context.Background()
	createdAt := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	newRepo := func(t *testing.T) (*Repository, sqlmock.Sqlmock) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, mock.ExpectationsWereMet())
			db.Close()
		})
		return NewRepository(db), mock
	}

	t.Run("admin bootstrap runs under the advisory lock", func(t *testing.T) {
		req := require.New(t)
		repo, mock := newRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).
			WithArgs(firstAdminLock).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`INSERT INTO users .+ NOT EXISTS \(SELECT 1 FROM users\)`).
			WithArgs("alice", "hash").
			WillReturnRows(sqlmock.NewRows([]string{"id", "is_admin", "created_at"}).AddRow(int64(1), true, createdAt))
		mock.ExpectCommit()

		u, err := repo.CreateUser(ctx, &User{Username: "alice", Password: "hash"})
		req.NoError(err)
		req.Equal(int64(1), u.ID)
		req.True(u.IsAdmin)
	})

	t.Run("taken username is a validation error", func(t *testing.T) {
		repo, mock := newRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`INSERT INTO users`).WillReturnError(&pgconn.PgError{Code: "23505"})
		mock.ExpectRollback()

		_, err := repo.CreateUser(ctx, &User{Username: "alice", Password: "hash"})
		require.ErrorIs(t, err, apperr.ErrValidation)
	})
}
