package users

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelartvj/officesync/internal/common"
	"github.com/pixelartvj/officesync/internal/server/models"
)

const (
	insertRe  = `^INSERT INTO users \(email, name, role, password_hash\) VALUES \(\$1, \$2, \$3, \$4\) RETURNING id, created_at$`
	byEmailRe = `^SELECT id, email, name, role, password_hash, created_at FROM users WHERE email = \$1$`
	byIDRe    = `^SELECT id, email, name, role, password_hash, created_at FROM users WHERE id = \$1$`
)

var created = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewPostgresRepository(db), mock
}

func userRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "name", "role", "password_hash", "created_at"}).
		AddRow("u-1", "dj@example.com", "DJ", "admin", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA", created)
}

func TestCreate(t *testing.T) {
	repo, mock := newRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(insertRe).
		WithArgs("dj@example.com", "DJ", models.DefaultRole, "hash").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("42", created))

	got, err := repo.Create(ctx, &models.User{Email: " DJ@Example.com ", Name: "DJ", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.Equal(t, &models.User{
		ID: "42", Email: "dj@example.com", Name: "DJ", Role: models.DefaultRole,
		PasswordHash: "hash", CreatedAt: created,
	}, got)
}

func TestCreate_Errors(t *testing.T) {
	down := errors.New("connection refused")

	tests := []struct {
		name    string
		dbErr   error
		wantIs  error
		wantMsg string
	}{
		{name: "duplicate email", dbErr: &pgconn.PgError{Code: "23505"}, wantIs: common.ErrUserAlreadyExists},
		{name: "other constraint", dbErr: &pgconn.PgError{Code: "23502"}, wantMsg: "users:"},
		{name: "connection", dbErr: down, wantIs: down, wantMsg: "users:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepo(t)
			mock.ExpectQuery(insertRe).
				WithArgs("vj@example.com", "", "admin", "hash").
				WillReturnError(tt.dbErr)

			_, err := repo.Create(context.Background(), &models.User{Email: "vj@example.com", Role: "admin", PasswordHash: "hash"})
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			if tt.wantMsg != "" {
				assert.ErrorContains(t, err, tt.wantMsg)
			}
		})
	}
}

func TestGetByEmail(t *testing.T) {
	repo, mock := newRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(byEmailRe).WithArgs("dj@example.com").WillReturnRows(userRow())
	mock.ExpectQuery(byEmailRe).WithArgs("ghost@example.com").WillReturnError(sql.ErrNoRows)

	got, err := repo.GetByEmail(ctx, "  DJ@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.ID)
	assert.Equal(t, "admin", got.Role)
	assert.True(t, got.CreatedAt.Equal(created))

	_, err = repo.GetByEmail(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetByID(t *testing.T) {
	repo, mock := newRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(byIDRe).WithArgs("u-1").WillReturnRows(userRow())
	mock.ExpectQuery(byIDRe).WithArgs("u-2").WillReturnError(errors.New("timeout"))

	got, err := repo.GetByID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "dj@example.com", got.Email)

	_, err = repo.GetByID(ctx, "u-2")
	assert.ErrorContains(t, err, "users: timeout")
	assert.NotErrorIs(t, err, common.ErrorNotFound)
}
