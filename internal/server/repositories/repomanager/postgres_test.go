package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelartvj/officesync/internal/server/migrations"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestManager_Repositories(t *testing.T) {
	var m RepositoryManager = NewPostgresRepositoryManager()
	db := newDB(t)

	assert.NotNil(t, m.Users(db))
	assert.NotNil(t, m.RefreshTokens(db))
	assert.NotNil(t, m.Records(db))
}

func TestRunMigrations(t *testing.T) {
	db := newDB(t)
	orig := migrateUp
	t.Cleanup(func() { migrateUp = orig })

	var versions []int64
	migrateUp = func(_ context.Context, p *goose.Provider) ([]*goose.MigrationResult, error) {
		for _, s := range p.ListSources() {
			versions = append(versions, s.Version)
		}
		return nil, nil
	}
	require.NoError(t, NewPostgresRepositoryManager().RunMigrations(context.Background(), db))
	assert.Equal(t, []int64{1, 2, 3}, versions)

	boom := errors.New("relation already exists")
	migrateUp = func(context.Context, *goose.Provider) ([]*goose.MigrationResult, error) {
		return nil, boom
	}
	err := NewPostgresRepositoryManager().RunMigrations(context.Background(), db)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "apply migrations")
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(migrations.Migrations, "*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"00001_users.sql", "00002_refresh_tokens.sql", "00003_sync_records.sql"}, names)

	body, err := fs.ReadFile(migrations.Migrations, "00003_sync_records.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "PRIMARY KEY (user_id, entity, item_id)")
}
