// Package repomanager wires the PostgreSQL repositories together with the
// embedded goose migrations.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/pixelartvj/officesync/internal/dbx"
	"github.com/pixelartvj/officesync/internal/server/migrations"
	"github.com/pixelartvj/officesync/internal/server/repositories/records"
	"github.com/pixelartvj/officesync/internal/server/repositories/refreshtokens"
	"github.com/pixelartvj/officesync/internal/server/repositories/users"
)

// PostgresRepositoryManager is stateless; every call returns a repository
// over the given handle.
type PostgresRepositoryManager struct{}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (*PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (*PostgresRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewPostgresRepository(db)
}

func (*PostgresRepositoryManager) Records(db dbx.DBTX) records.Repository {
	return records.NewPostgresRepository(db)
}

// migrateUp applies pending migrations; tests replace it.
var migrateUp = func(ctx context.Context, p *goose.Provider) ([]*goose.MigrationResult, error) {
	return p.Up(ctx)
}

// RunMigrations brings the schema up to the newest embedded migration.
func (*PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	p, err := goose.NewProvider(goose.DialectPostgres, db, migrations.Migrations)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if _, err := migrateUp(ctx, p); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
