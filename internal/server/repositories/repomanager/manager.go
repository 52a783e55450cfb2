package repomanager

import (
	"context"
	"database/sql"

	"github.com/pixelartvj/officesync/internal/dbx"
	"github.com/pixelartvj/officesync/internal/server/repositories/records"
	"github.com/pixelartvj/officesync/internal/server/repositories/refreshtokens"
	"github.com/pixelartvj/officesync/internal/server/repositories/users"
)

// RepositoryManager hands out repositories bound to either the pool or an
// open transaction, so services can mix both inside dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error

	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Records(db dbx.DBTX) records.Repository
}
