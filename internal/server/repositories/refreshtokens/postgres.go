package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pixelartvj/officesync/internal/common"
	"github.com/pixelartvj/officesync/internal/dbx"
	"github.com/pixelartvj/officesync/internal/server/models"
)

const (
	insertToken = `
		INSERT INTO refresh_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)`

	selectToken = `
		SELECT user_id, expires_at
		FROM refresh_tokens
		WHERE token = $1`

	deleteToken = `DELETE FROM refresh_tokens WHERE token = $1`

	deleteUserTokens = `DELETE FROM refresh_tokens WHERE user_id = $1`

	deleteExpiredTokens = `DELETE FROM refresh_tokens WHERE expires_at < $1`
)

// PostgresRepository works over *sql.DB or *sql.Tx. Timestamps are stored
// in UTC.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := r.exec(ctx, insertToken, userID, token, expiresAt.UTC())
	return err
}

func (r *PostgresRepository) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt := models.RefreshToken{Token: token}
	err := r.db.QueryRowContext(ctx, selectToken, token).Scan(&rt.UserID, &rt.ExpiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, common.ErrorNotFound
	case err != nil:
		return nil, fmt.Errorf("refresh tokens: %w", err)
	}
	return &rt, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, token string) error {
	_, err := r.exec(ctx, deleteToken, token)
	return err
}

func (r *PostgresRepository) DeleteForUser(ctx context.Context, userID string) (int64, error) {
	return r.exec(ctx, deleteUserTokens, userID)
}

// DeleteExpired removes every token that expired before now.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.exec(ctx, deleteExpiredTokens, now.UTC())
}

// exec runs a statement and reports how many rows it touched.
func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("refresh tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("refresh tokens: %w", err)
	}
	return n, nil
}
