package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) List(ctx context.Context, entity string) ([]models.Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT data FROM records WHERE entity = ? ORDER BY rowid`, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s records: %w", entity, err)
	}
	defer rows.Close()

	result := make([]models.Record, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", entity, err)
		}
		var rec models.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode %s record: %w", entity, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s records: %w", entity, err)
	}
	return result, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, entity, id string) (models.Record, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM records WHERE entity = ? AND id = ?`, entity, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s[%s]: %w", entity, id, err)
	}

	var rec models.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s[%s]: %w", entity, id, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, entity, id string, rec models.Record) error {
	if id == "" {
		return fmt.Errorf("failed to upsert %s record: missing id", entity)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s[%s]: %w", entity, id, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO records (entity, id, data) VALUES (?, ?, ?)
		ON CONFLICT(entity, id) DO UPDATE SET data = excluded.data
	`, entity, id, string(data))
	if err != nil {
		return fmt.Errorf("failed to upsert %s[%s]: %w", entity, id, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, entity, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE entity = ? AND id = ?`, entity, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s[%s]: %w", entity, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CountByEntity(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT entity, COUNT(*) FROM records GROUP BY entity`)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var entity string
		var n int
		if err := rows.Scan(&entity, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		result[entity] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate count rows: %w", err)
	}
	return result, nil
}
