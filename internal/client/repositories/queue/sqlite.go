package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Add(ctx context.Context, e models.QueueEntry) error {
	var data sql.NullString
	if e.Data != nil {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("failed to encode queue entry %s: %w", e.ID, err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, entity, operation, data, created_at, priority)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.Entity, string(e.Operation), data, e.CreatedAt.UnixNano(), e.Priority)
	if err != nil {
		return fmt.Errorf("failed to add queue entry %s: %w", e.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.QueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity, operation, data, created_at, priority
		FROM sync_queue
		ORDER BY priority DESC, created_at ASC, seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	result := make([]models.QueueEntry, 0)
	for rows.Next() {
		var (
			e       models.QueueEntry
			op      string
			data    sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Entity, &op, &data, &created, &e.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		e.Operation = models.Operation(op)
		e.CreatedAt = time.Unix(0, created).UTC()
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				return nil, fmt.Errorf("failed to decode queue entry %s: %w", e.ID, err)
			}
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Remove(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove queue entry %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) HasPending(ctx context.Context, entity string, op models.Operation) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE entity = ? AND operation = ?`, entity, string(op)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query queue: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}
