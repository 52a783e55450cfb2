package records

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pixelartvj/officesync/internal/dbx"
	"github.com/pixelartvj/officesync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) List(ctx context.Context, userID, entity string) ([]*models.SyncRecord, error) {
	query :=
		`SELECT item_id, data, updated_at FROM sync_records
		 WHERE user_id = $1 AND entity = $2
		 ORDER BY updated_at, item_id`

	rows, err := r.db.QueryContext(ctx, query, userID, entity)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]*models.SyncRecord, 0)
	for rows.Next() {
		rec := &models.SyncRecord{UserID: userID, Entity: entity}
		var data []byte
		if err := rows.Scan(&rec.ItemID, &data, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		rec.Data = json.RawMessage(data)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ListAll(ctx context.Context, userID string) (map[string][]*models.SyncRecord, error) {
	query :=
		`SELECT entity, item_id, data, updated_at FROM sync_records
		 WHERE user_id = $1
		 ORDER BY entity, updated_at, item_id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]*models.SyncRecord)
	for rows.Next() {
		rec := &models.SyncRecord{UserID: userID}
		var data []byte
		if err := rows.Scan(&rec.Entity, &rec.ItemID, &data, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		rec.Data = json.RawMessage(data)
		out[rec.Entity] = append(out[rec.Entity], rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec *models.SyncRecord) (bool, error) {
	query :=
		`INSERT INTO sync_records (user_id, entity, item_id, data, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, entity, item_id) DO UPDATE
		 SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
		 WHERE sync_records.updated_at <= EXCLUDED.updated_at`

	res, err := r.db.ExecContext(ctx, query,
		rec.UserID, rec.Entity, rec.ItemID, []byte(rec.Data), rec.UpdatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID, entity, itemID string) (bool, error) {
	query :=
		`DELETE FROM sync_records
		 WHERE user_id = $1 AND entity = $2 AND item_id = $3`

	res, err := r.db.ExecContext(ctx, query, userID, entity, itemID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}
