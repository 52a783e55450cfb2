// Package records stores client entity records per user, keyed by
// (user, entity, item id).
package records

import (
	"context"

	"github.com/pixelartvj/officesync/internal/server/models"
)

type Repository interface {
	// List returns one entity collection ordered by updated_at.
	List(ctx context.Context, userID, entity string) ([]*models.SyncRecord, error)
	// ListAll returns every record of userID grouped by entity.
	ListAll(ctx context.Context, userID string) (map[string][]*models.SyncRecord, error)
	// Upsert stores rec unless the stored copy is strictly newer. It reports
	// whether rec was written.
	Upsert(ctx context.Context, rec *models.SyncRecord) (bool, error)
	// Delete reports whether a record was removed.
	Delete(ctx context.Context, userID, entity, itemID string) (bool, error)
}
