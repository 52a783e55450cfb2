// Package records persists entity records in the client SQLite database.
package records

import (
	"context"

	"github.com/pixelartvj/officesync/internal/client/models"
)

// Repository is the row-level access to the records table. Each record is
// stored as a JSON document keyed by (entity, id).
type Repository interface {
	// List returns every record of entity in insertion order.
	List(ctx context.Context, entity string) ([]models.Record, error)

	// Get returns (nil, nil) when the record does not exist.
	Get(ctx context.Context, entity, id string) (models.Record, error)

	// Upsert writes rec under id, replacing any previous document.
	Upsert(ctx context.Context, entity, id string, rec models.Record) error

	// Delete reports whether a row was removed.
	Delete(ctx context.Context, entity, id string) (bool, error)

	// Clear removes every record of every entity.
	Clear(ctx context.Context) error

	// CountByEntity returns row counts for entities that have rows.
	CountByEntity(ctx context.Context) (map[string]int, error)
}
