// Package queue persists pending sync operations until they succeed.
package queue

import (
	"context"

	"github.com/pixelartvj/officesync/internal/client/models"
)

// Repository stores queue entries. List returns them in replay order:
// priority descending, then creation time ascending, then insertion order.
type Repository interface {
	Add(ctx context.Context, e models.QueueEntry) error
	List(ctx context.Context) ([]models.QueueEntry, error)
	Remove(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	// HasPending reports whether an entry for entity with operation op waits.
	HasPending(ctx context.Context, entity string, op models.Operation) (bool, error)
	Clear(ctx context.Context) error
}
