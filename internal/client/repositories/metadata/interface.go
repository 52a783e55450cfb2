// Package metadata keeps the client's bookkeeping values, such as the
// schema version and the time of the last successful sync.
package metadata

import "context"

const (
	KeySchemaVersion = "schema_version"
	KeyLastSyncTime  = "last_sync_time"
)

type Repository interface {
	// Get reports ok=false for a key that was never set.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	All(ctx context.Context) (map[string]string, error)
}
