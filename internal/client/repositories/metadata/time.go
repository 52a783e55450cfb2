package metadata

import (
	"context"
	"fmt"
	"time"
)

// GetTime reads a timestamp stored with SetTime; a missing key yields the
// zero time.
func GetTime(ctx context.Context, r Repository, key string) (time.Time, error) {
	s, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("metadata %q: %w", key, err)
	}
	return t, nil
}

func SetTime(ctx context.Context, r Repository, key string, t time.Time) error {
	return r.Set(ctx, key, t.UTC().Format(time.RFC3339Nano))
}
