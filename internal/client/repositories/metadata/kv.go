package metadata

import (
	"context"
	"sync"

	"github.com/pixelartvj/officesync/internal/client/kv"
)

// KVRepository keeps every value in one JSON object of the flat store. It
// backs the degraded mode without SQLite.
type KVRepository struct {
	store kv.Store
	mu    sync.Mutex
}

func NewKVRepository(store kv.Store) *KVRepository {
	return &KVRepository{store: store}
}

func (r *KVRepository) Get(ctx context.Context, key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.load(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (r *KVRepository) Set(ctx context.Context, key, value string) error {
	return r.update(ctx, func(m map[string]string) { m[key] = value })
}

func (r *KVRepository) Delete(ctx context.Context, key string) error {
	return r.update(ctx, func(m map[string]string) { delete(m, key) })
}

func (r *KVRepository) All(ctx context.Context) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

func (r *KVRepository) load(ctx context.Context) (map[string]string, error) {
	m := make(map[string]string)
	if _, err := kv.GetJSON(ctx, r.store, kv.KeyMetadata, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *KVRepository) update(ctx context.Context, fn func(map[string]string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.load(ctx)
	if err != nil {
		return err
	}
	fn(m)
	return kv.SetJSON(ctx, r.store, kv.KeyMetadata, m)
}
