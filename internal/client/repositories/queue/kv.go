package queue

import (
	"context"
	"sort"
	"sync"

	"github.com/pixelartvj/officesync/internal/client/kv"
	"github.com/pixelartvj/officesync/internal/client/models"
)

// KVRepository keeps the queue as one JSON array in the flat store. It is
// used when the SQLite store could not be opened.
type KVRepository struct {
	store kv.Store
	mu    sync.Mutex
}

func NewKVRepository(store kv.Store) *KVRepository {
	return &KVRepository{store: store}
}

func (r *KVRepository) load(ctx context.Context) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	if _, err := kv.GetJSON(ctx, r.store, kv.KeySyncQueue, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *KVRepository) save(ctx context.Context, entries []models.QueueEntry) error {
	return kv.SetJSON(ctx, r.store, kv.KeySyncQueue, entries)
}

func (r *KVRepository) Add(ctx context.Context, e models.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(ctx)
	if err != nil {
		return err
	}
	return r.save(ctx, append(entries, e))
}

func (r *KVRepository) List(ctx context.Context) ([]models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	if entries == nil {
		entries = []models.QueueEntry{}
	}
	return entries, nil
}

func (r *KVRepository) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(ctx)
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	return r.save(ctx, kept)
}

func (r *KVRepository) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(ctx)
	return len(entries), err
}

func (r *KVRepository) HasPending(ctx context.Context, entity string, op models.Operation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Entity == entity && e.Operation == op {
			return true, nil
		}
	}
	return false, nil
}

func (r *KVRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Delete(ctx, kv.KeySyncQueue)
}
