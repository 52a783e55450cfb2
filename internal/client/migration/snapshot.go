package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pixelartvj/officesync/internal/client/kv"
	"github.com/pixelartvj/officesync/internal/client/models"
)

// snapshot is the state captured before the first step runs.
type snapshot struct {
	TakenAt time.Time                  `json:"takenAt"`
	Legacy  map[string]json.RawMessage `json:"legacy"`
	Store   map[string][]models.Record `json:"store"`
}

// bookkeeping keys are owned by the engine and survive a rollback.
var bookkeeping = map[string]struct{}{
	kv.KeyPreMigrationBackup: {},
	kv.KeyMigrationStatus:    {},
}

func (e *Engine) takeSnapshot(ctx context.Context) (*snapshot, error) {
	snap := &snapshot{
		TakenAt: e.now(),
		Legacy:  make(map[string]json.RawMessage),
		Store:   make(map[string][]models.Record),
	}

	keys, err := e.legacy.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if _, skip := bookkeeping[k]; skip {
			continue
		}
		b, err := e.legacy.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if b != nil {
			snap.Legacy[k] = append(json.RawMessage(nil), b...)
		}
	}

	for _, entity := range e.store.Entities() {
		recs, err := e.store.GetAll(ctx, entity)
		if err != nil {
			return nil, err
		}
		snap.Store[entity] = recs
	}

	if err := kv.SetJSON(ctx, e.legacy, kv.KeyPreMigrationBackup, snap); err != nil {
		return nil, fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return snap, nil
}

func (e *Engine) restoreSnapshot(ctx context.Context, snap *snapshot) error {
	keys, err := e.legacy.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, keep := bookkeeping[k]; keep {
			continue
		}
		if _, ok := snap.Legacy[k]; !ok {
			if err := e.legacy.Delete(ctx, k); err != nil {
				return err
			}
		}
	}
	for k, v := range snap.Legacy {
		if err := e.legacy.Set(ctx, k, v); err != nil {
			return err
		}
	}

	if err := e.store.ClearAll(ctx); err != nil {
		return err
	}
	for entity, recs := range snap.Store {
		for _, r := range recs {
			if err := e.store.Put(ctx, entity, r); err != nil {
				return err
			}
		}
	}
	return nil
}
