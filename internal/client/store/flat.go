package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pixelartvj/officesync/internal/client/bus"
	"github.com/pixelartvj/officesync/internal/client/kv"
	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/common"
)

// FlatStore is the degraded EntityStore: each entity is one JSON array in
// the flat key-value store, the same layout the legacy generation used.
type FlatStore struct {
	kv     kv.Store
	schema Schema
	pub    Publisher
	clock  clockwork.Clock
	mu     sync.Mutex
}

func NewFlatStore(store kv.Store, opts ...Option) *FlatStore {
	// Options are shared with Store; apply them to a scratch Store.
	tmp := &Store{schema: DefaultSchema(), clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(tmp)
	}
	return &FlatStore{kv: store, schema: tmp.schema, pub: tmp.pub, clock: tmp.clock}
}

func (f *FlatStore) load(ctx context.Context, entity string) ([]models.Record, error) {
	var list []models.Record
	if _, err := kv.GetJSON(ctx, f.kv, entity, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Record{}
	}
	return list, nil
}

func (f *FlatStore) save(ctx context.Context, entity string, list []models.Record) error {
	return kv.SetJSON(ctx, f.kv, entity, list)
}

func indexOf(es EntitySchema, list []models.Record, id string) int {
	for i, r := range list {
		if es.keyOf(r) == id {
			return i
		}
	}
	return -1
}

func (f *FlatStore) publish(entity, id string, op models.Operation) {
	if f.pub != nil {
		f.pub.Publish(bus.Event{Topic: bus.TopicRecordChanged, Entity: entity, RecordID: id, Op: op})
	}
}

func (f *FlatStore) Entities() []string { return f.schema.names() }

func (f *FlatStore) GetAll(ctx context.Context, entity string) ([]models.Record, error) {
	if _, err := f.schema.lookup(entity); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load(ctx, entity)
}

func (f *FlatStore) Get(ctx context.Context, entity, id string) (models.Record, error) {
	es, err := f.schema.lookup(entity)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.load(ctx, entity)
	if err != nil {
		return nil, err
	}
	if i := indexOf(es, list, id); i >= 0 {
		return list[i], nil
	}
	return nil, nil
}

func (f *FlatStore) Create(ctx context.Context, entity string, data models.Record) (models.Record, error) {
	es, err := f.schema.lookup(entity)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	list, err := f.load(ctx, entity)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}

	rec := newRecord(es, data, f.clock.Now())
	id := es.keyOf(rec)
	if indexOf(es, list, id) >= 0 {
		f.mu.Unlock()
		return nil, fmt.Errorf("%s[%s]: %w", entity, id, common.ErrAlreadyExists)
	}
	err = f.save(ctx, entity, append(list, rec))
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	f.publish(entity, id, models.OpCreate)
	return rec, nil
}

func (f *FlatStore) Update(ctx context.Context, entity, id string, partial models.Record) (models.Record, error) {
	es, err := f.schema.lookup(entity)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	list, err := f.load(ctx, entity)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	i := indexOf(es, list, id)
	if i < 0 {
		f.mu.Unlock()
		return nil, fmt.Errorf("%s[%s]: %w", entity, id, common.ErrorNotFound)
	}

	updated := mergeUpdate(es, list[i], partial, f.clock.Now())
	list[i] = updated
	err = f.save(ctx, entity, list)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	f.publish(entity, id, models.OpUpdate)
	return updated, nil
}

func (f *FlatStore) Delete(ctx context.Context, entity, id string) (bool, error) {
	es, err := f.schema.lookup(entity)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	list, err := f.load(ctx, entity)
	if err != nil {
		f.mu.Unlock()
		return false, err
	}
	i := indexOf(es, list, id)
	if i < 0 {
		f.mu.Unlock()
		return false, nil
	}
	list = append(list[:i], list[i+1:]...)
	err = f.save(ctx, entity, list)
	f.mu.Unlock()
	if err != nil {
		return false, err
	}

	f.publish(entity, id, models.OpDelete)
	return true, nil
}

func (f *FlatStore) ClearAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.schema.names() {
		if err := f.kv.Delete(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (f *FlatStore) Stats(ctx context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := make(map[string]int, len(f.schema.Entities))
	for _, e := range f.schema.names() {
		list, err := f.load(ctx, e)
		if err != nil {
			return nil, err
		}
		stats[e] = len(list)
	}
	return stats, nil
}

func (f *FlatStore) Put(ctx context.Context, entity string, rec models.Record) error {
	es, err := f.schema.lookup(entity)
	if err != nil {
		return err
	}
	id := es.keyOf(rec)
	if id == "" {
		return fmt.Errorf("failed to put %s record: missing id", entity)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.load(ctx, entity)
	if err != nil {
		return err
	}
	if i := indexOf(es, list, id); i >= 0 {
		list[i] = rec.Clone()
	} else {
		list = append(list, rec.Clone())
	}
	return f.save(ctx, entity, list)
}

func (f *FlatStore) PutIfNewer(ctx context.Context, entity string, rec models.Record) (bool, error) {
	es, err := f.schema.lookup(entity)
	if err != nil {
		return false, err
	}
	id := es.keyOf(rec)
	if id == "" {
		return false, fmt.Errorf("failed to put %s record: missing id", entity)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.load(ctx, entity)
	if err != nil {
		return false, err
	}
	i := indexOf(es, list, id)
	switch {
	case i < 0:
		list = append(list, rec.Clone())
	case supersedes(rec, list[i]):
		list[i] = rec.Clone()
	default:
		return false, nil
	}
	if err := f.save(ctx, entity, list); err != nil {
		return false, err
	}
	return true, nil
}

func (f *FlatStore) MarkSynced(ctx context.Context, entity string, pushed []models.Record) error {
	es, err := f.schema.lookup(entity)
	if err != nil {
		return err
	}
	if len(pushed) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.load(ctx, entity)
	if err != nil {
		return err
	}
	for _, p := range pushed {
		if i := indexOf(es, list, es.keyOf(p)); i >= 0 && unchanged(list[i], p) {
			list[i][models.FieldSynced] = true
		}
	}
	return f.save(ctx, entity, list)
}
