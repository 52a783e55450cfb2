// Package store is the client's local entity store: the single write path
// for records of every entity, backed by SQLite, with a flat key-value
// fallback for when the database cannot be opened.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pixelartvj/officesync/internal/client/bus"
	"github.com/pixelartvj/officesync/internal/client/models"
)

var ErrUnknownEntity = errors.New("unknown entity")

// EntityStore is the record CRUD surface shared by the SQLite store and the
// flat fallback.
type EntityStore interface {
	GetAll(ctx context.Context, entity string) ([]models.Record, error)
	// Get returns (nil, nil) when the record does not exist.
	Get(ctx context.Context, entity, id string) (models.Record, error)
	// Create returns common.ErrAlreadyExists when data carries the key of
	// an existing record.
	Create(ctx context.Context, entity string, data models.Record) (models.Record, error)
	// Update returns common.ErrorNotFound when the record does not exist.
	Update(ctx context.Context, entity, id string, partial models.Record) (models.Record, error)
	Delete(ctx context.Context, entity, id string) (bool, error)
	ClearAll(ctx context.Context) error
	Stats(ctx context.Context) (map[string]int, error)

	// Put writes rec verbatim. Used by sync, migration and restore, which
	// must keep timestamps and versions as they are.
	Put(ctx context.Context, entity string, rec models.Record) error
	// PutIfNewer writes rec verbatim only when no record with its key exists
	// or the stored one has an older timestamp. The check and the write are
	// atomic; it reports whether rec was written.
	PutIfNewer(ctx context.Context, entity string, rec models.Record) (bool, error)
	// MarkSynced sets _synced=true on the stored records that still match
	// the pushed snapshot (same version and timestamp). Records changed
	// since the snapshot keep _synced=false.
	MarkSynced(ctx context.Context, entity string, pushed []models.Record) error

	// Entities lists the entities the store knows, sorted.
	Entities() []string
}

// Publisher receives record-change notifications.
type Publisher interface {
	Publish(ev bus.Event)
}

// EntitySchema declares how an entity is keyed and indexed.
type EntitySchema struct {
	KeyPath string
	Indexes []string
}

// Schema is the versioned set of entity schemas. Bumping Version makes the
// store drop and recreate all record indexes on the next Init.
type Schema struct {
	Version  int
	Entities map[string]EntitySchema
}

// Entity names.
const (
	EntityEvents    = "events"
	EntityTasks     = "tasks"
	EntityClients   = "clients"
	EntityWorkHours = "work_hours"
	EntityComments  = "comments"
	EntityMessages  = "messages"
	EntityUsers     = "users"
)

// SyncedEntities are replicated to the cloud; users stay local.
var SyncedEntities = []string{
	EntityEvents, EntityTasks, EntityClients, EntityWorkHours, EntityComments, EntityMessages,
}

func DefaultSchema() Schema {
	return Schema{
		Version: 3,
		Entities: map[string]EntitySchema{
			EntityEvents:    {KeyPath: "id", Indexes: []string{"date", "status", "client_id"}},
			EntityTasks:     {KeyPath: "id", Indexes: []string{"status", "assignee", "event_id", "due_date"}},
			EntityClients:   {KeyPath: "id", Indexes: []string{"name", "email"}},
			EntityWorkHours: {KeyPath: "id", Indexes: []string{"user_id", "date"}},
			EntityComments:  {KeyPath: "id", Indexes: []string{"task_id", "author_id"}},
			EntityMessages:  {KeyPath: "id", Indexes: []string{"sender_id", "recipient_id"}},
			EntityUsers:     {KeyPath: "id", Indexes: []string{"email"}},
		},
	}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate rejects names that cannot be embedded in index DDL.
func (s Schema) Validate() error {
	for entity, es := range s.Entities {
		if !identRe.MatchString(entity) {
			return fmt.Errorf("invalid entity name %q", entity)
		}
		for _, f := range append([]string{es.keyPath()}, es.Indexes...) {
			if !identRe.MatchString(f) {
				return fmt.Errorf("invalid field %q in %s", f, entity)
			}
		}
	}
	return nil
}

func (s Schema) names() []string {
	out := make([]string, 0, len(s.Entities))
	for e := range s.Entities {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func (s Schema) lookup(entity string) (EntitySchema, error) {
	es, ok := s.Entities[entity]
	if !ok {
		return EntitySchema{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return es, nil
}

func (es EntitySchema) keyPath() string {
	if es.KeyPath == "" {
		return models.FieldID
	}
	return es.KeyPath
}

func (es EntitySchema) keyOf(rec models.Record) string {
	s, _ := rec[es.keyPath()].(string)
	return s
}

// newRecord stamps a fresh record the way Create defines it.
func newRecord(es EntitySchema, data models.Record, now time.Time) models.Record {
	rec := data.Clone()
	if es.keyOf(rec) == "" {
		rec[es.keyPath()] = uuid.NewString()
	}
	ts := models.FormatTime(now)
	rec[models.FieldCreatedAt] = ts
	rec[models.FieldUpdatedAt] = ts
	rec[models.FieldVersion] = 1
	rec[models.FieldSynced] = false
	return rec
}

// supersedes reports whether rec may replace stored during a sync pull.
func supersedes(rec, stored models.Record) bool {
	return stored == nil || rec.Timestamp().After(stored.Timestamp())
}

// unchanged reports whether stored is still the snapshot that was pushed.
func unchanged(stored, pushed models.Record) bool {
	return stored.Version() == pushed.Version() && stored.Timestamp().Equal(pushed.Timestamp())
}

// mergeUpdate applies partial on top of existing and bumps the metadata.
// The key and created_at stay immutable; updated_at never moves backwards.
func mergeUpdate(es EntitySchema, existing, partial models.Record, now time.Time) models.Record {
	rec := existing.Clone()
	for k, v := range partial {
		rec[k] = v
	}
	rec[es.keyPath()] = existing[es.keyPath()]
	if existing.Has(models.FieldCreatedAt) {
		rec[models.FieldCreatedAt] = existing[models.FieldCreatedAt]
	}

	if prev := existing.UpdatedAt(); now.Before(prev) {
		now = prev
	}
	rec[models.FieldUpdatedAt] = models.FormatTime(now)
	rec[models.FieldVersion] = existing.Version() + 1
	rec[models.FieldSynced] = false
	return rec
}
