package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pixelartvj/officesync/internal/client/bus"
	"github.com/pixelartvj/officesync/internal/client/migrations"
	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/client/repositories/metadata"
	"github.com/pixelartvj/officesync/internal/client/repositories/records"
	"github.com/pixelartvj/officesync/internal/common"
	"github.com/pixelartvj/officesync/internal/dbx"
	"github.com/pixelartvj/officesync/internal/logging"
	"github.com/pressly/goose/v3"
	"golang.org/x/sync/singleflight"

	_ "modernc.org/sqlite"
)

var openDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("sqlite", dsn)
}

var gooseUpContext = goose.UpContext

const indexPrefix = "idx_rec_"

// Store is the SQLite-backed EntityStore.
type Store struct {
	dsn    string
	schema Schema
	pub    Publisher
	clock  clockwork.Clock
	logger logging.Logger

	group singleflight.Group
	mu    sync.RWMutex
	db    *sql.DB
}

type Option func(*Store)

func WithPublisher(p Publisher) Option { return func(s *Store) { s.pub = p } }

func WithClock(c clockwork.Clock) Option { return func(s *Store) { s.clock = c } }

func WithSchema(schema Schema) Option { return func(s *Store) { s.schema = schema } }

func New(dsn string, logger logging.Logger, opts ...Option) *Store {
	s := &Store{
		dsn:    dsn,
		schema: DefaultSchema(),
		clock:  clockwork.NewRealClock(),
		logger: logger.With("component", "store"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init opens the database, applies migrations and reconciles indexes with
// the declared schema. It is safe to call repeatedly and concurrently:
// callers arriving while an open is in flight share its result, a success is
// kept, and a failure is not cached so the next call retries.
//
// Failures wrap common.ErrStoreUnavailable.
func (s *Store) Init(ctx context.Context) (*sql.DB, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db != nil {
		return db, nil
	}

	v, err, _ := s.group.Do("init", func() (any, error) {
		s.mu.RLock()
		db := s.db
		s.mu.RUnlock()
		if db != nil {
			return db, nil
		}

		db, err := s.open(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.db = db
		s.mu.Unlock()
		return db, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrStoreUnavailable, err)
	}
	return v.(*sql.DB), nil
}

func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	if err := s.schema.Validate(); err != nil {
		return nil, err
	}

	db, err := openDB(s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer and in-memory databases
	// are per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := s.runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := s.ensureIndexes(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to build indexes: %w", err)
	}

	s.logger.Info(ctx, "local store ready", "schema_version", s.schema.Version)
	return db, nil
}

func (s *Store) runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(gooseLogger{l: s.logger})

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// ensureIndexes recreates every record index when the stored schema version
// differs from the declared one; otherwise it only adds missing indexes.
func (s *Store) ensureIndexes(ctx context.Context, db *sql.DB) error {
	stored, _, err := metadata.NewSQLiteRepository(db).Get(ctx, metadata.KeySchemaVersion)
	if err != nil {
		return err
	}
	want := strconv.Itoa(s.schema.Version)
	rebuild := stored != want

	return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if rebuild {
			names, err := indexNames(ctx, tx)
			if err != nil {
				return err
			}
			for _, name := range names {
				if _, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS "`+name+`"`); err != nil {
					return fmt.Errorf("failed to drop index %s: %w", name, err)
				}
			}
		}

		for _, entity := range s.schema.names() {
			for _, field := range s.schema.Entities[entity].Indexes {
				name := indexPrefix + entity + "_" + field
				ddl := fmt.Sprintf(
					`CREATE INDEX IF NOT EXISTS "%s" ON records (json_extract(data, '$.%s')) WHERE entity = '%s'`,
					name, field, entity)
				if _, err := tx.ExecContext(ctx, ddl); err != nil {
					return fmt.Errorf("failed to create index %s: %w", name, err)
				}
			}
		}

		if rebuild {
			s.logger.Info(ctx, "record indexes rebuilt", "from", stored, "to", want)
			return metadata.NewSQLiteRepository(tx).Set(ctx, metadata.KeySchemaVersion, want)
		}
		return nil
	})
}

func indexNames(ctx context.Context, db dbx.DBTX) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'records' AND name GLOB ? ORDER BY name`,
		indexPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// IndexNames lists the record indexes currently present.
func (s *Store) IndexNames(ctx context.Context) ([]string, error) {
	db, err := s.Init(ctx)
	if err != nil {
		return nil, err
	}
	return indexNames(ctx, db)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) Entities() []string { return s.schema.names() }

func (s *Store) publish(entity, id string, op models.Operation) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(bus.Event{Topic: bus.TopicRecordChanged, Entity: entity, RecordID: id, Op: op})
}

func (s *Store) GetAll(ctx context.Context, entity string) ([]models.Record, error) {
	if _, err := s.schema.lookup(entity); err != nil {
		return nil, err
	}
	db, err := s.Init(ctx)
	if err != nil {
		return nil, err
	}
	return records.NewSQLiteRepository(db).List(ctx, entity)
}

func (s *Store) Get(ctx context.Context, entity, id string) (models.Record, error) {
	if _, err := s.schema.lookup(entity); err != nil {
		return nil, err
	}
	db, err := s.Init(ctx)
	if err != nil {
		return nil, err
	}
	return records.NewSQLiteRepository(db).Get(ctx, entity, id)
}

func (s *Store) Create(ctx context.Context, entity string, data models.Record) (models.Record, error) {
	es, err := s.schema.lookup(entity)
	if err != nil {
		return nil, err
	}
	db, err := s.Init(ctx)
	if err != nil {
		return nil, err
	}

	rec := newRecord(es, data, s.clock.Now())
	id := es.keyOf(rec)
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := records.NewSQLiteRepository(tx)
		existing, err := repo.Get(ctx, entity, id)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%s[%s]: %w", entity, id, common.ErrAlreadyExists)
		}
		return repo.Upsert(ctx, entity, id, rec)
	})
	if err != nil {
		return nil, err
	}
	s.publish(entity, id, models.OpCreate)
	return rec, nil
}

func (s *Store) Update(ctx context.Context, entity, id string, partial models.Record) (models.Record, error) {
	es, err := s.schema.lookup(entity)
	if err != nil {
		return nil, err
	}
	db, err := s.Init(ctx)
	if err != nil {
		return nil, err
	}

	var updated models.Record
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := records.NewSQLiteRepository(tx)
		existing, err := repo.Get(ctx, entity, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("%s[%s]: %w", entity, id, common.ErrorNotFound)
		}
		updated = mergeUpdate(es, existing, partial, s.clock.Now())
		return repo.Upsert(ctx, entity, id, updated)
	})
	if err != nil {
		return nil, err
	}
	s.publish(entity, id, models.OpUpdate)
	return updated, nil
}

func (s *Store) Delete(ctx context.Context, entity, id string) (bool, error) {
	if _, err := s.schema.lookup(entity); err != nil {
		return false, err
	}
	db, err := s.Init(ctx)
	if err != nil {
		return false, err
	}

	ok, err := records.NewSQLiteRepository(db).Delete(ctx, entity, id)
	if err != nil {
		return false, err
	}
	if ok {
		s.publish(entity, id, models.OpDelete)
	}
	return ok, nil
}

func (s *Store) ClearAll(ctx context.Context) error {
	db, err := s.Init(ctx)
	if err != nil {
		return err
	}
	return records.NewSQLiteRepository(db).Clear(ctx)
}

func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	db, err := s.Init(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := records.NewSQLiteRepository(db).CountByEntity(ctx)
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int, len(s.schema.Entities))
	for _, e := range s.schema.names() {
		stats[e] = counts[e]
	}
	return stats, nil
}

func (s *Store) Put(ctx context.Context, entity string, rec models.Record) error {
	es, err := s.schema.lookup(entity)
	if err != nil {
		return err
	}
	db, err := s.Init(ctx)
	if err != nil {
		return err
	}
	return records.NewSQLiteRepository(db).Upsert(ctx, entity, es.keyOf(rec), rec.Clone())
}

func (s *Store) PutIfNewer(ctx context.Context, entity string, rec models.Record) (bool, error) {
	es, err := s.schema.lookup(entity)
	if err != nil {
		return false, err
	}
	id := es.keyOf(rec)
	db, err := s.Init(ctx)
	if err != nil {
		return false, err
	}

	written := false
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := records.NewSQLiteRepository(tx)
		stored, err := repo.Get(ctx, entity, id)
		if err != nil {
			return err
		}
		if !supersedes(rec, stored) {
			return nil
		}
		written = true
		return repo.Upsert(ctx, entity, id, rec.Clone())
	})
	if err != nil {
		return false, err
	}
	return written, nil
}

func (s *Store) MarkSynced(ctx context.Context, entity string, pushed []models.Record) error {
	es, err := s.schema.lookup(entity)
	if err != nil {
		return err
	}
	if len(pushed) == 0 {
		return nil
	}
	db, err := s.Init(ctx)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := records.NewSQLiteRepository(tx)
		for _, p := range pushed {
			id := es.keyOf(p)
			rec, err := repo.Get(ctx, entity, id)
			if err != nil {
				return err
			}
			if rec == nil || rec.Synced() || !unchanged(rec, p) {
				continue
			}
			rec[models.FieldSynced] = true
			if err := repo.Upsert(ctx, entity, id, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

type gooseLogger struct {
	l logging.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.l.Debug(context.Background(), fmt.Sprintf(format, v...))
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.l.Error(context.Background(), fmt.Sprintf(format, v...))
}
