// Package backup snapshots the local store into a self-describing JSON
// document and restores such documents with a choice of merge strategies.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pixelartvj/officesync/internal/client/bus"
	"github.com/pixelartvj/officesync/internal/client/kv"
	"github.com/pixelartvj/officesync/internal/client/migration"
	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/client/repositories/metadata"
	"github.com/pixelartvj/officesync/internal/client/repositories/queue"
	"github.com/pixelartvj/officesync/internal/client/store"
	"github.com/pixelartvj/officesync/internal/common"
	"github.com/pixelartvj/officesync/internal/logging"
	"github.com/pixelartvj/officesync/internal/netx"
)

// Strategy decides what happens when a backed-up record already exists.
type Strategy string

const (
	// StrategyLatestWins keeps whichever copy has the later timestamp.
	StrategyLatestWins Strategy = "latest_wins"
	// StrategyBackupWins always overwrites with the backed-up copy.
	StrategyBackupWins Strategy = "backup_wins"
	// StrategyKeepBoth keeps the local copy and stores the backed-up one
	// under a new id, tagged with the id it came from.
	StrategyKeepBoth Strategy = "keep_both"
)

const (
	DefaultRetention = 5
	checksumKey      = "checksum"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyLatestWins, nil
	case StrategyLatestWins, StrategyBackupWins, StrategyKeepBoth:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: %q", common.ErrUnsupportedStrategy, s)
}

type RestoreOptions struct {
	ClearExisting bool
	Strategy      Strategy
}

// Rename reports a record stored under a new id by keep_both.
type Rename struct {
	Entity     string
	OriginalID string
	NewID      string
}

type RestoreResult struct {
	Restored map[string]int
	Skipped  int
	Renamed  []Rename
}

// Syncer runs the post-restore full sync.
type Syncer interface {
	SyncAll(ctx context.Context) error
}

// Presigner hands out upload URLs for backup files.
type Presigner interface {
	PresignBackupUpload(ctx context.Context, accessToken string) (key string, url string, err error)
}

type Option func(*Service)

func WithMetadata(m metadata.Repository) Option { return func(s *Service) { s.meta = m } }

func WithQueue(q queue.Repository) Option { return func(s *Service) { s.queue = q } }

func WithSyncer(sy Syncer) Option { return func(s *Service) { s.syncer = sy } }

func WithBus(b *bus.Bus) Option { return func(s *Service) { s.bus = b } }

func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

func WithDeviceID(id string) Option { return func(s *Service) { s.deviceID = id } }

func WithRetention(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.retention = n
		}
	}
}

func WithPresigner(p Presigner, client *http.Client) Option {
	return func(s *Service) {
		s.presigner = p
		s.http = client
	}
}

type Service struct {
	store     store.EntityStore
	kv        kv.Store
	meta      metadata.Repository
	queue     queue.Repository
	syncer    Syncer
	bus       *bus.Bus
	presigner Presigner
	http      *http.Client
	clock     clockwork.Clock
	logger    logging.Logger

	deviceID  string
	retention int

	mu     sync.Mutex
	userID string
	auto   sync.Mutex
}

func New(st store.EntityStore, kvs kv.Store, logger logging.Logger, opts ...Option) *Service {
	s := &Service{
		store:     st,
		kv:        kvs,
		clock:     clockwork.NewRealClock(),
		logger:    logger.With("component", "backup"),
		retention: DefaultRetention,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetUserID sets the owner recorded in new backups.
func (s *Service) SetUserID(id string) {
	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()
}

func (s *Service) owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func checksum(data map[string][]models.Record) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// CreateBackup snapshots every requested entity (all by default).
func (s *Service) CreateBackup(ctx context.Context, opts models.BackupOptions) (*models.Backup, error) {
	entities := opts.Entities
	if len(entities) == 0 {
		entities = s.store.Entities()
	}

	b := &models.Backup{
		Version:   models.BackupFormatVersion,
		Timestamp: s.clock.Now().UTC(),
		DeviceID:  s.deviceID,
		UserID:    s.owner(),
		Options:   opts,
		Data:      make(map[string][]models.Record, len(entities)),
		Metadata:  map[string]any{},
	}

	for _, e := range entities {
		recs, err := s.store.GetAll(ctx, e)
		if err != nil {
			return nil, fmt.Errorf("backup %s: %w", e, err)
		}
		b.Data[e] = recs
		b.Stats.TotalItems += len(recs)
	}
	b.Stats.EntityCount = len(entities)

	if opts.IncludeMetadata && s.meta != nil {
		m, err := s.meta.All(ctx)
		if err != nil {
			return nil, fmt.Errorf("backup metadata: %w", err)
		}
		for k, v := range m {
			b.Metadata[k] = v
		}
	}

	if opts.IncludeSyncQueue && s.queue != nil {
		q, err := s.queue.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("backup sync queue: %w", err)
		}
		b.SyncQueue = q
	}

	sum, err := checksum(b.Data)
	if err != nil {
		return nil, err
	}
	b.Metadata[checksumKey] = sum

	raw, err := json.Marshal(b.Data)
	if err != nil {
		return nil, err
	}
	b.Stats.Size = len(raw)

	if opts.Compress {
		packed, err := compress(raw)
		if err != nil {
			return nil, fmt.Errorf("compress backup: %w", err)
		}
		b.Compressed = true
		b.CompressedData = packed
		b.Data = nil
	}

	s.logger.Info(ctx, "backup created", "items", b.Stats.TotalItems, "entities", b.Stats.EntityCount, "compressed", b.Compressed)
	return b, nil
}

func compress(raw []byte) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decompress(packed string) (map[string][]models.Record, error) {
	raw, err := base64.StdEncoding.DecodeString(packed)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var data map[string][]models.Record
	if err := json.NewDecoder(zr).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrInvalidBackup, fmt.Sprintf(format, args...))
}

// Validate checks the structure of b and returns its entity data,
// decompressed and checksum-verified.
func Validate(b *models.Backup) (map[string][]models.Record, error) {
	if b == nil {
		return nil, invalid("empty backup")
	}
	if b.Version == "" {
		return nil, invalid("missing version")
	}
	if migration.CompareVersions(b.Version, models.BackupFormatVersion) > 0 {
		return nil, invalid("version %s is newer than supported %s", b.Version, models.BackupFormatVersion)
	}
	if b.Timestamp.IsZero() {
		return nil, invalid("missing timestamp")
	}

	data := b.Data
	if b.Compressed {
		var err error
		if data, err = decompress(b.CompressedData); err != nil {
			return nil, invalid("corrupt compressed data: %v", err)
		}
	}
	if data == nil {
		return nil, invalid("missing data")
	}

	if want, ok := b.Metadata[checksumKey].(string); ok && want != "" {
		got, err := checksum(data)
		if err != nil {
			return nil, err
		}
		if got != want {
			return nil, invalid("checksum mismatch")
		}
	}
	return data, nil
}

// RestoreBackup writes the backed-up records into the store according to
// opts, then asks for a UI refresh and a full sync.
func (s *Service) RestoreBackup(ctx context.Context, b *models.Backup, opts RestoreOptions) (*RestoreResult, error) {
	strategy, err := ParseStrategy(string(opts.Strategy))
	if err != nil {
		return nil, err
	}
	data, err := Validate(b)
	if err != nil {
		return nil, err
	}

	if opts.ClearExisting {
		if err := s.store.ClearAll(ctx); err != nil {
			return nil, fmt.Errorf("clear store: %w", err)
		}
	}

	res := &RestoreResult{Restored: make(map[string]int, len(data))}

	entities := make([]string, 0, len(data))
	for e := range data {
		entities = append(entities, e)
	}
	sort.Strings(entities)

	for _, entity := range entities {
		for _, rec := range data[entity] {
			if err := s.restoreRecord(ctx, entity, rec, strategy, res); err != nil {
				return res, err
			}
		}
	}

	if s.queue != nil {
		for _, entry := range b.SyncQueue {
			if err := s.queue.Add(ctx, entry); err != nil {
				s.logger.Warn(ctx, "queue entry not restored", "id", entry.ID, "error", err)
			}
		}
	}

	if s.bus != nil {
		s.bus.Publish(bus.Event{Topic: bus.TopicForceRefresh})
	}
	if s.syncer != nil {
		if err := s.syncer.SyncAll(ctx); err != nil {
			s.logger.Warn(ctx, "post-restore sync failed", "error", err)
		}
	}

	s.logger.Info(ctx, "backup restored", "strategy", strategy, "skipped", res.Skipped, "renamed", len(res.Renamed))
	return res, nil
}

func (s *Service) restoreRecord(ctx context.Context, entity string, rec models.Record, strategy Strategy, res *RestoreResult) error {
	id := rec.ID()
	if id == "" {
		res.Skipped++
		return nil
	}

	existing, err := s.store.Get(ctx, entity, id)
	if err != nil {
		s.logger.Warn(ctx, "record not restored", "entity", entity, "id", id, "error", err)
		res.Skipped++
		return nil
	}

	put := rec
	if existing != nil {
		switch strategy {
		case StrategyLatestWins:
			if !rec.Timestamp().After(existing.Timestamp()) {
				res.Skipped++
				return nil
			}
		case StrategyKeepBoth:
			if reflect.DeepEqual(existing, rec) {
				res.Skipped++
				return nil
			}
			put = rec.Clone()
			newID := uuid.NewString()
			put[models.FieldID] = newID
			put[models.FieldRestoredFrom] = id
			put[models.FieldSynced] = false
			res.Renamed = append(res.Renamed, Rename{Entity: entity, OriginalID: id, NewID: newID})
		}
	}

	if err := s.store.Put(ctx, entity, put); err != nil {
		return fmt.Errorf("restore %s[%s]: %w", entity, id, err)
	}
	res.Restored[entity]++
	return nil
}

// AutoBackup adds a snapshot to the rotating list in the key-value store,
// evicting the oldest beyond the retention count.
func (s *Service) AutoBackup(ctx context.Context) (*models.Backup, error) {
	s.auto.Lock()
	defer s.auto.Unlock()

	b, err := s.CreateBackup(ctx, models.BackupOptions{IncludeMetadata: true, Compress: true})
	if err != nil {
		return nil, err
	}

	var list []models.Backup
	if _, err := kv.GetJSON(ctx, s.kv, kv.KeyAutoBackups, &list); err != nil {
		s.logger.Warn(ctx, "discarding unreadable auto backups", "error", err)
		list = nil
	}
	list = append(list, *b)
	if len(list) > s.retention {
		list = list[len(list)-s.retention:]
	}
	if err := kv.SetJSON(ctx, s.kv, kv.KeyAutoBackups, list); err != nil {
		return nil, err
	}
	return b, nil
}

// AutoBackups returns the kept snapshots, oldest first.
func (s *Service) AutoBackups(ctx context.Context) ([]models.Backup, error) {
	var list []models.Backup
	if _, err := kv.GetJSON(ctx, s.kv, kv.KeyAutoBackups, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Export writes a backup as indented JSON.
func (s *Service) Export(ctx context.Context, w io.Writer, opts models.BackupOptions) (*models.Backup, error) {
	b, err := s.CreateBackup(ctx, opts)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}
	return b, nil
}

// Import reads a backup written by Export. It does not restore it.
func Import(r io.Reader) (*models.Backup, error) {
	var b models.Backup
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, invalid("not a backup file: %v", err)
	}
	if _, err := Validate(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Upload stores a fresh backup through a presigned URL and returns its
// object key.
func (s *Service) Upload(ctx context.Context, accessToken string, opts models.BackupOptions) (string, error) {
	if s.presigner == nil {
		return "", fmt.Errorf("backup upload is not configured")
	}

	var buf bytes.Buffer
	if _, err := s.Export(ctx, &buf, opts); err != nil {
		return "", err
	}

	key, url, err := s.presigner.PresignBackupUpload(ctx, accessToken)
	if err != nil {
		return "", fmt.Errorf("presign upload: %w", err)
	}
	if err := netx.PutObject(ctx, s.http, url, "application/json", buf.Bytes()); err != nil {
		return "", err
	}

	s.logger.Info(ctx, "backup uploaded", "key", key)
	return key, nil
}
