package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jonboulle/clockwork"

	"github.com/pixelartvj/officesync/internal/dbx"
	"github.com/pixelartvj/officesync/internal/logging"
	"github.com/pixelartvj/officesync/internal/server/models"
	"github.com/pixelartvj/officesync/internal/server/repositories/repomanager"
)

var entityNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Reserved collection names collide with routes.
var reservedEntities = map[string]bool{"all": true, "feed": true}

// Notifier receives committed changes.
type Notifier interface {
	Notify(ctx context.Context, userID string, ev models.ChangeEvent)
}

// PushResult counts the records a push wrote and the ones it left alone
// because the stored copy was newer.
type PushResult struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}

type SyncService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	notifier    Notifier
	clock       clockwork.Clock
	logger      logging.Logger
}

func NewSyncService(db *sql.DB, m repomanager.RepositoryManager, n Notifier, clock clockwork.Clock, logger logging.Logger) *SyncService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SyncService{db: db, repomanager: m, notifier: n, clock: clock, logger: logger}
}

// ValidateEntity rejects collection names that are not lower-case
// identifiers or that are reserved.
func ValidateEntity(entity string) error {
	if !entityNameRe.MatchString(entity) || reservedEntities[entity] {
		return fmt.Errorf("%w: entity %q", ErrInvalidInput, entity)
	}
	return nil
}

// Fetch returns the stored records of one collection as sent by clients.
func (s *SyncService) Fetch(ctx context.Context, userID, entity string) ([]json.RawMessage, error) {
	if err := ValidateEntity(entity); err != nil {
		return nil, err
	}
	recs, err := s.repomanager.Records(s.db).List(ctx, userID, entity)
	if err != nil {
		return nil, err
	}
	return payloads(recs), nil
}

func (s *SyncService) FetchAll(ctx context.Context, userID string) (map[string][]json.RawMessage, error) {
	all, err := s.repomanager.Records(s.db).ListAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]json.RawMessage, len(all))
	for entity, recs := range all {
		out[entity] = payloads(recs)
	}
	return out, nil
}

// Push stores records in one transaction. A record replaces the stored copy
// unless that copy has a strictly later updated_at. Subscribers are told
// after commit when anything was written.
func (s *SyncService) Push(ctx context.Context, userID, entity string, raw []json.RawMessage) (PushResult, error) {
	var res PushResult
	if err := ValidateEntity(entity); err != nil {
		return res, err
	}

	now := s.clock.Now()
	recs := make([]*models.SyncRecord, 0, len(raw))
	for i, r := range raw {
		rec, err := models.NewSyncRecord(userID, entity, r, now)
		if err != nil {
			return res, fmt.Errorf("%w: record %d: %v", ErrInvalidInput, i, err)
		}
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return res, nil
	}

	var lastID string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Records(tx)
		for _, rec := range recs {
			ok, err := repo.Upsert(ctx, rec)
			if err != nil {
				return err
			}
			if ok {
				res.Applied++
				lastID = rec.ItemID
			} else {
				res.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return PushResult{}, err
	}

	s.logger.Debug(ctx, "records pushed", "user", userID, "entity", entity, "applied", res.Applied, "skipped", res.Skipped)
	if res.Applied > 0 {
		ev := models.ChangeEvent{Entity: entity, Op: models.OpUpsert}
		if res.Applied == 1 {
			ev.ItemID = lastID
		}
		s.notify(ctx, userID, ev)
	}
	return res, nil
}

// Delete removes one record. Deleting a missing record is not an error.
func (s *SyncService) Delete(ctx context.Context, userID, entity, itemID string) error {
	if err := ValidateEntity(entity); err != nil {
		return err
	}
	ok, err := s.repomanager.Records(s.db).Delete(ctx, userID, entity, itemID)
	if err != nil {
		return err
	}
	if ok {
		s.notify(ctx, userID, models.ChangeEvent{Entity: entity, ItemID: itemID, Op: models.OpDelete})
	}
	return nil
}

func (s *SyncService) notify(ctx context.Context, userID string, ev models.ChangeEvent) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, userID, ev)
	}
}

func payloads(recs []*models.SyncRecord) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Data)
	}
	return out
}
