package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pixelartvj/officesync/internal/client/kv"
	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/client/store"
	"github.com/pixelartvj/officesync/internal/cryptox"
)

var legacyIDNamespace = uuid.MustParse("6f1c7a4e-2b1d-4c8e-9a57-0d3b2e8f4a11")

var legacyLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// importLegacy merges every legacy entity array into the store. A legacy
// item replaces a stored record only when its timestamp is strictly newer.
// The raw array is kept under <entity>_backup.
func (e *Engine) importLegacy(ctx context.Context) error {
	now := e.now()

	for _, entity := range e.store.Entities() {
		raw, err := e.legacy.Get(ctx, entity)
		if err != nil {
			return err
		}
		if raw == nil {
			continue
		}

		var items []map[string]any
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("legacy %s is not a JSON array: %w", entity, err)
		}

		backupKey := entity + kv.BackupSuffix
		prev, err := e.legacy.Get(ctx, backupKey)
		if err != nil {
			return err
		}
		if prev == nil {
			if err := e.legacy.Set(ctx, backupKey, raw); err != nil {
				return err
			}
		}

		existing, err := e.store.GetAll(ctx, entity)
		if err != nil {
			return err
		}
		byID := make(map[string]models.Record, len(existing))
		for _, r := range existing {
			byID[r.ID()] = r
		}

		imported, skipped := 0, 0
		for _, item := range items {
			if item == nil {
				continue
			}
			rec := normalizeLegacy(entity, models.Record(item), now)
			if cur, ok := byID[rec.ID()]; ok && !rec.Timestamp().After(cur.Timestamp()) {
				skipped++
				continue
			}
			if err := e.store.Put(ctx, entity, rec); err != nil {
				return err
			}
			byID[rec.ID()] = rec
			imported++
		}

		e.logger.Info(ctx, "legacy entity imported", "entity", entity, "imported", imported, "skipped", skipped)
	}
	return nil
}

// normalizeLegacy gives a legacy item a string id and canonical timestamps.
// Items without an id get one derived from their content so a repeated
// import maps them to the same record.
func normalizeLegacy(entity string, item models.Record, now time.Time) models.Record {
	rec := item.Clone()

	switch id := rec[models.FieldID].(type) {
	case string:
		if id == "" {
			rec[models.FieldID] = contentID(entity, item)
		}
	case float64:
		rec[models.FieldID] = strconv.FormatFloat(id, 'f', -1, 64)
	case nil:
		rec[models.FieldID] = contentID(entity, item)
	default:
		rec[models.FieldID] = fmt.Sprint(id)
	}

	created, ok := normalizeTime(rec[models.FieldCreatedAt])
	if !ok {
		created = models.FormatTime(now)
	}
	rec[models.FieldCreatedAt] = created

	if updated, ok := normalizeTime(rec[models.FieldUpdatedAt]); ok {
		rec[models.FieldUpdatedAt] = updated
	} else {
		rec[models.FieldUpdatedAt] = created
	}
	return rec
}

func contentID(entity string, item models.Record) string {
	b, _ := json.Marshal(item)
	return uuid.NewSHA1(legacyIDNamespace, append([]byte(entity+":"), b...)).String()
}

// normalizeTime accepts the textual layouts and epoch milliseconds the
// legacy app wrote.
func normalizeTime(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		for _, layout := range legacyLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return models.FormatTime(parsed), true
			}
		}
	case float64:
		if t > 0 {
			return models.FormatTime(time.UnixMilli(int64(t))), true
		}
	}
	return "", false
}

// backfillEncryption marks records of sensitive entities that predate the
// encryption flag as not encrypted.
func (e *Engine) backfillEncryption(ctx context.Context) error {
	for _, entity := range e.store.Entities() {
		if e.gate == nil || !e.gate.HasSensitiveFields(entity) {
			continue
		}
		recs, err := e.store.GetAll(ctx, entity)
		if err != nil {
			return err
		}
		n := 0
		for _, r := range recs {
			if r.Has(models.FieldEncrypted) {
				continue
			}
			r[models.FieldEncrypted] = false
			if err := e.store.Put(ctx, entity, r); err != nil {
				return err
			}
			n++
		}
		if n > 0 {
			e.logger.Info(ctx, "encryption flag backfilled", "entity", entity, "records", n)
		}
	}
	return nil
}

// backfillSync adds the sync metadata every record needs.
func (e *Engine) backfillSync(ctx context.Context) error {
	now := models.FormatTime(e.now())

	for _, entity := range e.store.Entities() {
		recs, err := e.store.GetAll(ctx, entity)
		if err != nil {
			return err
		}
		n := 0
		for _, r := range recs {
			changed := false
			if !r.Has(models.FieldSynced) {
				r[models.FieldSynced] = false
				changed = true
			}
			if !r.Has(models.FieldVersion) {
				r[models.FieldVersion] = 1
				changed = true
			}
			if !r.Has(models.FieldCreatedAt) {
				r[models.FieldCreatedAt] = now
				changed = true
			}
			if !r.Has(models.FieldUpdatedAt) {
				r[models.FieldUpdatedAt] = r[models.FieldCreatedAt]
				changed = true
			}
			if !changed {
				continue
			}
			if err := e.store.Put(ctx, entity, r); err != nil {
				return err
			}
			n++
		}
		if n > 0 {
			e.logger.Info(ctx, "sync metadata backfilled", "entity", entity, "records", n)
		}
	}
	return nil
}

// hashPasswords replaces plaintext local passwords with argon2id hashes.
// Once it has run, login only accepts hashed credentials.
func (e *Engine) hashPasswords(ctx context.Context) error {
	users, err := e.store.GetAll(ctx, store.EntityUsers)
	if err != nil {
		return err
	}
	n := 0
	for _, u := range users {
		pw, ok := u["password"].(string)
		if !ok || pw == "" || cryptox.LooksHashed(pw) {
			continue
		}
		h, err := cryptox.HashPassword(pw)
		if err != nil {
			return err
		}
		u["password"] = h
		if err := e.store.Put(ctx, store.EntityUsers, u); err != nil {
			return err
		}
		n++
	}
	e.logger.Info(ctx, "local passwords hashed", "users", n)
	return nil
}
