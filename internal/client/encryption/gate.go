// Package encryption seals the sensitive fields of records before they leave
// the device and opens them again on the way back.
package encryption

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/cryptox"
	"github.com/pixelartvj/officesync/internal/logging"
)

// DefaultSensitiveFields lists, per entity, the fields that are encrypted.
var DefaultSensitiveFields = map[string][]string{
	"clients":    {"phone", "email", "address"},
	"events":     {"budget", "notes"},
	"messages":   {"content"},
	"work_hours": {"hourly_rate"},
}

// Gate applies field-level encryption according to a static entity map.
// All operations are no-ops for entities without sensitive fields or when
// no password is given.
type Gate struct {
	sensitive map[string][]string
	logger    logging.Logger
}

func NewGate(sensitive map[string][]string, logger logging.Logger) *Gate {
	return &Gate{sensitive: sensitive, logger: logger.With("component", "encryption")}
}

// SensitiveFields returns the encrypted fields of entity.
func (g *Gate) SensitiveFields(entity string) []string {
	return g.sensitive[entity]
}

func (g *Gate) HasSensitiveFields(entity string) bool {
	return len(g.sensitive[entity]) > 0
}

// EncryptObject returns a copy of rec with every present sensitive field
// replaced by its sealed form, flagged with _encrypted and
// _encryptedFields. Records already flagged are returned unchanged; a record
// with none of the sensitive fields present is not flagged.
func (g *Gate) EncryptObject(ctx context.Context, entity string, rec models.Record, password string) (models.Record, error) {
	fields := g.sensitive[entity]
	if len(fields) == 0 || password == "" || rec == nil || rec.Encrypted() {
		return rec, nil
	}

	out := rec.Clone()
	sealed := make([]string, 0, len(fields))
	for _, f := range fields {
		v, ok := rec[f]
		if !ok || v == nil {
			continue
		}
		plain, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s.%s: %w", entity, f, err)
		}
		ct, err := cryptox.SealField(password, plain)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt %s.%s: %w", entity, f, err)
		}
		out[f] = ct
		sealed = append(sealed, f)
	}

	if len(sealed) == 0 {
		return out, nil
	}
	sort.Strings(sealed)
	out[models.FieldEncrypted] = true
	out[models.FieldEncryptedFields] = sealed
	return out, nil
}

// DecryptObject reverses EncryptObject for records flagged _encrypted. A
// field that fails to open keeps its stored value; the failure is logged and
// never returned.
func (g *Gate) DecryptObject(ctx context.Context, entity string, rec models.Record, password string) models.Record {
	if rec == nil || password == "" || !rec.Encrypted() {
		return rec
	}

	out := rec.Clone()
	failed := false
	for _, f := range encryptedFields(rec, g.sensitive[entity]) {
		s, ok := rec[f].(string)
		if !ok {
			continue
		}
		plain, err := cryptox.OpenField(password, s)
		if err != nil {
			failed = true
			g.logger.Warn(ctx, "failed to decrypt field", "entity", entity, "id", rec.ID(), "field", f, "error", err)
			continue
		}
		var v any
		if err := json.Unmarshal(plain, &v); err != nil {
			failed = true
			g.logger.Warn(ctx, "failed to decode decrypted field", "entity", entity, "id", rec.ID(), "field", f, "error", err)
			continue
		}
		out[f] = v
	}

	if failed {
		return out
	}
	delete(out, models.FieldEncrypted)
	delete(out, models.FieldEncryptedFields)
	return out
}

func (g *Gate) EncryptArray(ctx context.Context, entity string, recs []models.Record, password string) ([]models.Record, error) {
	out := make([]models.Record, len(recs))
	for i, r := range recs {
		enc, err := g.EncryptObject(ctx, entity, r, password)
		if err != nil {
			return nil, err
		}
		out[i] = enc
	}
	return out, nil
}

func (g *Gate) DecryptArray(ctx context.Context, entity string, recs []models.Record, password string) []models.Record {
	out := make([]models.Record, len(recs))
	for i, r := range recs {
		out[i] = g.DecryptObject(ctx, entity, r, password)
	}
	return out
}

// encryptedFields prefers the list recorded on the record itself.
func encryptedFields(rec models.Record, fallback []string) []string {
	switch v := rec[models.FieldEncryptedFields].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, f := range v {
			if s, ok := f.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return fallback
	}
}
