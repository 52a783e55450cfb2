// Package models defines client-side data models used by the officesync
// client: entity records, queue entries, sessions, migration status and
// backups.
package models

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Metadata keys carried by every record.
const (
	FieldID              = "id"
	FieldCreatedAt       = "created_at"
	FieldUpdatedAt       = "updated_at"
	FieldSynced          = "_synced"
	FieldVersion         = "_version"
	FieldEncrypted       = "_encrypted"
	FieldEncryptedFields = "_encryptedFields"
	FieldRestoredFrom    = "_restoredFrom"
)

// TimeLayout is the textual form of record timestamps.
const TimeLayout = time.RFC3339Nano

var ErrIncorrectPair = errors.New("field must be name=value")

// Record is a schemaless entity record. Domain fields are opaque to the sync
// core; only the metadata keys above are interpreted.
type Record map[string]any

// ID returns the record key or "" when absent.
func (r Record) ID() string {
	s, _ := r[FieldID].(string)
	return s
}

func (r Record) stringTime(key string) time.Time {
	s, ok := r[key].(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (r Record) CreatedAt() time.Time { return r.stringTime(FieldCreatedAt) }

func (r Record) UpdatedAt() time.Time { return r.stringTime(FieldUpdatedAt) }

// Timestamp is the last-write-wins clock of a record: updated_at, falling
// back to created_at.
func (r Record) Timestamp() time.Time {
	if t := r.UpdatedAt(); !t.IsZero() {
		return t
	}
	return r.CreatedAt()
}

// Version returns _version, accepting the numeric forms JSON decoding and Go
// callers produce.
func (r Record) Version() int64 {
	switch v := r[FieldVersion].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

func (r Record) Synced() bool {
	b, _ := r[FieldSynced].(bool)
	return b
}

func (r Record) Encrypted() bool {
	b, _ := r[FieldEncrypted].(bool)
	return b
}

// Has reports whether key is present, even with a nil value.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Clone returns a shallow copy; nested values are shared.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// FormatTime renders t in the record timestamp layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// CloneRecords clones every record of rs.
func CloneRecords(rs []Record) []Record {
	out := make([]Record, len(rs))
	for i, r := range rs {
		out[i] = r.Clone()
	}
	return out
}

// RecordFromPairs builds a partial record from name=value strings. Values
// that parse as numbers or booleans keep that type.
func RecordFromPairs(pairs []string) (Record, error) {
	rec := make(Record, len(pairs))
	for _, p := range pairs {
		parts := strings.SplitN(p, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, ErrIncorrectPair
		}
		rec[parts[0]] = parseScalar(parts[1])
	}
	return rec, nil
}

func parseScalar(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
