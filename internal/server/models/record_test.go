package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSyncRecord(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
		err  bool
	}{
		{name: "updated_at wins", raw: `{"id":"a","created_at":"2024-01-01T00:00:00Z","updated_at":"2024-05-01T10:00:00.5Z"}`,
			want: time.Date(2024, 5, 1, 10, 0, 0, 5e8, time.UTC)},
		{name: "created_at fallback", raw: `{"id":"a","created_at":"2024-01-01T00:00:00+02:00"}`,
			want: time.Date(2023, 12, 31, 22, 0, 0, 0, time.UTC)},
		{name: "unparsable uses now", raw: `{"id":"a","updated_at":"yesterday"}`, want: now},
		{name: "missing id", raw: `{"title":"x"}`, err: true},
		{name: "not an object", raw: `[1]`, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := NewSyncRecord("u1", "events", json.RawMessage(tt.raw), now)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a", rec.ItemID)
			assert.Equal(t, "u1", rec.UserID)
			assert.Equal(t, "events", rec.Entity)
			assert.True(t, tt.want.Equal(rec.UpdatedAt), "got %s", rec.UpdatedAt)
			assert.JSONEq(t, tt.raw, string(rec.Data))
		})
	}
}
