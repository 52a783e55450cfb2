package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrMissingRecordID = errors.New("record has no id")

// SyncRecord is one client record stored verbatim as JSON. ItemID and
// UpdatedAt are lifted from the payload for keying and last-write-wins.
type SyncRecord struct {
	UserID    string
	Entity    string
	ItemID    string
	Data      json.RawMessage
	UpdatedAt time.Time
}

// recordHeader is the part of a client record the backend interprets.
type recordHeader struct {
	ID        string `json:"id"`
	UpdatedAt string `json:"updated_at"`
	CreatedAt string `json:"created_at"`
}

// NewSyncRecord parses raw into a SyncRecord. The timestamp falls back from
// updated_at to created_at to now.
func NewSyncRecord(userID, entity string, raw json.RawMessage, now time.Time) (*SyncRecord, error) {
	var h recordHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", entity, err)
	}
	if h.ID == "" {
		return nil, ErrMissingRecordID
	}

	ts := now.UTC()
	for _, s := range []string{h.UpdatedAt, h.CreatedAt} {
		if s == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			ts = t.UTC()
			break
		}
	}
	return &SyncRecord{
		UserID:    userID,
		Entity:    entity,
		ItemID:    h.ID,
		Data:      raw,
		UpdatedAt: ts,
	}, nil
}
