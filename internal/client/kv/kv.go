// Package kv is the flat key-value store the client falls back to and the
// place the pre-database generation of the app kept its data: one JSON
// document per key.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known keys.
const (
	KeyCurrentSession     = "currentSession"
	KeyDeviceID           = "deviceId"
	KeyMigrationStatus    = "migration_status"
	KeyPreMigrationBackup = "pre_migration_backup"
	KeyAutoBackups        = "auto_backups"
	KeySyncQueue          = "sync_queue"
	KeyMetadata           = "metadata"

	// BackupSuffix names the untouched copy of a legacy entity array.
	BackupSuffix = "_backup"
)

var ErrInvalidKey = errors.New("invalid key")

// Store is a flat key-value store. Get returns (nil, nil) for a missing key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// GetJSON decodes key into v and reports whether the key existed.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	b, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return true, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Set(ctx, key, b)
}
