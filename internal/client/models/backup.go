package models

import "time"

// BackupFormatVersion is written into every backup.
const BackupFormatVersion = "2.0"

// BackupOptions records how a backup was produced.
type BackupOptions struct {
	IncludeMetadata  bool     `json:"includeMetadata"`
	IncludeSyncQueue bool     `json:"includeSyncQueue"`
	Compress         bool     `json:"compress"`
	Entities         []string `json:"entities,omitempty"`
}

// BackupStats summarises the captured data.
type BackupStats struct {
	TotalItems  int `json:"totalItems"`
	EntityCount int `json:"entityCount"`
	Size        int `json:"size"`
}

// Backup is a self-describing snapshot of the local store.
type Backup struct {
	Version        string              `json:"version"`
	Timestamp      time.Time           `json:"timestamp"`
	DeviceID       string              `json:"deviceId"`
	UserID         string              `json:"userId,omitempty"`
	Options        BackupOptions       `json:"options"`
	Data           map[string][]Record `json:"data"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
	SyncQueue      []QueueEntry        `json:"syncQueue,omitempty"`
	Stats          BackupStats         `json:"stats"`
	Compressed     bool                `json:"compressed,omitempty"`
	CompressedData string              `json:"compressedData,omitempty"`
}
