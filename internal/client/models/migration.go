package models

import "time"

// MigrationState is the lifecycle of a migration run.
type MigrationState string

const (
	MigrationPending   MigrationState = "pending"
	MigrationCompleted MigrationState = "completed"
	MigrationFailed    MigrationState = "failed"
)

// MigrationStatus is persisted after every migration run.
type MigrationStatus struct {
	Version   string         `json:"version"`
	Status    MigrationState `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}
