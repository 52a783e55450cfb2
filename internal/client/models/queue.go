package models

import "time"

// Operation is the kind of work a queue entry replays.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpSync   Operation = "sync"
)

// Priority returns the replay priority of an operation; deletes go first.
func (o Operation) Priority() int {
	if o == OpDelete {
		return 1
	}
	return 0
}

// QueueEntry is a pending sync operation persisted until it succeeds.
type QueueEntry struct {
	ID        string    `json:"id"`
	Entity    string    `json:"entity"`
	Operation Operation `json:"operation"`
	Data      Record    `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Priority  int       `json:"priority"`
}
