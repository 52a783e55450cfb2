package models

import "time"

// RefreshToken is a single-use credential that rotates into a new session.
// Only UserID and ExpiresAt are read back from storage.
type RefreshToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the token stopped being valid before now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}
