package models

import "time"

// User is an account known to the client. Password holds a hash for local
// users and is never part of a session.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
	Password string `json:"password,omitempty"`
}

// Sanitized returns a copy without the password.
func (u User) Sanitized() User {
	u.Password = ""
	return u
}

// UserFromRecord reads the user fields out of a users-entity record.
func UserFromRecord(r Record) User {
	str := func(k string) string {
		s, _ := r[k].(string)
		return s
	}
	return User{
		ID:       r.ID(),
		Email:    str("email"),
		Name:     str("name"),
		Role:     str("role"),
		Password: str("password"),
	}
}

// Session is the persisted login of this device.
type Session struct {
	User      User      `json:"user"`
	DeviceID  string    `json:"deviceId"`
	LoginTime time.Time `json:"loginTime"`
	ExpiresAt time.Time `json:"expiresAt"`
	AuthToken string    `json:"authToken"`
	// RefreshToken is set when the session came from the backend.
	RefreshToken string `json:"refreshToken,omitempty"`
	// RefreshPending marks a session extended locally after a failed remote
	// refresh; the remote refresh is retried on every validation until it
	// succeeds.
	RefreshPending bool `json:"refreshPending,omitempty"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SyncStatus is a derived snapshot of the sync engine.
type SyncStatus struct {
	Online           bool      `json:"isOnline"`
	Syncing          bool      `json:"syncInProgress"`
	LastSyncTime     time.Time `json:"lastSyncTime"`
	QueuedOperations int       `json:"queuedOperations"`
	UserID           string    `json:"userId,omitempty"`
	DeviceID         string    `json:"deviceId,omitempty"`
	Provider         string    `json:"provider"`
}
