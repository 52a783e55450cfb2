// Package common defines shared constants and sentinel errors used across
// client and server layers of officesync. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal      = errors.New("internal error")
	ErrorUnauthorized  = errors.New("unauthorized")
	ErrVersionConflict = errors.New("version conflict")

	// Auth errors.
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserAlreadyExists  = errors.New("user already exists")

	// Local store errors.
	ErrStoreUnavailable = errors.New("local store unavailable")

	// Backup errors.
	ErrInvalidBackup       = errors.New("invalid backup")
	ErrUnsupportedStrategy = errors.New("unsupported merge strategy")
)
