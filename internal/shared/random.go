// Package shared has the randomness and secret-handling helpers used by
// both binaries.
package shared

import (
	"crypto/rand"
	"encoding/hex"
)

// TokenBytes is the entropy of opaque tokens (refresh and session tokens).
const TokenBytes = 32

// RandomBytes reads n bytes from crypto/rand. It panics when the system
// source fails, which leaves nothing safe to continue with.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// RandomHex returns n random bytes hex-encoded (2n characters).
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewToken returns an opaque token of TokenBytes random bytes.
func NewToken() (string, error) {
	return RandomHex(TokenBytes)
}

// Wipe zeroes b. Call it on passwords and derived keys once used.
func Wipe(b []byte) {
	clear(b)
}
