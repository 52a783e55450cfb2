// Package cryptox holds the cryptographic primitives used by officesync:
// field-level sealing for sensitive record values and password hashing for
// local and server-side credentials.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/pixelartvj/officesync/internal/shared"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the work factor for field keys.
	PBKDF2Iterations = 100_000

	saltSize  = 16
	nonceSize = 12
	keySize   = 32
)

// ErrMalformedCiphertext is returned by OpenField when the encoded value is
// too short or not valid base64.
var ErrMalformedCiphertext = errors.New("malformed ciphertext")

func deriveFieldKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, keySize, sha256.New)
}

// SealField encrypts plaintext with a key derived from password.
//
// A fresh salt and nonce are drawn for every call; the result is
// base64(salt | nonce | ciphertext) so it can live inside a JSON string.
func SealField(password string, plaintext []byte) (string, error) {
	salt := shared.RandomBytes(saltSize)
	key := deriveFieldKey(password, salt)
	defer shared.Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	aesgcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return "", err
	}

	nonce := shared.RandomBytes(nonceSize)

	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+aesgcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aesgcm.Seal(out, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(out), nil
}

// OpenField reverses SealField. A wrong password or a tampered value yields
// an authentication error from AES-GCM.
func OpenField(password string, encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformedCiphertext
	}
	if len(raw) < saltSize+nonceSize+1 {
		return nil, ErrMalformedCiphertext
	}

	salt, nonce, ciphertext := raw[:saltSize], raw[saltSize:saltSize+nonceSize], raw[saltSize+nonceSize:]

	key := deriveFieldKey(password, salt)
	defer shared.Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, err
	}

	return aesgcm.Open(nil, nonce, ciphertext, nil)
}

// DeriveUserPassword returns the per-user encryption password. It depends
// only on the user id and e-mail, so any device the user logs in from can
// open what another device sealed.
func DeriveUserPassword(userID, email string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(userID) + ":" + strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}
