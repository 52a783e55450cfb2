package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/pixelartvj/officesync/internal/shared"
	"golang.org/x/crypto/argon2"
)

const argonPrefix = "argon2id$"

// DeriveMasterKey stretches password with argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, keySize)
}

// HashPassword encodes password as "argon2id$<salt>$<key>" with standard
// (padded) base64 parts.
func HashPassword(password string) (string, error) {
	salt := shared.RandomBytes(saltSize)
	key := DeriveMasterKey([]byte(password), salt)
	defer shared.Wipe(key)

	return argonPrefix +
		base64.StdEncoding.EncodeToString(salt) + "$" +
		base64.StdEncoding.EncodeToString(key), nil
}

// LooksHashed reports whether a stored credential is a hash rather than a
// plaintext password: either our argon2id encoding or a legacy base64
// SHA-256 digest (long and padded).
func LooksHashed(stored string) bool {
	if strings.HasPrefix(stored, argonPrefix) {
		return true
	}
	return isLegacyDigest(stored)
}

func isLegacyDigest(stored string) bool {
	if len(stored) != base64.StdEncoding.EncodedLen(sha256.Size) || !strings.HasSuffix(stored, "=") {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(stored)
	return err == nil
}

// VerifyPassword checks password against a stored hash. Plaintext stored
// values never verify.
func VerifyPassword(stored, password string) bool {
	switch {
	case strings.HasPrefix(stored, argonPrefix):
		parts := strings.Split(strings.TrimPrefix(stored, argonPrefix), "$")
		if len(parts) != 2 {
			return false
		}
		salt, err := base64.StdEncoding.DecodeString(parts[0])
		if err != nil {
			return false
		}
		want, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return false
		}
		got := DeriveMasterKey([]byte(password), salt)
		defer shared.Wipe(got)
		return subtle.ConstantTimeCompare(got, want) == 1

	case isLegacyDigest(stored):
		sum := sha256.Sum256([]byte(password))
		got := base64.StdEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(got), []byte(stored)) == 1

	default:
		return false
	}
}
