// Package auth issues and verifies the HS256 access tokens handed to
// office clients.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/pixelartvj/officesync/internal/common"
)

const issuer = "officesync"

// Issuer signs access tokens whose subject is the user id.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewIssuer(secret []byte, ttl time.Duration, clock clockwork.Clock) *Issuer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Issuer{secret: secret, ttl: ttl, clock: clock}
}

// Issue returns a signed token for userID and the moment it stops being
// accepted.
func (i *Issuer) Issue(userID string) (string, time.Time, error) {
	now := i.clock.Now().Truncate(time.Second)
	exp := now.Add(i.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp.UTC(), nil
}

// Verify returns the user id of a valid token. Expired tokens give
// common.ErrTokenExpired; every other failure wraps common.ErrInvalidToken.
func (i *Issuer) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", common.ErrTokenExpired
	case err != nil:
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	case claims.Subject == "":
		return "", fmt.Errorf("%w: no subject", common.ErrInvalidToken)
	}
	return claims.Subject, nil
}
