package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelartvj/officesync/internal/common"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func TestIssuer_RoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0.Add(400 * time.Millisecond))
	iss := NewIssuer([]byte("office-secret"), 2*time.Hour, clock)

	tok, exp, err := iss.Issue("u-1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Hour), exp)

	id, err := iss.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id)

	clock.Advance(2*time.Hour - time.Second)
	_, err = iss.Verify(tok)
	assert.NoError(t, err)

	clock.Advance(time.Second)
	_, err = iss.Verify(tok)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestIssuer_Rejects(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	secret := []byte("office-secret")
	iss := NewIssuer(secret, time.Hour, clock)

	sign := func(m jwt.SigningMethod, c jwt.RegisteredClaims) string {
		s, err := jwt.NewWithClaims(m, c).SignedString(secret)
		require.NoError(t, err)
		return s
	}
	valid := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "u-1",
		ExpiresAt: jwt.NewNumericDate(t0.Add(time.Hour)),
	}

	other, _, err := NewIssuer([]byte("other"), time.Hour, clock).Issue("u-1")
	require.NoError(t, err)

	noSubject := valid
	noSubject.Subject = ""
	foreign := valid
	foreign.Issuer = "elsewhere"
	noExpiry := valid
	noExpiry.ExpiresAt = nil

	tests := map[string]string{
		"garbage":        "not.a.jwt",
		"wrong secret":   other,
		"other alg":      sign(jwt.SigningMethodHS512, valid),
		"no subject":     sign(jwt.SigningMethodHS256, noSubject),
		"foreign issuer": sign(jwt.SigningMethodHS256, foreign),
		"no expiry":      sign(jwt.SigningMethodHS256, noExpiry),
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := iss.Verify(tok)
			assert.ErrorIs(t, err, common.ErrInvalidToken)
		})
	}
}

func TestNewIssuer_DefaultsToRealClock(t *testing.T) {
	iss := NewIssuer([]byte("k"), time.Minute, nil)
	tok, exp, err := iss.Issue("u-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 2*time.Second)

	id, err := iss.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id)
}
