package server

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receiptly/config"
)

func TestAuthenticatorRoundTrip(t *testing.T) {
	auth, err := NewAuthenticator(config.AuthConfig{JWTSecret: testSecret, Issuer: "receiptly", TokenTTL: time.Hour})
	require.NoError(t, err)

	token, err := auth.Issue("user-42")
	require.NoError(t, err)

	userID, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)

	_, err = auth.Issue("  ")
	assert.Error(t, err)
}

func TestAuthenticatorRejects(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	auth, err := NewAuthenticator(config.AuthConfig{JWTSecret: testSecret, Issuer: "receiptly", TokenTTL: time.Hour})
	require.NoError(t, err)
	auth.now = func() time.Time { return base }
	valid, err := auth.Issue("u1")
	require.NoError(t, err)

	other, err := NewAuthenticator(config.AuthConfig{JWTSecret: "another-secret", Issuer: "receiptly"})
	require.NoError(t, err)
	foreign, err := other.Issue("u1")
	require.NoError(t, err)

	wrongIssuer, err := NewAuthenticator(config.AuthConfig{JWTSecret: testSecret, Issuer: "someone-else"})
	require.NoError(t, err)
	wrongIssuer.now = auth.now
	misissued, err := wrongIssuer.Issue("u1")
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u1",
		"iss": "receiptly",
		"exp": base.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1", "iss": "receiptly"}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		at    time.Time
	}{
		{"garbage", "abc.def.ghi", base},
		{"expired", valid, base.Add(2 * time.Hour)},
		{"wrong secret", foreign, base},
		{"wrong issuer", misissued, base},
		{"alg none", unsigned, base},
		{"no expiry", noExpiry, base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth.now = func() time.Time { return tt.at }
			_, err := auth.Verify(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestNewAuthenticatorNeedsSecret(t *testing.T) {
	_, err := NewAuthenticator(config.AuthConfig{})
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestUserLimiter(t *testing.T) {
	assert.Nil(t, newUserLimiter(0, 5))
	var disabled *userLimiter
	assert.True(t, disabled.allow("anyone"))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newUserLimiter(1, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("u1"))
	assert.True(t, l.allow("u1"))
	assert.False(t, l.allow("u1"))
	assert.True(t, l.allow("u2"), "buckets are per user")

	now = now.Add(time.Second)
	assert.True(t, l.allow("u1"))

	now = now.Add(2 * limiterIdleTTL)
	l.allow("u3")
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.entries, "u1")
	assert.Contains(t, l.entries, "u3")
}
