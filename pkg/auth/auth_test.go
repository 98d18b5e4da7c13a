package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwatch/hostwatch/pkg/config"
)

func TestNewAuthRejectsEmptySecret(t *testing.T) {
	_, err := NewAuth(&config.JWTConfig{Secret: "", ExpiresHours: 12})
	assert.Error(t, err)
}

func TestNewAuthAcceptsConfiguredSecret(t *testing.T) {
	a, err := NewAuth(&config.JWTConfig{Secret: "test-secret", ExpiresHours: 12})
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestHashAndCheckPasswordRoundTrip(t *testing.T) {
	a, err := NewAuth(&config.JWTConfig{Secret: "s", ExpiresHours: 1})
	require.NoError(t, err)

	hash, err := a.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.NoError(t, a.CheckPassword("correct horse battery staple", hash))
	assert.Error(t, a.CheckPassword("wrong password", hash))
}

func TestGenerateAndValidateTokenRoundTrip(t *testing.T) {
	a, err := NewAuth(&config.JWTConfig{Secret: "s", ExpiresHours: 1})
	require.NoError(t, err)

	token, expiresAt, err := a.GenerateToken("admin")
	require.NoError(t, err)
	assert.Greater(t, expiresAt, time.Now().Unix())

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	a1, err := NewAuth(&config.JWTConfig{Secret: "secret-one", ExpiresHours: 1})
	require.NoError(t, err)
	a2, err := NewAuth(&config.JWTConfig{Secret: "secret-two", ExpiresHours: 1})
	require.NoError(t, err)

	token, _, err := a1.GenerateToken("admin")
	require.NoError(t, err)

	_, err = a2.ValidateToken(token)
	assert.Error(t, err)
}

func TestGenerateTokenDefaultsExpiryWhenUnset(t *testing.T) {
	a, err := NewAuth(&config.JWTConfig{Secret: "s", ExpiresHours: 0})
	require.NoError(t, err)

	_, expiresAt, err := a.GenerateToken("admin")
	require.NoError(t, err)
	assert.Greater(t, expiresAt, time.Now().Add(11*time.Hour).Unix())
}
