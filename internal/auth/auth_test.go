package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessToken_RoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("user-1", true, "secret")
	require.NoError(t, err)

	claims, err := ParseAccessToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.True(t, claims.SuperAdmin)

	_, err = ParseAccessToken(token, "other")
	assert.Error(t, err)
}

func TestAccessToken_Expired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(past),
	}})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = ParseAccessToken(signed, "secret")
	assert.Error(t, err)
}

func TestAccessToken_RejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseAccessToken(signed, "secret")
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, CheckPassword("hunter2", hash))
	assert.False(t, CheckPassword("hunter3", hash))
}

func TestAPIKeys(t *testing.T) {
	a, err := GenerateAPIKey()
	require.NoError(t, err)
	b, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, APIKeyPrefix))
	assert.NotEqual(t, a, b)
	assert.Len(t, HashAPIKey(a), 64)
	assert.Equal(t, HashAPIKey(a), HashAPIKey(a))
	assert.NotEqual(t, HashAPIKey(a), HashAPIKey(b))
}
