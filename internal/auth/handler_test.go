package auth

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *authEnv) login(email, password string) (int, TokenPair) {
	e.t.Helper()
	status, raw := e.do("POST", "/api/auth/login", nil, map[string]string{"email": email, "password": password})
	var out struct {
		Data TokenPair `json:"data"`
	}
	require.NoError(e.t, json.Unmarshal(raw, &out), string(raw))
	return status, out.Data
}

func (e *authEnv) refresh(token string) (int, TokenPair) {
	e.t.Helper()
	status, raw := e.do("POST", "/api/auth/refresh", nil, map[string]string{"refresh_token": token})
	var out struct {
		Data TokenPair `json:"data"`
	}
	require.NoError(e.t, json.Unmarshal(raw, &out), string(raw))
	return status, out.Data
}

func TestLogin(t *testing.T) {
	env := newAuthEnv(t)

	status, pair := env.login(" Ana@Example.com ", "pw")
	require.Equal(t, fiber.StatusOK, status)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	claims, err := ParseAccessToken(pair.AccessToken, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "ana", claims.Subject)

	status, raw := env.do("GET", "/api/auth/me", map[string]string{"Authorization": "Bearer " + pair.AccessToken}, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(raw), `"tenantId":"t1"`)

	status, _ = env.login("ana@example.com", "wrong")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	status, _ = env.login("nobody@example.com", "pw")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	status, _ = env.login("off@example.com", "pw")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	status, _ = env.login("", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestRefresh_RotatesTokens(t *testing.T) {
	env := newAuthEnv(t)
	_, pair := env.login("root@example.com", "pw")

	status, next := env.refresh(pair.RefreshToken)
	require.Equal(t, fiber.StatusOK, status)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	claims, err := ParseAccessToken(next.AccessToken, testSecret)
	require.NoError(t, err)
	assert.True(t, claims.SuperAdmin)

	status, _ = env.refresh(pair.RefreshToken)
	assert.Equal(t, fiber.StatusUnauthorized, status, "a refresh token is single use")
}

func TestRefresh_Expired(t *testing.T) {
	env := newAuthEnv(t)
	env.exec("INSERT INTO _refresh_tokens (id, user_id, token, expires_at) VALUES ($1, $2, $3, $4)",
		"rt1", "ana", "stale", env.store.Dialect.TimeParam(time.Now().Add(-time.Minute)))

	status, _ := env.refresh("stale")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = env.refresh("stale")
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestLogout(t *testing.T) {
	env := newAuthEnv(t)
	_, pair := env.login("ana@example.com", "pw")

	status, _ := env.do("POST", "/api/auth/logout", nil, map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, fiber.StatusOK, status)

	status, _ = env.refresh(pair.RefreshToken)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = env.do("POST", "/api/auth/logout", nil, map[string]string{})
	assert.Equal(t, fiber.StatusUnauthorized, status)
}
