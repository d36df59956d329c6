package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"adminpanel/internal/engine"
	"adminpanel/internal/store"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	store     *store.Store
	jwtSecret string
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(s *store.Store, jwtSecret string) *AuthHandler {
	return &AuthHandler{store: s, jwtSecret: jwtSecret}
}

// RegisterAuthRoutes registers auth routes. Login, refresh and logout are
// public; /me runs behind the given middleware.
func RegisterAuthRoutes(app *fiber.App, h *AuthHandler, middleware ...fiber.Handler) {
	auth := app.Group("/api/auth")
	auth.Post("/login", h.Login)
	auth.Post("/refresh", h.Refresh)
	auth.Post("/logout", h.Logout)
	auth.Get("/me", append(middleware, h.Me)...)
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return engine.UnauthorizedError("Email and password are required")
	}

	ctx := c.UserContext()

	user, err := store.QueryRow(ctx, h.store.Q(),
		"SELECT id, password_hash, is_super_admin, active FROM _users WHERE email = $1",
		strings.ToLower(strings.TrimSpace(body.Email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engine.UnauthorizedError("Invalid email or password")
		}
		return err
	}
	if !store.AsBool(user["active"]) {
		return engine.UnauthorizedError("Account is disabled")
	}
	if !CheckPassword(body.Password, store.AsString(user["password_hash"])) {
		return engine.UnauthorizedError("Invalid email or password")
	}

	pair, err := h.generateTokenPair(ctx, store.AsString(user["id"]), store.AsBool(user["is_super_admin"]))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /api/auth/refresh. Refresh tokens are single use.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	ctx := c.UserContext()
	q := h.store.Q()

	row, err := store.QueryRow(ctx, q,
		`SELECT rt.id, rt.user_id, rt.expires_at, u.is_super_admin, u.active
		 FROM _refresh_tokens rt
		 JOIN _users u ON u.id = rt.user_id
		 WHERE rt.token = $1`, body.RefreshToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return engine.UnauthorizedError("Invalid refresh token")
		}
		return err
	}

	// rotation: the presented token is consumed whatever happens next
	if _, err := store.Exec(ctx, q, "DELETE FROM _refresh_tokens WHERE id = $1", row["id"]); err != nil {
		return err
	}

	expiresAt, ok := store.AsTime(row["expires_at"])
	if !ok || time.Now().After(expiresAt) {
		return engine.UnauthorizedError("Refresh token expired")
	}
	if !store.AsBool(row["active"]) {
		return engine.UnauthorizedError("Account is disabled")
	}

	pair, err := h.generateTokenPair(ctx, store.AsString(row["user_id"]), store.AsBool(row["is_super_admin"]))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	if _, err := store.Exec(c.UserContext(), h.store.Q(),
		"DELETE FROM _refresh_tokens WHERE token = $1", body.RefreshToken); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// Me handles GET /api/auth/me and echoes the authenticated caller.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	rc := engine.GetRequestContext(c)
	if rc == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	return c.JSON(fiber.Map{"data": rc})
}

func (h *AuthHandler) generateTokenPair(ctx context.Context, userID string, superAdmin bool) (*TokenPair, error) {
	accessToken, err := GenerateAccessToken(userID, superAdmin, h.jwtSecret)
	if err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", 500, "Failed to generate access token")
	}

	refreshToken := GenerateRefreshToken()
	_, err = store.Exec(ctx, h.store.Q(),
		`INSERT INTO _refresh_tokens (id, user_id, token, expires_at) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), userID, refreshToken, h.store.Dialect.TimeParam(time.Now().Add(RefreshTokenTTL)))
	if err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", 500, "Failed to store refresh token")
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}
