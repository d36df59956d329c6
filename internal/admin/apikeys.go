package admin

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"adminpanel/internal/auth"
	"adminpanel/internal/engine"
	"adminpanel/internal/metadata"
	"adminpanel/internal/store"
)

type APIKey struct {
	ID          string                           `json:"id"`
	TenantID    string                           `json:"tenantId"`
	Alias       string                           `json:"alias"`
	Permissions map[string]metadata.EntityAccess `json:"permissions"`
	Active      bool                             `json:"active"`
	ExpiresAt   *time.Time                       `json:"expiresAt,omitempty"`
	// Key is only returned once, when the key is created.
	Key string `json:"key,omitempty"`
}

func apiKeyFromRecord(rec map[string]any) APIKey {
	k := APIKey{
		ID:          store.AsString(rec["id"]),
		TenantID:    store.AsString(rec["tenant_id"]),
		Alias:       store.AsString(rec["alias"]),
		Active:      store.AsBool(rec["active"]),
		Permissions: map[string]metadata.EntityAccess{},
	}
	_ = json.Unmarshal([]byte(store.AsString(rec["permissions"])), &k.Permissions)
	if t, ok := store.AsTime(rec["expires_at"]); ok {
		k.ExpiresAt = &t
	}
	return k
}

func (h *Handler) ListAPIKeys(c *fiber.Ctx) error {
	rows, err := store.QueryRows(c.UserContext(), h.store.Q(),
		"SELECT id, tenant_id, alias, permissions, active, expires_at FROM _api_keys WHERE tenant_id = $1 ORDER BY alias",
		c.Params("id"))
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}
	keys := make([]APIKey, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, apiKeyFromRecord(r))
	}
	return c.JSON(fiber.Map{"data": keys})
}

// CreateAPIKey generates a key for the tenant. The plaintext key is in the
// response only; the database keeps its hash.
func (h *Handler) CreateAPIKey(c *fiber.Ctx) error {
	var body struct {
		Alias       string                           `json:"alias"`
		Permissions map[string]metadata.EntityAccess `json:"permissions"`
		ExpiresAt   *time.Time                       `json:"expiresAt"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}

	k := APIKey{
		ID:          uuid.New().String(),
		TenantID:    c.Params("id"),
		Alias:       strings.TrimSpace(body.Alias),
		Permissions: body.Permissions,
		Active:      true,
		ExpiresAt:   body.ExpiresAt,
	}
	if k.Permissions == nil {
		k.Permissions = map[string]metadata.EntityAccess{}
	}
	if err := h.validateKey(k); err != nil {
		return err
	}

	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	perms, err := json.Marshal(k.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	var expires any
	if k.ExpiresAt != nil {
		expires = h.store.Dialect.TimeParam(*k.ExpiresAt)
	}

	ctx := c.UserContext()
	if _, err := store.QueryRow(ctx, h.store.Q(), "SELECT id FROM _tenants WHERE id = $1", k.TenantID); err != nil {
		return notFound(err, "tenant", k.TenantID)
	}
	var createdBy any
	if rc := engine.GetRequestContext(c); rc != nil {
		createdBy = store.NullString(rc.UserID)
	}
	_, err = store.Exec(ctx, h.store.Q(),
		`INSERT INTO _api_keys (id, tenant_id, alias, key_hash, permissions, expires_at, created_by_user_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		k.ID, k.TenantID, k.Alias, auth.HashAPIKey(key), string(perms), expires, createdBy)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}

	k.Key = key
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": k})
}

// UpdateAPIKey changes a key's permissions, active flag or expiry. The key
// itself never changes; create a new one to rotate.
func (h *Handler) UpdateAPIKey(c *fiber.Ctx) error {
	id := c.Params("keyId")
	ctx := c.UserContext()
	rec, err := store.QueryRow(ctx, h.store.Q(),
		"SELECT id, tenant_id, alias, permissions, active, expires_at FROM _api_keys WHERE id = $1", id)
	if err != nil {
		return notFound(err, "api key", id)
	}
	k := apiKeyFromRecord(rec)

	var body struct {
		Permissions map[string]metadata.EntityAccess `json:"permissions"`
		Active      *bool                            `json:"active"`
		ExpiresAt   *time.Time                       `json:"expiresAt"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	if body.Permissions != nil {
		k.Permissions = body.Permissions
	}
	if body.Active != nil {
		k.Active = *body.Active
	}
	if body.ExpiresAt != nil {
		k.ExpiresAt = body.ExpiresAt
	}
	if err := h.validateKey(k); err != nil {
		return err
	}

	perms, err := json.Marshal(k.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	var expires any
	if k.ExpiresAt != nil {
		expires = h.store.Dialect.TimeParam(*k.ExpiresAt)
	}
	_, err = store.Exec(ctx, h.store.Q(),
		"UPDATE _api_keys SET permissions = $1, active = $2, expires_at = $3 WHERE id = $4",
		string(perms), k.Active, expires, k.ID)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return c.JSON(fiber.Map{"data": k})
}

func (h *Handler) DeleteAPIKey(c *fiber.Ctx) error {
	id := c.Params("keyId")
	n, err := store.Exec(c.UserContext(), h.store.Q(), "DELETE FROM _api_keys WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if n == 0 {
		return engine.NotFoundError("api key", id)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

// validateKey checks the alias and that every permission names an entity
// visible to the key's tenant.
func (h *Handler) validateKey(k APIKey) error {
	var details []engine.ErrorDetail
	if k.Alias == "" {
		details = append(details, engine.ErrorDetail{Field: "alias", Rule: "required", Message: "alias is required"})
	}
	for name := range k.Permissions {
		if h.registry.GetByName(k.TenantID, name) == nil {
			details = append(details, engine.ErrorDetail{Field: "permissions." + name, Rule: "unknown", Message: "unknown entity"})
		}
	}
	if len(details) > 0 {
		return engine.ValidationError(details)
	}
	return nil
}
