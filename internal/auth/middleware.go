package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"adminpanel/internal/engine"
	"adminpanel/internal/metadata"
	"adminpanel/internal/store"
)

// Middleware authenticates the request with an X-Api-Key header or a Bearer
// token and stores the resulting *metadata.RequestContext in the fiber
// locals under engine.RequestContextKey.
type Middleware struct {
	store  *store.Store
	secret string
	logger *zap.Logger
}

func NewMiddleware(s *store.Store, secret string, logger *zap.Logger) *Middleware {
	return &Middleware{store: s, secret: secret, logger: logger.Named("auth")}
}

// Handler is the fiber middleware.
func (m *Middleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		var (
			rc  *metadata.RequestContext
			err error
		)
		if key := c.Get("X-Api-Key"); key != "" {
			rc, err = m.authenticateAPIKey(ctx, key)
		} else {
			rc, err = m.authenticateBearer(ctx, c.Get("Authorization"), c.Get("X-Tenant"))
		}
		if err != nil {
			return err
		}

		c.Locals(engine.RequestContextKey, rc)
		return c.Next()
	}
}

// RequireSuperAdmin rejects callers that are not platform super admins.
func RequireSuperAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rc := engine.GetRequestContext(c)
		if rc == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		if !rc.IsSuperAdmin {
			return engine.ForbiddenError("Super admin access required")
		}
		return c.Next()
	}
}

func (m *Middleware) authenticateBearer(ctx context.Context, header, tenant string) (*metadata.RequestContext, error) {
	if header == "" {
		return nil, engine.UnauthorizedError("Missing auth token")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, engine.UnauthorizedError("Invalid auth header format")
	}

	claims, err := ParseAccessToken(parts[1], m.secret)
	if err != nil {
		return nil, engine.UnauthorizedError("Invalid or expired token")
	}

	q := m.store.Q()
	user, err := store.QueryRow(ctx, q, "SELECT is_super_admin, active FROM _users WHERE id = $1", claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, engine.UnauthorizedError("Invalid or expired token")
		}
		return nil, err
	}
	if !store.AsBool(user["active"]) {
		return nil, engine.UnauthorizedError("Account is disabled")
	}
	superAdmin := store.AsBool(user["is_super_admin"])

	tenantID, err := m.resolveTenant(ctx, q, claims.Subject, tenant, superAdmin)
	if err != nil {
		return nil, err
	}

	p, err := engine.LoadPrincipal(ctx, q, tenantID, claims.Subject)
	if err != nil {
		return nil, err
	}
	return &metadata.RequestContext{
		TenantID:     tenantID,
		UserID:       claims.Subject,
		Roles:        p.Roles,
		Groups:       p.Groups,
		IsSuperAdmin: superAdmin,
	}, nil
}

// resolveTenant maps X-Tenant (id or slug) to a tenant id and checks the
// user's membership. Without the header a user acts in their only tenant;
// super admins act in no tenant.
func (m *Middleware) resolveTenant(ctx context.Context, q store.Querier, userID, ref string, superAdmin bool) (string, error) {
	if ref == "" {
		if superAdmin {
			return "", nil
		}
		rows, err := store.QueryRows(ctx, q,
			`SELECT tu.tenant_id FROM _tenant_users tu JOIN _tenants t ON t.id = tu.tenant_id
			 WHERE tu.user_id = $1 AND t.active = $2`, userID, true)
		if err != nil {
			return "", err
		}
		switch len(rows) {
		case 0:
			return "", engine.ForbiddenError("User is not a member of any tenant")
		case 1:
			return store.AsString(rows[0]["tenant_id"]), nil
		default:
			return "", engine.InvalidPayloadError("X-Tenant header is required")
		}
	}

	tenant, err := store.QueryRow(ctx, q, "SELECT id, active FROM _tenants WHERE id = $1 OR slug = $1", ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", engine.NotFoundError("tenant", ref)
		}
		return "", err
	}
	tenantID := store.AsString(tenant["id"])
	if !store.AsBool(tenant["active"]) && !superAdmin {
		return "", engine.ForbiddenError("Tenant is inactive")
	}
	if superAdmin {
		return tenantID, nil
	}

	member, err := store.QueryRow(ctx, q,
		"SELECT COUNT(*) AS n FROM _tenant_users WHERE tenant_id = $1 AND user_id = $2", tenantID, userID)
	if err != nil {
		return "", err
	}
	if store.AsInt(member["n"]) == 0 {
		return "", engine.ForbiddenError("User is not a member of this tenant")
	}
	return tenantID, nil
}

func (m *Middleware) authenticateAPIKey(ctx context.Context, key string) (*metadata.RequestContext, error) {
	row, err := store.QueryRow(ctx, m.store.Q(),
		`SELECT k.id, k.tenant_id, k.permissions, k.active, k.expires_at, t.active AS tenant_active
		 FROM _api_keys k JOIN _tenants t ON t.id = k.tenant_id
		 WHERE k.key_hash = $1`, HashAPIKey(key))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, engine.UnauthorizedError("Invalid API key")
		}
		return nil, err
	}
	if !store.AsBool(row["active"]) || !store.AsBool(row["tenant_active"]) {
		return nil, engine.UnauthorizedError("API key is inactive")
	}
	if expires, ok := store.AsTime(row["expires_at"]); ok && time.Now().After(expires) {
		return nil, engine.UnauthorizedError("API key has expired")
	}

	access, err := parseKeyPermissions(store.AsString(row["permissions"]))
	if err != nil {
		m.logger.Warn("api key has unreadable permissions", zap.String("apiKey", store.AsString(row["id"])), zap.Error(err))
		access = map[string]metadata.EntityAccess{}
	}
	return &metadata.RequestContext{
		TenantID:     store.AsString(row["tenant_id"]),
		APIKeyID:     store.AsString(row["id"]),
		APIKeyAccess: access,
	}, nil
}

func parseKeyPermissions(raw string) (map[string]metadata.EntityAccess, error) {
	access := map[string]metadata.EntityAccess{}
	if raw == "" {
		return access, nil
	}
	if err := json.Unmarshal([]byte(raw), &access); err != nil {
		return nil, fmt.Errorf("parse api key permissions: %w", err)
	}
	return access, nil
}
