package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"adminpanel/internal/auth"
	"adminpanel/internal/engine"
	"adminpanel/internal/metadata"
	"adminpanel/internal/store"
	"adminpanel/internal/store/storetest"
)

type adminEnv struct {
	t        *testing.T
	store    *store.Store
	registry *metadata.Registry
	app      *fiber.App
}

func newAdminEnv(t *testing.T) *adminEnv {
	t.Helper()
	s := storetest.New(t)
	reg := metadata.NewRegistry()

	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler(zap.NewNop())})
	asRoot := func(c *fiber.Ctx) error {
		c.Locals(engine.RequestContextKey, &metadata.RequestContext{UserID: c.Get("X-Test-User"), IsSuperAdmin: c.Get("X-Test-User") == "root"})
		return c.Next()
	}
	RegisterAdminRoutes(app, NewHandler(s, reg, zap.NewNop()), asRoot, auth.RequireSuperAdmin())

	mw := auth.NewMiddleware(s, "secret", zap.NewNop())
	app.Get("/api/whoami", mw.Handler(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"data": engine.GetRequestContext(c)})
	})
	return &adminEnv{t: t, store: s, registry: reg, app: app}
}

type adminResponse struct {
	status int
	Data   json.RawMessage  `json:"data"`
	Error  *engine.AppError `json:"error"`
}

func (e *adminEnv) call(method, path string, body any) adminResponse {
	return e.callAs("root", method, path, body, nil)
}

func (e *adminEnv) callAs(user, method, path string, body any, headers map[string]string) adminResponse {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	out := adminResponse{status: resp.StatusCode}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	if len(raw) > 0 {
		require.NoError(e.t, json.Unmarshal(raw, &out), string(raw))
	}
	return out
}

func (r adminResponse) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, v))
}

func (e *adminEnv) createTenant(name, slug string) Tenant {
	e.t.Helper()
	resp := e.call("POST", "/api/_admin/tenants", map[string]string{"name": name, "slug": slug})
	require.Equal(e.t, fiber.StatusCreated, resp.status)
	var tenant Tenant
	resp.decode(e.t, &tenant)
	return tenant
}

func (e *adminEnv) createUser(email string) User {
	e.t.Helper()
	resp := e.call("POST", "/api/_admin/users", map[string]any{"email": email, "password": "long-enough"})
	require.Equal(e.t, fiber.StatusCreated, resp.status)
	var user User
	resp.decode(e.t, &user)
	return user
}

func TestAdmin_RequiresSuperAdmin(t *testing.T) {
	env := newAdminEnv(t)
	resp := env.callAs("someone", "GET", "/api/_admin/tenants", nil, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.status)
}

func TestAdmin_EntityLifecycle(t *testing.T) {
	env := newAdminEnv(t)

	resp := env.call("POST", "/api/_admin/entities", map[string]any{
		"name": "ticket", "slug": "tickets", "title": "Ticket", "prefix": "TCK", "active": true,
		"properties": []map[string]any{{"name": "subject", "title": "Subject", "type": "text", "required": true}},
		"workflowStates": []map[string]any{
			{"name": "open", "canUpdate": true, "canDelete": true},
			{"name": "closed"},
		},
		"defaultState":  "open",
		"workflowSteps": []map[string]any{{"action": "close", "fromState": "open", "toState": "closed"}},
	})
	require.Equal(t, fiber.StatusCreated, resp.status, resp.Error)
	var created metadata.Entity
	resp.decode(t, &created)
	require.NotEmpty(t, created.ID)
	assert.NotNil(t, created.GetProperty(metadata.PropertyFolio), "default properties are added")
	assert.Same(t, env.registry.GetByID(created.ID), env.registry.Resolve("any-tenant", "tickets"))

	resp = env.call("POST", "/api/_admin/entities", map[string]any{"name": "ticket", "slug": "tickets-2"})
	assert.Equal(t, fiber.StatusConflict, resp.status)

	resp = env.call("POST", "/api/_admin/entities", map[string]any{"name": "bad name", "slug": "x"})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = env.call("POST", "/api/_admin/entities", map[string]any{"name": "parent", "slug": "parents", "childEntities": []string{"ghost"}})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	// dropping a default property is rejected
	withoutFolio := map[string]any{
		"name": "ticket", "slug": "tickets", "active": true,
		"properties": []map[string]any{{"name": "subject", "type": "text"}},
	}
	resp = env.call("PUT", "/api/_admin/entities/"+created.ID, withoutFolio)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Contains(t, resp.Error.Message, "cannot be deleted")

	props := []map[string]any{}
	for _, p := range created.Properties {
		props = append(props, map[string]any{"name": p.Name, "title": p.Title, "type": p.Type, "required": p.Required})
	}
	props = append(props, map[string]any{"name": "priority", "title": "Priority", "type": "number"})
	resp = env.call("PUT", "/api/_admin/entities/"+created.ID, map[string]any{
		"name": "ticket", "slug": "issues", "active": true, "properties": props,
	})
	require.Equal(t, fiber.StatusOK, resp.status, resp.Error)
	updated := env.registry.GetByID(created.ID)
	require.NotNil(t, updated)
	assert.Equal(t, "issues", updated.Slug)
	assert.NotNil(t, updated.GetProperty("priority"))
	assert.Equal(t, created.GetProperty("subject").ID, updated.GetProperty("subject").ID, "property ids survive updates")

	resp = env.call("DELETE", "/api/_admin/entities/"+created.ID, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Nil(t, env.registry.GetByID(created.ID))

	resp = env.call("GET", "/api/_admin/entities/"+created.ID, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)
}

func TestAdmin_DeleteEntityWithRows(t *testing.T) {
	env := newAdminEnv(t)
	resp := env.call("POST", "/api/_admin/entities", map[string]any{"name": "note", "slug": "notes", "active": true})
	require.Equal(t, fiber.StatusCreated, resp.status)
	var e metadata.Entity
	resp.decode(t, &e)

	_, err := store.Exec(context.Background(), env.store.Q(),
		"INSERT INTO _rows (id, entity_id, tenant_id, folio) VALUES ($1, $2, $3, $4)", "r1", e.ID, "", 1)
	require.NoError(t, err)

	resp = env.call("DELETE", "/api/_admin/entities/"+e.ID, nil)
	assert.Equal(t, fiber.StatusConflict, resp.status)
}

func TestAdmin_TenantsUsersAndMemberships(t *testing.T) {
	env := newAdminEnv(t)
	acme := env.createTenant("Acme", "acme")
	ana := env.createUser("Ana@Example.com")
	assert.Equal(t, "ana@example.com", ana.Email)

	resp := env.call("POST", "/api/_admin/tenants", map[string]string{"name": "", "slug": "Not Valid"})
	require.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Len(t, resp.Error.Details, 2)

	resp = env.call("POST", "/api/_admin/users", map[string]any{"email": "x", "password": "short"})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = env.call("PUT", "/api/_admin/tenants/"+acme.ID+"/users/"+ana.ID, map[string]any{"roles": []string{"manager", "manager", "agent"}})
	require.Equal(t, fiber.StatusOK, resp.status)

	resp = env.call("GET", "/api/_admin/tenants/"+acme.ID+"/users", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	var members []Member
	resp.decode(t, &members)
	require.Len(t, members, 1)
	assert.Equal(t, []string{"agent", "manager"}, members[0].Roles)

	resp = env.call("PUT", "/api/_admin/tenants/"+acme.ID+"/users/ghost", map[string]any{"roles": []string{}})
	assert.Equal(t, fiber.StatusNotFound, resp.status)

	resp = env.call("PUT", "/api/_admin/tenants/"+acme.ID, map[string]any{"active": false})
	require.Equal(t, fiber.StatusOK, resp.status)
	var updated Tenant
	resp.decode(t, &updated)
	assert.False(t, updated.Active)
	assert.Equal(t, "acme", updated.Slug)

	resp = env.call("DELETE", "/api/_admin/tenants/"+acme.ID+"/users/"+ana.ID, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	resp = env.call("DELETE", "/api/_admin/tenants/"+acme.ID+"/users/"+ana.ID, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)

	resp = env.call("DELETE", "/api/_admin/users/"+ana.ID, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	resp = env.call("DELETE", "/api/_admin/tenants/"+acme.ID, nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	resp = env.call("DELETE", "/api/_admin/tenants/"+acme.ID, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)
}

func TestAdmin_PasswordChangeRevokesRefreshTokens(t *testing.T) {
	env := newAdminEnv(t)
	ana := env.createUser("ana@example.com")
	_, err := store.Exec(context.Background(), env.store.Q(),
		"INSERT INTO _refresh_tokens (id, user_id, token, expires_at) VALUES ($1, $2, $3, $4)", "rt", ana.ID, "tok", "2999-01-01")
	require.NoError(t, err)

	resp := env.call("PUT", "/api/_admin/users/"+ana.ID, map[string]any{"password": "short"})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = env.call("PUT", "/api/_admin/users/"+ana.ID, map[string]any{"password": "another-long-one", "firstName": "Ana"})
	require.Equal(t, fiber.StatusOK, resp.status)
	var u User
	resp.decode(t, &u)
	assert.Equal(t, "Ana", u.FirstName)

	row, err := store.QueryRow(context.Background(), env.store.Q(), "SELECT COUNT(*) AS n FROM _refresh_tokens WHERE user_id = $1", ana.ID)
	require.NoError(t, err)
	assert.Zero(t, store.AsInt(row["n"]))
}

func TestAdmin_Groups(t *testing.T) {
	env := newAdminEnv(t)
	acme := env.createTenant("Acme", "acme")
	ana := env.createUser("ana@example.com")
	bob := env.createUser("bob@example.com")
	require.Equal(t, fiber.StatusOK, env.call("PUT", "/api/_admin/tenants/"+acme.ID+"/users/"+ana.ID, map[string]any{}).status)

	resp := env.call("POST", "/api/_admin/tenants/"+acme.ID+"/groups", map[string]any{"name": "Sales", "color": "blue"})
	require.Equal(t, fiber.StatusCreated, resp.status)
	var g Group
	resp.decode(t, &g)

	resp = env.call("POST", "/api/_admin/tenants/"+acme.ID+"/groups", map[string]any{"name": "Sales"})
	assert.Equal(t, fiber.StatusConflict, resp.status)

	assert.Equal(t, fiber.StatusCreated, env.call("PUT", "/api/_admin/groups/"+g.ID+"/users/"+ana.ID, nil).status)
	assert.Equal(t, fiber.StatusBadRequest, env.call("PUT", "/api/_admin/groups/"+g.ID+"/users/"+bob.ID, nil).status,
		"non-members cannot join")

	resp = env.call("GET", "/api/_admin/tenants/"+acme.ID+"/groups", nil)
	var groups []Group
	resp.decode(t, &groups)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{ana.ID}, groups[0].UserIDs)

	// removing the membership also removes the tenant's group memberships
	require.Equal(t, fiber.StatusOK, env.call("DELETE", "/api/_admin/tenants/"+acme.ID+"/users/"+ana.ID, nil).status)
	assert.Equal(t, fiber.StatusNotFound, env.call("DELETE", "/api/_admin/groups/"+g.ID+"/users/"+ana.ID, nil).status)

	assert.Equal(t, fiber.StatusOK, env.call("DELETE", "/api/_admin/groups/"+g.ID, nil).status)
	assert.Equal(t, fiber.StatusNotFound, env.call("DELETE", "/api/_admin/groups/"+g.ID, nil).status)
}

func TestAdmin_LinkedTenants(t *testing.T) {
	env := newAdminEnv(t)
	acme := env.createTenant("Acme", "acme")
	globex := env.createTenant("Globex", "globex")

	resp := env.call("POST", "/api/_admin/tenants/"+acme.ID+"/links", map[string]string{"memberTenantId": globex.ID})
	require.Equal(t, fiber.StatusCreated, resp.status)
	var link Link
	resp.decode(t, &link)

	resp = env.call("POST", "/api/_admin/tenants/"+globex.ID+"/links", map[string]string{"memberTenantId": acme.ID})
	assert.Equal(t, fiber.StatusConflict, resp.status, "links are symmetric")
	resp = env.call("POST", "/api/_admin/tenants/"+acme.ID+"/links", map[string]string{"memberTenantId": acme.ID})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	resp = env.call("POST", "/api/_admin/tenants/"+acme.ID+"/links", map[string]string{"memberTenantId": "ghost"})
	assert.Equal(t, fiber.StatusNotFound, resp.status)

	resp = env.call("GET", "/api/_admin/tenants/"+globex.ID+"/links", nil)
	var links []Link
	resp.decode(t, &links)
	require.Len(t, links, 1)
	assert.Equal(t, acme.ID, links[0].CoreTenantID)

	assert.Equal(t, fiber.StatusOK, env.call("DELETE", "/api/_admin/links/"+link.ID, nil).status)
	assert.Equal(t, fiber.StatusNotFound, env.call("DELETE", "/api/_admin/links/"+link.ID, nil).status)
}

func TestAdmin_APIKeys(t *testing.T) {
	env := newAdminEnv(t)
	acme := env.createTenant("Acme", "acme")
	resp := env.call("POST", "/api/_admin/entities", map[string]any{"name": "ticket", "slug": "tickets", "active": true, "hasApi": true})
	require.Equal(t, fiber.StatusCreated, resp.status)

	resp = env.call("POST", "/api/_admin/tenants/"+acme.ID+"/api-keys", map[string]any{
		"alias": "zapier", "permissions": map[string]any{"unknown": map[string]bool{"read": true}},
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = env.call("POST", "/api/_admin/tenants/"+acme.ID+"/api-keys", map[string]any{
		"alias": "zapier", "permissions": map[string]any{"ticket": map[string]bool{"read": true, "create": true}},
	})
	require.Equal(t, fiber.StatusCreated, resp.status, resp.Error)
	var key APIKey
	resp.decode(t, &key)
	require.NotEmpty(t, key.Key)

	who := env.callAs("", "GET", "/api/whoami", nil, map[string]string{"X-Api-Key": key.Key})
	require.Equal(t, fiber.StatusOK, who.status)
	var rc metadata.RequestContext
	who.decode(t, &rc)
	assert.Equal(t, acme.ID, rc.TenantID)
	assert.Equal(t, key.ID, rc.APIKeyID)

	resp = env.call("GET", "/api/_admin/tenants/"+acme.ID+"/api-keys", nil)
	var keys []APIKey
	resp.decode(t, &keys)
	require.Len(t, keys, 1)
	assert.Empty(t, keys[0].Key, "the plaintext key is never listed")
	assert.True(t, keys[0].Permissions["ticket"].Create)

	resp = env.call("PUT", "/api/_admin/api-keys/"+key.ID, map[string]any{"active": false})
	require.Equal(t, fiber.StatusOK, resp.status)
	who = env.callAs("", "GET", "/api/whoami", nil, map[string]string{"X-Api-Key": key.Key})
	assert.Equal(t, fiber.StatusUnauthorized, who.status)

	assert.Equal(t, fiber.StatusOK, env.call("DELETE", "/api/_admin/api-keys/"+key.ID, nil).status)
	assert.Equal(t, fiber.StatusNotFound, env.call("DELETE", "/api/_admin/api-keys/"+key.ID, nil).status)
}
