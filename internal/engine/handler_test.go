package engine

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"adminpanel/internal/metadata"
)

// newTestApp wires the dynamic routes behind a middleware that reads the
// caller from the X-Test-User header ("root" acts as super admin).
func newTestApp(f *fixture) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
	h := NewHandler(f.store, f.registry, f.rows, f.workflow, f.perms, f.activity)

	auth := func(c *fiber.Ctx) error {
		user := c.Get("X-Test-User")
		if user == "" {
			return c.Next()
		}
		rc := userCtx(c.Get("X-Test-Tenant", "t1"), user)
		if roles := c.Get("X-Test-Roles"); roles != "" {
			rc.Roles = []string{roles}
		}
		rc.IsSuperAdmin = user == "root"
		c.Locals(RequestContextKey, rc)
		return c.Next()
	}
	RegisterRelationshipRoutes(app, h, auth)
	RegisterDynamicRoutes(app, h, auth)
	return app
}

type apiResponse struct {
	status int
	Data   json.RawMessage `json:"data"`
	Meta   map[string]any  `json:"meta"`
	Error  *AppError       `json:"error"`
}

func call(t *testing.T, app *fiber.App, method, path, user string, body any) apiResponse {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user, tenant, ok := strings.Cut(user, "@"); ok {
		req.Header.Set("X-Test-User", user)
		req.Header.Set("X-Test-Tenant", tenant)
	} else if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := apiResponse{status: resp.StatusCode}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return out
}

func (r apiResponse) object(t *testing.T) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(r.Data, &m))
	return m
}

func TestHandler_CreateGetUpdate(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	created := call(t, app, "POST", "/api/contracts", "owner", map[string]any{
		"values": map[string]any{"name": "Lease", "amount": 1200},
		"tags":   []string{"priority"},
	})
	require.Equal(t, fiber.StatusCreated, created.status)
	row := created.object(t)
	assert.Equal(t, "CTR-0001", row["displayId"])
	assert.Equal(t, "draft", row["workflowState"])
	id := row["id"].(string)

	got := call(t, app, "GET", "/api/contracts/"+id, "owner", nil)
	require.Equal(t, fiber.StatusOK, got.status)
	detail := got.object(t)
	values := detail["values"].(map[string]any)
	assert.Equal(t, "Lease", values["name"])
	assert.EqualValues(t, 2400, values["total"])
	perm := detail["permission"].(map[string]any)
	assert.Equal(t, true, perm["isOwner"])
	steps := detail["nextSteps"].([]any)
	require.Len(t, steps, 1)
	assert.Equal(t, "submit", steps[0].(map[string]any)["action"])

	updated := call(t, app, "PUT", "/api/contracts/"+id, "owner", map[string]any{"amount": 1300})
	require.Equal(t, fiber.StatusOK, updated.status)
	assert.EqualValues(t, 1300, updated.object(t)["values"].(map[string]any)["amount"])
}

func TestHandler_Errors(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	resp := call(t, app, "GET", "/api/contracts", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.status)

	resp = call(t, app, "GET", "/api/widgets", "owner", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNKNOWN_ENTITY", resp.Error.Code)

	resp = call(t, app, "POST", "/api/contracts", "owner", map[string]any{"amount": 5})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_FAILED", resp.Error.Code)
	require.Len(t, resp.Error.Details, 1)
	assert.Equal(t, "name", resp.Error.Details[0].Field)

	resp = call(t, app, "GET", "/api/contracts?filter[nope]=1", "owner", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Equal(t, "UNKNOWN_FIELD", resp.Error.Code)

	resp = call(t, app, "GET", "/api/contracts/missing", "owner", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestHandler_ListWithFilterAndMeta(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	for _, amount := range []int{10, 20, 30} {
		f.createContract(map[string]any{"name": "c", "amount": amount})
	}

	resp := call(t, app, "GET", "/api/contracts?filter[amount.gt]=15&perPage=1", "owner", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	var data []map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Len(t, data, 1)
	assert.EqualValues(t, 2, resp.Meta["total"])
	assert.EqualValues(t, 1, resp.Meta["perPage"])
}

func TestHandler_TransitionsAndState(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	row := f.createContract(map[string]any{"name": "Deal", "amount": 10})
	path := "/api/contracts/" + row.ID

	resp := call(t, app, "POST", path+"/transitions", "owner", map[string]any{"action": "submit"})
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, "review", resp.object(t)["transition"].(map[string]any)["toState"])

	resp = call(t, app, "POST", path+"/transitions", "owner", map[string]any{"action": "submit"})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Equal(t, "TRANSITION_NOT_ALLOWED", resp.Error.Code)

	resp = call(t, app, "PUT", path+"/state", "owner", map[string]any{"state": "signed"})
	assert.Equal(t, fiber.StatusForbidden, resp.status)

	resp = call(t, app, "PUT", path+"/state", "root", map[string]any{"state": "signed"})
	require.Equal(t, fiber.StatusOK, resp.status)

	resp = call(t, app, "GET", path+"/transitions", "owner", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	view := resp.object(t)
	assert.Equal(t, "signed", view["state"])
	assert.Equal(t, true, view["terminal"])

	resp = call(t, app, "PUT", path, "owner", map[string]any{"name": "Too late"})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)
	assert.Equal(t, "STATE_LOCKED", resp.Error.Code)
}

func TestHandler_SharingIsOwnerOnly(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	row := f.createContract(map[string]any{"name": "Shared"})
	path := "/api/contracts/" + row.ID + "/permissions"

	resp := call(t, app, "POST", path, "owner", map[string]any{"subjectType": "user", "subjectId": "alice", "access": "view"})
	require.Equal(t, fiber.StatusCreated, resp.status)
	grantID := resp.object(t)["id"].(string)

	resp = call(t, app, "GET", path+"/me", "alice", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, "view", resp.object(t)["access"])

	resp = call(t, app, "POST", path, "alice", map[string]any{"subjectType": "public", "access": "full"})
	assert.Equal(t, fiber.StatusForbidden, resp.status)

	resp = call(t, app, "PUT", path+"/"+grantID, "owner", map[string]any{"access": "bogus"})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = call(t, app, "DELETE", path+"/"+grantID, "owner", nil)
	require.Equal(t, fiber.StatusOK, resp.status)

	resp = call(t, app, "GET", path+"/me", "alice", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)
}

func TestHandler_TasksAndTags(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	row := f.createContract(map[string]any{"name": "Busy"})
	path := "/api/contracts/" + row.ID

	resp := call(t, app, "POST", path+"/tasks", "owner", map[string]any{"title": "Review clause 4"})
	require.Equal(t, fiber.StatusCreated, resp.status)
	taskID := resp.object(t)["id"].(string)

	resp = call(t, app, "POST", path+"/tasks/"+taskID+"/toggle", "owner", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	task := resp.object(t)
	assert.Equal(t, true, task["completed"])
	assert.Equal(t, "owner", task["completedByUserId"])

	resp = call(t, app, "POST", path+"/tasks", "owner", map[string]any{"title": " "})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = call(t, app, "POST", path+"/tags", "owner", map[string]any{"value": "q3"})
	require.Equal(t, fiber.StatusCreated, resp.status)
	resp = call(t, app, "POST", path+"/tags", "owner", map[string]any{"value": "q3"})
	assert.Equal(t, fiber.StatusConflict, resp.status)
}

func TestHandler_RelationshipsAndIncludes(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	parent := f.createContract(map[string]any{"name": "Master"})
	child, err := f.rows.Create(f.ctx, userCtx("t1", "owner"), f.annex, RowInput{Values: map[string]any{"name": "Annex A"}})
	require.NoError(t, err)

	resp := call(t, app, "POST", "/api/relationships", "owner", map[string]any{"parentId": parent.ID, "childId": child.ID})
	require.Equal(t, fiber.StatusCreated, resp.status)

	// annex does not accept contract children
	resp = call(t, app, "POST", "/api/relationships", "owner", map[string]any{"parentId": child.ID, "childId": parent.ID})
	assert.Equal(t, fiber.StatusBadRequest, resp.status)

	resp = call(t, app, "GET", "/api/relationships?parentId="+parent.ID, "owner", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	var links []map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &links))
	require.Len(t, links, 1)
	assert.Equal(t, child.ID, links[0]["childId"])

	resp = call(t, app, "GET", "/api/contracts/"+parent.ID+"?include=children", "owner", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	children := resp.object(t)["children"].([]any)
	require.Len(t, children, 1)
	assert.Equal(t, "ANX-0001", children[0].(map[string]any)["displayId"])
}

func TestHandler_InactiveEntityHidden(t *testing.T) {
	f := newFixture(t)
	hidden := f.addEntity(&metadata.Entity{
		Name: "draftEntity", Slug: "drafts", Title: "Draft", Active: false,
		Properties: []metadata.Property{{Name: "name", Type: metadata.TypeText}},
	})
	require.False(t, hidden.Active)
	app := newTestApp(f)

	assert.Equal(t, fiber.StatusNotFound, call(t, app, "GET", "/api/drafts", "owner", nil).status)
	assert.Equal(t, fiber.StatusOK, call(t, app, "GET", "/api/drafts", "root", nil).status)
}

func TestHandler_SharedRowReachableFromLinkedTenant(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	deal := f.addEntity(&metadata.Entity{
		TenantID: "t1", Name: "deal", Slug: "deals", Title: "Deal", Prefix: "DL", HasAPI: true, Active: true,
		Properties: []metadata.Property{
			{Name: "name", Title: "Name", Type: metadata.TypeText, Required: true},
		},
	})
	row, err := f.rows.Create(f.ctx, userCtx("t1", "owner"), deal, RowInput{Values: map[string]any{"name": "Merger"}})
	require.NoError(t, err)

	resp := call(t, app, "GET", "/api/deals/"+row.ID, "bob@t2", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.status)
	assert.Equal(t, "UNKNOWN_ENTITY", resp.Error.Code)

	f.exec("INSERT INTO _linked_tenants (id, core_tenant_id, member_tenant_id) VALUES ($1, $2, $3)", "l1", "t1", "t2")
	_, err = f.perms.Share(f.ctx, row, SubjectTenant, "t2", AccessView)
	require.NoError(t, err)

	resp = call(t, app, "GET", "/api/deals/"+row.ID, "bob@t2", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	assert.Equal(t, "Merger", resp.object(t)["values"].(map[string]any)["name"])

	resp = call(t, app, "GET", "/api/deals", "bob@t2", nil)
	require.Equal(t, fiber.StatusOK, resp.status)
	var data []map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Len(t, data, 1)

	resp = call(t, app, "PUT", "/api/deals/"+row.ID, "bob@t2", map[string]any{"name": "Takeover"})
	assert.Equal(t, fiber.StatusForbidden, resp.status, "view access cannot update")

	resp = call(t, app, "POST", "/api/deals", "bob@t2", map[string]any{"name": "Own deal"})
	assert.Equal(t, fiber.StatusForbidden, resp.status)
}
