package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"adminpanel/internal/activity"
	"adminpanel/internal/metadata"
	"adminpanel/internal/notify"
	"adminpanel/internal/store"
	"adminpanel/internal/store/storetest"
)

// recordingActivity keeps entries in memory.
type recordingActivity struct {
	mu      sync.Mutex
	entries []activity.Entry
}

func (r *recordingActivity) Record(e activity.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingActivity) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

// recordingPublisher keeps messages in memory. With drop set it rejects everything.
type recordingPublisher struct {
	mu       sync.Mutex
	messages []notify.Message
	drop     bool
}

func (p *recordingPublisher) Publish(msg notify.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drop {
		return false
	}
	p.messages = append(p.messages, msg)
	return true
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *store.Store
	registry  *metadata.Registry
	activity  *recordingActivity
	publisher *recordingPublisher
	perms     *PermissionService
	rows      *RowService
	workflow  *WorkflowEngine
	contract  *metadata.Entity
	annex     *metadata.Entity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := storetest.New(t)
	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		store:     s,
		registry:  metadata.NewRegistry(),
		activity:  &recordingActivity{},
		publisher: &recordingPublisher{},
	}
	f.perms = NewPermissionService(s)
	f.rows = NewRowService(s, f.perms, f.activity, zap.NewNop())
	f.workflow = NewWorkflowEngine(s, NewExprLangEvaluator(), f.publisher, f.activity, "row-state-changed", zap.NewNop())

	f.exec("INSERT INTO _tenants (id, name, slug) VALUES ($1, $2, $3)", "t1", "Acme", "acme")
	f.exec("INSERT INTO _tenants (id, name, slug) VALUES ($1, $2, $3)", "t2", "Globex", "globex")
	for _, u := range []string{"owner", "alice", "bob", "root"} {
		f.exec("INSERT INTO _users (id, email, password_hash, is_super_admin) VALUES ($1, $2, $3, $4)",
			u, u+"@example.com", "x", u == "root")
	}
	f.exec("INSERT INTO _tenant_users (tenant_id, user_id) VALUES ($1, $2)", "t1", "owner")
	f.exec("INSERT INTO _tenant_users (tenant_id, user_id) VALUES ($1, $2)", "t1", "alice")
	f.exec("INSERT INTO _tenant_users (tenant_id, user_id) VALUES ($1, $2)", "t2", "bob")

	f.annex = f.addEntity(&metadata.Entity{
		Name: "annex", Slug: "annexes", Title: "Annex", Prefix: "ANX", HasAPI: true, Active: true,
		Properties: []metadata.Property{
			{Name: "name", Title: "Name", Type: metadata.TypeText, Required: true},
		},
	})
	minAmount := 0.0
	f.contract = f.addEntity(&metadata.Entity{
		Name: "contract", Slug: "contracts", Title: "Contract", Prefix: "CTR", HasAPI: true, Active: true,
		DefaultState:  "draft",
		ChildEntities: []string{"annex"},
		Properties: []metadata.Property{
			{Name: "name", Title: "Name", Type: metadata.TypeText, Required: true},
			{Name: "amount", Title: "Amount", Type: metadata.TypeNumber, Format: metadata.FormatCurrency,
				Attributes: metadata.PropertyAttributes{Min: &minAmount}},
			{Name: "signedOn", Title: "Signed on", Type: metadata.TypeDate},
			{Name: "active", Title: "Active", Type: metadata.TypeBoolean},
			{Name: "status", Title: "Status", Type: metadata.TypeSelect, Options: []metadata.PropertyOption{
				{Value: "new", Name: "New"}, {Value: "open", Name: "Open"},
			}},
			{Name: "labels", Title: "Labels", Type: metadata.TypeMultiSelect, Options: []metadata.PropertyOption{
				{Value: "urgent"}, {Value: "legal"}, {Value: "sales"},
			}},
			{Name: "files", Title: "Files", Type: metadata.TypeMedia},
			{Name: "budget", Title: "Budget", Type: metadata.TypeRange, Subtype: metadata.SubtypeRangeNumber},
			{Name: "term", Title: "Term", Type: metadata.TypeRange, Subtype: metadata.SubtypeRangeDate},
			{Name: "total", Title: "Total", Type: metadata.TypeFormula, Formula: "amount * 2"},
		},
		States: []metadata.WorkflowState{
			{Name: "draft", Title: "Draft", CanUpdate: true, CanDelete: true},
			{Name: "review", Title: "In review", CanUpdate: true},
			{Name: "signed", Title: "Signed"},
		},
		Steps: []metadata.WorkflowStep{
			{Action: "submit", FromState: "draft", ToState: "review", Guard: "amount != nil && amount > 0"},
			{Action: "sign", FromState: "review", ToState: "signed", Roles: []string{"signer"}},
			{Action: "reopen", FromState: "review", ToState: "draft"},
		},
	})
	return f
}

func (f *fixture) exec(sql string, args ...any) {
	f.t.Helper()
	_, err := store.Exec(f.ctx, f.store.Q(), sql, args...)
	require.NoError(f.t, err)
}

// addEntity prepares, stores and registers an entity definition.
func (f *fixture) addEntity(e *metadata.Entity) *metadata.Entity {
	f.t.Helper()
	e.ID = e.Name + "-id"
	metadata.PrepareEntity(e, nil)
	require.NoError(f.t, metadata.ValidateEntity(e))
	def, err := json.Marshal(e)
	require.NoError(f.t, err)
	f.exec("INSERT INTO _entities (id, tenant_id, name, slug, definition) VALUES ($1, $2, $3, $4, $5)",
		e.ID, e.TenantID, e.Name, e.Slug, string(def))
	f.registry.Load(append(f.registry.All(), e))
	return e
}

func userCtx(tenantID, userID string, roles ...string) *metadata.RequestContext {
	return &metadata.RequestContext{TenantID: tenantID, UserID: userID, Roles: roles}
}

func superAdminCtx() *metadata.RequestContext {
	return &metadata.RequestContext{TenantID: "t1", UserID: "root", IsSuperAdmin: true}
}

// createContract creates a contract as owner in t1.
func (f *fixture) createContract(values map[string]any) *Row {
	f.t.Helper()
	row, err := f.rows.Create(f.ctx, userCtx("t1", "owner"), f.contract, RowInput{Values: values})
	require.NoError(f.t, err)
	return row
}

func (f *fixture) countRows(table, rowID string) int64 {
	f.t.Helper()
	rec, err := store.QueryRow(f.ctx, f.store.Q(), "SELECT COUNT(*) AS n FROM "+table+" WHERE row_id = $1", rowID)
	require.NoError(f.t, err)
	return store.AsInt(rec["n"])
}
