package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"adminpanel/internal/store"
	"adminpanel/internal/store/storetest"
)

type staticDirectory struct {
	users []Recipient
}

func (d staticDirectory) UsersWithRoles(context.Context, string, []string) ([]Recipient, error) {
	return d.users, nil
}

func (d staticDirectory) User(_ context.Context, id string) (Recipient, error) {
	for _, u := range d.users {
		if u.UserID == id {
			return u, nil
		}
	}
	return Recipient{}, errors.New("not found")
}

func TestNovuProvider_Send(t *testing.T) {
	var got triggerRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events/trigger", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := NewNovuProvider(srv.URL+"/", "secret", time.Second, staticDirectory{})
	err := p.Send(context.Background(), "row-transition", Recipient{UserID: "u1", Email: "a@b.c"},
		Notification{Title: "Contract signed", Payload: map[string]any{"rowId": "r1"}})
	require.NoError(t, err)

	assert.Equal(t, "ApiKey secret", auth)
	assert.Equal(t, "row-transition", got.Name)
	assert.Equal(t, "u1", got.To.(map[string]any)["subscriberId"])
	assert.Equal(t, "Contract signed", got.Payload["title"])
	assert.Equal(t, "r1", got.Payload["rowId"])
}

func TestNovuProvider_SendToRoles(t *testing.T) {
	var got triggerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	dir := staticDirectory{users: []Recipient{{UserID: "u1"}, {UserID: "u2"}}}
	p := NewNovuProvider(srv.URL, "k", time.Second, dir)
	require.NoError(t, p.SendToRoles(context.Background(), "digest", "t1", Notification{Title: "x", Roles: []string{"admin"}}))

	assert.Equal(t, "t1", got.Tenant)
	assert.Len(t, got.To.([]any), 2)
}

func TestNovuProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewNovuProvider(srv.URL, "k", time.Second, staticDirectory{})
	err := p.Send(context.Background(), "c", Recipient{UserID: "u1"}, Notification{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

type recordingProvider struct {
	mu    sync.Mutex
	sent  []Recipient
	roles []string
	fail  bool
	block chan struct{}
}

func (p *recordingProvider) Send(_ context.Context, _ string, to Recipient, _ Notification) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, to)
	if p.fail {
		return errors.New("provider down")
	}
	return nil
}

func (p *recordingProvider) SendToRoles(_ context.Context, _ string, tenantID string, _ Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roles = append(p.roles, tenantID)
	return nil
}

func TestQueue_DeliversAndEnrichesRecipient(t *testing.T) {
	prov := &recordingProvider{fail: true}
	dir := staticDirectory{users: []Recipient{{UserID: "u1", Email: "u1@example.com"}}}
	q := NewQueue(prov, dir, zap.NewNop(), 4, time.Second)
	q.Start()

	assert.True(t, q.Publish(Message{Channel: "c", Recipient: &Recipient{UserID: "u1"}}))
	assert.True(t, q.Publish(Message{Channel: "c", TenantID: "t1"}))
	q.Stop()

	require.Len(t, prov.sent, 1)
	assert.Equal(t, "u1@example.com", prov.sent[0].Email)
	assert.Equal(t, []string{"t1"}, prov.roles)

	// publishing after stop is rejected, not a panic
	assert.False(t, q.Publish(Message{Channel: "c"}))
}

func TestQueue_FullQueueDrops(t *testing.T) {
	prov := &recordingProvider{block: make(chan struct{})}
	q := NewQueue(prov, nil, zap.NewNop(), 1, time.Second)
	q.Start()

	msg := Message{Channel: "c", Recipient: &Recipient{UserID: "u1", Email: "x@y.z"}}
	require.True(t, q.Publish(msg))
	// the worker holds the first message, the second fills the buffer
	require.Eventually(t, func() bool { return q.Publish(msg) }, time.Second, 5*time.Millisecond)
	assert.False(t, q.Publish(msg))

	close(prov.block)
	q.Stop()
	assert.Len(t, prov.sent, 2)
}

func TestStoreDirectory(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	q := s.Q()

	exec := func(sql string, args ...any) {
		_, err := store.Exec(ctx, q, sql, args...)
		require.NoError(t, err)
	}
	exec("INSERT INTO _tenants (id, name, slug) VALUES ($1, $2, $3)", "t1", "Acme", "acme")
	exec("INSERT INTO _users (id, email, password_hash) VALUES ($1, $2, $3)", "u1", "a@acme.io", "x")
	exec("INSERT INTO _users (id, email, password_hash) VALUES ($1, $2, $3)", "u2", "b@acme.io", "x")
	exec("INSERT INTO _tenant_users (tenant_id, user_id) VALUES ($1, $2)", "t1", "u1")
	exec("INSERT INTO _tenant_users (tenant_id, user_id) VALUES ($1, $2)", "t1", "u2")
	exec("INSERT INTO _user_roles (tenant_id, user_id, role) VALUES ($1, $2, $3)", "t1", "u2", "approver")

	dir := NewStoreDirectory(s)

	all, err := dir.UsersWithRoles(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	approvers, err := dir.UsersWithRoles(ctx, "t1", []string{"approver"})
	require.NoError(t, err)
	require.Len(t, approvers, 1)
	assert.Equal(t, "b@acme.io", approvers[0].Email)

	u, err := dir.User(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@acme.io", u.Email)
}
