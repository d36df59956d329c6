package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RoleDirectory resolves the users behind a tenant-wide send.
type RoleDirectory interface {
	UsersWithRoles(ctx context.Context, tenantID string, roles []string) ([]Recipient, error)
	User(ctx context.Context, userID string) (Recipient, error)
}

// NovuProvider triggers Novu workflows over the events API.
type NovuProvider struct {
	baseURL   string
	apiKey    string
	client    *http.Client
	directory RoleDirectory
}

func NewNovuProvider(baseURL, apiKey string, timeout time.Duration, directory RoleDirectory) *NovuProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NovuProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		client:    &http.Client{Timeout: timeout},
		directory: directory,
	}
}

type triggerRequest struct {
	Name    string         `json:"name"`
	To      any            `json:"to"`
	Payload map[string]any `json:"payload"`
	Tenant  string         `json:"tenant,omitempty"`
}

func (p *NovuProvider) Send(ctx context.Context, channel string, to Recipient, n Notification) error {
	return p.trigger(ctx, triggerRequest{Name: channel, To: to, Payload: payloadOf(n)})
}

func (p *NovuProvider) SendToRoles(ctx context.Context, channel, tenantID string, n Notification) error {
	recipients, err := p.directory.UsersWithRoles(ctx, tenantID, n.Roles)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil
	}
	return p.trigger(ctx, triggerRequest{Name: channel, To: recipients, Payload: payloadOf(n), Tenant: tenantID})
}

func payloadOf(n Notification) map[string]any {
	payload := make(map[string]any, len(n.Payload)+3)
	for k, v := range n.Payload {
		payload[k] = v
	}
	payload["title"] = n.Title
	if n.Body != "" {
		payload["body"] = n.Body
	}
	if n.URL != "" {
		payload["url"] = n.URL
	}
	return payload
}

func (p *NovuProvider) trigger(ctx context.Context, body triggerRequest) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/events/trigger", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "ApiKey "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("novu trigger %s: HTTP %d: %s", body.Name, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
