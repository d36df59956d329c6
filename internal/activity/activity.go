// Package activity records what happened to rows: creation, updates,
// deletion, workflow moves and sharing changes.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"adminpanel/internal/store"
)

// Actions recorded against a row.
const (
	ActionCreated    = "created"
	ActionUpdated    = "updated"
	ActionDeleted    = "deleted"
	ActionTransition = "transition"
	ActionStateSet   = "stateSet"
	ActionShared     = "shared"
	ActionUnshared   = "unshared"
	ActionImported   = "imported"
)

// Entry is one row log line.
type Entry struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenantId"`
	EntityID  string         `json:"entityId"`
	RowID     string         `json:"rowId"`
	Action    string         `json:"action"`
	UserID    string         `json:"userId,omitempty"`
	APIKeyID  string         `json:"apiKeyId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Recorder accepts entries. Implementations never block the caller on I/O.
type Recorder interface {
	Record(e Entry)
}

// Noop discards entries. Used when activity logging is disabled.
type Noop struct{}

func (Noop) Record(Entry) {}

// List returns a row's log, newest first.
func List(ctx context.Context, s *store.Store, rowID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := store.QueryRows(ctx, s.Q(),
		`SELECT id, tenant_id, entity_id, row_id, action, user_id, api_key_id, details, created_at
		 FROM _row_logs WHERE row_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, rowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list row logs: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e := Entry{
			ID:       store.AsString(r["id"]),
			TenantID: store.AsString(r["tenant_id"]),
			EntityID: store.AsString(r["entity_id"]),
			RowID:    store.AsString(r["row_id"]),
			Action:   store.AsString(r["action"]),
			UserID:   store.AsString(r["user_id"]),
			APIKeyID: store.AsString(r["api_key_id"]),
		}
		e.CreatedAt, _ = store.AsTime(r["created_at"])
		if d := store.AsString(r["details"]); d != "" {
			_ = json.Unmarshal([]byte(d), &e.Details)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
