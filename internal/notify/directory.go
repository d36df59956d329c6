package notify

import (
	"context"
	"fmt"

	"adminpanel/internal/store"
)

// StoreDirectory resolves recipients from tenant memberships and roles.
type StoreDirectory struct {
	store *store.Store
}

func NewStoreDirectory(s *store.Store) *StoreDirectory {
	return &StoreDirectory{store: s}
}

func (d *StoreDirectory) User(ctx context.Context, userID string) (Recipient, error) {
	row, err := store.QueryRow(ctx, d.store.Q(),
		"SELECT id, email, first_name, last_name FROM _users WHERE id = $1", userID)
	if err != nil {
		return Recipient{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return recipientOf(row), nil
}

func (d *StoreDirectory) UsersWithRoles(ctx context.Context, tenantID string, roles []string) ([]Recipient, error) {
	pb := d.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`SELECT u.id, u.email, u.first_name, u.last_name FROM _users u
		JOIN _tenant_users tu ON tu.user_id = u.id AND tu.tenant_id = %s
		WHERE u.active = %s`, pb.Add(tenantID), pb.Add(true))
	if len(roles) > 0 {
		query += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM _user_roles ur WHERE ur.user_id = u.id AND ur.tenant_id = tu.tenant_id AND %s)",
			d.store.Dialect.InExpr("ur.role", pb, roles))
	}
	query += " ORDER BY u.email"

	rows, err := store.QueryRows(ctx, d.store.Q(), query, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list tenant users: %w", err)
	}
	recipients := make([]Recipient, 0, len(rows))
	for _, row := range rows {
		recipients = append(recipients, recipientOf(row))
	}
	return recipients, nil
}

func recipientOf(row map[string]any) Recipient {
	return Recipient{
		UserID:    store.AsString(row["id"]),
		Email:     store.AsString(row["email"]),
		FirstName: store.AsString(row["first_name"]),
		LastName:  store.AsString(row["last_name"]),
	}
}
