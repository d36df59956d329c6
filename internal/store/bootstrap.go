package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Bootstrap creates the system tables and seeds the platform super admin.
func (s *Store) Bootstrap(ctx context.Context, adminEmail, adminPassword string) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.SystemTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	if adminEmail == "" {
		return nil
	}
	if err := s.seedAdminUser(ctx, adminEmail, adminPassword); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

func (s *Store) seedAdminUser(ctx context.Context, email, password string) error {
	row, err := QueryRow(ctx, s.Q(), "SELECT COUNT(*) AS n FROM _users WHERE is_super_admin = $1", true)
	if err != nil {
		return err
	}
	if AsInt(row["n"]) > 0 {
		return nil
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = Exec(ctx, s.Q(),
		`INSERT INTO _users (id, email, password_hash, is_super_admin) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), strings.ToLower(strings.TrimSpace(email)), string(hashBytes), true,
	)
	if err != nil {
		return err
	}

	s.logger.Warn("default super admin created, change the password immediately", zap.String("email", email))
	return nil
}
