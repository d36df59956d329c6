// Package storetest provides an in-memory SQLite store bootstrapped with
// the production schema for package tests.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"adminpanel/internal/config"
	"adminpanel/internal/store"
)

// New returns a fresh store. It is closed when the test ends.
func New(t testing.TB) *store.Store {
	t.Helper()
	ctx := context.Background()

	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Bootstrap(ctx, "", ""))
	return s
}
