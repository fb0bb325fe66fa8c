// Package testutil provides shared helpers for package tests: a throwaway
// SQLite store, a default config pointed at a temp directory, scripted
// provider clients, and canned usage records.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/allaspectsdev/gateman/internal/config"
	"github.com/allaspectsdev/gateman/internal/store"
)

// NewTestStore opens a SQLite store in a per-test temp directory.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// NewTestConfig returns the default config with its data directory moved
// into a per-test temp directory.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	cfg.Store.Path = filepath.Join(cfg.Server.DataDir, "test.db")
	return cfg
}
