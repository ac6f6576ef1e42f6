// Package testutil provides shared test helpers for setting up vaults and
// the index stack.
package testutil

import (
	"log/slog"
	"os"
	"testing"

	"github.com/mjelva/kbase/internal/index"
	"github.com/mjelva/kbase/internal/noteservice"
	"github.com/mjelva/kbase/internal/vault"
	"github.com/mjelva/kbase/internal/vaultpath"
)

// Logger returns a quiet slog logger suitable for tests.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestVault creates a temporary vault directory with a resolver and provider.
func TestVault(t *testing.T) (string, *vaultpath.Resolver, vault.Provider) {
	t.Helper()
	dir := t.TempDir()
	resolver, err := vaultpath.NewResolver(dir)
	if err != nil {
		t.Fatal(err)
	}
	store, err := vault.NewFS(resolver)
	if err != nil {
		t.Fatal(err)
	}
	return dir, resolver, store
}

// TestService wires a full service stack over a temporary vault.
func TestService(t *testing.T) (*noteservice.Service, string) {
	t.Helper()
	dir, resolver, store := TestVault(t)
	logger := Logger()

	scanner := index.NewScanner(resolver, []string{".git"}, logger)
	idx := index.NewStore()
	detector := index.NewDetector(idx, scanner, nil, logger)
	if _, err := detector.RebuildIfStale(); err != nil {
		t.Fatal(err)
	}
	return noteservice.NewService(store, idx, scanner, detector, logger), dir
}
