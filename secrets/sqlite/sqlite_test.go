package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ggoodman/agentbridge/secrets/secretstest"
)

func TestSQLiteStore(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "secrets.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	secretstest.Run(t, s)
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set(ctx, "api-key", "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	v, ok, err := s.Get(ctx, "api-key")
	if err != nil || !ok || v != "abc" {
		t.Fatalf("Get = %q, %v, %v; want abc, true, nil", v, ok, err)
	}
}
