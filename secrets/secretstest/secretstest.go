// Package secretstest holds behavior tests shared by secrets.Store backends.
package secretstest

import (
	"context"
	"errors"
	"testing"

	"github.com/ggoodman/agentbridge/secrets"
)

// Run exercises s as a secrets.Store. Keys are prefixed with t.Name() so
// backends sharing a server do not collide.
func Run(t *testing.T, s secrets.Store) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, s) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, s) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, s) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, s) })
	t.Run("EmptyKey", func(t *testing.T) { testEmptyKey(t, s) })
}

func testSetAndGet(t *testing.T, s secrets.Store) {
	ctx := context.Background()
	key := t.Name() + "/token"

	if err := s.Set(ctx, key, "s3cr3t"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || v != "s3cr3t" {
		t.Fatalf("Get = %q, %v; want s3cr3t, true", v, ok)
	}
}

func testGetMissing(t *testing.T, s secrets.Store) {
	v, ok, err := s.Get(context.Background(), t.Name()+"/missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok || v != "" {
		t.Fatalf("Get = %q, %v; want empty, false", v, ok)
	}
}

func testOverwrite(t *testing.T, s secrets.Store) {
	ctx := context.Background()
	key := t.Name() + "/token"
	for _, v := range []string{"one", "two"} {
		if err := s.Set(ctx, key, v); err != nil {
			t.Fatalf("Set(%q): %v", v, err)
		}
	}
	v, _, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "two" {
		t.Fatalf("Get = %q, want two", v)
	}
}

func testDelete(t *testing.T, s secrets.Store) {
	ctx := context.Background()
	key := t.Name() + "/token"
	if err := s.Set(ctx, key, "x"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := s.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get after Delete = %v, %v; want false, nil", ok, err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete of missing key: %v", err)
	}
}

func testEmptyKey(t *testing.T, s secrets.Store) {
	ctx := context.Background()
	if err := s.Set(ctx, "", "x"); !errors.Is(err, secrets.ErrEmptyKey) {
		t.Fatalf("Set with empty key: %v", err)
	}
	if _, _, err := s.Get(ctx, ""); !errors.Is(err, secrets.ErrEmptyKey) {
		t.Fatalf("Get with empty key: %v", err)
	}
}
