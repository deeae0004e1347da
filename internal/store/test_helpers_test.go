package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/stablecall/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestProxy registers a proxy so slot rows satisfy the foreign key.
func createTestProxy(t *testing.T, s *Store, address ir.Address) {
	t.Helper()
	err := s.Update(context.Background(), func(tx *Tx) error {
		return tx.CreateProxy(context.Background(), address, "deployer")
	})
	if err != nil {
		t.Fatalf("CreateProxy() failed: %v", err)
	}
}

// createTestSpec returns a minimal native module spec.
func createTestSpec(name string, version int64) ir.ModuleSpec {
	return ir.ModuleSpec{
		Name:        name,
		Version:     version,
		Runtime:     ir.RuntimeNative,
		Layout:      []ir.Field{{Name: "value", Type: ir.FieldInt}},
		EntryPoints: []string{"initialize", "value", "version"},
	}
}
