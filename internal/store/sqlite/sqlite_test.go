package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/everkeep/everkeep/server/internal/store"
	"github.com/everkeep/everkeep/server/internal/store/storetest"
)

func makeLiteStore(t *testing.T) store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "everkeep.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return NewWithDB(db)
}

func TestSQLiteStore_Compliance(t *testing.T) {
	storetest.Run(t, makeLiteStore)
}

func TestSQLiteStore_ClaimExclusivity(t *testing.T) {
	storetest.RunClaimExclusivity(t, makeLiteStore)
}
