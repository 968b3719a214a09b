package testutil

import (
	"path/filepath"
	"testing"

	"integrity-go/internal/database"
)

// NewTestLedger creates a new in-memory ledger with the schema applied.
// The ledger is automatically closed when the test completes.
func NewTestLedger(t *testing.T) *database.SQLiteLedger {
	t.Helper()
	return newLedger(t, ":memory:")
}

// NewFileLedger creates a migrated ledger backed by a file in a temporary
// directory, for tests that need several connections.
func NewFileLedger(t *testing.T) *database.SQLiteLedger {
	t.Helper()
	return newLedger(t, filepath.Join(t.TempDir(), "ledger.db"))
}

func newLedger(t *testing.T, path string) *database.SQLiteLedger {
	t.Helper()

	l, err := database.NewSQLiteLedger(path)
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	if err := l.Migrate(); err != nil {
		l.Close()
		t.Fatalf("failed to migrate ledger: %v", err)
	}

	t.Cleanup(func() {
		l.Close()
	})

	return l
}
