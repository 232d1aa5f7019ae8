package sqlite

import (
	"path/filepath"
	"testing"
)

// setupTestDB creates a SQLite storage backed by a temp file. A file-backed
// database is required because tests exercise concurrent connections, which
// an in-memory database does not share.
func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()

	path := filepath.Join(t.TempDir(), "feedforward-test.db")
	db, err := New(path)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
