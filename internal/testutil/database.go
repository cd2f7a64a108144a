package testutil

import (
	"testing"

	"tripsync/internal/database"
)

// NewTestDatabase creates a new in-memory SQLite database with migrations
// applied. The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// NewFileTestDatabase opens a file-backed database at path, for tests that
// close and reopen it to simulate an app restart. The caller closes it.
func NewFileTestDatabase(t *testing.T, path string) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(path)
	if err != nil {
		t.Fatalf("failed to open database %s: %v", path, err)
	}
	return db
}
