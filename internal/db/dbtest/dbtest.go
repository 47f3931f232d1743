// Package dbtest provides migrated SQLite databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/Simplici0/epackage/internal/db"
	"github.com/Simplici0/epackage/internal/migrations"
)

// New opens a fresh database file in a temporary directory and migrates it.
func New(t testing.TB) *sql.DB {
	t.Helper()

	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	if err := migrations.Up(context.Background(), database); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return database
}
