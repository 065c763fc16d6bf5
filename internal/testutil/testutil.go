// Package testutil provides shared helpers for tests that need a database.
package testutil

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"stash/internal/config"
	"stash/internal/db"
)

// TestDB opens a migrated SQLite database in a temporary directory.
func TestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stash-test.db")
	gdb, err := db.Connect(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		DSN:    path + "?_busy_timeout=5000",
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}
