package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tkarlsen/mealcard/internal/database"
)

// MustOpenTestDB opens an in-memory SQLite database with the primary schema
// applied. The connection is closed via t.Cleanup.
func MustOpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db := openMemoryDB(t)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

// MustOpenOfflineTestDB opens an in-memory SQLite database with the offline
// schema (card mirror + pending queue) applied.
func MustOpenOfflineTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db := openMemoryDB(t)
	require.NoError(t, database.MigrateOffline(db))
	return db
}

func openMemoryDB(t *testing.T) *gorm.DB {
	t.Helper()

	// A named shared-cache DSN keeps every pooled connection on the same
	// in-memory database while isolating tests from each other.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := database.Open(database.Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)

	closeOnCleanup(t, db)
	return db
}

func closeOnCleanup(t *testing.T, db *gorm.DB) {
	t.Helper()

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
}
