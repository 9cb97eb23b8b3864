package database

import (
	"gorm.io/gorm"

	"github.com/tkarlsen/mealcard/internal/models"
)

// AutoMigrate creates or updates the primary database schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Student{},
		&models.Card{},
		&models.MenuItem{},
		&models.Transaction{},
		&models.TransactionItem{},
		&models.Operator{},
		&models.AuditLog{},
	)
}

// MigrateOffline creates or updates the offline store schema. The offline
// database holds only the card mirror and the pending-operation queue so it
// stays small and writable when the primary store is unreachable.
func MigrateOffline(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.CachedCard{},
		&models.PendingOperation{},
	)
}
