package database

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Config contains database connection options.
type Config struct {
	Driver   string
	Path     string // SQLite database path when Driver == sqlite
	DSN      string // Optional DSN override
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	Options  map[string]string
}

// Open initialises a gorm.DB using the provided configuration.
func Open(cfg Config) (*gorm.DB, error) {
	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = "sqlite"
	}

	switch driver {
	case "sqlite":
		return openSQLite(cfg)
	case "postgres", "postgresql":
		return openPostgres(cfg)
	case "mysql":
		return openMySQL(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenOffline initialises the dedicated offline store. The offline database
// is always SQLite so the till keeps working when the network is down.
func OpenOffline(path string) (*gorm.DB, error) {
	db, err := openSQLite(Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("open offline store: %w", err)
	}

	if err := MigrateOffline(db); err != nil {
		return nil, fmt.Errorf("migrate offline store: %w", err)
	}

	return db, nil
}
