package database

import (
	"fmt"
	"os"
	"path/filepath"

	"casefs/internal/config"
)

// DatabaseFileName is the SQLite file created under data_dir.
const DatabaseFileName = "casefs.db"

// NewDatabaseFromConfig creates a store based on the database config type.
// Memory databases are always migrated; file and server databases only when
// AutoMigrate is set.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (*SQLDatabase, error) {
	var (
		db  *SQLDatabase
		err error
	)
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		db, err = NewSQLiteDatabase(filepath.Join(cfg.DataDir, DatabaseFileName))
	case "memory":
		db, err = NewSQLiteDatabase(":memory:")
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		db, err = NewPostgresDatabase(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate || cfg.Type == "memory" {
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
	}
	return db, nil
}
