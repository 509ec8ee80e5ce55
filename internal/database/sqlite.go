package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"casefs/internal/database/migrations"
)

// NewSQLiteDatabase opens a SQLite-backed store.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteDatabase(path string) (*SQLDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLDatabase{db: db, dialect: migrations.SQLite}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing SQLite connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLDatabase {
	return &SQLDatabase{db: db, dialect: migrations.SQLite}
}

// OpenConnection opens and configures a SQLite connection.
// This is exported for tests that need a properly configured SQLite handle.
// path can be a file path or ":memory:" for an in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	// Foreign keys are off by default in SQLite; setting them in the DSN
	// applies them to every connection the pool opens.
	dsn := path + "?_foreign_keys=on&_busy_timeout=5000"
	if strings.Contains(path, "?") {
		dsn = path + "&_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; an in-memory database also exists only on the
	// connection that created it.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}
