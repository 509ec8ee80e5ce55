package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Dialects with a migration set.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

//go:embed files/sqlite/*.sql files/postgres/*.sql
var migrationFiles embed.FS

// CheckDBMigrationStatus verifies that the database schema is up-to-date.
// Returns nil if the database is at the latest version.
// Returns an error describing any version mismatch or migration issues.
func CheckDBMigrationStatus(db *sql.DB, dialect string) error {
	m, err := newMigrate(db, dialect)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: that would close db, which the caller owns.

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("database has no schema version (needs migration)")
		}
		return fmt.Errorf("failed to get database version: %w", err)
	}

	if dirty {
		return fmt.Errorf("database is in dirty state at version %d (migration failed previously)", version)
	}

	sourceDriver, err := newSource(dialect)
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	defer sourceDriver.Close()

	latestVersion, err := getLatestVersion(sourceDriver)
	if err != nil {
		return fmt.Errorf("failed to determine latest version: %w", err)
	}

	if version < latestVersion {
		return fmt.Errorf("database is at version %d but latest is %d (%d migrations behind)",
			version, latestVersion, latestVersion-version)
	}

	if version > latestVersion {
		return fmt.Errorf("database version %d is ahead of binary version %d (binary needs update)",
			version, latestVersion)
	}

	return nil
}

// MigrateUp runs all pending migrations to bring database to latest version.
func MigrateUp(db *sql.DB, dialect string) error {
	m, err := newMigrate(db, dialect)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// LatestVersion returns the newest migration version shipped for dialect.
func LatestVersion(dialect string) (uint, error) {
	src, err := newSource(dialect)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	return getLatestVersion(src)
}

func newSource(dialect string) (source.Driver, error) {
	switch dialect {
	case SQLite, Postgres:
		return iofs.New(migrationFiles, "files/"+dialect)
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
}

// newMigrate creates a new migrate instance for the given database.
func newMigrate(db *sql.DB, dialect string) (*migrate.Migrate, error) {
	sourceDriver, err := newSource(dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	var (
		dbDriver   database.Driver
		driverName string
	)
	switch dialect {
	case SQLite:
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
		driverName = "sqlite3"
	case Postgres:
		dbDriver, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
		driverName = "pgx5"
	}
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, driverName, dbDriver)
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return m, nil
}

// getLatestVersion returns the highest version number available in the source.
func getLatestVersion(src source.Driver) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, err
	}

	// Next fails once there are no more migrations.
	latestVersion := version
	for {
		nextVersion, err := src.Next(latestVersion)
		if err != nil {
			break
		}
		latestVersion = nextVersion
	}

	return latestVersion, nil
}
