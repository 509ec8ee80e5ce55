package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"casefs/internal/casefs"
	"casefs/internal/database/migrations"
)

// SQLDatabase implements casefs.Database over database/sql. Queries are
// written with '?' placeholders and rebound for the dialect in use.
type SQLDatabase struct {
	db      *sql.DB
	dialect string
}

// Dialect reports which SQL dialect the store speaks.
func (s *SQLDatabase) Dialect() string { return s.dialect }

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, s.dialect)
}

// Migrate applies pending schema migrations.
func (s *SQLDatabase) Migrate() error {
	return migrations.MigrateUp(s.db, s.dialect)
}

// Close closes the underlying connection pool.
func (s *SQLDatabase) Close() error {
	return s.db.Close()
}

// rebind rewrites '?' placeholders as $1, $2, ... for Postgres.
func (s *SQLDatabase) rebind(query string) string {
	if s.dialect != migrations.Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLDatabase) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLDatabase) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLDatabase) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

// execOne runs a statement that must touch exactly one row.
func (s *SQLDatabase) execOne(ctx context.Context, what string, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return mapError(what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, casefs.ErrNotFound)
	}
	return nil
}

// count runs a single-value integer query.
func (s *SQLDatabase) count(ctx context.Context, what string, query string, args ...any) (int64, error) {
	var n int64
	if err := s.queryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return n, nil
}

// nullableEq matches column against v, treating an invalid v as NULL.
func nullableEq(column string, v sql.NullString) (string, []any) {
	if !v.Valid {
		return column + " IS NULL", nil
	}
	return column + " = ?", []any{v.String}
}

// likePattern builds a case-insensitive substring pattern for
// LOWER(col) LIKE ? ESCAPE '\'.
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(query)) + "%"
}

// mapError classifies constraint violations: duplicates and references
// that block a delete are conflicts.
func mapError(what string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: %w: %w", what, casefs.ErrConflict, err)
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503": // unique_violation, foreign_key_violation
			return fmt.Errorf("%s: %w: %w", what, casefs.ErrConflict, err)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Compile-time check that SQLDatabase implements casefs.Database
var _ casefs.Database = (*SQLDatabase)(nil)
