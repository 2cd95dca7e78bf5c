// Package storage opens the relational database shared by the job ledger and
// the per-user credential table, and keeps its schema up to date.
package storage

import (
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Supported values for DB_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the database selected by driver, applies connection
// settings for that dialect and runs any pending migrations.
func Open(driver, dsn string) (*sqlx.DB, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "":
		return openSQLite(dsn)
	case DriverPostgres, "pgx":
		return openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q (use sqlite or postgres)", driver)
	}
}

func openSQLite(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection keeps ":memory:" databases shared and serializes
	// writers, so concurrent claims never see SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	if err := migrate(db, DriverSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func openPostgres(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := migrate(db, DriverPostgres); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// migrate checks the current schema version and applies any outstanding
// migrations for the dialect in order.
func migrate(db *sqlx.DB, dialect string) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		for _, stmt := range splitStatements(m.render(dialect)) {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := db.Exec(db.Rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
