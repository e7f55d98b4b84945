package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// applyMigrations brings the schema up to the latest embedded migration for the
// connection's dialect.
func applyMigrations(db *DB) error {
	var (
		driver database.Driver
		err    error
	)
	switch db.driver {
	case DriverSQLite:
		driver, err = sqlite.WithInstance(db.conn, &sqlite.Config{})
	case DriverPostgres:
		driver, err = postgres.WithInstance(db.conn, &postgres.Config{})
	default:
		return fmt.Errorf("no migrations for driver %q", db.driver)
	}
	if err != nil {
		return fmt.Errorf("creating %s migration driver: %w", db.driver, err)
	}

	source, err := iofs.New(migrationFS, "migrations/"+db.driver)
	if err != nil {
		return fmt.Errorf("creating iofs source: %w", err)
	}

	// The migrate instance is not closed: closing it would close db.conn.
	m, err := migrate.NewWithInstance("iofs", source, db.driver, driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func (db *DB) SchemaVersion() (uint, bool, error) {
	var (
		version uint
		dirty   bool
	)
	err := db.conn.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		return 0, false, fmt.Errorf("reading schema version: %w", err)
	}
	return version, dirty, nil
}
