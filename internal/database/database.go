package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a project or source does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps a SQLite or PostgreSQL connection.
type DB struct {
	conn   *sql.DB
	driver string
	dsn    string
}

// Open creates or opens a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	return Connect(DriverSQLite, dbPath)
}

// Connect opens a database for the given driver and applies migrations.
// For sqlite the dsn is a file path.
func Connect(driver, dsn string) (*DB, error) {
	var (
		conn *sql.DB
		err  error
	)
	switch driver {
	case DriverSQLite:
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		conn, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		// A single connection serializes writers, so concurrent syncs never
		// see SQLITE_BUSY from lock upgrades.
		conn.SetMaxOpenConns(1)
	case DriverPostgres:
		conn, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db := &DB{conn: conn, driver: driver, dsn: dsn}
	if err := applyMigrations(db); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return db, nil
}

func sqliteDSN(path string) string {
	return path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Driver returns the driver name ("sqlite" or "postgres").
func (db *DB) Driver() string {
	return db.driver
}

// Path returns the DSN the database was opened with.
func (db *DB) Path() string {
	return db.dsn
}

// rebind rewrites '?' placeholders into PostgreSQL's $n form.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
