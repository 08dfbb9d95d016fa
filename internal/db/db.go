// Package db opens the SQLite files s3sync keeps in its data directory and
// tracks the schema version of each component stored in them.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/s3sync/internal/utils"
)

const memoryPath = ":memory:"

const (
	defaultBusyTimeout = 5 * time.Second
	defaultCacheKiB    = 4096
)

// ErrNewerSchema is returned when a database was migrated by a newer build.
var ErrNewerSchema = errors.New("database schema is newer than this build")

type options struct {
	path        string
	busyTimeout time.Duration
	cacheKiB    int
	maxConns    int
}

type Option func(*options)

// WithPath stores the database in a file instead of memory.
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithBusyTimeout bounds how long a writer waits on a lock held by another
// process, e.g. a daemon and a one-shot sync sharing the history file.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.busyTimeout = d
	}
}

func WithCacheSize(kib int) Option {
	return func(o *options) {
		o.cacheKiB = kib
	}
}

// WithMaxOpenConns caps the pool. Ignored for in-memory databases, which
// always use one connection.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		o.maxConns = n
	}
}

func (o *options) pragmas() string {
	p := fmt.Sprintf("PRAGMA busy_timeout=%d;\nPRAGMA cache_size=-%d;\nPRAGMA temp_store=MEMORY;\n",
		o.busyTimeout.Milliseconds(), o.cacheKiB)
	if o.path != memoryPath {
		p += "PRAGMA journal_mode=WAL;\nPRAGMA synchronous=NORMAL;\n"
	}
	return p
}

// Open connects to SQLite. Without WithPath the database lives in memory and
// disappears on Close.
func Open(opts ...Option) (*sqlx.DB, error) {
	o := &options{
		path:        memoryPath,
		busyTimeout: defaultBusyTimeout,
		cacheKiB:    defaultCacheKiB,
	}
	for _, opt := range opts {
		opt(o)
	}

	dsn := memoryPath
	if o.path == memoryPath {
		// every connection to :memory: is a separate database
		o.maxConns = 1
	} else {
		if err := utils.EnsureParent(o.path); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + o.path + "?_txlock=immediate&mode=rwc"
	}

	slog.Debug("open database", "driver", driverID, "path", o.path)
	conn, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", o.path, err)
	}
	if o.maxConns > 0 {
		conn.SetMaxOpenConns(o.maxConns)
		conn.SetMaxIdleConns(o.maxConns)
	}

	if _, err := conn.Exec(o.pragmas()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configure %s: %w", o.path, err)
	}
	return conn, nil
}

const versionsTable = `
CREATE TABLE IF NOT EXISTS schema_versions (
    component TEXT PRIMARY KEY,
    version INTEGER NOT NULL
);
`

// Migrate brings component's tables to version by running ddl in one
// transaction. ddl must be safe to run on any older version of the tables.
// A database at the same version is left alone.
func Migrate(conn *sqlx.DB, component string, version int, ddl string) error {
	current, err := SchemaVersion(conn, component)
	if err != nil {
		return err
	}
	switch {
	case current == version:
		return nil
	case current > version:
		return fmt.Errorf("%s is at v%d, this build knows v%d: %w", component, current, version, ErrNewerSchema)
	}

	tx, err := conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(ddl); err != nil {
		return fmt.Errorf("migrate %s to v%d: %w", component, version, err)
	}
	if _, err := tx.Exec(`
		INSERT INTO schema_versions (component, version) VALUES (?, ?)
		ON CONFLICT(component) DO UPDATE SET version = excluded.version`,
		component, version,
	); err != nil {
		return fmt.Errorf("record %s schema version: %w", component, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("schema migrated", "component", component, "from", current, "to", version)
	return nil
}

// SchemaVersion returns the recorded version of component, 0 if it was never
// migrated.
func SchemaVersion(conn *sqlx.DB, component string) (int, error) {
	if _, err := conn.Exec(versionsTable); err != nil {
		return 0, fmt.Errorf("create schema_versions: %w", err)
	}
	var v int
	err := conn.Get(&v, `SELECT version FROM schema_versions WHERE component = ?`, component)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}
