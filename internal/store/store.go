package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// migration upgrades a database whose user_version is below version.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations run in order after schema.sql, which holds the version 0
// layout. New and old files reach schemaVersion the same way.
var migrations = []migration{
	{
		version: 1,
		name:    "index loaded modules by hash",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_loaded_modules_hash ON loaded_modules(module_hash)`,
	},
	{
		version: 2,
		name:    "key cached lowerings by pipeline hash",
		stmt: `
			ALTER TABLE pipeline_runs ADD COLUMN pipeline_hash TEXT NOT NULL DEFAULT '';
			CREATE INDEX IF NOT EXISTS idx_pipeline_runs_cache
				ON pipeline_runs(module_hash, pipeline_hash, status);
		`,
	},
}

// schemaVersion is the user_version of a fully migrated database.
var schemaVersion = migrations[len(migrations)-1].version

// Store is the run ledger: pipeline runs, their pass statistics and the
// modules the engine loaded. One SQLite connection in WAL mode.
type Store struct {
	db     *sql.DB
	clock  *Clock
	logger *slog.Logger
}

type options struct {
	busyTimeout time.Duration
	logger      *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithBusyTimeout sets how long a statement waits on a locked database.
// The default is five seconds.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithLogger logs migrations at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Open creates or opens the database at path, applies pragmas, the schema
// and any pending migrations. Opening an existing ledger again is safe.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{
		busyTimeout: 5 * time.Second,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// WAL allows one writer; a single connection keeps pragmas and
	// transactions on the same session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: o.logger}
	if err := s.init(o); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(o options) error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	for _, p := range pragmas(o) {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := s.migrate(); err != nil {
		return err
	}
	last, err := s.lastSeq()
	if err != nil {
		return err
	}
	s.clock = NewClockAt(last)
	return nil
}

func pragmas(o options) []string {
	return []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", o.busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
}

// migrate applies every migration newer than the stored user_version,
// each in its own transaction together with the version bump.
func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: set user_version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		s.logger.Debug("store migrated", "version", m.version, "migration", m.name)
	}
	return nil
}

// lastSeq is the largest seq recorded by any table the clock feeds.
func (s *Store) lastSeq() (int64, error) {
	var seq int64
	err := s.db.QueryRow(`
		SELECT COALESCE(MAX(seq), 0) FROM (
			SELECT seq FROM pipeline_runs
			UNION ALL
			SELECT seq FROM loaded_modules
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read last seq: %w", err)
	}
	return seq, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// pragma returns the current value of a pragma as text.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	return value, nil
}
