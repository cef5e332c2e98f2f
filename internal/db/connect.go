package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

func init() {
	// sqlx knows "sqlite3" but not the modernc driver name.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Open opens a DB, tunes the pool and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sqlx.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:assess.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/assess?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sqlx.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	tunePool(driver, db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	if driver == DriverSQLite {
		if err := applySQLitePragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db: schema: %w", err)
	}
	return db, nil
}

// tunePool keeps SQLite to a single connection; it has one writer anyway and
// this serializes transactions instead of surfacing SQLITE_BUSY.
func tunePool(driver Driver, db *sqlx.DB) {
	maxOpen := 20
	maxIdle := 10
	connLife := 45 * time.Minute
	idleLife := 15 * time.Minute

	if driver == DriverSQLite {
		maxOpen = 1
		maxIdle = 1
		connLife = 0
		idleLife = 0
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connLife)
	db.SetConnMaxIdleTime(idleLife)
}

func applySQLitePragmas(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("db: sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func ensureSchema(ctx context.Context, db *sqlx.DB, driver Driver) error {
	schema := schemaSQLite
	if driver == DriverPostgres {
		schema = schemaPostgres
	}
	for _, stmt := range strings.Split(schema, ";\n") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Times are unix seconds. One in-progress attempt per (test, learner) is
// enforced by attempts_one_active_idx.
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS tests (
  id TEXT PRIMARY KEY,
  definition_json TEXT NOT NULL,
  is_published INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  learner_id TEXT NOT NULL,
  attempt_number INTEGER NOT NULL,
  status TEXT NOT NULL,
  end_reason TEXT NOT NULL DEFAULT '',
  started_at INTEGER NOT NULL,
  deadline INTEGER,
  submitted_at INTEGER,
  graded_at INTEGER,
  score INTEGER,
  passed INTEGER,
  answers_json TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 1,
  UNIQUE (test_id, learner_id, attempt_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_active_idx
  ON attempts(test_id, learner_id) WHERE status = 'in_progress';

CREATE INDEX IF NOT EXISTS attempts_status_deadline_idx ON attempts(status, deadline);

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  event_key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS tests (
  id TEXT PRIMARY KEY,
  definition_json TEXT NOT NULL,
  is_published BOOLEAN NOT NULL DEFAULT FALSE,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  learner_id TEXT NOT NULL,
  attempt_number INTEGER NOT NULL,
  status TEXT NOT NULL,
  end_reason TEXT NOT NULL DEFAULT '',
  started_at BIGINT NOT NULL,
  deadline BIGINT,
  submitted_at BIGINT,
  graded_at BIGINT,
  score INTEGER,
  passed BOOLEAN,
  answers_json TEXT NOT NULL,
  version BIGINT NOT NULL DEFAULT 1,
  UNIQUE (test_id, learner_id, attempt_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_active_idx
  ON attempts(test_id, learner_id) WHERE status = 'in_progress';

CREATE INDEX IF NOT EXISTS attempts_status_deadline_idx ON attempts(status, deadline);

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  event_key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`
