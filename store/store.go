// Package store is the durable layer under the race engine: the pass
// journal, engine checkpoints, frozen results, the entrant roster and
// the event configuration blob, all in one SQLite file opened in WAL
// mode.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Options tunes how the database file is opened.
type Options struct {
	// RecreateOnBoot drops the database file (and its WAL sidecars)
	// before opening. Useful for test rigs and throwaway events.
	RecreateOnBoot bool

	// Fsync maps to PRAGMA synchronous=FULL; the default is NORMAL,
	// which in WAL mode may lose the tail of the journal on power loss
	// but never corrupts.
	Fsync bool
}

// DB wraps the SQLite handle. All methods are safe for concurrent use;
// writes are serialized on a single connection.
type DB struct {
	sql  *sql.DB
	path string
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS entrants (
		entrant_id   INTEGER PRIMARY KEY,
		number       TEXT NOT NULL DEFAULT '',
		name         TEXT NOT NULL,
		tag          TEXT,
		enabled      INTEGER NOT NULL DEFAULT 1,
		status       TEXT NOT NULL DEFAULT 'ACTIVE',
		organization TEXT NOT NULL DEFAULT '',
		spoken_name  TEXT NOT NULL DEFAULT '',
		color        TEXT NOT NULL DEFAULT '',
		logo         TEXT NOT NULL DEFAULT '',
		updated_at   INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_entrants_enabled_tag
		ON entrants (tag) WHERE enabled = 1 AND tag IS NOT NULL AND tag <> ''`,
	`CREATE TABLE IF NOT EXISTS race_events (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		race_id      TEXT NOT NULL,
		wall_ms      INTEGER NOT NULL,
		clock_ms     INTEGER NOT NULL,
		type         TEXT NOT NULL,
		payload_json TEXT NOT NULL DEFAULT 'null'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_race_events_race_wall
		ON race_events (race_id, wall_ms)`,
	`CREATE TABLE IF NOT EXISTS race_checkpoints (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		race_id       TEXT NOT NULL,
		wall_ms       INTEGER NOT NULL,
		clock_ms      INTEGER NOT NULL,
		snapshot_json TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_race_checkpoints_race
		ON race_checkpoints (race_id, id)`,
	`CREATE TABLE IF NOT EXISTS result_meta (
		race_id          TEXT PRIMARY KEY,
		race_type        TEXT NOT NULL,
		frozen_utc       INTEGER NOT NULL,
		duration_ms      INTEGER NOT NULL,
		clock_ms_frozen  INTEGER,
		event_label      TEXT NOT NULL DEFAULT '',
		session_label    TEXT NOT NULL DEFAULT '',
		race_mode        TEXT NOT NULL DEFAULT '',
		frozen_iso_utc   TEXT NOT NULL DEFAULT '',
		frozen_iso_local TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS result_standings (
		race_id     TEXT NOT NULL,
		position    INTEGER NOT NULL,
		entrant_id  INTEGER NOT NULL,
		number      TEXT NOT NULL DEFAULT '',
		name        TEXT NOT NULL DEFAULT '',
		tag         TEXT NOT NULL DEFAULT '',
		laps        INTEGER NOT NULL,
		last_ms     INTEGER,
		best_ms     INTEGER,
		gap_ms      INTEGER NOT NULL DEFAULT 0,
		lap_deficit INTEGER NOT NULL DEFAULT 0,
		pit_count   INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL DEFAULT 'ACTIVE',
		grid_index  INTEGER,
		brake_valid INTEGER,
		PRIMARY KEY (race_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS result_laps (
		race_id    TEXT NOT NULL,
		entrant_id INTEGER NOT NULL,
		lap_no     INTEGER NOT NULL,
		lap_ms     INTEGER NOT NULL,
		PRIMARY KEY (race_id, entrant_id, lap_no)
	)`,
	`CREATE TABLE IF NOT EXISTS event_config (
		key        TEXT PRIMARY KEY,
		value_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// Open opens (creating if needed) the SQLite database at path and
// ensures the schema exists.
func Open(path string, opts Options) (*DB, error) {
	if opts.RecreateOnBoot {
		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("store: recreate %s: %w", p, err)
			}
		}
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}

	sync := "normal"
	if opts.Fsync {
		sync = "full"
	}
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(%s)&_pragma=foreign_keys(on)",
		path, sync,
	)
	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection keeps writers serialized; SQLite allows only
	// one writer anyway and this avoids SQLITE_BUSY churn.
	handle.SetMaxOpenConns(1)

	d := &DB{sql: handle, path: path}
	if err := d.init(context.Background()); err != nil {
		handle.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) init(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := d.sql.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Close closes the underlying handle.
func (d *DB) Close() error { return d.sql.Close() }

// JournalMode reports the active SQLite journal mode (expected "wal").
func (d *DB) JournalMode(ctx context.Context) (string, error) {
	var mode string
	if err := d.sql.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode); err != nil {
		return "", fmt.Errorf("store: journal_mode: %w", err)
	}
	return mode, nil
}

// TableCounts returns the row count of every table the store manages.
func (d *DB) TableCounts(ctx context.Context) (map[string]int64, error) {
	tables := []string{
		"entrants", "race_events", "race_checkpoints",
		"result_meta", "result_standings", "result_laps", "event_config",
	}
	counts := make(map[string]int64, len(tables))
	for _, tbl := range tables {
		var n int64
		if err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+tbl).Scan(&n); err != nil {
			return nil, fmt.Errorf("store: count %s: %w", tbl, err)
		}
		counts[tbl] = n
	}
	return counts, nil
}
