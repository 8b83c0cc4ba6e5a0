// Package sqlite persists records and archived artifacts in a single SQLite
// file. It is the zero-infrastructure store for local and single-node runs.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Open opens (or creates) the database at path and brings the schema up to
// date. Use ":memory:" for a throwaway database.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

var migrations = []string{
	// v1: records and artifacts.
	`
	CREATE TABLE IF NOT EXISTS records (
		link          TEXT PRIMARY KEY,
		title         TEXT NOT NULL,
		source        TEXT NOT NULL,
		topic         TEXT NOT NULL DEFAULT '',
		kind          TEXT NOT NULL,
		excerpt       TEXT NOT NULL DEFAULT '',
		body          TEXT NOT NULL DEFAULT '',
		image_url     TEXT NOT NULL DEFAULT '',
		published_at  INTEGER NOT NULL,
		first_seen_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_published ON records(published_at DESC);

	CREATE TABLE IF NOT EXISTS artifacts (
		id              TEXT PRIMARY KEY,
		category        TEXT NOT NULL,
		generated_on    TEXT NOT NULL,
		generated_at    INTEGER NOT NULL,
		digest          TEXT NOT NULL,
		signals         TEXT NOT NULL,
		insights        TEXT NOT NULL,
		rollup          TEXT NOT NULL,
		nothing_notable INTEGER NOT NULL,
		fallback        INTEGER NOT NULL,
		article_count   INTEGER NOT NULL,
		source_count    INTEGER NOT NULL,
		window_start    INTEGER NOT NULL,
		window_end      INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_artifacts_day ON artifacts(category, generated_on);
	CREATE INDEX IF NOT EXISTS idx_artifacts_generated ON artifacts(generated_at DESC);
	`,
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	var version int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}
	return nil
}
