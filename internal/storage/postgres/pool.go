// Package postgres persists records and archived artifacts in Postgres.
//
// Expected schema (bootstrap is handled outside the service):
//
//	CREATE TABLE records (
//		link          TEXT PRIMARY KEY,
//		title         TEXT NOT NULL,
//		source        TEXT NOT NULL,
//		topic         TEXT NOT NULL DEFAULT '',
//		kind          TEXT NOT NULL,
//		excerpt       TEXT NOT NULL DEFAULT '',
//		body          TEXT NOT NULL DEFAULT '',
//		image_url     TEXT NOT NULL DEFAULT '',
//		published_at  TIMESTAMPTZ NOT NULL,
//		first_seen_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX records_published_at_idx ON records (published_at DESC);
//
//	CREATE TABLE artifacts (
//		id              TEXT PRIMARY KEY,
//		category        TEXT NOT NULL,
//		generated_on    DATE NOT NULL,
//		generated_at    TIMESTAMPTZ NOT NULL,
//		digest          JSONB NOT NULL,
//		signals         JSONB NOT NULL,
//		insights        JSONB NOT NULL,
//		rollup          JSONB NOT NULL,
//		nothing_notable BOOLEAN NOT NULL,
//		fallback        BOOLEAN NOT NULL,
//		article_count   INTEGER NOT NULL,
//		source_count    INTEGER NOT NULL,
//		window_start    TIMESTAMPTZ NOT NULL,
//		window_end      TIMESTAMPTZ NOT NULL,
//		UNIQUE (category, generated_on)
//	);
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of pgxpool.Pool the stores use; pgxmock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// NewPool connects a pgx pool using cfg.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

func checkTable(table, fallback string) (string, error) {
	if table == "" {
		table = fallback
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}
