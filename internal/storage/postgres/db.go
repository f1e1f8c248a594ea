// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
)

// Table names.
const (
	tableProgress          = "scraping_progress"
	tableRawListings       = "raw_listings"
	tableFacilities        = "facilities"
	tableCleanedListings   = "cleaned_listings"
	tableCleanedFacilities = "cleaned_facilities"
)

//go:embed schema.sql
var schemaSQL string

// DB is the subset of pgxpool.Pool the stores use. pgxmock pools satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Open connects a pool and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, harvest.Wrap(harvest.ErrConfig, "postgres.open", fmt.Errorf("db.dsn is required"))
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, harvest.Wrap(harvest.ErrConfig, "postgres.open", fmt.Errorf("parse postgres dsn: %w", err))
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
		return nil, harvest.Wrap(harvest.ErrStorage, "postgres.open", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, harvest.Wrap(harvest.ErrStorage, "postgres.ping", err)
	}
	return pool, nil
}

// EnsureSchema creates the pipeline tables when they do not exist.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range schemaStatements() {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return harvest.Wrap(harvest.ErrStorage, "postgres.ensure_schema", err)
		}
	}
	return nil
}

func schemaStatements() []string {
	var out []string
	for _, part := range strings.Split(schemaSQL, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func exec(ctx context.Context, db DB, q sq.Sqlizer) (pgconn.CommandTag, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("build query: %w", err)
	}
	return db.Exec(ctx, query, args...)
}

func query(ctx context.Context, db DB, q sq.Sqlizer) (pgx.Rows, error) {
	text, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return db.Query(ctx, text, args...)
}
