// Package postgres appends page results to a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/contextractor/internal/crawler"
	"github.com/JakeFAU/contextractor/internal/dataset"
)

const defaultTable = "page_results"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for page rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Dataset writes page rows into Postgres.
type Dataset struct {
	pool  execCloser
	table string
	runID string
}

// TableName returns the table for a dataset name: the base table for the
// default dataset, base_name otherwise.
func TableName(base, name string) (string, error) {
	if base == "" {
		base = defaultTable
	}
	resolved, err := dataset.ResolveName(name)
	if err != nil {
		return "", err
	}
	table := base
	if resolved != dataset.DefaultName {
		table = base + "_" + resolved
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config, runID string) (*Dataset, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dataset.postgres.dsn is required")
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
	d, err := NewWithPool(pool, cfg.Table, runID)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return d, nil
}

// NewWithPool constructs a dataset from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table, runID string) (*Dataset, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Dataset{pool: pool, table: table, runID: runID}, nil
}

// EnsureSchema creates the table when it does not exist.
func (d *Dataset) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	loaded_url TEXT NOT NULL,
	loaded_at TIMESTAMPTZ NOT NULL,
	http_status INTEGER NOT NULL,
	raw_html JSONB NOT NULL,
	metadata JSONB NOT NULL,
	artifacts JSONB NOT NULL
)`, d.table)
	if _, err := d.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", d.table, err)
	}
	return nil
}

// Append inserts one row.
func (d *Dataset) Append(ctx context.Context, result crawler.PageResult) error {
	loadedAt, err := time.Parse(time.RFC3339Nano, result.LoadedAt)
	if err != nil {
		return fmt.Errorf("parse loaded_at: %w", err)
	}
	rawHTML, err := json.Marshal(result.RawHTML)
	if err != nil {
		return fmt.Errorf("marshal raw_html: %w", err)
	}
	metadata, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	artifacts, err := json.Marshal(dataset.FormatArtifacts(result))
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	loaded_url,
	loaded_at,
	http_status,
	raw_html,
	metadata,
	artifacts
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, d.table)

	args := []any{
		d.runID,
		result.LoadedURL,
		loadedAt,
		result.HTTPStatus,
		rawHTML,
		metadata,
		artifacts,
	}
	if _, err := d.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert page result: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (d *Dataset) Close() error {
	if d == nil || d.pool == nil {
		return nil
	}
	d.pool.Close()
	return nil
}
