// Package postgres records committed captures in a Postgres ledger table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/image-archiver/internal/archiver"
)

// DefaultTable is used when no table is configured.
const DefaultTable = "captures"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// CaptureStoreConfig controls the Postgres connection pool used for ledger rows.
type CaptureStoreConfig struct {
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

// CaptureStore writes one row per committed capture. It implements archiver.Ledger.
type CaptureStore struct {
	pool  execCloser
	table string
	name  string
}

// NewCaptureStore creates a Postgres-backed CaptureStore using the provided config.
func NewCaptureStore(ctx context.Context, cfg CaptureStoreConfig) (*CaptureStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, name, err := resolveTable(cfg.Table)
	if err != nil {
		return nil, err
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
	return &CaptureStore{
		pool:  pool,
		table: table,
		name:  name,
	}, nil
}

// NewCaptureStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCaptureStoreWithPool(pool execCloser, table string) (*CaptureStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	quoted, name, err := resolveTable(table)
	if err != nil {
		return nil, err
	}
	return &CaptureStore{pool: pool, table: quoted, name: name}, nil
}

// resolveTable validates table and returns its quoted form plus the bare
// relation name used to derive index names.
func resolveTable(table string) (string, string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", "", fmt.Errorf("invalid table name %q", table)
	}
	parts := strings.Split(table, ".")
	return pgx.Identifier(parts).Sanitize(), parts[len(parts)-1], nil
}

// Close releases the underlying pool resources.
func (s *CaptureStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the ledger table and its lookup index when missing.
func (s *CaptureStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("capture store is not configured")
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           TEXT PRIMARY KEY,
	cycle_id     TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	source_url   TEXT NOT NULL,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL,
	bytes        BIGINT NOT NULL,
	sha256       TEXT NOT NULL,
	captured_at  TIMESTAMPTZ NOT NULL,
	attempts     INTEGER NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create captures table: %w", err)
	}
	index := pgx.Identifier{s.name + "_source_captured_idx"}.Sanitize()
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (source_id, captured_at DESC)`, index, s.table)
	if _, err := s.pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("create captures index: %w", err)
	}
	return nil
}

// RecordCapture inserts a capture row. Re-recording the same id is a no-op.
func (s *CaptureStore) RecordCapture(ctx context.Context, capture archiver.Capture) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("capture store is not configured")
	}
	if capture.ID == "" {
		return fmt.Errorf("capture id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	cycle_id,
	source_id,
	source_url,
	filename,
	content_type,
	bytes,
	sha256,
	captured_at,
	attempts
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
) ON CONFLICT (id) DO NOTHING`, s.table)

	args := []any{
		capture.ID,
		capture.CycleID,
		capture.SourceID,
		capture.URL,
		capture.Filename,
		capture.ContentType,
		int64(capture.Bytes),
		capture.SHA256,
		capture.CapturedAt.UTC(),
		capture.Attempts,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}
	return nil
}
