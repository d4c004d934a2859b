// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eligetuhosting/previewd/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "screenshot_captures"

// Config controls the Postgres connection pool used for capture rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// CaptureStore implements store.CaptureRepository.
type CaptureStore struct {
	pool  pool
	table string
}

// NewCaptureStore connects to Postgres using cfg.
func NewCaptureStore(ctx context.Context, cfg Config) (*CaptureStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CaptureStore{pool: p, table: table}, nil
}

// NewCaptureStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCaptureStoreWithPool(p pool, table string) (*CaptureStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &CaptureStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *CaptureStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *CaptureStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate creates the capture table and its lookup index when missing.
func (s *CaptureStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id          UUID PRIMARY KEY,
	domain      TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	provider    TEXT NOT NULL DEFAULT '',
	from_cache  BOOLEAN NOT NULL DEFAULT FALSE,
	attempts    INTEGER NOT NULL DEFAULT 0,
	reason      TEXT,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_domain_finished_idx ON %[1]s (domain, finished_at DESC);`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// RecordCapture inserts a capture row.
func (s *CaptureStore) RecordCapture(ctx context.Context, rec store.CaptureRecord) error {
	if rec.Domain == "" {
		return errors.New("capture domain is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	domain,
	outcome,
	provider,
	from_cache,
	attempts,
	reason,
	started_at,
	finished_at,
	duration_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
) ON CONFLICT (id) DO NOTHING`, s.table)

	args := []any{
		rec.ID,
		rec.Domain,
		string(rec.Outcome),
		rec.Provider,
		rec.FromCache,
		rec.Attempts,
		rec.Reason,
		rec.StartedAt,
		rec.FinishedAt,
		rec.Duration.Milliseconds(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}
	return nil
}

// ListCaptures returns the latest captures for domain.
func (s *CaptureStore) ListCaptures(ctx context.Context, domain string, limit int) ([]store.CaptureRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := fmt.Sprintf(`
SELECT id::text, domain, outcome, provider, from_cache, attempts, COALESCE(reason, ''), started_at, finished_at, duration_ms
FROM %s
WHERE domain = $1
ORDER BY finished_at DESC
LIMIT $2`, s.table)
	rows, err := s.pool.Query(ctx, query, domain, limit)
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	defer rows.Close()

	var out []store.CaptureRecord
	for rows.Next() {
		var (
			rec     store.CaptureRecord
			id      string
			outcome string
			reason  string
			durMs   int64
		)
		if err := rows.Scan(
			&id,
			&rec.Domain,
			&outcome,
			&rec.Provider,
			&rec.FromCache,
			&rec.Attempts,
			&reason,
			&rec.StartedAt,
			&rec.FinishedAt,
			&durMs,
		); err != nil {
			return nil, fmt.Errorf("scan capture row: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse capture id: %w", err)
		}
		if reason != "" {
			rec.Reason = &reason
		}
		rec.Outcome = store.CaptureOutcome(outcome)
		rec.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate capture rows: %w", err)
	}
	return out, nil
}
