// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/markdown-crawler/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool used for the run ledger.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository.
type RunStore struct {
	pool pool
}

// NewRunStore connects a pool using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	return &RunStore{pool: p}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the ledger tables when they are missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertRunStart inserts the run row in the running state.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, rootURL string, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (id, root_url, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, runID, rootURL, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// RecordPages upserts page outcomes keyed by (run_id, url).
func (s *RunStore) RecordPages(ctx context.Context, pages []store.PageRecord) error {
	query := `
		INSERT INTO crawl_pages (run_id, url, depth, status, path, error_kind, bytes, sha256, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, url) DO UPDATE
		SET depth = EXCLUDED.depth,
			status = EXCLUDED.status,
			path = EXCLUDED.path,
			error_kind = EXCLUDED.error_kind,
			bytes = EXCLUDED.bytes,
			sha256 = EXCLUDED.sha256,
			recorded_at = EXCLUDED.recorded_at;
	`
	for _, p := range pages {
		if _, err := s.pool.Exec(
			ctx,
			query,
			p.RunID,
			p.URL,
			p.Depth,
			p.Status,
			p.Path,
			p.ErrorKind,
			p.Bytes,
			p.Digest,
			p.RecordedAt,
		); err != nil {
			return fmt.Errorf("record page %s: %w", p.URL, err)
		}
	}
	return nil
}

// CompleteRun marks a run finished with a status and optional note.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	note *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, note = $3
		WHERE id = $4;
	`
	res, err := s.pool.Exec(ctx, query, finishedAt, status, note, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("complete run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, root_url, started_at, finished_at, status, note
		FROM crawl_runs
		WHERE id = $1;
	`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.RootURL,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Note,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit, offset int) ([]store.Run, error) {
	query := `
		SELECT id, root_url, started_at, finished_at, status, note
		FROM crawl_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2;
	`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		if err := rows.Scan(
			&run.ID,
			&run.RootURL,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.Note,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// ListPages retrieves the recorded pages of a run.
func (s *RunStore) ListPages(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.PageRecord, error) {
	query := `
		SELECT run_id, url, depth, status, path, error_kind, bytes, sha256, recorded_at
		FROM crawl_pages
		WHERE run_id = $1
		ORDER BY depth, url
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []store.PageRecord
	for rows.Next() {
		var p store.PageRecord
		if err := rows.Scan(
			&p.RunID,
			&p.URL,
			&p.Depth,
			&p.Status,
			&p.Path,
			&p.ErrorKind,
			&p.Bytes,
			&p.Digest,
			&p.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan page row: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page rows: %w", err)
	}
	return pages, nil
}
