// Package postgres provides the Postgres-backed run ledger.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ed-forum-harvester/internal/forum"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "harvest_runs"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for the run ledger.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore implements forum.RunStore on top of a single table.
type RunStore struct {
	pool  pool
	table string
}

var _ forum.RunStore = (*RunStore)(nil)

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: p, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the ledger table when it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	host          TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	error_text    TEXT NOT NULL DEFAULT '',
	counters      JSONB NOT NULL DEFAULT '{}'::jsonb,
	corpus_uri    TEXT NOT NULL DEFAULT '',
	corpus_sha256 TEXT NOT NULL DEFAULT ''
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// StartRun inserts a run row in running status.
func (s *RunStore) StartRun(ctx context.Context, run forum.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, host, status, started_at, counters)
VALUES ($1, $2, $3, $4, $5)`, s.table)
	if _, err := s.pool.Exec(ctx, query,
		run.ID,
		run.Host,
		string(forum.RunStatusRunning),
		run.Started,
		counters,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records the terminal status, counters and corpus location.
func (s *RunStore) FinishRun(ctx context.Context, run forum.Run) error {
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, finished_at = $2, error_text = $3, counters = $4, corpus_uri = $5, corpus_sha256 = $6
WHERE id = $7`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		string(run.Status),
		run.Finished,
		run.ErrorText,
		counters,
		run.CorpusURI,
		run.CorpusSHA256,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: %w", run.ID, forum.ErrRunNotFound)
	}
	return nil
}

// GetRun loads a run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (forum.Run, error) {
	query := fmt.Sprintf(`
SELECT id, host, status, started_at, finished_at, error_text, counters, corpus_uri, corpus_sha256
FROM %s
WHERE id = $1`, s.table)

	var (
		run      forum.Run
		status   string
		counters []byte
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.Host,
		&status,
		&run.Started,
		&run.Finished,
		&run.ErrorText,
		&counters,
		&run.CorpusURI,
		&run.CorpusSHA256,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return forum.Run{}, fmt.Errorf("get run %s: %w", runID, forum.ErrRunNotFound)
	}
	if err != nil {
		return forum.Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	run.Status = forum.RunStatus(status)
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &run.Counters); err != nil {
			return forum.Run{}, fmt.Errorf("decode counters for run %s: %w", runID, err)
		}
	}
	return run, nil
}
