package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS snapshot_runs (
        id          BIGSERIAL PRIMARY KEY,
        panel       TEXT        NOT NULL,
        params_key  TEXT        NOT NULL,
        timeframe   TEXT        NOT NULL,
        bars        INTEGER     NOT NULL,
        instrument  TEXT        NOT NULL,
        scope       TEXT        NOT NULL DEFAULT '',
        started_at  TIMESTAMPTZ NOT NULL,
        duration_ms BIGINT      NOT NULL,
        retained    INTEGER     NOT NULL,
        total       INTEGER     NOT NULL,
        coverage    NUMERIC     NOT NULL,
        status      TEXT        NOT NULL,
        error       TEXT,
        summary     TEXT        NOT NULL DEFAULT '',
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS snapshot_runs_panel_started_idx ON snapshot_runs (panel, started_at DESC);`

	insertRunSQL = `INSERT INTO snapshot_runs (
        panel,
        params_key,
        timeframe,
        bars,
        instrument,
        scope,
        started_at,
        duration_ms,
        retained,
        total,
        coverage,
        status,
        error,
        summary
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    RETURNING id, created_at;`

	listRecentRunsSQL = `SELECT
        id,
        panel,
        params_key,
        timeframe,
        bars,
        instrument,
        scope,
        started_at,
        duration_ms,
        retained,
        total,
        coverage::text,
        status,
        error,
        summary,
        created_at
    FROM snapshot_runs
    WHERE ($1 = '' OR panel = $1)
    ORDER BY started_at DESC
    LIMIT $2;`

	countRunsSQL = `SELECT COUNT(*) FROM snapshot_runs;`

	deleteRunsBeforeSQL = `DELETE FROM snapshot_runs WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RunStore defines operations for build run history.
type RunStore interface {
	InsertRun(ctx context.Context, run RunRecord) (RunRecord, error)
	ListRecentRuns(ctx context.Context, panel string, limit int) ([]RunRecord, error)
	CountRuns(ctx context.Context) (int64, error)
	DeleteRunsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to run history and advisory locks.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the run history table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock also goes away with the connection
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertRun persists a build run and returns it with its id.
func (s *Store) InsertRun(ctx context.Context, run RunRecord) (RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return RunRecord{}, err
	}

	var errMsg interface{}
	if run.Error != nil {
		errMsg = *run.Error
	}

	row := pool.QueryRow(ctx, insertRunSQL,
		run.Panel,
		run.ParamsKey,
		run.Timeframe,
		run.Bars,
		run.Instrument,
		run.Scope,
		run.StartedAt,
		run.DurationMS,
		run.Retained,
		run.Total,
		run.Coverage.String(),
		run.Status,
		errMsg,
		run.Summary,
	)
	if scanErr := row.Scan(&run.ID, &run.CreatedAt); scanErr != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", scanErr)
	}
	return run, nil
}

// ListRecentRuns lists the latest runs, optionally for one panel.
func (s *Store) ListRecentRuns(ctx context.Context, panel string, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, panel, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0, limit)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// CountRuns counts stored runs.
func (s *Store) CountRuns(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRunsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count runs: %w", scanErr)
	}
	return count, nil
}

// DeleteRunsBefore prunes old run history.
func (s *Store) DeleteRunsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteRunsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete runs before: %w", execErr)
	}
	return nil
}

func scanRun(rows pgx.Rows) (RunRecord, error) {
	var (
		run         RunRecord
		coverageStr string
		errMsg      sql.NullString
	)
	if err := rows.Scan(
		&run.ID,
		&run.Panel,
		&run.ParamsKey,
		&run.Timeframe,
		&run.Bars,
		&run.Instrument,
		&run.Scope,
		&run.StartedAt,
		&run.DurationMS,
		&run.Retained,
		&run.Total,
		&coverageStr,
		&run.Status,
		&errMsg,
		&run.Summary,
		&run.CreatedAt,
	); err != nil {
		return RunRecord{}, err
	}

	coverage, err := decimal.NewFromString(coverageStr)
	if err != nil {
		return RunRecord{}, fmt.Errorf("parse coverage: %w", err)
	}
	run.Coverage = coverage

	if errMsg.Valid {
		msg := errMsg.String
		run.Error = &msg
	}
	return run, nil
}
