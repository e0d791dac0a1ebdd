package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/qqringman/Degrade/internal/domain"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func Open(ctx context.Context, dsn string, log zerolog.Logger) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{Pool: pool, log: log}, nil
}

func MustOpen(ctx context.Context, dsn string, log zerolog.Logger) *DB {
	db, err := Open(ctx, dsn, log)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	return db
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
	db  *DB
	log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return &Repository{db: d, log: log} }

// EnsureSchema creates the bookkeeping tables. The aggregate itself lives in
// the cache; the database only records what happened and when.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS refresh_runs (
		id             BIGSERIAL PRIMARY KEY,
		started_at     TIMESTAMPTZ NOT NULL,
		finished_at    TIMESTAMPTZ,
		degrade_count  INT NOT NULL DEFAULT 0,
		resolved_count INT NOT NULL DEFAULT 0,
		warning_count  INT NOT NULL DEFAULT 0,
		load_seconds   DOUBLE PRECISION NOT NULL DEFAULT 0,
		success        BOOLEAN NOT NULL DEFAULT false,
		error          TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS weekly_stats (
		week           TEXT PRIMARY KEY,
		week_start     TIMESTAMPTZ NOT NULL,
		degrade_count  INT NOT NULL DEFAULT 0,
		resolved_count INT NOT NULL DEFAULT 0,
		percentage     DOUBLE PRECISION NOT NULL DEFAULT 0,
		computed_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	_, err := r.db.Pool.Exec(ctx, ddl)
	return err
}

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
	return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
	if !ok && err == nil {
		return errors.New("advisory unlock returned false")
	}
	return err
}

// Refresh runs

func (r *Repository) StartRefreshRun(ctx context.Context) (int64, error) {
	const q = `INSERT INTO refresh_runs(started_at, success) VALUES(now(), false) RETURNING id`
	var id int64
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *Repository) FinishRefreshRun(ctx context.Context, id int64, degrade, resolved, warnings int, loadSeconds float64, success bool, errStr string) error {
	const q = `UPDATE refresh_runs SET finished_at=now(), degrade_count=$2, resolved_count=$3,
		warning_count=$4, load_seconds=$5, success=$6, error=$7 WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id, degrade, resolved, warnings, loadSeconds, success, errStr)
	return err
}

type LastRun struct {
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DegradeCount  int        `json:"degrade_count"`
	ResolvedCount int        `json:"resolved_count"`
	WarningCount  int        `json:"warning_count"`
	LoadSeconds   float64    `json:"load_seconds"`
	Success       bool       `json:"success"`
	Error         string     `json:"error"`
}

func (r *Repository) GetLastRun(ctx context.Context) (*LastRun, error) {
	const q = `SELECT started_at, finished_at,
		coalesce(degrade_count,0), coalesce(resolved_count,0), coalesce(warning_count,0),
		coalesce(load_seconds,0), coalesce(success,false), coalesce(error,'')
		FROM refresh_runs ORDER BY id DESC LIMIT 1`
	row := r.db.Pool.QueryRow(ctx, q)
	lr := &LastRun{}
	if err := row.Scan(&lr.StartedAt, &lr.FinishedAt, &lr.DegradeCount, &lr.ResolvedCount,
		&lr.WarningCount, &lr.LoadSeconds, &lr.Success, &lr.Error); err != nil {
		return nil, err
	}
	return lr, nil
}

// SaveWeeklyStats upserts the per-week snapshot so trends survive restarts
// and cache drops.
func (r *Repository) SaveWeeklyStats(ctx context.Context, weeks []domain.WeeklyStat) error {
	if len(weeks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	const q = `INSERT INTO weekly_stats(week, week_start, degrade_count, resolved_count, percentage, computed_at)
		VALUES($1,$2,$3,$4,$5,now())
		ON CONFLICT (week) DO UPDATE SET
			week_start=EXCLUDED.week_start,
			degrade_count=EXCLUDED.degrade_count,
			resolved_count=EXCLUDED.resolved_count,
			percentage=EXCLUDED.percentage,
			computed_at=now()`
	for _, w := range weeks {
		batch.Queue(q, w.Week, w.WeekStart, w.DegradeCount, w.ResolvedCount, w.Percentage)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range weeks {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
