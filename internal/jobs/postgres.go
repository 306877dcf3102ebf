package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists jobs so render history survives daemon
// restarts. Options and stats are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initJobSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initJobSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			script TEXT NOT NULL,
			options JSONB NOT NULL DEFAULT '{}',
			progress_completed INTEGER NOT NULL DEFAULT 0,
			progress_total INTEGER NOT NULL DEFAULT 0,
			progress_message TEXT NOT NULL DEFAULT '',
			output_path TEXT NOT NULL DEFAULT '',
			warnings JSONB NOT NULL DEFAULT '[]',
			stats JSONB NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ NULL,
			ended_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs (created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init job schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveJob(ctx context.Context, job Job) error {
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal job options: %w", err)
	}
	statsJSON, err := json.Marshal(job.Stats)
	if err != nil {
		return fmt.Errorf("marshal job stats: %w", err)
	}
	warnings := job.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("marshal job warnings: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (
			id, state, script, options, progress_completed, progress_total, progress_message,
			output_path, warnings, stats, error, created_at, updated_at, started_at, ended_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
		)
		ON CONFLICT (id) DO UPDATE SET
			state=EXCLUDED.state,
			script=EXCLUDED.script,
			options=EXCLUDED.options,
			progress_completed=EXCLUDED.progress_completed,
			progress_total=EXCLUDED.progress_total,
			progress_message=EXCLUDED.progress_message,
			output_path=EXCLUDED.output_path,
			warnings=EXCLUDED.warnings,
			stats=EXCLUDED.stats,
			error=EXCLUDED.error,
			created_at=EXCLUDED.created_at,
			updated_at=EXCLUDED.updated_at,
			started_at=EXCLUDED.started_at,
			ended_at=EXCLUDED.ended_at`,
		job.ID,
		string(job.State),
		job.Script,
		optionsJSON,
		job.Progress.Completed,
		job.Progress.Total,
		job.Progress.Message,
		job.OutputPath,
		warningsJSON,
		statsJSON,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
		job.StartedAt,
		job.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, state, script, options, progress_completed, progress_total, progress_message,
		        output_path, warnings, stats, error, created_at, updated_at, started_at, ended_at
		   FROM jobs WHERE id=$1`,
		jobID,
	)
	job, err := scanJobRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, state, script, options, progress_completed, progress_total, progress_message,
		        output_path, warnings, stats, error, created_at, updated_at, started_at, ended_at
		   FROM jobs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]Job, 0, limit)
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return out, nil
}

func scanJobRow(row pgx.Row) (Job, error) {
	var (
		job             Job
		state           string
		optionsJSON     []byte
		warningsJSON    []byte
		statsJSON       []byte
		startedNullable *time.Time
		endedNullable   *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&state,
		&job.Script,
		&optionsJSON,
		&job.Progress.Completed,
		&job.Progress.Total,
		&job.Progress.Message,
		&job.OutputPath,
		&warningsJSON,
		&statsJSON,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedNullable,
		&endedNullable,
	); err != nil {
		return Job{}, err
	}
	job.State = JobState(state)
	job.StartedAt = startedNullable
	job.EndedAt = endedNullable
	if err := json.Unmarshal(optionsJSON, &job.Options); err != nil {
		return Job{}, fmt.Errorf("unmarshal job options: %w", err)
	}
	if err := json.Unmarshal(statsJSON, &job.Stats); err != nil {
		return Job{}, fmt.Errorf("unmarshal job stats: %w", err)
	}
	if err := json.Unmarshal(warningsJSON, &job.Warnings); err != nil {
		return Job{}, fmt.Errorf("unmarshal job warnings: %w", err)
	}
	if len(job.Warnings) == 0 {
		job.Warnings = nil
	}
	return job, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
