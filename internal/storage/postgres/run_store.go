package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/camara-crawler/internal/store"
)

const runsSchema = `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id uuid PRIMARY KEY,
	resource text NOT NULL,
	started_at timestamptz NOT NULL,
	finished_at timestamptz,
	status text NOT NULL,
	processed bigint NOT NULL DEFAULT 0,
	skipped bigint NOT NULL DEFAULT 0,
	failed bigint NOT NULL DEFAULT 0,
	pages bigint NOT NULL DEFAULT 0,
	error_message text,
	updated_at timestamptz NOT NULL
)`

const runColumns = `id, resource, started_at, finished_at, status, processed, skipped, failed, pages, error_message, updated_at`

// RunStore implements store.RunRepository on the crawl_runs table.
type RunStore struct {
	pool Pool
}

// NewRunStore wraps pool.
func NewRunStore(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// EnsureSchema creates crawl_runs if it is missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, runsSchema); err != nil {
		return fmt.Errorf("create crawl_runs: %w", err)
	}
	return nil
}

// StartRun inserts a running row; repeated calls are ignored.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, resource string, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (id, resource, started_at, status, updated_at)
		VALUES ($1, $2, $3, $4, $3)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, runID, resource, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to insert run start: %w", err)
	}
	return nil
}

// AddCounters increments the run totals.
func (s *RunStore) AddCounters(ctx context.Context, runID uuid.UUID, delta store.RunCounters, at time.Time) error {
	query := `
		UPDATE crawl_runs
		SET processed = processed + $1,
			skipped = skipped + $2,
			failed = failed + $3,
			pages = pages + $4,
			updated_at = $5
		WHERE id = $6;
	`
	tag, err := s.pool.Exec(ctx, query, delta.Processed, delta.Skipped, delta.Failed, delta.Pages, at, runID)
	if err != nil {
		return fmt.Errorf("failed to update run counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, error_message = $3, updated_at = $1
		WHERE id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM crawl_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, filter store.RunFilter, limit, offset int) ([]store.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM crawl_runs
		WHERE ($1::text = '' OR resource = $1)
		AND ($2::text = '' OR status = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4;`
	rows, err := s.pool.Query(ctx, query, filter.Resource, string(filter.Status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var run store.Run
	var status string
	err := row.Scan(
		&run.ID,
		&run.Resource,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Processed,
		&run.Skipped,
		&run.Failed,
		&run.Pages,
		&run.ErrorMessage,
		&run.UpdatedAt,
	)
	run.Status = store.RunStatus(status)
	return run, err
}
