package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
	RunStopped RunStatus = "stopped"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunSuccess, RunError, RunStopped:
		return true
	default:
		return false
	}
}

// Run models one crawl run for API responses.
type Run struct {
	ID       uuid.UUID
	Resource string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run reaches a terminal status.
	FinishedAt *time.Time
	Status     RunStatus
	Processed  int64
	Skipped    int64
	Failed     int64
	Pages      int64
	// ErrorMessage stores the abort reason of failed runs.
	ErrorMessage *string
	UpdatedAt    time.Time
}

// RunCounters are deltas applied to a run's totals.
type RunCounters struct {
	Processed int64
	Skipped   int64
	Failed    int64
	Pages     int64
}

// IsZero reports whether every delta is zero.
func (c RunCounters) IsZero() bool {
	return c == RunCounters{}
}

// RunFilter narrows ListRuns. Empty fields match everything.
type RunFilter struct {
	Resource string
	Status   RunStatus
}

// RunRepository persists crawl run history.
type RunRepository interface {
	// StartRun inserts the run (idempotent on id).
	StartRun(ctx context.Context, runID uuid.UUID, resource string, startedAt time.Time) error
	// AddCounters applies counter deltas to a run.
	AddCounters(ctx context.Context, runID uuid.UUID, delta RunCounters, at time.Time) error
	// CompleteRun marks the run finished with a terminal status.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// GetRun fetches one run.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter RunFilter, limit, offset int) ([]Run, error)
}
