package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the runs status column.
type RunStatus string

// Run statuses persisted in the runs table.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one extraction run.
type Run struct {
	ID           uuid.UUID
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       RunStatus
	ErrorMessage *string
	ECStandards  int
	Committees   int
}

// StageTally captures per-stage outcome counts for a run.
type StageTally struct {
	RunID      uuid.UUID
	Stage      renec.Stage
	Succeeded  int
	Failed     int
	Batches    int
	LastUpdate time.Time
}

// RunRepository persists run lifecycle and per-stage tallies.
type RunRepository interface {
	// StartRun inserts (or idempotently updates) the run's start.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// AddStageTally applies outcome deltas for one stage of a run.
	AddStageTally(ctx context.Context, tally StageTally) error
	// CompleteRun marks the run finished. stats is nil for failed runs.
	CompleteRun(
		ctx context.Context,
		runID uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		stats *renec.ExtractionStats,
		errMsg *string,
	) error
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
