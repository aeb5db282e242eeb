package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/renec-harvester/internal/renec"
	"github.com/JakeFAU/renec-harvester/internal/store"
)

// RunStore implements store.RunRepository on the same pool as the corpus.
type RunStore struct {
	pool   pool
	runs   string
	stages string
}

// RunStore returns a run repository sharing the corpus store's pool.
func (s *CorpusStore) RunStore() *RunStore {
	return &RunStore{pool: s.pool, runs: s.prefix + "_runs", stages: s.prefix + "_run_stages"}
}

// EnsureSchema creates the run history tables when they do not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	runs := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	error_message TEXT,
	ec_standards  INTEGER NOT NULL DEFAULT 0,
	committees    INTEGER NOT NULL DEFAULT 0
)`, s.runs)
	if _, err := s.pool.Exec(ctx, runs); err != nil {
		return fmt.Errorf("create table %s: %w", s.runs, err)
	}
	stages := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      UUID NOT NULL,
	stage       TEXT NOT NULL,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	batches     INTEGER NOT NULL DEFAULT 0,
	last_update TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, stage)
)`, s.stages)
	if _, err := s.pool.Exec(ctx, stages); err != nil {
		return fmt.Errorf("create table %s: %w", s.stages, err)
	}
	return nil
}

// StartRun inserts the run in running state.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING`, s.runs)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// AddStageTally accumulates outcome deltas for one stage.
func (s *RunStore) AddStageTally(ctx context.Context, tally store.StageTally) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, stage, succeeded, failed, batches, last_update)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (run_id, stage) DO UPDATE
SET succeeded = %s.succeeded + EXCLUDED.succeeded,
	failed = %s.failed + EXCLUDED.failed,
	batches = %s.batches + EXCLUDED.batches,
	last_update = EXCLUDED.last_update`, s.stages, s.stages, s.stages, s.stages)
	_, err := s.pool.Exec(ctx, query,
		tally.RunID,
		string(tally.Stage),
		tally.Succeeded,
		tally.Failed,
		tally.Batches,
		tally.LastUpdate,
	)
	if err != nil {
		return fmt.Errorf("add stage tally: %w", err)
	}
	return nil
}

// CompleteRun marks the run finished with the provided status.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	stats *renec.ExtractionStats,
	errMsg *string,
) error {
	var standards, committees int
	if stats != nil {
		standards = stats.ECStandards
		committees = stats.Committees
	}
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, error_message = $3, ec_standards = $4, committees = $5
WHERE id = $6`, s.runs)
	res, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, standards, committees, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListRuns returns up to limit runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
SELECT id, started_at, finished_at, status, error_message, ec_standards, committees
FROM %s
ORDER BY started_at DESC
LIMIT $1`, s.runs)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ErrorMessage,
			&run.ECStandards,
			&run.Committees,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
