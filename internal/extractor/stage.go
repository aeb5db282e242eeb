package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/renec-harvester/internal/diff"
	"github.com/JakeFAU/renec-harvester/internal/progress"
	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// itemResult is the outcome of fetching one identifier.
type itemResult struct {
	id      string
	harvest renec.Harvest
	err     error
	dur     time.Duration
	fetched bool
}

func (r itemResult) state(batch int) renec.ItemState {
	switch {
	case r.err != nil:
		return renec.ItemState{Outcome: renec.OutcomeError, Batch: batch, Error: r.err.Error()}
	case r.harvest.Empty():
		return renec.ItemState{Outcome: renec.OutcomeSkipped, Batch: batch}
	default:
		return renec.ItemState{Outcome: renec.OutcomeSuccess, Batch: batch}
	}
}

// runStage processes the stage work list batch by batch. The returned record
// is nil only when the stage could not start.
func (o *Orchestrator) runStage(
	ctx context.Context,
	r *run,
	stage renec.Stage,
	universe []renec.IndexEntry,
	logger *zap.Logger,
) (StageResult, *renec.CheckpointRecord, error) {
	ctx, span := o.tracer.Start(ctx, "extractor.stage", trace.WithAttributes(attribute.String("stage", string(stage))))
	defer span.End()
	logger = logger.With(zap.String("stage", string(stage)))
	if err := ctx.Err(); err != nil {
		return StageResult{}, nil, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}

	rec, resumed, err := o.openCheckpoint(ctx, r, stage, logger)
	if err != nil {
		return StageResult{}, nil, err
	}
	ids, err := o.workList(ctx, stage, rec.Mode, universe)
	if err != nil {
		return StageResult{}, nil, err
	}
	remaining := diff.Remaining(ids, rec)
	if !resumed || rec.Total < len(ids) {
		rec.Total = len(ids)
	}
	batches := chunk(remaining, o.opts.BatchSize)
	rec.TotalBatches = rec.LastBatch + len(batches)
	logger.Info("stage started",
		zap.Int("universe", len(universe)),
		zap.Int("work_list", len(ids)),
		zap.Int("remaining", len(remaining)),
		zap.Int("batches", len(batches)),
	)

	versions := make(map[string]string, len(universe))
	for _, entry := range universe {
		if entry.Version != "" {
			versions[entry.Code] = entry.Version
		}
	}

	processed := 0
	for _, batch := range batches {
		results := o.fetchBatch(ctx, r, stage, batch, &processed, len(remaining))
		if err := ctx.Err(); err != nil {
			logger.Warn("stage interrupted; unfinished batch discarded",
				zap.Int("batch", rec.LastBatch+1),
				zap.Int("processed", processed),
			)
			return stageResult(rec, processed, resumed), rec, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		if err := o.commitBatch(ctx, r, rec, results, versions); err != nil {
			return stageResult(rec, processed, resumed), rec, err
		}
	}

	res := stageResult(rec, processed, resumed)
	logger.Info("stage finished",
		zap.Int("succeeded", res.Succeeded),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", len(res.Failed)),
	)
	return res, rec, nil
}

// openCheckpoint returns the record to continue (when resuming) or a fresh one.
func (o *Orchestrator) openCheckpoint(
	ctx context.Context,
	r *run,
	stage renec.Stage,
	logger *zap.Logger,
) (*renec.CheckpointRecord, bool, error) {
	fresh := func() *renec.CheckpointRecord {
		return renec.NewCheckpointRecord(r.id.String(), stage, r.mode, o.opts.BatchSize, o.clock.Now())
	}
	if !o.opts.Resume {
		return fresh(), false, nil
	}
	rec, err := o.checkpoints.Load(ctx, stage)
	if err != nil {
		return nil, false, fmt.Errorf("%w: load %s checkpoint: %w", ErrPersistence, stage, err)
	}
	if rec == nil {
		logger.Warn("no checkpoint to resume; starting fresh")
		return fresh(), false, nil
	}
	if rec.Mode != r.mode {
		logger.Info("resuming with the checkpoint's mode", zap.String("checkpoint_mode", string(rec.Mode)))
	}
	logger.Info("resuming from checkpoint",
		zap.String("checkpoint_run_id", rec.RunID),
		zap.Int("last_batch", rec.LastBatch),
		zap.Int("done", rec.Count(renec.OutcomeSuccess)+rec.Count(renec.OutcomeSkipped)),
	)
	return rec, true, nil
}

// fetchBatch dispatches every identifier of batch in order and waits for all
// of them. It stops dispatching when ctx is cancelled.
func (o *Orchestrator) fetchBatch(
	ctx context.Context,
	r *run,
	stage renec.Stage,
	batch []string,
	processed *int,
	total int,
) []itemResult {
	results := make([]itemResult, len(batch))
	sem := semaphore.NewWeighted(int64(o.opts.Workers))
	var g errgroup.Group
	for i, id := range batch {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if err := o.pacer.Wait(ctx); err != nil {
			sem.Release(1)
			break
		}
		*processed++
		o.emit(r, progress.Event{
			Kind:      progress.KindProgress,
			Stage:     stage,
			Processed: *processed,
			Total:     total,
			Current:   id,
		})
		g.Go(func() error {
			defer sem.Release(1)
			results[i] = o.fetchOne(ctx, r, stage, id)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) fetchOne(ctx context.Context, r *run, stage renec.Stage, id string) itemResult {
	start := time.Now()
	harvest, err := o.fetcher.Fetch(ctx, stage, id)
	res := itemResult{id: id, harvest: harvest, err: err, dur: time.Since(start), fetched: true}
	if err != nil {
		// A cancelled run discards the batch, so the identifier is not a failure.
		if ctx.Err() == nil {
			o.emit(r, progress.Event{Kind: progress.KindError, Stage: stage, Codigo: id, Message: err.Error(), Dur: res.dur})
		}
		return res
	}
	if stage == renec.StageECDetails && !harvest.Empty() {
		certifiers, training := 0, 0
		for _, std := range harvest.Standards {
			certifiers += len(std.Certifiers)
			training += len(std.TrainingCenters)
		}
		o.emit(r, progress.Event{
			Kind:       progress.KindECExtracted,
			Stage:      stage,
			Codigo:     id,
			Certifiers: certifiers,
			Training:   training,
			Dur:        res.dur,
		})
	}
	return res
}

// commitBatch makes one finished batch durable: corpus first, then the
// checkpoint, then the batch events.
func (o *Orchestrator) commitBatch(
	ctx context.Context,
	r *run,
	rec *renec.CheckpointRecord,
	results []itemResult,
	versions map[string]string,
) error {
	persistCtx := context.WithoutCancel(ctx)
	now := o.clock.Now()
	batchNo := rec.LastBatch + 1

	var merged renec.Harvest
	succeeded, skipped, failed := 0, 0, 0
	for _, res := range results {
		if !res.fetched {
			continue
		}
		state := res.state(batchNo)
		switch state.Outcome {
		case renec.OutcomeSuccess:
			succeeded++
			for i := range res.harvest.Standards {
				std := &res.harvest.Standards[i]
				// Stored versions must match what the index reports, or
				// incremental runs see every standard as stale.
				if v, ok := versions[std.Code]; ok {
					std.SourceVersion = v
				}
			}
			merged.Append(res.harvest)
		case renec.OutcomeSkipped:
			skipped++
		case renec.OutcomeError:
			failed++
		}
	}
	if !merged.Empty() {
		merged.Stamp(now)
		if err := o.corpus.MergeBatch(persistCtx, merged); err != nil {
			return fmt.Errorf("%w: merge batch %d of %s: %w", ErrPersistence, batchNo, rec.Stage, err)
		}
	}

	for _, res := range results {
		if res.fetched {
			rec.Mark(res.id, res.state(batchNo))
		}
	}
	rec.LastBatch = batchNo
	rec.UpdatedAt = now
	if err := o.checkpoints.Save(persistCtx, rec); err != nil {
		return fmt.Errorf("%w: save %s checkpoint: %w", ErrPersistence, rec.Stage, err)
	}

	o.emit(r, progress.Event{
		Kind:      progress.KindBatchComplete,
		Stage:     rec.Stage,
		Batch:     batchNo,
		Batches:   rec.TotalBatches,
		Succeeded: succeeded,
		Skipped:   skipped,
		Failed:    failed,
	})
	o.emit(r, progress.Event{Kind: progress.KindCheckpointSaved, Stage: rec.Stage, Batch: batchNo})
	return nil
}

// workList is the stage's ordered identifiers before resume subtraction.
func (o *Orchestrator) workList(
	ctx context.Context,
	stage renec.Stage,
	mode renec.Mode,
	universe []renec.IndexEntry,
) ([]string, error) {
	var ids []string
	switch mode {
	case renec.ModeIncremental:
		present, err := o.corpus.Versions(ctx, stage)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s versions: %w", ErrPersistence, stage, err)
		}
		ids = diff.Compute(universe, present, diff.Options{SkipIfExists: o.opts.SkipIfExists})
	default:
		ids = diff.Compute(universe, nil, diff.Options{})
	}
	if stage == renec.StageECDetails && o.opts.MaxItems > 0 && len(ids) > o.opts.MaxItems {
		ids = ids[:o.opts.MaxItems]
	}
	return ids, nil
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

// isInterrupt reports whether err stems from ctx being done.
func isInterrupt(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
