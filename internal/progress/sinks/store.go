package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/renec-harvester/internal/progress"
	"github.com/JakeFAU/renec-harvester/internal/renec"
	"github.com/JakeFAU/renec-harvester/internal/store"
)

// StoreSink persists run history via a store.RunRepository. Batch outcome
// counts are collapsed per run and stage to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards run lifecycle events and stage tallies to the repository.
// Pending tallies are written before a run is marked finished. It respects
// ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	tallies := make(map[tallyKey]*store.StageTally)
	var order []tallyKey

	for _, evt := range batch {
		switch {
		case evt.Kind == progress.KindStarted:
			if err := s.repo.StartRun(ctx, evt.RunUUID(), evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case evt.Kind == progress.KindBatchComplete:
			key := tallyKey{runID: evt.RunID, stage: evt.Stage}
			tally := tallies[key]
			if tally == nil {
				tally = &store.StageTally{RunID: evt.RunUUID(), Stage: evt.Stage}
				tallies[key] = tally
				order = append(order, key)
			}
			tally.Succeeded += evt.Succeeded + evt.Skipped
			tally.Failed += evt.Failed
			tally.Batches++
			if evt.TS.After(tally.LastUpdate) {
				tally.LastUpdate = evt.TS
			}
		case evt.Kind == progress.KindCompleted, evt.RunFailed():
			if err := s.flushTallies(ctx, tallies, order); err != nil {
				return err
			}
			order = order[:0]
			if err := s.completeRun(ctx, evt); err != nil {
				return err
			}
		}
	}
	return s.flushTallies(ctx, tallies, order)
}

func (s *StoreSink) flushTallies(ctx context.Context, tallies map[tallyKey]*store.StageTally, order []tallyKey) error {
	for _, key := range order {
		tally := tallies[key]
		delete(tallies, key)
		if err := s.repo.AddStageTally(ctx, *tally); err != nil {
			return fmt.Errorf("add stage tally: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) completeRun(ctx context.Context, evt progress.Event) error {
	status := store.RunSuccess
	var errMsg *string
	if evt.RunFailed() {
		status = store.RunError
		msg := evt.Message
		errMsg = &msg
	}
	finished := evt.TS
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	if err := s.repo.CompleteRun(ctx, evt.RunUUID(), finished, status, evt.Stats, errMsg); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type tallyKey struct {
	runID [16]byte
	stage renec.Stage
}
