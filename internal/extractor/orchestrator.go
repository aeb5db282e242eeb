package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/renec-harvester/internal/clock/system"
	uuidgen "github.com/JakeFAU/renec-harvester/internal/id/uuid"
	"github.com/JakeFAU/renec-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/renec-harvester/internal/progress"
	"github.com/JakeFAU/renec-harvester/internal/renec"
	"github.com/JakeFAU/renec-harvester/internal/stats"
)

var (
	// ErrPersistence wraps failures to read or write the corpus or checkpoints.
	ErrPersistence = errors.New("extractor: persistence failure")
	// ErrInterrupted reports that the run stopped on context cancellation.
	ErrInterrupted = errors.New("extractor: interrupted")
)

// Pacer spaces fetch starts. It is shared by every worker.
type Pacer interface {
	Wait(ctx context.Context) error
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// Dependencies are the collaborators of an Orchestrator. Fetcher, Corpus and
// Checkpoints are required; the rest fall back to defaults.
type Dependencies struct {
	Fetcher     renec.PageFetcher
	Index       renec.IndexFetcher
	Corpus      renec.CorpusStore
	Checkpoints renec.CheckpointStore
	Pacer       Pacer
	Events      progress.Emitter
	Clock       renec.Clock
	IDs         IDGenerator
	Logger      *zap.Logger
	Tracer      trace.Tracer
}

// Orchestrator runs extraction stages against its stores.
type Orchestrator struct {
	opts        Options
	fetcher     renec.PageFetcher
	index       renec.IndexFetcher
	corpus      renec.CorpusStore
	checkpoints renec.CheckpointStore
	pacer       Pacer
	events      progress.Emitter
	clock       renec.Clock
	ids         IDGenerator
	logger      *zap.Logger
	tracer      trace.Tracer
}

// New validates opts and wires deps into an Orchestrator.
func New(opts Options, deps Dependencies) (*Orchestrator, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extractor options: %w", err)
	}
	if deps.Fetcher == nil || deps.Corpus == nil || deps.Checkpoints == nil {
		return nil, errors.New("extractor requires a fetcher, a corpus store and a checkpoint store")
	}
	o := &Orchestrator{
		opts:        opts,
		fetcher:     deps.Fetcher,
		index:       deps.Index,
		corpus:      deps.Corpus,
		checkpoints: deps.Checkpoints,
		pacer:       deps.Pacer,
		events:      deps.Events,
		clock:       deps.Clock,
		ids:         deps.IDs,
		logger:      deps.Logger,
		tracer:      deps.Tracer,
	}
	if o.pacer == nil {
		o.pacer = ratelimit.New(ratelimit.Config{Delay: opts.RequestDelay})
	}
	if o.events == nil {
		o.events = progress.Discard
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	if o.ids == nil {
		o.ids = uuidgen.New()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("github.com/JakeFAU/renec-harvester/internal/extractor")
	}
	return o, nil
}

// run carries per-invocation state shared by the stages.
type run struct {
	id      uuid.UUID
	eventID [16]byte
	mode    renec.Mode
	started time.Time
}

// Run executes one invocation in the given mode. Stats mode only recomputes
// the derived artifacts. The summary is populated as far as the run got, even
// when an error is returned.
func (o *Orchestrator) Run(ctx context.Context, mode renec.Mode) (RunSummary, error) {
	runID, err := o.ids.NewRunID()
	if err != nil {
		return RunSummary{}, fmt.Errorf("new run id: %w", err)
	}
	r := &run{id: runID, eventID: progress.UUIDToBytes(runID), mode: mode, started: o.clock.Now()}
	summary := RunSummary{RunID: runID, Mode: mode}

	ctx, span := o.tracer.Start(ctx, "extractor.Run", trace.WithAttributes(
		attribute.String("run.id", runID.String()),
		attribute.String("run.mode", string(mode)),
	))
	defer span.End()

	logger := o.logger.With(zap.String("run_id", runID.String()), zap.String("mode", string(mode)))
	logger.Info("extraction run started", zap.Bool("resume", o.opts.Resume))
	o.emit(r, progress.Event{Kind: progress.KindStarted, Mode: mode})

	err = o.execute(ctx, r, &summary, logger)
	summary.Duration = o.clock.Now().Sub(r.started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.emit(r, progress.Event{Kind: progress.KindError, Message: err.Error(), Dur: summary.Duration})
		logger.Error("extraction run failed", zap.Error(err), zap.Duration("dur", summary.Duration))
		return summary, err
	}
	o.emit(r, progress.Event{Kind: progress.KindCompleted, Mode: mode, Stats: summary.Stats, Dur: summary.Duration})
	logger.Info("extraction run completed",
		zap.Int("failed", summary.FailedCount()),
		zap.Duration("dur", summary.Duration),
	)
	return summary, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run, summary *RunSummary, logger *zap.Logger) error {
	switch r.mode {
	case renec.ModeStats:
		return o.finish(ctx, r, summary, nil)
	case renec.ModeFull, renec.ModeIncremental:
	default:
		return fmt.Errorf("unsupported mode %q", r.mode)
	}

	var records []*renec.CheckpointRecord
	if !o.opts.SkipCommittees {
		res, rec, err := o.runStage(ctx, r, renec.StageCommittees, committeeUniverse(o.opts.MaxCommitteeID), logger)
		if rec != nil {
			summary.Stages = append(summary.Stages, res)
		}
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	universe, err := o.standardUniverse(ctx, r, logger)
	if err != nil {
		return err
	}
	res, rec, err := o.runStage(ctx, r, renec.StageECDetails, universe, logger)
	if rec != nil {
		summary.Stages = append(summary.Stages, res)
	}
	if err != nil {
		return err
	}
	records = append(records, rec)
	return o.finish(ctx, r, summary, records)
}

// finish recomputes the derived artifacts and, when no identifier is left to
// retry, archives the stage checkpoints.
func (o *Orchestrator) finish(
	ctx context.Context,
	r *run,
	summary *RunSummary,
	records []*renec.CheckpointRecord,
) error {
	persistCtx := context.WithoutCancel(ctx)
	corpus, err := o.corpus.Snapshot(persistCtx)
	if err != nil {
		return fmt.Errorf("%w: snapshot corpus: %w", ErrPersistence, err)
	}
	derived := stats.Derive(corpus, stats.Options{TopN: o.opts.TopN, Now: o.clock.Now()})
	if err := o.corpus.SaveDerived(persistCtx, derived); err != nil {
		return fmt.Errorf("%w: save stats: %w", ErrPersistence, err)
	}
	summary.Stats = &derived.Stats

	for _, rec := range records {
		if len(rec.Failed()) > 0 {
			return nil
		}
	}
	for _, rec := range records {
		if err := o.checkpoints.Clear(persistCtx, rec.Stage); err != nil {
			return fmt.Errorf("%w: clear %s checkpoint: %w", ErrPersistence, rec.Stage, err)
		}
	}
	return nil
}

func (o *Orchestrator) emit(r *run, evt progress.Event) {
	evt.RunID = r.eventID
	if evt.TS.IsZero() {
		evt.TS = o.clock.Now()
	}
	o.events.Emit(evt)
}
