package extractor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/renec-harvester/internal/progress"
	"github.com/JakeFAU/renec-harvester/internal/renec"
)

func TestRunBatchScenarioWithOneFailure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.fetcher.fail["EC002"] = true
	orch, err := New(Options{BatchSize: 2, SkipCommittees: true}, h.deps(indexOf("EC001", "EC002", "EC003")))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), renec.ModeFull)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"started",
		"progress:EC001", "ec_extracted:EC001",
		"progress:EC002", "error:EC002",
		"batch_complete:1/2", "checkpoint_saved",
		"progress:EC003", "ec_extracted:EC003",
		"batch_complete:2/2", "checkpoint_saved",
		"completed",
	}, h.events.Kinds())

	history := h.checkpoints.History()
	require.Len(t, history, 2)
	assert.Equal(t, map[string]renec.ItemState{
		"EC001": {Outcome: renec.OutcomeSuccess, Batch: 1},
		"EC002": {Outcome: renec.OutcomeError, Batch: 1, Error: "fetch EC002: upstream timeout"},
	}, history[0].Items)
	assert.Equal(t, renec.ItemState{Outcome: renec.OutcomeSuccess, Batch: 2}, history[1].Items["EC003"])
	assert.Equal(t, 2, history[1].LastBatch)

	corpus, err := h.corpus.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"EC001", "EC003"}, standardCodes(corpus))
	assert.Equal(t, "Estándar EC003", corpus.Standards[1].Title)
	assert.Equal(t, fixedNow, corpus.Standards[0].HarvestedAt)

	completed := h.events.OfKind(progress.KindCompleted)
	require.Len(t, completed, 1)
	require.NotNil(t, completed[0].Stats)
	assert.Equal(t, 2, completed[0].Stats.ECStandards)
	assert.Equal(t, 2, summary.Stats.ECStandards)

	require.Len(t, summary.Stages, 1)
	assert.Equal(t, 2, summary.Stages[0].Succeeded)
	assert.Equal(t, []FailedItem{{ID: "EC002", Error: "fetch EC002: upstream timeout"}}, summary.Stages[0].Failed)
	assert.Empty(t, h.checkpoints.Cleared(), "checkpoint kept while failures remain")

	derived, ok := h.corpus.Derived()
	require.True(t, ok)
	assert.Equal(t, "ECE-00001", derived.Certifiers[0].ID)
}

func TestRunIsolatesFailuresWithinBatches(t *testing.T) {
	t.Parallel()

	codes := make([]string, 10)
	for i := range codes {
		codes[i] = fmt.Sprintf("EC%02d", i+1)
	}
	h := newHarness()
	h.fetcher.fail["EC03"] = true
	h.fetcher.fail["EC07"] = true
	orch, err := New(Options{BatchSize: 4, SkipCommittees: true}, h.deps(indexOf(codes...)))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), renec.ModeFull)
	require.NoError(t, err)

	corpus, err := h.corpus.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"EC01", "EC02", "EC04", "EC05", "EC06", "EC08", "EC09", "EC10"}, standardCodes(corpus))

	var failed []string
	for _, evt := range h.events.OfKind(progress.KindError) {
		failed = append(failed, evt.Codigo)
	}
	assert.Equal(t, []string{"EC03", "EC07"}, failed)
	assert.Equal(t, 2, summary.FailedCount())
	assert.Len(t, h.events.OfKind(progress.KindBatchComplete), 3)
	assert.Len(t, h.events.OfKind(progress.KindCompleted), 1)
}

func TestRunResumeProcessesOnlyUnfinishedIdentifiers(t *testing.T) {
	t.Parallel()

	codes := []string{"EC001", "EC002", "EC003", "EC004", "EC005", "EC006"}
	index := indexOf(codes...)

	reference := newHarness()
	refOrch, err := New(Options{BatchSize: 2, SkipCommittees: true}, reference.deps(index))
	require.NoError(t, err)
	_, err = refOrch.Run(context.Background(), renec.ModeFull)
	require.NoError(t, err)
	want, err := reference.corpus.Snapshot(context.Background())
	require.NoError(t, err)

	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	h.fetcher.onFetch = func(id string) {
		if id == "EC004" {
			cancel()
		}
	}
	orch, err := New(Options{BatchSize: 2, SkipCommittees: true}, h.deps(index))
	require.NoError(t, err)
	_, err = orch.Run(ctx, renec.ModeFull)
	require.ErrorIs(t, err, ErrInterrupted)
	require.ErrorIs(t, err, context.Canceled)

	partial, err := h.corpus.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"EC001", "EC002"}, standardCodes(partial), "unfinished batch is discarded")
	saved, err := h.checkpoints.Load(context.Background(), renec.StageECDetails)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 1, saved.LastBatch)
	require.Len(t, h.events.OfKind(progress.KindError), 1)
	assert.True(t, h.events.OfKind(progress.KindError)[0].RunFailed())
	assert.Empty(t, h.events.OfKind(progress.KindCompleted))

	resumed := newFakeFetcher()
	h.fetcher = resumed
	orch, err = New(Options{BatchSize: 2, SkipCommittees: true, Resume: true}, h.deps(index))
	require.NoError(t, err)
	summary, err := orch.Run(context.Background(), renec.ModeFull)
	require.NoError(t, err)

	assert.Equal(t, []string{"ec_details:EC003", "ec_details:EC004", "ec_details:EC005", "ec_details:EC006"}, resumed.Calls())
	got, err := h.corpus.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.Len(t, summary.Stages, 1)
	assert.True(t, summary.Stages[0].Resumed)
	assert.Equal(t, 6, summary.Stages[0].Succeeded)
	assert.Equal(t, 3, summary.Stages[0].Batches)
	assert.Equal(t, []renec.Stage{renec.StageECDetails}, h.checkpoints.Cleared())
}

func TestRunResumeRetriesOnlyFailures(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.fetcher.fail["EC002"] = true
	index := indexOf("EC001", "EC002", "EC003")
	orch, err := New(Options{BatchSize: 2, SkipCommittees: true}, h.deps(index))
	require.NoError(t, err)
	_, err = orch.Run(context.Background(), renec.ModeFull)
	require.NoError(t, err)

	retry := newFakeFetcher()
	h.fetcher = retry
	orch, err = New(Options{BatchSize: 2, SkipCommittees: true, Resume: true}, h.deps(index))
	require.NoError(t, err)
	summary, err := orch.Run(context.Background(), renec.ModeFull)
	require.NoError(t, err)

	assert.Equal(t, []string{"ec_details:EC002"}, retry.Calls())
	assert.Zero(t, summary.FailedCount())
	assert.Equal(t, []string{"EC001", "EC003", "EC002"}, standardCodes(mustSnapshot(t, h)))
}

func TestRunResumeWithoutCheckpointStartsFresh(t *testing.T) {
	t.Parallel()

	h := newHarness()
	orch, err := New(Options{BatchSize: 2, SkipCommittees: true, Resume: true}, h.deps(indexOf("EC001")))
	require.NoError(t, err)
	summary, err := orch.Run(context.Background(), renec.ModeFull)
	require.NoError(t, err)
	assert.False(t, summary.Stages[0].Resumed)
	assert.Equal(t, []string{"ec_details:EC001"}, h.fetcher.Calls())
}

func TestRunIncrementalFetchesOnlyNewIdentifiers(t *testing.T) {
	t.Parallel()

	h := newHarness()
	require.NoError(t, h.corpus.MergeBatch(context.Background(), renec.Harvest{Standards: []renec.ECStandard{
		{Code: "A"}, {Code: "B"}, {Code: "C"},
	}}))
	orch, err := New(Options{BatchSize: 10, SkipCommittees: true}, h.deps(indexOf("A", "B", "C", "D")))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), renec.ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, []string{"ec_details:D"}, h.fetcher.Calls())
	assert.Equal(t, 1, summary.Stages[0].Total)
	assert.Equal(t, 4, summary.Stats.ECStandards)
}

func TestRunInterruptedFetchIsNotReportedAsFailure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	h.fetcher.fail["EC002"] = true
	h.fetcher.onFetch = func(id string) {
		if id == "EC002" {
			cancel()
		}
	}
	orch, err := New(Options{BatchSize: 2, SkipCommittees: true}, h.deps(indexOf("EC001", "EC002", "EC003")))
	require.NoError(t, err)

	_, err = orch.Run(ctx, renec.ModeFull)
	require.ErrorIs(t, err, ErrInterrupted)

	errs := h.events.OfKind(progress.KindError)
	require.Len(t, errs, 1)
	assert.True(t, errs[0].RunFailed())
	assert.NotContains(t, h.events.Kinds(), "error:EC002")
}

func TestRunIncrementalRefetchesStaleVersions(t *testing.T) {
	t.Parallel()

	h := newHarness()
	require.NoError(t, h.corpus.MergeBatch(context.Background(), renec.Harvest{Standards: []renec.ECStandard{
		{Code: "A", SourceVersion: "v1"}, {Code: "B", SourceVersion: "v1"},
	}}))
	index := fakeIndex{entries: []renec.IndexEntry{{Code: "A", Version: "v1"}, {Code: "B", Version: "v2"}}}

	orch, err := New(Options{SkipCommittees: true}, h.deps(index))
	require.NoError(t, err)
	_, err = orch.Run(context.Background(), renec.ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, []string{"ec_details:B"}, h.fetcher.Calls())

	versions, err := h.corpus.Versions(context.Background(), renec.StageECDetails)
	require.NoError(t, err)
	assert.Equal(t, "v2", versions["B"])

	skip := newHarness()
	require.NoError(t, skip.corpus.MergeBatch(context.Background(), renec.Harvest{Standards: []renec.ECStandard{
		{Code: "A", SourceVersion: "v1"}, {Code: "B", SourceVersion: "v1"},
	}}))
	orch, err = New(Options{SkipCommittees: true, SkipIfExists: true}, skip.deps(index))
	require.NoError(t, err)
	_, err = orch.Run(context.Background(), renec.ModeIncremental)
	require.NoError(t, err)
	assert.Empty(t, skip.fetcher.Calls())
}

func TestRunFullIsIdempotent(t *testing.T) {
	t.Parallel()

	index := indexOf("EC001", "EC002", "EC003")
	run := func(h *harness) (renec.Corpus, renec.Derived) {
		orch, err := New(Options{BatchSize: 2, MaxCommitteeID: 3}, h.deps(index))
		require.NoError(t, err)
		_, err = orch.Run(context.Background(), renec.ModeFull)
		require.NoError(t, err)
		derived, ok := h.corpus.Derived()
		require.True(t, ok)
		return mustSnapshot(t, h), derived
	}

	first, firstDerived := run(newHarness())
	second, secondDerived := run(newHarness())
	assert.Equal(t, first, second)
	assert.Equal(t, firstDerived, secondDerived)

	same := newHarness()
	once, _ := run(same)
	twice, _ := run(same)
	assert.Equal(t, once, twice)
}

func TestRunScansCommitteesAndUsesTheirCodes(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.fetcher.missing["2"] = true
	orch, err := New(Options{BatchSize: 5, MaxCommitteeID: 3}, h.deps(nil))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), renec.ModeFull)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"committees:1", "committees:2", "committees:3",
		"ec_details:EC01", "ec_details:EC03",
	}, h.fetcher.Calls())
	require.Len(t, summary.Stages, 2)
	assert.Equal(t, renec.StageCommittees, summary.Stages[0].Stage)
	assert.Equal(t, 2, summary.Stages[0].Succeeded)
	assert.Equal(t, 1, summary.Stages[0].Skipped)
	assert.Empty(t, summary.Stages[0].Failed)
	assert.Equal(t, 2, summary.Stats.Committees)
	assert.ElementsMatch(t, []renec.Stage{renec.StageCommittees, renec.StageECDetails}, h.checkpoints.Cleared())
	for _, evt := range h.events.OfKind(progress.KindECExtracted) {
		assert.Equal(t, renec.StageECDetails, evt.Stage)
	}
}

func TestRunFallsBackWhenIndexFails(t *testing.T) {
	t.Parallel()

	h := newHarness()
	orch, err := New(Options{MaxCommitteeID: 1}, h.deps(fakeIndex{err: fmt.Errorf("503 from index")}))
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), renec.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, []string{"committees:1", "ec_details:EC01"}, h.fetcher.Calls())

	errs := h.events.OfKind(progress.KindError)
	require.Len(t, errs, 1)
	assert.False(t, errs[0].RunFailed())
	assert.Contains(t, errs[0].Message, "503 from index")
}

func TestRunMergeFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness()
	deps := h.deps(indexOf("EC001", "EC002"))
	deps.Corpus = &flakyCorpus{CorpusStore: h.corpus, failMerge: true}
	orch, err := New(Options{BatchSize: 1, SkipCommittees: true}, deps)
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), renec.ModeFull)
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, errDiskFull)
	assert.Empty(t, h.checkpoints.History(), "checkpoint never advances past unmerged data")
	assert.Equal(t, []string{"ec_details:EC001"}, h.fetcher.Calls())
	assert.Empty(t, h.events.OfKind(progress.KindCompleted))
}

func TestRunCheckpointFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness()
	deps := h.deps(indexOf("EC001"))
	deps.Checkpoints = failingCheckpoints{h.checkpoints}
	orch, err := New(Options{SkipCommittees: true}, deps)
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), renec.ModeFull)
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, []string{"EC001"}, standardCodes(mustSnapshot(t, h)), "corpus is merged before the checkpoint")
}

func TestRunStatsModeDoesNotFetch(t *testing.T) {
	t.Parallel()

	h := newHarness()
	require.NoError(t, h.corpus.MergeBatch(context.Background(), renec.Harvest{Standards: []renec.ECStandard{
		{Code: "EC1", Certifiers: []renec.Certifier{{Name: "X", Type: "mystery"}}},
	}}))
	orch, err := New(Options{}, h.deps(indexOf("EC1", "EC2")))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), renec.ModeStats)
	require.NoError(t, err)
	assert.Empty(t, h.fetcher.Calls())
	assert.Equal(t, []string{"started", "completed"}, h.events.Kinds())
	assert.Equal(t, 1, summary.Stats.CertifiersByType[renec.CertifierUnknown])
	assert.Empty(t, h.checkpoints.Cleared())
}

func TestRunStatsFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness()
	deps := h.deps(nil)
	deps.Corpus = &flakyCorpus{CorpusStore: h.corpus, failDerived: true}
	orch, err := New(Options{}, deps)
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), renec.ModeStats)
	require.ErrorIs(t, err, ErrPersistence)
}

func TestRunLimitTruncatesStandards(t *testing.T) {
	t.Parallel()

	h := newHarness()
	orch, err := New(Options{SkipCommittees: true, MaxItems: 2}, h.deps(indexOf("EC1", "EC2", "EC3")))
	require.NoError(t, err)
	_, err = orch.Run(context.Background(), renec.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, []string{"ec_details:EC1", "ec_details:EC2"}, h.fetcher.Calls())
}

func TestRunWithWorkerPoolKeepsProgressMonotonic(t *testing.T) {
	t.Parallel()

	codes := make([]string, 25)
	for i := range codes {
		codes[i] = fmt.Sprintf("EC%03d", i+1)
	}
	h := newHarness()
	h.fetcher.fail["EC010"] = true
	orch, err := New(Options{SkipCommittees: true, BatchSize: 7, Workers: 4}, h.deps(indexOf(codes...)))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), renec.ModeFull)
	require.NoError(t, err)

	progressEvents := h.events.OfKind(progress.KindProgress)
	require.Len(t, progressEvents, 25)
	for i, evt := range progressEvents {
		assert.Equal(t, i+1, evt.Processed)
		assert.Equal(t, codes[i], evt.Current)
	}
	assert.Len(t, mustSnapshot(t, h).Standards, 24)
	assert.Equal(t, 1, summary.FailedCount())
	assert.Len(t, h.checkpoints.History(), 4)
}

func TestRunWithoutListeners(t *testing.T) {
	t.Parallel()

	h := newHarness()
	deps := h.deps(indexOf("EC1"))
	deps.Events = nil
	orch, err := New(Options{SkipCommittees: true}, deps)
	require.NoError(t, err)
	summary, err := orch.Run(context.Background(), renec.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stats.ECStandards)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	h := newHarness()
	orch, err := New(Options{}, h.deps(nil))
	require.NoError(t, err)
	_, err = orch.Run(context.Background(), renec.Mode("bogus"))
	require.Error(t, err)
}

func TestNewValidatesOptionsAndDependencies(t *testing.T) {
	t.Parallel()

	h := newHarness()
	_, err := New(Options{BatchSize: -1}, h.deps(nil))
	require.ErrorContains(t, err, "batch size")

	_, err = New(Options{Workers: -2, TopN: -1}, h.deps(nil))
	require.ErrorContains(t, err, "workers")
	require.ErrorContains(t, err, "top n")

	deps := h.deps(nil)
	deps.Fetcher = nil
	_, err = New(Options{}, deps)
	require.Error(t, err)
}

func mustSnapshot(t *testing.T, h *harness) renec.Corpus {
	t.Helper()
	corpus, err := h.corpus.Snapshot(context.Background())
	require.NoError(t, err)
	return corpus
}
