package extractor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/renec-harvester/internal/progress"
	"github.com/JakeFAU/renec-harvester/internal/renec"
	"github.com/JakeFAU/renec-harvester/internal/storage/memory"
)

var fixedNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return fixedNow }

type seqIDs struct {
	mu sync.Mutex
	n  byte
}

func (s *seqIDs) NewRunID() (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	var id uuid.UUID
	id[15] = s.n
	return id, nil
}

// fakeFetcher serves standards named after the requested code. Codes listed in
// fail return an error; codes in missing return an empty harvest.
type fakeFetcher struct {
	mu      sync.Mutex
	fail    map[string]bool
	missing map[string]bool
	calls   []string
	onFetch func(id string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{fail: map[string]bool{}, missing: map[string]bool{}}
}

func (f *fakeFetcher) Fetch(_ context.Context, stage renec.Stage, id string) (renec.Harvest, error) {
	f.mu.Lock()
	f.calls = append(f.calls, string(stage)+":"+id)
	hook := f.onFetch
	fail, missing := f.fail[id], f.missing[id]
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if fail {
		return renec.Harvest{}, fmt.Errorf("fetch %s: upstream timeout", id)
	}
	if missing {
		return renec.Harvest{}, nil
	}
	if stage == renec.StageCommittees {
		return renec.Harvest{Committees: []renec.Committee{{
			ID:        atoi(id),
			Name:      "Comité " + id,
			Sector:    "Servicios",
			Standards: []renec.AssociatedEC{{Code: "EC0" + id}},
		}}}, nil
	}
	return renec.Harvest{Standards: []renec.ECStandard{{
		Code:   id,
		Title:  "Estándar " + id,
		Sector: "Educación",
		Certifiers: []renec.Certifier{
			{Name: "Acme S.C.", Type: "ECE"},
			{Name: "Instituto " + id, Type: "Universidad"},
		},
		TrainingCenters: []renec.TrainingCenter{{Name: "Centro " + id}},
	}}}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

type fakeIndex struct {
	entries []renec.IndexEntry
	err     error
}

func (f fakeIndex) ListStandards(context.Context) ([]renec.IndexEntry, error) {
	return f.entries, f.err
}

func indexOf(codes ...string) fakeIndex {
	entries := make([]renec.IndexEntry, 0, len(codes))
	for _, c := range codes {
		entries = append(entries, renec.IndexEntry{Code: c})
	}
	return fakeIndex{entries: entries}
}

// recorder is a synchronous Emitter that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

func (r *recorder) Kinds() []string {
	var out []string
	for _, evt := range r.Events() {
		label := string(evt.Kind)
		switch evt.Kind {
		case progress.KindProgress:
			label += ":" + evt.Current
		case progress.KindECExtracted, progress.KindError:
			label += ":" + evt.Codigo
		case progress.KindBatchComplete:
			label += fmt.Sprintf(":%d/%d", evt.Batch, evt.Batches)
		}
		out = append(out, label)
	}
	return out
}

func (r *recorder) OfKind(kind progress.Kind) []progress.Event {
	var out []progress.Event
	for _, evt := range r.Events() {
		if evt.Kind == kind {
			out = append(out, evt)
		}
	}
	return out
}

var errDiskFull = errors.New("disk full")

// flakyCorpus fails MergeBatch or SaveDerived on demand.
type flakyCorpus struct {
	*memory.CorpusStore
	failMerge   bool
	failDerived bool
}

func (f *flakyCorpus) MergeBatch(ctx context.Context, batch renec.Harvest) error {
	if f.failMerge {
		return errDiskFull
	}
	return f.CorpusStore.MergeBatch(ctx, batch)
}

func (f *flakyCorpus) SaveDerived(ctx context.Context, derived renec.Derived) error {
	if f.failDerived {
		return errDiskFull
	}
	return f.CorpusStore.SaveDerived(ctx, derived)
}

type failingCheckpoints struct {
	*memory.CheckpointStore
}

func (failingCheckpoints) Save(context.Context, *renec.CheckpointRecord) error {
	return errDiskFull
}

type harness struct {
	fetcher     *fakeFetcher
	corpus      *memory.CorpusStore
	checkpoints *memory.CheckpointStore
	events      *recorder
}

func newHarness() *harness {
	return &harness{
		fetcher:     newFakeFetcher(),
		corpus:      memory.NewCorpusStore(),
		checkpoints: memory.NewCheckpointStore(),
		events:      &recorder{},
	}
}

func (h *harness) deps(index renec.IndexFetcher) Dependencies {
	return Dependencies{
		Fetcher:     h.fetcher,
		Index:       index,
		Corpus:      h.corpus,
		Checkpoints: h.checkpoints,
		Events:      h.events,
		Clock:       fixedClock{},
		IDs:         &seqIDs{},
	}
}

func standardCodes(c renec.Corpus) []string {
	out := make([]string, 0, len(c.Standards))
	for _, std := range c.Standards {
		out = append(out, std.Code)
	}
	return out
}
