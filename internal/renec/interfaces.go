package renec

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that an identifier does not exist upstream or in a store.
var ErrNotFound = errors.New("renec: not found")

// PageFetcher retrieves the records behind one identifier of a stage. An
// empty Harvest with a nil error means the identifier does not exist.
type PageFetcher interface {
	Fetch(ctx context.Context, stage Stage, id string) (Harvest, error)
}

// IndexFetcher lists every standard known upstream.
type IndexFetcher interface {
	ListStandards(ctx context.Context) ([]IndexEntry, error)
}

// CorpusStore durably accumulates harvested records.
type CorpusStore interface {
	// MergeBatch upserts the batch by natural key. It must be durable when it
	// returns nil.
	MergeBatch(ctx context.Context, batch Harvest) error
	// Snapshot returns the full corpus in first-discovery order.
	Snapshot(ctx context.Context) (Corpus, error)
	// Versions returns the recorded source version per natural key.
	Versions(ctx context.Context, stage Stage) (map[string]string, error)
	// SaveDerived persists the statistics and registries computed from the corpus.
	SaveDerived(ctx context.Context, derived Derived) error
}

// CheckpointStore persists per-stage resume state.
type CheckpointStore interface {
	// Load returns nil without error when no checkpoint exists.
	Load(ctx context.Context, stage Stage) (*CheckpointRecord, error)
	Save(ctx context.Context, rec *CheckpointRecord) error
	Clear(ctx context.Context, stage Stage) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
