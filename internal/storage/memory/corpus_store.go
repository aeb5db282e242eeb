// Package memory provides in-process stores used for dry runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// CorpusStore keeps the corpus in memory.
type CorpusStore struct {
	mu      sync.RWMutex
	corpus  renec.Corpus
	derived *renec.Derived
	merges  int
}

// NewCorpusStore constructs an empty CorpusStore.
func NewCorpusStore() *CorpusStore {
	return &CorpusStore{}
}

// MergeBatch upserts batch by natural key.
func (s *CorpusStore) MergeBatch(_ context.Context, batch renec.Harvest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corpus = s.corpus.Merge(batch)
	s.merges++
	return nil
}

// Snapshot returns a copy of the corpus.
func (s *CorpusStore) Snapshot(_ context.Context) (renec.Corpus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return renec.Corpus{
		Committees: append([]renec.Committee(nil), s.corpus.Committees...),
		Standards:  append([]renec.ECStandard(nil), s.corpus.Standards...),
	}, nil
}

// Versions returns the recorded source version per key.
func (s *CorpusStore) Versions(_ context.Context, stage renec.Stage) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.corpus.Versions(stage), nil
}

// SaveDerived keeps the latest statistics and registries.
func (s *CorpusStore) SaveDerived(_ context.Context, derived renec.Derived) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := derived
	s.derived = &d
	return nil
}

// Derived returns the last saved statistics and registries, if any.
func (s *CorpusStore) Derived() (renec.Derived, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.derived == nil {
		return renec.Derived{}, false
	}
	return *s.derived, true
}

// Merges reports how many batches were merged.
func (s *CorpusStore) Merges() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.merges
}
