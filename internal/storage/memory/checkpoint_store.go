package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// CheckpointStore keeps checkpoint records in memory. Every Save is retained
// in History so callers can inspect the sequence of persisted states.
type CheckpointStore struct {
	mu      sync.Mutex
	records map[renec.Stage]*renec.CheckpointRecord
	history []*renec.CheckpointRecord
	cleared []renec.Stage
}

// NewCheckpointStore constructs an empty CheckpointStore.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{records: make(map[renec.Stage]*renec.CheckpointRecord)}
}

// Load returns a copy of the stored record, or nil.
func (s *CheckpointStore) Load(_ context.Context, stage renec.Stage) (*renec.CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[stage].Clone(), nil
}

// Save stores a copy of rec.
func (s *CheckpointStore) Save(_ context.Context, rec *renec.CheckpointRecord) error {
	if rec == nil {
		return errors.New("nil checkpoint record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Stage] = rec.Clone()
	s.history = append(s.history, rec.Clone())
	return nil
}

// Clear drops the record for stage.
func (s *CheckpointStore) Clear(_ context.Context, stage renec.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, stage)
	s.cleared = append(s.cleared, stage)
	return nil
}

// History returns every saved record in save order.
func (s *CheckpointStore) History() []*renec.CheckpointRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*renec.CheckpointRecord, len(s.history))
	for i, rec := range s.history {
		out[i] = rec.Clone()
	}
	return out
}

// Cleared returns the stages cleared so far.
func (s *CheckpointStore) Cleared() []renec.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]renec.Stage(nil), s.cleared...)
}
