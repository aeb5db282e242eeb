package renec

import (
	"sort"
	"time"
)

// CheckpointVersion is the on-disk schema version of CheckpointRecord.
const CheckpointVersion = 1

// ItemState is the recorded outcome for one identifier.
type ItemState struct {
	Outcome Outcome `json:"outcome"`
	Batch   int     `json:"batch"`
	Error   string  `json:"error,omitempty"`
}

// CheckpointRecord is the resumable state of one stage.
type CheckpointRecord struct {
	Version      int                  `json:"version"`
	RunID        string               `json:"runId"`
	Stage        Stage                `json:"stage"`
	Mode         Mode                 `json:"mode"`
	BatchSize    int                  `json:"batchSize"`
	Total        int                  `json:"total"`
	LastBatch    int                  `json:"lastBatch"`
	TotalBatches int                  `json:"totalBatches"`
	Items        map[string]ItemState `json:"items"`
	StartedAt    time.Time            `json:"startedAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// NewCheckpointRecord starts an empty record for a stage run.
func NewCheckpointRecord(runID string, stage Stage, mode Mode, batchSize int, now time.Time) *CheckpointRecord {
	return &CheckpointRecord{
		Version:   CheckpointVersion,
		RunID:     runID,
		Stage:     stage,
		Mode:      mode,
		BatchSize: batchSize,
		Items:     make(map[string]ItemState),
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Mark records the outcome for id, replacing any earlier state.
func (r *CheckpointRecord) Mark(id string, state ItemState) {
	if r.Items == nil {
		r.Items = make(map[string]ItemState)
	}
	r.Items[id] = state
}

// Done reports whether id needs no further work on resume.
func (r *CheckpointRecord) Done(id string) bool {
	if r == nil {
		return false
	}
	st, ok := r.Items[id]
	return ok && (st.Outcome == OutcomeSuccess || st.Outcome == OutcomeSkipped)
}

// Count returns how many identifiers ended with the given outcome.
func (r *CheckpointRecord) Count(outcome Outcome) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, st := range r.Items {
		if st.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failed returns the identifiers whose last outcome was an error, sorted.
func (r *CheckpointRecord) Failed() []string {
	if r == nil {
		return nil
	}
	var out []string
	for id, st := range r.Items {
		if st.Outcome == OutcomeError {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy so stores can keep snapshots.
func (r *CheckpointRecord) Clone() *CheckpointRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Items = make(map[string]ItemState, len(r.Items))
	for k, v := range r.Items {
		out.Items[k] = v
	}
	return &out
}
