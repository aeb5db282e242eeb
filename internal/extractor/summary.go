package extractor

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// FailedItem is one identifier whose last attempt failed.
type FailedItem struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// StageResult reports the outcome of one stage. Counts cover the whole
// checkpointed stage, including work done before a resume.
type StageResult struct {
	Stage     renec.Stage  `json:"stage"`
	Mode      renec.Mode   `json:"mode"`
	Resumed   bool         `json:"resumed"`
	Total     int          `json:"total"`
	Processed int          `json:"processed"`
	Succeeded int          `json:"succeeded"`
	Skipped   int          `json:"skipped"`
	Failed    []FailedItem `json:"failed"`
	Batches   int          `json:"batches"`
}

// RunSummary is returned by Orchestrator.Run.
type RunSummary struct {
	RunID    uuid.UUID              `json:"runId"`
	Mode     renec.Mode             `json:"mode"`
	Stages   []StageResult          `json:"stages"`
	Stats    *renec.ExtractionStats `json:"stats,omitempty"`
	Duration time.Duration          `json:"duration"`
}

// FailedCount totals failures across stages.
func (s RunSummary) FailedCount() int {
	n := 0
	for _, st := range s.Stages {
		n += len(st.Failed)
	}
	return n
}

func stageResult(rec *renec.CheckpointRecord, processed int, resumed bool) StageResult {
	res := StageResult{
		Stage:     rec.Stage,
		Mode:      rec.Mode,
		Resumed:   resumed,
		Total:     rec.Total,
		Processed: processed,
		Succeeded: rec.Count(renec.OutcomeSuccess),
		Skipped:   rec.Count(renec.OutcomeSkipped),
		Batches:   rec.LastBatch,
		Failed:    []FailedItem{},
	}
	for _, id := range rec.Failed() {
		res.Failed = append(res.Failed, FailedItem{ID: id, Error: rec.Items[id].Error})
	}
	return res
}
