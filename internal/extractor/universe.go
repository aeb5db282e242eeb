package extractor

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/renec-harvester/internal/diff"
	"github.com/JakeFAU/renec-harvester/internal/progress"
	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// committeeUniverse scans ids 1..maxID; ids that do not exist upstream come
// back as empty harvests and are recorded as skipped.
func committeeUniverse(maxID int) []renec.IndexEntry {
	ids := make([]string, 0, maxID)
	for id := 1; id <= maxID; id++ {
		ids = append(ids, strconv.Itoa(id))
	}
	return diff.Codes(ids)
}

// standardUniverse is the index listing united with every code referenced by
// a committee, sorted by code. Index entries keep their version; codes only
// seen through committees carry none. An unavailable index is reported and
// the run continues with the referenced codes.
func (o *Orchestrator) standardUniverse(ctx context.Context, r *run, logger *zap.Logger) ([]renec.IndexEntry, error) {
	byCode := make(map[string]renec.IndexEntry)
	if o.index != nil {
		entries, err := o.index.ListStandards(ctx)
		switch {
		case err == nil:
			for _, entry := range entries {
				if entry.Code == "" {
					continue
				}
				if _, dup := byCode[entry.Code]; !dup {
					byCode[entry.Code] = entry
				}
			}
		case isInterrupt(ctx, err):
			return nil, fmt.Errorf("%w: list standards: %w", ErrInterrupted, err)
		default:
			logger.Warn("standard index unavailable; using codes referenced by committees", zap.Error(err))
			o.emit(r, progress.Event{
				Kind:    progress.KindError,
				Stage:   renec.StageECDetails,
				Message: fmt.Sprintf("list standards: %v", err),
			})
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	corpus, err := o.corpus.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot corpus: %w", ErrPersistence, err)
	}
	for _, code := range corpus.ReferencedCodes() {
		if _, ok := byCode[code]; !ok {
			byCode[code] = renec.IndexEntry{Code: code}
		}
	}

	out := make([]renec.IndexEntry, 0, len(byCode))
	for _, entry := range byCode {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
