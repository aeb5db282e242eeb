// Package diff computes the minimal work list for incremental runs.
package diff

import "github.com/JakeFAU/renec-harvester/internal/renec"

// Options tunes the comparison.
type Options struct {
	// SkipIfExists ignores version signals: any identifier already in the
	// corpus is left alone.
	SkipIfExists bool
}

// Compute returns, in universe order, the identifiers that are absent from
// present or whose upstream version differs from the recorded one. present
// maps natural keys to their recorded source version. Entries without a
// version signal are only selected when absent.
func Compute(universe []renec.IndexEntry, present map[string]string, opts Options) []string {
	out := make([]string, 0)
	seen := make(map[string]struct{}, len(universe))
	for _, entry := range universe {
		if entry.Code == "" {
			continue
		}
		if _, dup := seen[entry.Code]; dup {
			continue
		}
		seen[entry.Code] = struct{}{}

		recorded, ok := present[entry.Code]
		switch {
		case !ok:
			out = append(out, entry.Code)
		case opts.SkipIfExists:
		case entry.Version != "" && entry.Version != recorded:
			out = append(out, entry.Code)
		}
	}
	return out
}

// Remaining filters ids down to those rec does not already mark as done.
// A nil record leaves the list unchanged.
func Remaining(ids []string, rec *renec.CheckpointRecord) []string {
	if rec == nil {
		return ids
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !rec.Done(id) {
			out = append(out, id)
		}
	}
	return out
}

// Codes wraps plain identifiers as index entries without version signals.
func Codes(ids []string) []renec.IndexEntry {
	out := make([]renec.IndexEntry, len(ids))
	for i, id := range ids {
		out[i] = renec.IndexEntry{Code: id}
	}
	return out
}
