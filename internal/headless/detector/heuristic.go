// Package detector decides when a standard must be completed from the
// rendered detail view.
package detector

import (
	"strings"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	// RequireTitle promotes records that arrive without a title.
	RequireTitle bool
}

// NewHeuristic creates a new detector that also promotes untitled records.
func NewHeuristic() *Heuristic {
	return &Heuristic{RequireTitle: true}
}

// ShouldPromote reports whether the API record lacks data only the detail
// view lists. A record with neither certifiers nor training centres is
// always promoted.
func (h *Heuristic) ShouldPromote(std renec.ECStandard) bool {
	if len(std.Certifiers) == 0 && len(std.TrainingCenters) == 0 {
		return true
	}
	return h.RequireTitle && strings.TrimSpace(std.Title) == ""
}
