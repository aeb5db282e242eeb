package detector

import (
	"testing"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

func TestHeuristicShouldPromote(t *testing.T) {
	t.Parallel()

	certified := []renec.Certifier{{Name: "Entidad Uno"}}
	centres := []renec.TrainingCenter{{Name: "Centro Uno"}}
	tests := []struct {
		name string
		h    *Heuristic
		std  renec.ECStandard
		want bool
	}{
		{"empty record", NewHeuristic(), renec.ECStandard{}, true},
		{"no grids", NewHeuristic(), renec.ECStandard{Code: "EC0001", Title: "Atención"}, true},
		{"certifiers only", NewHeuristic(), renec.ECStandard{Title: "Atención", Certifiers: certified}, false},
		{"centres only", NewHeuristic(), renec.ECStandard{Title: "Atención", TrainingCenters: centres}, false},
		{"untitled", NewHeuristic(), renec.ECStandard{Title: "  ", Certifiers: certified}, true},
		{"untitled allowed", &Heuristic{}, renec.ECStandard{Certifiers: certified}, false},
	}
	for _, tc := range tests {
		if got := tc.h.ShouldPromote(tc.std); got != tc.want {
			t.Errorf("%s: ShouldPromote() = %v; want %v", tc.name, got, tc.want)
		}
	}
}
