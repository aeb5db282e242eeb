package headless

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

const (
	gridSelector   = `[role="grid"], mat-table, table`
	headerSelector = `[role="columnheader"], mat-header-cell, th`
	rowSelector    = `[role="row"], mat-row, tr`
	cellSelector   = `[role="gridcell"], mat-cell, td`
)

// Detail is what the detail view of one standard lists.
type Detail struct {
	Title            string
	Certifiers       []renec.Certifier
	TrainingCenters  []renec.TrainingCenter
	Occupations      []string
	CommitteeMembers []string
}

// Empty reports whether the view carried no content at all.
func (d Detail) Empty() bool {
	return d.Title == "" && len(d.Certifiers) == 0 && len(d.TrainingCenters) == 0 &&
		len(d.Occupations) == 0 && len(d.CommitteeMembers) == 0
}

type gridKind int

const (
	gridUnknown gridKind = iota
	gridCertifiers
	gridTraining
	gridOccupations
	gridMembers
)

func classifyGrid(header string) gridKind {
	h := strings.ToLower(renec.Fold(header))
	switch {
	case strings.Contains(h, "certificador"):
		return gridCertifiers
	case strings.Contains(h, "curso"), strings.Contains(h, "capacitacion"):
		return gridTraining
	case strings.Contains(h, "ocupacion"):
		return gridOccupations
	case strings.Contains(h, "integrantes"):
		return gridMembers
	default:
		return gridUnknown
	}
}

// ParseDetail extracts the title and the grids from a rendered detail view.
// Grids are recognised by their first column header; optional "tipo" and
// "estado" columns fill the certifier type and state.
func ParseDetail(r io.Reader) (Detail, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Detail{}, fmt.Errorf("parse detail html: %w", err)
	}
	var d Detail
	d.Title = cleanText(doc.Find("p").First().Text())

	doc.Find(gridSelector).Each(func(_ int, grid *goquery.Selection) {
		headers := grid.Find(headerSelector)
		if headers.Length() == 0 {
			return
		}
		columns := make([]string, headers.Length())
		headers.Each(func(i int, h *goquery.Selection) {
			columns[i] = cleanText(h.Text())
		})
		kind := classifyGrid(columns[0])
		if kind == gridUnknown {
			return
		}
		typeCol, stateCol := column(columns, "tipo"), column(columns, "estado", "entidad")

		grid.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
			cells := row.Find(cellSelector)
			if cells.Length() == 0 {
				return
			}
			cell := func(i int) string {
				if i < 0 || i >= cells.Length() {
					return ""
				}
				return cleanText(cells.Eq(i).Text())
			}
			name := cell(0)
			if name == "" || name == columns[0] {
				return
			}
			switch kind {
			case gridCertifiers:
				d.Certifiers = append(d.Certifiers, renec.Certifier{Name: name, Type: cell(typeCol), State: cell(stateCol)})
			case gridTraining:
				d.TrainingCenters = append(d.TrainingCenters, renec.TrainingCenter{Name: name, State: cell(stateCol)})
			case gridOccupations:
				d.Occupations = append(d.Occupations, name)
			case gridMembers:
				d.CommitteeMembers = append(d.CommitteeMembers, name)
			}
		})
	})
	return d, nil
}

// column returns the index of the first non-leading column whose header
// contains one of the words, or -1.
func column(columns []string, words ...string) int {
	for i := 1; i < len(columns); i++ {
		h := strings.ToLower(renec.Fold(columns[i]))
		for _, w := range words {
			if strings.Contains(h, w) {
				return i
			}
		}
	}
	return -1
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
