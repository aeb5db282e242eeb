package renec

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Stage names a pass over one identifier space.
type Stage string

// Supported extraction stages.
const (
	StageCommittees Stage = "committees"
	StageECDetails  Stage = "ec_details"
)

// Stages lists the stages in pipeline order.
var Stages = []Stage{StageCommittees, StageECDetails}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s == StageCommittees || s == StageECDetails
}

// Mode selects how a run computes its work list.
type Mode string

// Supported run modes.
const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
	ModeStats       Mode = "stats"
)

// ParseMode converts user input into a Mode.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeFull, ModeIncremental, ModeStats:
		return m, nil
	case "":
		return ModeFull, nil
	default:
		return "", fmt.Errorf("unknown mode %q", raw)
	}
}

// Outcome is the per-identifier result recorded in a checkpoint.
type Outcome string

// Per-identifier outcomes. Skipped marks an identifier that does not exist
// upstream (a gap in the id scan); it is neither a success nor an error.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

// AssociatedEC is a competency standard as listed on a committee record.
type AssociatedEC struct {
	Code        string `json:"codigo"`
	Title       string `json:"titulo,omitempty"`
	Sector      string `json:"sector,omitempty"`
	StandardID  *int   `json:"idEstandar,omitempty"`
	Operational bool   `json:"operativo"`
}

// Committee is a standardization committee record.
type Committee struct {
	ID              int            `json:"id"`
	Clave           string         `json:"clave,omitempty"`
	Name            string         `json:"nombre"`
	Address         string         `json:"direccion,omitempty"`
	Phone           string         `json:"telefono,omitempty"`
	Email           string         `json:"email,omitempty"`
	URL             string         `json:"url,omitempty"`
	Sector          string         `json:"sectorProductivo,omitempty"`
	IntegrationDate string         `json:"fechaIntegracion,omitempty"`
	Standards       []AssociatedEC `json:"estandaresAsociados,omitempty"`
	SourceVersion   string         `json:"sourceVersion,omitempty"`
	HarvestedAt     time.Time      `json:"harvestedAt"`
}

// Key returns the committee's natural key: its numeric id, or the clave when
// the id is unknown.
func (c Committee) Key() string {
	if c.ID > 0 {
		return strconv.Itoa(c.ID)
	}
	return c.Clave
}

// Certifier is a certifying body attached to a standard.
type Certifier struct {
	Name  string `json:"nombre"`
	Type  string `json:"tipo,omitempty"`
	State string `json:"estado,omitempty"`
}

// Classification maps the raw type onto the closed CertifierType set.
func (c Certifier) Classification() CertifierType {
	return ClassifyCertifier(c.Type)
}

// TrainingCenter is a training provider attached to a standard.
type TrainingCenter struct {
	Name  string `json:"nombre"`
	State string `json:"estado,omitempty"`
}

// ECStandard is the full record of one competency standard.
type ECStandard struct {
	Code            string           `json:"codigo"`
	ID              int              `json:"id,omitempty"`
	Level           string           `json:"nivel,omitempty"`
	Title           string           `json:"titulo"`
	Sector          string           `json:"sector,omitempty"`
	Committee       string           `json:"comite,omitempty"`
	PublishedAt     string           `json:"fechaPublicacion,omitempty"`
	ValidUntil      string           `json:"vigenteHasta,omitempty"`
	Description     string           `json:"descripcion,omitempty"`
	Certifiers      []Certifier      `json:"certificadores"`
	TrainingCenters []TrainingCenter `json:"centrosCapacitacion"`
	SourceVersion   string           `json:"sourceVersion,omitempty"`
	HarvestedAt     time.Time        `json:"harvestedAt"`
}

// Key returns the standard's natural key (its EC code).
func (s ECStandard) Key() string {
	return s.Code
}

// IndexEntry is one row of the upstream standards index. Version carries an
// opaque staleness signal and is empty when the source offers none.
type IndexEntry struct {
	Code    string `json:"codigo"`
	Title   string `json:"titulo,omitempty"`
	Version string `json:"version,omitempty"`
}

// Harvest is what a single fetch yields. An empty harvest means the
// identifier does not exist upstream.
type Harvest struct {
	Committees []Committee
	Standards  []ECStandard
}

// Empty reports whether the harvest carries no records.
func (h Harvest) Empty() bool {
	return len(h.Committees) == 0 && len(h.Standards) == 0
}

// Append adds other's records to h.
func (h *Harvest) Append(other Harvest) {
	h.Committees = append(h.Committees, other.Committees...)
	h.Standards = append(h.Standards, other.Standards...)
}

// Stamp sets HarvestedAt on every record that does not carry one yet.
func (h Harvest) Stamp(at time.Time) {
	for i := range h.Committees {
		if h.Committees[i].HarvestedAt.IsZero() {
			h.Committees[i].HarvestedAt = at
		}
	}
	for i := range h.Standards {
		if h.Standards[i].HarvestedAt.IsZero() {
			h.Standards[i].HarvestedAt = at
		}
	}
}

// Corpus is the accumulated set of records, in first-discovery order.
type Corpus struct {
	Committees []Committee
	Standards  []ECStandard
}

// Merge upserts the harvest into the corpus by natural key. Replaced records
// keep their original position; new records are appended.
func (c Corpus) Merge(h Harvest) Corpus {
	out := Corpus{
		Committees: append([]Committee(nil), c.Committees...),
		Standards:  append([]ECStandard(nil), c.Standards...),
	}
	if len(h.Committees) > 0 {
		idx := make(map[string]int, len(out.Committees))
		for i, rec := range out.Committees {
			idx[rec.Key()] = i
		}
		for _, rec := range h.Committees {
			if i, ok := idx[rec.Key()]; ok {
				out.Committees[i] = rec
				continue
			}
			idx[rec.Key()] = len(out.Committees)
			out.Committees = append(out.Committees, rec)
		}
	}
	if len(h.Standards) > 0 {
		idx := make(map[string]int, len(out.Standards))
		for i, rec := range out.Standards {
			idx[rec.Key()] = i
		}
		for _, rec := range h.Standards {
			if i, ok := idx[rec.Key()]; ok {
				out.Standards[i] = rec
				continue
			}
			idx[rec.Key()] = len(out.Standards)
			out.Standards = append(out.Standards, rec)
		}
	}
	return out
}

// ReferencedCodes returns the EC codes listed by committees, sorted and
// de-duplicated.
func (c Corpus) ReferencedCodes() []string {
	seen := make(map[string]struct{})
	for _, com := range c.Committees {
		for _, ec := range com.Standards {
			if code := strings.TrimSpace(ec.Code); code != "" {
				seen[code] = struct{}{}
			}
		}
	}
	return sortedKeys(seen)
}

// Codes returns the sorted union of harvested standard codes and codes
// referenced by committees.
func (c Corpus) Codes() []string {
	seen := make(map[string]struct{})
	for _, code := range c.ReferencedCodes() {
		seen[code] = struct{}{}
	}
	for _, std := range c.Standards {
		if std.Code != "" {
			seen[std.Code] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// Versions returns the recorded source version per natural key for a stage.
func (c Corpus) Versions(stage Stage) map[string]string {
	switch stage {
	case StageCommittees:
		out := make(map[string]string, len(c.Committees))
		for _, rec := range c.Committees {
			out[rec.Key()] = rec.SourceVersion
		}
		return out
	case StageECDetails:
		out := make(map[string]string, len(c.Standards))
		for _, rec := range c.Standards {
			out[rec.Key()] = rec.SourceVersion
		}
		return out
	default:
		return map[string]string{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
