// Package loader is the read-only query façade over the harvested artifacts.
// It loads the output directory once per process and never writes to it.
// Missing or unreadable files degrade to empty results with a warning.
package loader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/JakeFAU/renec-harvester/internal/fsutil"
	"github.com/JakeFAU/renec-harvester/internal/renec"
	"github.com/JakeFAU/renec-harvester/internal/stats"
	"github.com/JakeFAU/renec-harvester/internal/storage/local"
)

// Config locates the artifacts.
type Config struct {
	DataDir string
	Logger  *zap.Logger
}

// Loader answers typed lookups over the corpus artifacts.
type Loader struct {
	dir    string
	logger *zap.Logger
	once   sync.Once
	data   atomic.Pointer[dataset]
}

type dataset struct {
	corpus          renec.Corpus
	stats           renec.ExtractionStats
	certifiers      []renec.RegistryEntry
	trainingCenters []renec.RegistryEntry
	matrix          map[string]renec.MatrixEntry
	certifierByID   map[string]int
	standardByCode  map[string]int
	standardByID    map[int]int
	committeeByID   map[int]int
	committeeByKey  map[string]int
	loadedAt        time.Time
}

// SearchResults groups free-text matches by record kind.
type SearchResults struct {
	Standards       []renec.ECStandard    `json:"standards"`
	Committees      []renec.Committee     `json:"committees"`
	Certifiers      []renec.RegistryEntry `json:"certifiers"`
	TrainingCenters []renec.RegistryEntry `json:"trainingCenters"`
}

// Total is the number of matches across kinds.
func (r SearchResults) Total() int {
	return len(r.Standards) + len(r.Committees) + len(r.Certifiers) + len(r.TrainingCenters)
}

// New returns a Loader for cfg.DataDir. Nothing is read until the first query.
func New(cfg Config) *Loader {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{dir: cfg.DataDir, logger: logger}
}

// Load reads the artifacts if that has not happened yet. Queries call it
// implicitly; servers call it up front to warm the cache.
func (l *Loader) Load() {
	l.once.Do(func() {
		l.data.Store(l.read())
	})
}

func (l *Loader) get() *dataset {
	l.Load()
	return l.data.Load()
}

// LoadedAt reports when the artifacts were read; zero before the first load.
func (l *Loader) LoadedAt() time.Time {
	d := l.data.Load()
	if d == nil {
		return time.Time{}
	}
	return d.loadedAt
}

func (l *Loader) read() *dataset {
	d := &dataset{loadedAt: time.Now().UTC()}

	var committees local.CommitteesDocument
	if l.readDoc(renec.FileCommittees, &committees) {
		d.corpus.Committees = committees.Committees
	}
	var standards local.StandardsDocument
	if l.readDoc(renec.FileStandards, &standards) {
		d.corpus.Standards = standards.Standards
	}
	if !l.readDoc(renec.FileStats, &d.stats) {
		d.stats = stats.Compute(d.corpus, stats.Options{Now: d.loadedAt})
	}
	var certs, centers local.RegistryDocument
	okCerts := l.readDoc(renec.FileCertifierIndex, &certs)
	okCenters := l.readDoc(renec.FileTrainingIndex, &centers)
	if okCerts && okCenters {
		d.certifiers, d.trainingCenters = certs.Registry, centers.Registry
	} else {
		d.certifiers, d.trainingCenters = stats.BuildRegistries(d.corpus)
	}
	var matrix local.MatrixDocument
	if okCerts && l.readDoc(renec.FileMatrix, &matrix) {
		d.matrix = matrix.Matrix
	} else {
		d.matrix = stats.BuildMatrix(d.corpus, d.certifiers)
	}
	d.certifierByID = make(map[string]int, len(d.certifiers))
	for i, e := range d.certifiers {
		d.certifierByID[e.ID] = i
	}

	d.standardByCode = make(map[string]int, len(d.corpus.Standards))
	d.standardByID = make(map[int]int, len(d.corpus.Standards))
	for i, std := range d.corpus.Standards {
		d.standardByCode[strings.ToUpper(std.Code)] = i
		if std.ID > 0 {
			d.standardByID[std.ID] = i
		}
	}
	d.committeeByID = make(map[int]int, len(d.corpus.Committees))
	d.committeeByKey = make(map[string]int, len(d.corpus.Committees))
	for i, com := range d.corpus.Committees {
		if com.ID > 0 {
			d.committeeByID[com.ID] = i
		}
		if com.Clave != "" {
			d.committeeByKey[strings.ToUpper(com.Clave)] = i
		}
	}

	l.logger.Info("artifacts loaded",
		zap.String("dir", l.dir),
		zap.Int("committees", len(d.corpus.Committees)),
		zap.Int("standards", len(d.corpus.Standards)),
		zap.Int("certifiers", len(d.certifiers)),
	)
	return d
}

// readDoc decodes one artifact and reports whether it was usable.
func (l *Loader) readDoc(name string, v any) bool {
	path := filepath.Join(l.dir, name)
	err := fsutil.ReadJSON(path, v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, os.ErrNotExist):
		l.logger.Warn("artifact missing; serving empty results", zap.String("path", path))
	default:
		l.logger.Warn("artifact unreadable; serving empty results", zap.String("path", path), zap.Error(err))
	}
	return false
}

// StandardByCode looks a standard up by EC code, ignoring case.
func (l *Loader) StandardByCode(code string) (renec.ECStandard, bool) {
	d := l.get()
	i, ok := d.standardByCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return renec.ECStandard{}, false
	}
	return d.corpus.Standards[i], true
}

// StandardByID looks a standard up by its numeric upstream id.
func (l *Loader) StandardByID(id int) (renec.ECStandard, bool) {
	d := l.get()
	i, ok := d.standardByID[id]
	if !ok {
		return renec.ECStandard{}, false
	}
	return d.corpus.Standards[i], true
}

// CommitteeByID looks a committee up by numeric id.
func (l *Loader) CommitteeByID(id int) (renec.Committee, bool) {
	d := l.get()
	i, ok := d.committeeByID[id]
	if !ok {
		return renec.Committee{}, false
	}
	return d.corpus.Committees[i], true
}

// CommitteeByClave looks a committee up by its clave, ignoring case.
func (l *Loader) CommitteeByClave(clave string) (renec.Committee, bool) {
	d := l.get()
	i, ok := d.committeeByKey[strings.ToUpper(strings.TrimSpace(clave))]
	if !ok {
		return renec.Committee{}, false
	}
	return d.corpus.Committees[i], true
}

// StandardsBySector returns standards whose sector contains the given text.
// An empty sector matches every standard.
func (l *Loader) StandardsBySector(sector string) []renec.ECStandard {
	m := newMatcher(sector)
	out := []renec.ECStandard{}
	for _, std := range l.get().corpus.Standards {
		if m.match(std.Sector) {
			out = append(out, std)
		}
	}
	return out
}

// CommitteesBySector returns committees whose sector contains the given text.
func (l *Loader) CommitteesBySector(sector string) []renec.Committee {
	m := newMatcher(sector)
	out := []renec.Committee{}
	for _, com := range l.get().corpus.Committees {
		if m.match(com.Sector) {
			out = append(out, com)
		}
	}
	return out
}

// CertifiersByState returns registry certifiers operating in a matching state.
func (l *Loader) CertifiersByState(state string) []renec.RegistryEntry {
	return byState(l.get().certifiers, state)
}

// CertifiersForStandard returns the registry certifiers listed on the
// standard with the given EC code, in registry id order.
func (l *Loader) CertifiersForStandard(code string) ([]renec.RegistryEntry, bool) {
	d := l.get()
	i, ok := d.standardByCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, false
	}
	entry := d.matrix[d.corpus.Standards[i].Code]
	out := make([]renec.RegistryEntry, 0, len(entry.CertifierIDs))
	for _, id := range entry.CertifierIDs {
		if i, ok := d.certifierByID[id]; ok {
			out = append(out, d.certifiers[i])
		}
	}
	return out, true
}

// TrainingCentersByState returns registry training centres in a matching state.
func (l *Loader) TrainingCentersByState(state string) []renec.RegistryEntry {
	return byState(l.get().trainingCenters, state)
}

func byState(entries []renec.RegistryEntry, state string) []renec.RegistryEntry {
	m := newMatcher(state)
	out := []renec.RegistryEntry{}
	for _, e := range entries {
		if m.empty() || m.matchAny(e.States) {
			out = append(out, e)
		}
	}
	return out
}

// Search matches query against codes, titles and names. Every word of the
// query must appear in the same field. limit caps each kind; 0 means no cap.
func (l *Loader) Search(query string, limit int) SearchResults {
	res := SearchResults{
		Standards:       []renec.ECStandard{},
		Committees:      []renec.Committee{},
		Certifiers:      []renec.RegistryEntry{},
		TrainingCenters: []renec.RegistryEntry{},
	}
	m := newMatcher(query)
	if m.empty() {
		return res
	}
	full := func(n int) bool { return limit > 0 && n >= limit }
	d := l.get()
	for _, std := range d.corpus.Standards {
		if full(len(res.Standards)) {
			break
		}
		if m.matchAny([]string{std.Code, std.Title}) {
			res.Standards = append(res.Standards, std)
		}
	}
	for _, com := range d.corpus.Committees {
		if full(len(res.Committees)) {
			break
		}
		if m.matchAny([]string{com.Name, com.Clave}) {
			res.Committees = append(res.Committees, com)
		}
	}
	for _, e := range d.certifiers {
		if full(len(res.Certifiers)) {
			break
		}
		if m.matchAny(append([]string{e.CanonicalName}, e.AlternateNames...)) {
			res.Certifiers = append(res.Certifiers, e)
		}
	}
	for _, e := range d.trainingCenters {
		if full(len(res.TrainingCenters)) {
			break
		}
		if m.matchAny(append([]string{e.CanonicalName}, e.AlternateNames...)) {
			res.TrainingCenters = append(res.TrainingCenters, e)
		}
	}
	return res
}

// Stats returns the persisted statistics snapshot, or one recomputed in
// memory when stats.json is unavailable.
func (l *Loader) Stats() renec.ExtractionStats {
	return l.get().stats
}

// Counts reports how many committees and standards are loaded.
func (l *Loader) Counts() (committees, standards int) {
	d := l.get()
	return len(d.corpus.Committees), len(d.corpus.Standards)
}

// matcher does accent and case insensitive substring matching.
type matcher struct {
	words []string
}

func newMatcher(query string) matcher {
	return matcher{words: strings.Fields(fold(query))}
}

func (m matcher) empty() bool {
	return len(m.words) == 0
}

func (m matcher) match(field string) bool {
	f := fold(field)
	for _, w := range m.words {
		if !strings.Contains(f, w) {
			return false
		}
	}
	return true
}

func (m matcher) matchAny(fields []string) bool {
	for _, f := range fields {
		if m.match(f) {
			return true
		}
	}
	return false
}

func fold(s string) string {
	return cases.Fold().String(renec.Fold(s))
}
