package local

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JakeFAU/renec-harvester/internal/fsutil"
	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// CommitteesDocument is the on-disk layout of committees.json.
type CommitteesDocument struct {
	UpdatedAt  time.Time         `json:"updatedAt"`
	Total      int               `json:"total"`
	Committees []renec.Committee `json:"committees"`
}

// StandardsDocument is the on-disk layout of ec_standards.json.
type StandardsDocument struct {
	UpdatedAt time.Time          `json:"updatedAt"`
	Total     int                `json:"total"`
	Standards []renec.ECStandard `json:"ecStandards"`
}

// CodesDocument is the on-disk layout of ec_codes.json.
type CodesDocument struct {
	UpdatedAt time.Time `json:"updatedAt"`
	Total     int       `json:"total"`
	Codes     []string  `json:"codes"`
}

// RegistryDocument is the on-disk layout of the master registries.
type RegistryDocument struct {
	GeneratedAt time.Time             `json:"generatedAt"`
	Description string                `json:"description"`
	Total       int                   `json:"total"`
	Registry    []renec.RegistryEntry `json:"registry"`
}

// MatrixDocument is the on-disk layout of ec_ece_matrix.json.
type MatrixDocument struct {
	GeneratedAt time.Time                    `json:"generatedAt"`
	Total       int                          `json:"total"`
	Matrix      map[string]renec.MatrixEntry `json:"matrix"`
}

// ReadCorpus loads committees.json and ec_standards.json from dir. Missing
// files yield empty collections.
func ReadCorpus(dir string) (renec.Corpus, error) {
	var corpus renec.Corpus
	var committees CommitteesDocument
	if err := readOptional(filepath.Join(dir, renec.FileCommittees), &committees); err != nil {
		return renec.Corpus{}, err
	}
	var standards StandardsDocument
	if err := readOptional(filepath.Join(dir, renec.FileStandards), &standards); err != nil {
		return renec.Corpus{}, err
	}
	corpus.Committees = committees.Committees
	corpus.Standards = standards.Standards
	return corpus, nil
}

// ReadStats loads stats.json from dir. It reports renec.ErrNotFound when the
// file does not exist.
func ReadStats(dir string) (renec.ExtractionStats, error) {
	var stats renec.ExtractionStats
	if err := fsutil.ReadJSON(filepath.Join(dir, renec.FileStats), &stats); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return renec.ExtractionStats{}, renec.ErrNotFound
		}
		return renec.ExtractionStats{}, err
	}
	return stats, nil
}

// ReadRegistry loads one of the master registry files from dir. Missing files
// yield an empty registry.
func ReadRegistry(dir, name string) ([]renec.RegistryEntry, error) {
	var doc RegistryDocument
	if err := readOptional(filepath.Join(dir, name), &doc); err != nil {
		return nil, err
	}
	return doc.Registry, nil
}

// WriteCorpus writes the corpus collections and the derived codes index.
func WriteCorpus(dir string, corpus renec.Corpus, now time.Time) error {
	if err := writeCommittees(dir, corpus, now); err != nil {
		return err
	}
	if err := writeStandards(dir, corpus, now); err != nil {
		return err
	}
	return writeCodes(dir, corpus, now)
}

// WriteDerived writes stats.json, both master registries and the EC to
// certifier matrix.
func WriteDerived(dir string, derived renec.Derived) error {
	at := derived.Stats.GeneratedAt
	if err := fsutil.WriteJSON(filepath.Join(dir, renec.FileStats), derived.Stats); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	certs := RegistryDocument{
		GeneratedAt: at,
		Description: "Deduplicated certifying bodies (ECE/OC) across all competency standards",
		Total:       len(derived.Certifiers),
		Registry:    nonNilEntries(derived.Certifiers),
	}
	if err := fsutil.WriteJSON(filepath.Join(dir, renec.FileCertifierIndex), certs); err != nil {
		return fmt.Errorf("write certifier registry: %w", err)
	}
	centers := RegistryDocument{
		GeneratedAt: at,
		Description: "Deduplicated training centres across all competency standards",
		Total:       len(derived.TrainingCenters),
		Registry:    nonNilEntries(derived.TrainingCenters),
	}
	if err := fsutil.WriteJSON(filepath.Join(dir, renec.FileTrainingIndex), centers); err != nil {
		return fmt.Errorf("write training registry: %w", err)
	}
	matrix := MatrixDocument{GeneratedAt: at, Total: len(derived.Matrix), Matrix: derived.Matrix}
	if matrix.Matrix == nil {
		matrix.Matrix = map[string]renec.MatrixEntry{}
	}
	if err := fsutil.WriteJSON(filepath.Join(dir, renec.FileMatrix), matrix); err != nil {
		return fmt.Errorf("write certifier matrix: %w", err)
	}
	return nil
}

func writeCommittees(dir string, corpus renec.Corpus, now time.Time) error {
	doc := CommitteesDocument{UpdatedAt: now, Total: len(corpus.Committees), Committees: corpus.Committees}
	if doc.Committees == nil {
		doc.Committees = []renec.Committee{}
	}
	if err := fsutil.WriteJSON(filepath.Join(dir, renec.FileCommittees), doc); err != nil {
		return fmt.Errorf("write committees: %w", err)
	}
	return nil
}

func writeStandards(dir string, corpus renec.Corpus, now time.Time) error {
	doc := StandardsDocument{UpdatedAt: now, Total: len(corpus.Standards), Standards: corpus.Standards}
	if doc.Standards == nil {
		doc.Standards = []renec.ECStandard{}
	}
	if err := fsutil.WriteJSON(filepath.Join(dir, renec.FileStandards), doc); err != nil {
		return fmt.Errorf("write standards: %w", err)
	}
	return nil
}

func writeCodes(dir string, corpus renec.Corpus, now time.Time) error {
	codes := corpus.Codes()
	doc := CodesDocument{UpdatedAt: now, Total: len(codes), Codes: codes}
	if err := fsutil.WriteJSON(filepath.Join(dir, renec.FileCodes), doc); err != nil {
		return fmt.Errorf("write codes index: %w", err)
	}
	return nil
}

func readOptional(path string, v any) error {
	if err := fsutil.ReadJSON(path, v); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func nonNilEntries(in []renec.RegistryEntry) []renec.RegistryEntry {
	if in == nil {
		return []renec.RegistryEntry{}
	}
	return in
}
