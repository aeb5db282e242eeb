// Package local implements the JSON-file corpus store that writes the
// harvester's artifacts into the output directory.
package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/renec-harvester/internal/fsutil"
	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// Config captures the parameters for the local corpus store.
type Config struct {
	// BaseDir is the output directory holding the JSON artifacts.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// CorpusStore keeps the corpus in memory and mirrors it to JSON files after
// every merge. Each file is replaced atomically.
type CorpusStore struct {
	mu     sync.Mutex
	dir    string
	corpus renec.Corpus
	now    func() time.Time
	logger *zap.Logger
}

// New opens (or initialises) the store in cfg.BaseDir, loading any corpus
// already on disk.
func New(cfg Config, logger *zap.Logger) (*CorpusStore, error) {
	if err := fsutil.EnsureWritableDir(cfg.BaseDir); err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	corpus, err := ReadCorpus(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("load existing corpus: %w", err)
	}
	logger.Debug("local corpus opened",
		zap.String("dir", cfg.BaseDir),
		zap.Int("committees", len(corpus.Committees)),
		zap.Int("standards", len(corpus.Standards)),
	)
	return &CorpusStore{
		dir:    cfg.BaseDir,
		corpus: corpus,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}, nil
}

// Dir returns the output directory.
func (s *CorpusStore) Dir() string {
	return s.dir
}

// MergeBatch upserts batch and rewrites the affected files. The in-memory
// corpus only advances once the files are on disk.
func (s *CorpusStore) MergeBatch(ctx context.Context, batch renec.Harvest) error {
	if batch.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("merge batch: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.corpus.Merge(batch)
	now := s.now()
	if len(batch.Committees) > 0 {
		if err := writeCommittees(s.dir, next, now); err != nil {
			return err
		}
	}
	if len(batch.Standards) > 0 {
		if err := writeStandards(s.dir, next, now); err != nil {
			return err
		}
	}
	if err := writeCodes(s.dir, next, now); err != nil {
		return err
	}
	s.corpus = next
	return nil
}

// Snapshot returns a copy of the corpus.
func (s *CorpusStore) Snapshot(_ context.Context) (renec.Corpus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return renec.Corpus{
		Committees: append([]renec.Committee(nil), s.corpus.Committees...),
		Standards:  append([]renec.ECStandard(nil), s.corpus.Standards...),
	}, nil
}

// Versions returns the recorded source version per key for stage.
func (s *CorpusStore) Versions(_ context.Context, stage renec.Stage) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corpus.Versions(stage), nil
}

// SaveDerived writes stats.json and the master registries.
func (s *CorpusStore) SaveDerived(ctx context.Context, derived renec.Derived) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save derived: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteDerived(s.dir, derived)
}
