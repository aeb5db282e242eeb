// Package checkpoint persists per-stage resume state as JSON files. Writes are
// atomic and completed checkpoints are archived rather than deleted.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/renec-harvester/internal/fsutil"
	"github.com/JakeFAU/renec-harvester/internal/renec"
)

const archiveDir = "archive"

// Store is a file-backed renec.CheckpointStore rooted at a directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

// New prepares dir for checkpoint files.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if err := fsutil.EnsureWritableDir(dir); err != nil {
		return nil, fmt.Errorf("checkpoint dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the directory holding checkpoint files.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the checkpoint file for a stage.
func (s *Store) Path(stage renec.Stage) string {
	return filepath.Join(s.dir, "checkpoint_"+string(stage)+".json")
}

// Load returns the stored record for stage, or nil when none exists.
func (s *Store) Load(ctx context.Context, stage renec.Stage) (*renec.CheckpointRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var rec renec.CheckpointRecord
	if err := fsutil.ReadJSON(s.Path(stage), &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("load checkpoint %s: %w", stage, err)
	}
	if rec.Version != renec.CheckpointVersion {
		return nil, fmt.Errorf("checkpoint %s: unsupported version %d", stage, rec.Version)
	}
	if rec.Stage != stage {
		return nil, fmt.Errorf("checkpoint %s: file holds stage %q", stage, rec.Stage)
	}
	if rec.Items == nil {
		rec.Items = make(map[string]renec.ItemState)
	}
	return &rec, nil
}

// Save atomically replaces the checkpoint for rec.Stage.
func (s *Store) Save(ctx context.Context, rec *renec.CheckpointRecord) error {
	if rec == nil {
		return errors.New("save checkpoint: nil record")
	}
	if !rec.Stage.Valid() {
		return fmt.Errorf("save checkpoint: invalid stage %q", rec.Stage)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if err := fsutil.WriteJSON(s.Path(rec.Stage), rec); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", rec.Stage, err)
	}
	return nil
}

// Clear moves the stage checkpoint into the archive directory. Clearing a
// stage without a checkpoint is a no-op.
func (s *Store) Clear(ctx context.Context, stage renec.Stage) error {
	rec, err := s.Load(ctx, stage)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	archive := filepath.Join(s.dir, archiveDir)
	if err := os.MkdirAll(archive, 0o750); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	suffix := rec.RunID
	if suffix == "" {
		suffix = rec.UpdatedAt.UTC().Format("20060102T150405")
	}
	target := filepath.Join(archive, fmt.Sprintf("checkpoint_%s_%s.json", stage, suffix))
	if err := os.Rename(s.Path(stage), target); err != nil {
		return fmt.Errorf("archive checkpoint %s: %w", stage, err)
	}
	s.logger.Info("checkpoint archived", zap.String("stage", string(stage)), zap.String("path", target))
	return nil
}

// List returns the active checkpoint of every stage that has one.
func (s *Store) List(ctx context.Context) ([]*renec.CheckpointRecord, error) {
	var out []*renec.CheckpointRecord
	for _, stage := range renec.Stages {
		rec, err := s.Load(ctx, stage)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Archived returns the archived checkpoint file names, newest last.
func (s *Store) Archived() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, archiveDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read archive: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
