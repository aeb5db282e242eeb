// Package local_test tests the JSON-file corpus store.
package local_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/renec-harvester/internal/renec"
	"github.com/JakeFAU/renec-harvester/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()}, nil)
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{}, nil)
		assert.Error(t, err)
	})
	t.Run("CorruptExistingFile", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, renec.FileStandards), []byte("[oops"), 0o600))
		_, err := local.New(local.Config{BaseDir: dir}, nil)
		assert.Error(t, err)
	})
}

func TestMergeBatchPersistsAndReloads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	store, err := local.New(local.Config{BaseDir: dir}, nil)
	require.NoError(t, err)

	require.NoError(t, store.MergeBatch(ctx, renec.Harvest{
		Committees: []renec.Committee{{
			ID:        12,
			Name:      "Comité de Gestión",
			Standards: []renec.AssociatedEC{{Code: "EC0900"}},
		}},
		Standards: []renec.ECStandard{{Code: "EC0217", Title: "Impartición de cursos"}},
	}))
	require.NoError(t, store.MergeBatch(ctx, renec.Harvest{
		Standards: []renec.ECStandard{{Code: "EC0217", Title: "Impartición de cursos v2"}, {Code: "EC0301"}},
	}))

	reopened, err := local.New(local.Config{BaseDir: dir}, nil)
	require.NoError(t, err)
	snap, err := reopened.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Standards, 2)
	assert.Equal(t, "Impartición de cursos v2", snap.Standards[0].Title)
	require.Len(t, snap.Committees, 1)

	raw, err := os.ReadFile(filepath.Join(dir, renec.FileCodes))
	require.NoError(t, err)
	var codes local.CodesDocument
	require.NoError(t, json.Unmarshal(raw, &codes))
	assert.Equal(t, []string{"EC0217", "EC0301", "EC0900"}, codes.Codes)
}

func TestMergeBatchIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	store, err := local.New(local.Config{BaseDir: dir}, nil)
	require.NoError(t, err)

	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	batch := renec.Harvest{Standards: []renec.ECStandard{{Code: "EC1", HarvestedAt: at}}}
	require.NoError(t, store.MergeBatch(ctx, batch))
	first, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, store.MergeBatch(ctx, batch))
	second, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSaveDerivedWritesArtifacts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir}, nil)
	require.NoError(t, err)

	derived := renec.Derived{
		Stats: renec.ExtractionStats{ECStandards: 4, GeneratedAt: time.Unix(10, 0).UTC()},
		Certifiers: []renec.RegistryEntry{{
			ID: "ECE-00001", CanonicalName: "Instituto X", ECCodes: []string{"EC1"}, ECCount: 1,
		}},
		Matrix: map[string]renec.MatrixEntry{
			"EC1": {Title: "Uno", CertifierIDs: []string{"ECE-00001"}, CertifierCount: 1},
		},
	}
	require.NoError(t, store.SaveDerived(context.Background(), derived))

	stats, err := local.ReadStats(dir)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.ECStandards)

	certs, err := local.ReadRegistry(dir, renec.FileCertifierIndex)
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "ECE-00001", certs[0].ID)

	centers, err := local.ReadRegistry(dir, renec.FileTrainingIndex)
	require.NoError(t, err)
	assert.Empty(t, centers)

	raw, err := os.ReadFile(filepath.Join(dir, renec.FileMatrix))
	require.NoError(t, err)
	var matrix local.MatrixDocument
	require.NoError(t, json.Unmarshal(raw, &matrix))
	assert.Equal(t, 1, matrix.Total)
	assert.Equal(t, []string{"ECE-00001"}, matrix.Matrix["EC1"].CertifierIDs)
}

func TestReadStatsMissing(t *testing.T) {
	t.Parallel()

	_, err := local.ReadStats(t.TempDir())
	assert.ErrorIs(t, err, renec.ErrNotFound)
}
