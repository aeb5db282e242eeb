package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/renec-harvester/internal/app"
	"github.com/JakeFAU/renec-harvester/internal/config"
	progresssinks "github.com/JakeFAU/renec-harvester/internal/progress/sinks"
	"github.com/JakeFAU/renec-harvester/internal/renec"
	"github.com/JakeFAU/renec-harvester/internal/storage/memory"
)

// MockPublisher mocks the run notification publisher.
type MockPublisher struct {
	mock.Mock
}

// Publish satisfies progresssinks.Publisher for the mock.
func (m *MockPublisher) Publish(ctx context.Context, kind string, payload any) (string, error) {
	args := m.Called(ctx, kind, payload)
	return args.String(0), args.Error(1)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	out := t.TempDir()
	return config.Config{
		Extractor: config.ExtractorConfig{
			Mode:           string(renec.ModeFull),
			BatchSize:      10,
			Workers:        2,
			MaxCommitteeID: 5,
			TopN:           3,
			OutputDir:      out,
			CheckpointDir:  filepath.Join(out, "checkpoints"),
		},
		Fetch: config.FetchConfig{
			BaseURL:        "http://127.0.0.1:1",
			TimeoutSeconds: 1,
			MaxRetries:     1,
		},
		Storage: config.StorageConfig{Backend: config.BackendMemory},
		Server:  config.ServerConfig{Port: 8080},
	}
}

func build(t *testing.T, cfg config.Config, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithRegisterer(prometheus.NewRegistry())}, opts...)
	a, err := app.Build(context.Background(), cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	return a
}

func seed(t *testing.T, a *app.App) {
	t.Helper()
	err := a.Corpus().MergeBatch(context.Background(), renec.Harvest{
		Committees: []renec.Committee{{ID: 1, Name: "Comité de Turismo", Sector: "Turismo"}},
		Standards: []renec.ECStandard{{
			Code:       "EC0001",
			Title:      "Atención a comensales",
			Sector:     "Turismo",
			Certifiers: []renec.Certifier{{Name: "Entidad Uno", Type: "ECE", State: "Jalisco"}},
		}},
	})
	require.NoError(t, err)
}

func TestBuildMemoryBackend(t *testing.T) {
	t.Parallel()

	a := build(t, testConfig(t))
	assert.IsType(t, &memory.CorpusStore{}, a.Corpus())
	assert.Nil(t, a.Runs())
	assert.NotNil(t, a.Events())
	assert.NotNil(t, a.Checkpoints())
	require.NoError(t, a.Close(context.Background()))
}

func TestBuildLocalBackendOpensOutputDir(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Backend = config.BackendLocal
	a := build(t, cfg)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	seed(t, a)
	_, err := os.Stat(filepath.Join(cfg.Extractor.OutputDir, renec.FileStandards))
	assert.NoError(t, err)
}

func TestExtractorOptionsFollowConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Extractor.RequestDelayMS = 250
	cfg.Extractor.MaxECsToProcess = 7
	cfg.Extractor.Resume = true
	a := build(t, cfg)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	opts := a.ExtractorOptions()
	assert.Equal(t, 10, opts.BatchSize)
	assert.Equal(t, 250*time.Millisecond, opts.RequestDelay)
	assert.Equal(t, 7, opts.MaxItems)
	assert.Equal(t, 2, opts.Workers)
	assert.True(t, opts.Resume)
	assert.Equal(t, 5, opts.MaxCommitteeID)
	assert.Equal(t, 3, opts.TopN)
}

func TestStatsRunPublishesCompletion(t *testing.T) {
	t.Parallel()

	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, progresssinks.NotifyRunCompleted, mock.Anything).Return("msg-1", nil).Once()

	a := build(t, testConfig(t), app.WithPublisher(pub))
	seed(t, a)

	orch, err := a.Orchestrator()
	require.NoError(t, err)
	summary, err := orch.Run(context.Background(), renec.ModeStats)
	require.NoError(t, err)
	require.NotNil(t, summary.Stats)
	assert.Equal(t, 1, summary.Stats.ECStandards)

	require.NoError(t, a.Close(context.Background()))
	pub.AssertExpectations(t)
}

func TestExportAndUpload(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	a := build(t, testConfig(t), app.WithUploader(blobs))
	defer func() { require.NoError(t, a.Close(context.Background())) }()
	seed(t, a)

	dir := t.TempDir()
	names, err := a.Export(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, renec.Artifacts, names)
	for _, name := range names {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	uris, err := a.Upload(context.Background(), dir, names)
	require.NoError(t, err)
	assert.Len(t, uris, len(renec.Artifacts))
	content, ok := blobs.Object(renec.FileStandards)
	require.True(t, ok)
	assert.Contains(t, string(content), "EC0001")
}

func TestUploadWithoutBucket(t *testing.T) {
	t.Parallel()

	a := build(t, testConfig(t))
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	_, err := a.Upload(context.Background(), t.TempDir(), renec.Artifacts)
	assert.True(t, errors.Is(err, app.ErrNoBucket))
}

func TestStageStatusesAndReport(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a := build(t, cfg)
	defer func() { require.NoError(t, a.Close(context.Background())) }()
	seed(t, a)
	_, err := a.Export(context.Background(), cfg.Extractor.OutputDir)
	require.NoError(t, err)

	rec := renec.NewCheckpointRecord("run-1", renec.StageECDetails, renec.ModeFull, 10, time.Now())
	rec.Total = 4
	rec.Mark("EC0001", renec.ItemState{Outcome: renec.OutcomeSuccess, Batch: 1})
	rec.Mark("EC0002", renec.ItemState{Outcome: renec.OutcomeError, Batch: 1, Error: "timeout"})
	require.NoError(t, a.Checkpoints().Save(context.Background(), rec))

	stages, err := a.StageStatuses(context.Background())
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.False(t, stages[0].Present)
	assert.True(t, stages[1].Present)
	assert.Equal(t, []string{"EC0002"}, stages[1].Failed)

	path, err := a.WriteReport(context.Background())
	require.NoError(t, err)
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "# RENEC Extraction Report")
	assert.Contains(t, string(body), "EC0002")
}
