// Package app wires configuration into the harvester's stores, fetchers and
// observability, and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/renec-harvester/internal/api"
	"github.com/JakeFAU/renec-harvester/internal/checkpoint"
	"github.com/JakeFAU/renec-harvester/internal/clock/system"
	"github.com/JakeFAU/renec-harvester/internal/config"
	"github.com/JakeFAU/renec-harvester/internal/extractor"
	"github.com/JakeFAU/renec-harvester/internal/fetcher"
	collyfetcher "github.com/JakeFAU/renec-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/renec-harvester/internal/fetcher/headless"
	uuidgen "github.com/JakeFAU/renec-harvester/internal/id/uuid"
	"github.com/JakeFAU/renec-harvester/internal/loader"
	"github.com/JakeFAU/renec-harvester/internal/metrics"
	"github.com/JakeFAU/renec-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/renec-harvester/internal/progress"
	progresssinks "github.com/JakeFAU/renec-harvester/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/renec-harvester/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/renec-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/renec-harvester/internal/renec"
	"github.com/JakeFAU/renec-harvester/internal/report"
	"github.com/JakeFAU/renec-harvester/internal/stats"
	gcsstorage "github.com/JakeFAU/renec-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/renec-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/renec-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/renec-harvester/internal/storage/postgres"
	"github.com/JakeFAU/renec-harvester/internal/store"
	"github.com/JakeFAU/renec-harvester/internal/telemetry"
)

// ServiceName identifies the harvester in traces and logs.
const ServiceName = "renec-harvester"

// Version is stamped at build time with -ldflags.
var Version = "dev"

// ErrNoBucket is returned by Upload when no artifact bucket is configured.
var ErrNoBucket = errors.New("storage.gcs_bucket is not configured")

// ArtifactUploader copies named files from a directory to object storage.
type ArtifactUploader interface {
	UploadFiles(ctx context.Context, dir string, names []string) ([]string, error)
}

// Option customises Build.
type Option func(*App)

// WithRegisterer registers progress metrics on reg instead of the default
// Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// WithUploader replaces the GCS uploader used by Upload.
func WithUploader(u ArtifactUploader) Option {
	return func(a *App) { a.uploader = u }
}

// WithPublisher replaces the run notification publisher.
func WithPublisher(p progresssinks.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	registerer     prometheus.Registerer
	corpus         renec.CorpusStore
	checkpoints    *checkpoint.Store
	pg             *pgstore.CorpusStore
	runs           store.RunRepository
	publisher      progresssinks.Publisher
	progressHub    *progress.Hub
	renderer       *headless.Renderer
	uploader       ArtifactUploader
	pubsubClient   *pubsub.Client
	pubsubTopic    *pubsub.Topic
	storage        *storage.Client
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies. Fetchers are created lazily
// by Orchestrator so read-only commands never start a browser.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:        cfg,
		logger:     logger,
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(app)
	}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: ServiceName,
		Version:     Version,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	app.logger.Debug("building application dependencies",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("output_dir", cfg.Extractor.OutputDir),
	)
	if err := app.build(ctx); err != nil {
		if closeErr := app.Close(context.WithoutCancel(ctx)); closeErr != nil {
			app.logger.Warn("partial shutdown failed", zap.Error(closeErr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if err := setupStorage(ctx, a); err != nil {
		return err
	}
	var err error
	a.checkpoints, err = checkpoint.New(a.cfg.Extractor.CheckpointDir, a.logger.Named("checkpoint"))
	if err != nil {
		return fmt.Errorf("checkpoint store init failed: %w", err)
	}
	if err := setupPublisher(ctx, a); err != nil {
		return err
	}
	return setupProgress(ctx, a)
}

func setupStorage(ctx context.Context, app *App) error {
	switch app.cfg.Storage.Backend {
	case config.BackendPostgres:
		return setupDatabase(ctx, app)
	case config.BackendMemory:
		app.logger.Info("using in-memory corpus backend")
		app.corpus = memorystorage.NewCorpusStore()
	default:
		corpus, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Extractor.OutputDir}, app.logger.Named("corpus"))
		if err != nil {
			return fmt.Errorf("local corpus store init failed: %w", err)
		}
		app.logger.Info("using local corpus backend", zap.String("path", app.cfg.Extractor.OutputDir))
		app.corpus = corpus
	}
	return nil
}

func setupDatabase(ctx context.Context, app *App) error {
	var err error
	app.pg, err = pgstore.New(ctx, pgstore.Config{
		DSN:             app.cfg.DB.DSN,
		TablePrefix:     app.cfg.DB.TablePrefix,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(app.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("postgres corpus store init failed: %w", err)
	}
	if err := app.pg.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("postgres corpus schema: %w", err)
	}
	runs := app.pg.RunStore()
	if err := runs.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("postgres run schema: %w", err)
	}
	app.corpus = app.pg
	app.runs = runs
	app.logger.Info("using postgres corpus backend", zap.String("table_prefix", app.cfg.DB.TablePrefix))
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.publisher != nil {
		return nil
	}
	if !app.cfg.PubSub.Enabled() {
		app.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		app.publisher = memorypublisher.New()
		return nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubTopic = app.pubsubClient.Topic(app.cfg.PubSub.TopicName)
	app.publisher = gcppublisher.New(app.pubsubTopic)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return nil
}

func setupProgress(ctx context.Context, app *App) error {
	promSink, err := progresssinks.NewPrometheusSink(app.registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		promSink,
		progresssinks.NewPubSubSink(app.publisher, app.logger.Named("progress_pubsub")),
	}
	if app.runs != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(app.runs, app.logger.Named("progress_store")))
		app.logger.Debug("added progress store sink")
	}
	hubCfg := progress.Config{
		BufferSize:     4096,
		MaxBatchEvents: 100,
		MaxBatchWait:   500 * time.Millisecond,
		SinkTimeout:    5 * time.Second,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Debug("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

// Config returns the configuration the app was built with.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Corpus returns the configured corpus store.
func (a *App) Corpus() renec.CorpusStore {
	return a.corpus
}

// Checkpoints returns the file-backed checkpoint store.
func (a *App) Checkpoints() *checkpoint.Store {
	return a.checkpoints
}

// Runs returns the run history repository, or nil without Postgres.
func (a *App) Runs() store.RunRepository {
	return a.runs
}

// Events returns the progress hub.
func (a *App) Events() *progress.Hub {
	return a.progressHub
}

// ExtractorOptions maps the extractor section onto orchestrator options.
func (a *App) ExtractorOptions() extractor.Options {
	return extractor.Options{
		BatchSize:      a.cfg.Extractor.BatchSize,
		RequestDelay:   a.cfg.RequestDelay(),
		MaxItems:       a.cfg.Extractor.MaxECsToProcess,
		Workers:        a.cfg.Extractor.Workers,
		SkipIfExists:   a.cfg.Extractor.SkipIfExists,
		Resume:         a.cfg.Extractor.Resume,
		SkipCommittees: a.cfg.Extractor.SkipCommittees,
		MaxCommitteeID: a.cfg.Extractor.MaxCommitteeID,
		TopN:           a.cfg.Extractor.TopN,
	}
}

// Orchestrator builds the fetch stack and an orchestrator over the app's
// stores.
func (a *App) Orchestrator() (*extractor.Orchestrator, error) {
	stack, err := a.fetchStack()
	if err != nil {
		return nil, err
	}
	return a.orchestrator(stack)
}

func (a *App) orchestrator(stack *fetcher.Stack) (*extractor.Orchestrator, error) {
	orch, err := extractor.New(a.ExtractorOptions(), extractor.Dependencies{
		Fetcher:     stack,
		Index:       stack,
		Corpus:      a.corpus,
		Checkpoints: a.checkpoints,
		Pacer:       ratelimit.New(ratelimit.Config{Delay: a.cfg.RequestDelay()}),
		Events:      a.progressHub,
		Clock:       system.New(),
		IDs:         uuidgen.New(),
		Logger:      a.logger.Named("extractor"),
	})
	if err != nil {
		return nil, fmt.Errorf("extractor init failed: %w", err)
	}
	return orch, nil
}

func (a *App) fetchStack() (*fetcher.Stack, error) {
	client := collyfetcher.New(collyfetcher.Config{
		BaseURL:       a.cfg.Fetch.BaseURL,
		UserAgent:     a.cfg.Fetch.UserAgent,
		Timeout:       a.cfg.FetchTimeout(),
		DetectChanges: a.cfg.Fetch.DetectChanges,
	})
	a.logger.Info("using colly API client", zap.String("base_url", a.cfg.Fetch.BaseURL))

	// A typed nil *Renderer would defeat the stack's nil check.
	var detail fetcher.DetailSource
	if a.cfg.Fetch.Headless {
		renderer, err := headless.NewChromedp(headless.Config{
			MaxParallel:       a.cfg.Fetch.MaxParallel,
			UserAgent:         a.cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Fetch.NavTimeoutSeconds) * time.Second,
			PortalURL:         a.cfg.Fetch.PortalURL,
			Settle:            time.Duration(a.cfg.Fetch.SettleMS) * time.Millisecond,
			Visible:           a.cfg.Fetch.Visible,
		})
		if err != nil {
			return nil, fmt.Errorf("headless renderer init failed: %w", err)
		}
		a.renderer = renderer
		detail = renderer
		a.logger.Info("using headless detail renderer",
			zap.Int("max_parallel", a.cfg.Fetch.MaxParallel),
			zap.Bool("visible", a.cfg.Fetch.Visible),
		)
	}
	return fetcher.NewStack(client, detail, fetcher.NewRetryPolicy(a.cfg.Fetch.MaxRetries), a.logger.Named("fetcher")), nil
}

// Export writes the JSON artifacts of the current corpus into dir and
// returns the file names written.
func (a *App) Export(ctx context.Context, dir string) ([]string, error) {
	corpus, err := a.corpus.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot corpus: %w", err)
	}
	now := time.Now().UTC()
	derived := stats.Derive(corpus, stats.Options{TopN: a.cfg.Extractor.TopN, Now: now})
	if err := localstorage.WriteCorpus(dir, corpus, now); err != nil {
		return nil, fmt.Errorf("write corpus: %w", err)
	}
	if err := localstorage.WriteDerived(dir, derived); err != nil {
		return nil, fmt.Errorf("write derived artifacts: %w", err)
	}
	a.logger.Info("artifacts exported",
		zap.String("dir", dir),
		zap.Int("committees", len(corpus.Committees)),
		zap.Int("standards", len(corpus.Standards)),
	)
	return append([]string(nil), renec.Artifacts...), nil
}

// Upload copies the named files from dir to the artifact bucket.
func (a *App) Upload(ctx context.Context, dir string, names []string) ([]string, error) {
	if a.uploader == nil {
		if a.cfg.Storage.GCSBucket == "" {
			return nil, ErrNoBucket
		}
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.uploader, err = gcsstorage.New(a.storage, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs uploader init failed: %w", err)
		}
	}
	uris, err := a.uploader.UploadFiles(ctx, dir, names)
	if err != nil {
		return uris, fmt.Errorf("upload artifacts: %w", err)
	}
	a.logger.Info("artifacts uploaded", zap.Int("objects", len(uris)))
	return uris, nil
}

// Loader returns a loader over the output directory.
func (a *App) Loader() *loader.Loader {
	return loader.New(loader.Config{DataDir: a.cfg.Extractor.OutputDir, Logger: a.logger.Named("loader")})
}

// StageStatuses reads the checkpoint of every stage.
func (a *App) StageStatuses(ctx context.Context) ([]report.StageStatus, error) {
	stages := []renec.Stage{renec.StageCommittees, renec.StageECDetails}
	out := make([]report.StageStatus, 0, len(stages))
	for _, stage := range stages {
		rec, err := a.checkpoints.Load(ctx, stage)
		if err != nil {
			return nil, fmt.Errorf("load %s checkpoint: %w", stage, err)
		}
		out = append(out, report.StatusFromCheckpoint(stage, rec))
	}
	return out, nil
}

// WriteReport renders the extraction report into the output directory.
func (a *App) WriteReport(ctx context.Context) (string, error) {
	stages, err := a.StageStatuses(ctx)
	if err != nil {
		return "", err
	}
	ld := a.Loader()
	files := make([]report.File, 0, len(renec.Artifacts))
	committees, standards := ld.Counts()
	st := ld.Stats()
	for _, name := range renec.Artifacts {
		f := report.File{Name: name}
		switch name {
		case renec.FileCommittees:
			f.Description, f.Records = "Sector committees", committees
		case renec.FileStandards:
			f.Description, f.Records = "EC standards with certifiers and training centres", standards
		case renec.FileCodes:
			f.Description, f.Records = "Known EC codes", standards
		case renec.FileStats:
			f.Description = "Extraction statistics"
		case renec.FileCertifierIndex:
			f.Description, f.Records = "Certifier registry", st.UniqueCertifiers
		case renec.FileTrainingIndex:
			f.Description, f.Records = "Training centre registry", st.UniqueTrainingCenters
		case renec.FileMatrix:
			f.Description, f.Records = "EC to certifier lookup", standards
		}
		files = append(files, f)
	}
	path, err := report.WriteMarkdown(a.cfg.Extractor.OutputDir, report.Input{
		GeneratedAt: time.Now().UTC(),
		Stats:       st,
		Stages:      stages,
		Files:       files,
	})
	if err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// ServeMetrics exposes /metrics on metrics.listen_addr while an extraction
// runs. The returned function stops the listener.
func (a *App) ServeMetrics() func(context.Context) {
	addr := a.cfg.Metrics.ListenAddr
	if addr == "" {
		return func(context.Context) {}
	}
	router := chi.NewRouter()
	router.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.logger.Info("metrics listener started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics listener error", zap.Error(err))
		}
	}()
	return func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics listener shutdown failed", zap.Error(err))
		}
	}
}

// Serve runs the query API until ctx is canceled or a termination signal
// arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ld := a.Loader()
	ld.Load()
	committees, standards := ld.Counts()
	a.logger.Info("corpus loaded", zap.Int("committees", committees), zap.Int("standards", standards))

	apiServer := api.NewServer(ld, a.runs, api.Config{
		RequestTimeout: time.Duration(a.cfg.Server.RequestTimeoutSeconds) * time.Second,
		APIKey:         a.cfg.Server.APIKey,
	}, a.logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// Close gracefully shuts down the application. The progress hub is drained
// first so the last run events reach every sink.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Debug("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
