// Package server builds the application's dependency graph and runs the HTTP
// service around it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-content-scraper/internal/api"
	"github.com/JakeFAU/link-content-scraper/internal/archive"
	"github.com/JakeFAU/link-content-scraper/internal/clock/system"
	"github.com/JakeFAU/link-content-scraper/internal/config"
	"github.com/JakeFAU/link-content-scraper/internal/crawler"
	"github.com/JakeFAU/link-content-scraper/internal/dispatcher"
	"github.com/JakeFAU/link-content-scraper/internal/extractsvc"
	collyfetcher "github.com/JakeFAU/link-content-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/link-content-scraper/internal/fetcher/extractor"
	headlessfetcher "github.com/JakeFAU/link-content-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/link-content-scraper/internal/headless/detector"
	"github.com/JakeFAU/link-content-scraper/internal/id/uuid"
	"github.com/JakeFAU/link-content-scraper/internal/logging"
	"github.com/JakeFAU/link-content-scraper/internal/metrics"
	"github.com/JakeFAU/link-content-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/link-content-scraper/internal/policy/skip"
	"github.com/JakeFAU/link-content-scraper/internal/progress"
	progresssinks "github.com/JakeFAU/link-content-scraper/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/link-content-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/link-content-scraper/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/link-content-scraper/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/link-content-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/link-content-scraper/internal/storage/local"
	memoryStorage "github.com/JakeFAU/link-content-scraper/internal/storage/memory"
	"github.com/JakeFAU/link-content-scraper/internal/telemetry"
	"github.com/JakeFAU/link-content-scraper/internal/worker"
)

// Version is reported as the service version on traces.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	apiServer   *api.Server
	dispatch    *dispatcher.Dispatcher
	queue       *queueMemory.Queue
	registry    *progress.Registry
	archives    *memoryStorage.ArchiveIndex
	progressHub *progress.Hub

	headless      *headlessfetcher.Discoverer
	extractServer *http.Server
	pubsubClient  *pubsub.Client
	pubsubPub     *gcppublisher.Publisher
	storage       *storage.Client

	tracerShutdown func(context.Context) error
	draining       atomic.Bool
	closed         atomic.Bool
}

// Build creates the application's dependencies. On failure everything built
// so far is released.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	if err := app.build(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout())
		defer cancel()
		_ = app.Close(closeCtx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	a.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Bool("local_extractor", cfg.Extractor.Local),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.TracingConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		ProjectID:      cfg.Telemetry.ProjectID,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown
	metrics.Init()

	emitter, err := a.setupProgress(ctx)
	if err != nil {
		return err
	}
	a.registry = progress.NewRegistry(emitter)

	blobStore, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	var extractHandler http.Handler
	if cfg.Extractor.Local {
		extractHandler = extractsvc.New(extractsvc.Config{
			UserAgent:    cfg.Crawler.UserAgent,
			Timeout:      time.Duration(cfg.Crawler.SeedTimeoutSeconds) * time.Second,
			MaxBodyBytes: cfg.Extractor.MaxBodyBytes,
		}, nil, a.logger.Named("extractsvc"))
		endpoint, err := a.startLocalExtractor(extractHandler)
		if err != nil {
			return err
		}
		cfg.Extractor.Endpoint = endpoint
	}

	engine, err := a.setupEngine(cfg, blobStore)
	if err != nil {
		return err
	}

	a.archives = memoryStorage.NewArchiveIndex(cfg.RetentionDelay(), a.logger.Named("archives"))
	a.queue = queueMemory.NewQueue(cfg.Crawler.QueueDepth)
	workerCfg := worker.Config{
		Topic:      cfg.PubSub.TopicName,
		JobTimeout: cfg.JobTimeout(),
	}
	workers := make([]*worker.Worker, 0, cfg.Crawler.Concurrency)
	for i := range cfg.Crawler.Concurrency {
		workers = append(workers, worker.New(
			a.queue,
			engine,
			a.archives,
			publisher,
			a.clock,
			workerCfg,
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, workers, a.clock)
	a.logger.Info("worker pool ready",
		zap.Int("workers", len(workers)),
		zap.Int("queue_depth", cfg.Crawler.QueueDepth),
		zap.Duration("job_timeout", workerCfg.JobTimeout),
	)

	apiCfg := api.Config{StreamInterval: cfg.StreamInterval()}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	opts := []api.Option{api.WithReadiness(a.ready)}
	if extractHandler != nil {
		opts = append(opts, api.WithExtractHandler(extractHandler))
	}
	a.apiServer = api.NewServer(a.dispatch, a.registry, a.archives, apiCfg, a.logger.Named("api"), opts...)
	return nil
}

func (a *App) setupEngine(cfg config.Config, blobStore crawler.BlobStore) (*crawler.Engine, error) {
	limiter, err := ratelimit.New(ratelimit.Config{
		Requests: cfg.RateLimit.Requests,
		Window:   cfg.RateWindow(),
	}, a.clock)
	if err != nil {
		return nil, fmt.Errorf("rate limiter init failed: %w", err)
	}
	a.logger.Info("rate limiter enabled",
		zap.Int("requests", cfg.RateLimit.Requests),
		zap.Duration("window", cfg.RateWindow()),
	)

	skipper, err := skip.New(skip.Config{
		Domains:    cfg.Crawler.SkipDomains,
		Extensions: cfg.Crawler.SkipExtensions,
		Patterns:   cfg.Crawler.SkipPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("skip rules init failed: %w", err)
	}

	fetcher, err := extractor.New(extractor.Config{
		Endpoint:       cfg.Extractor.Endpoint,
		APIKey:         cfg.Extractor.APIKey,
		UserAgent:      cfg.Crawler.UserAgent,
		DefaultTimeout: time.Duration(cfg.Extractor.TimeoutSeconds) * time.Second,
		PDFTimeout:     time.Duration(cfg.Extractor.PDFTimeoutSeconds) * time.Second,
		MaxRetries:     cfg.Extractor.MaxRetries,
		RetryDelay:     time.Duration(cfg.Extractor.RetryDelaySeconds) * time.Second,
		MaxBodyBytes:   cfg.Extractor.MaxBodyBytes,
	}, limiter, a.clock, a.logger.Named("extractor"), extractor.WithSkipPolicy(skipper))
	if err != nil {
		return nil, fmt.Errorf("extractor init failed: %w", err)
	}
	a.logger.Info("using extraction service", zap.String("endpoint", cfg.Extractor.Endpoint))

	builder, err := archive.NewBuilder(archive.Config{
		WorkDir:           cfg.Archive.WorkDir,
		MaxFilenameLength: cfg.Archive.MaxFilenameLength,
		TitleScanLines:    cfg.Archive.TitleScanLines,
		BlobPrefix:        cfg.Storage.Prefix,
	}, blobStore, a.clock, a.logger.Named("archive"))
	if err != nil {
		return nil, fmt.Errorf("archive builder init failed: %w", err)
	}

	deps := crawler.Dependencies{
		Fetcher: fetcher,
		Discoverer: collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   time.Duration(cfg.Crawler.SeedTimeoutSeconds) * time.Second,
		}),
		Skip:     skipper,
		Archiver: builder,
		Registry: a.registry,
		IDs:      uuid.NewUUIDGenerator(),
		Clock:    a.clock,
	}
	if cfg.Headless.Enabled {
		a.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
		})
		if err != nil {
			a.logger.Warn("headless discoverer init failed, using static markup only", zap.Error(err))
		} else {
			deps.Headless = a.headless
			deps.Detector = detector.NewHeuristic(cfg.Headless.PromotionThresh, cfg.Headless.MinLinks)
			a.logger.Info("using headless discoverer", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	engine, err := crawler.NewEngine(crawler.EngineConfig{
		BatchSize:     cfg.Crawler.BatchSize,
		BatchCooldown: cfg.BatchCooldown(),
	}, deps, a.logger.Named("crawler"))
	if err != nil {
		return nil, fmt.Errorf("crawl engine init failed: %w", err)
	}
	return engine, nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("mirroring archives to GCS", zap.String("bucket", a.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case "local":
		a.logger.Info("mirroring archives to local directory", zap.String("path", a.cfg.Storage.Local.BaseDir))
		store, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	case "memory":
		a.logger.Info("mirroring archives in memory")
		return memoryStorage.NewBlobStore(), nil
	default:
		a.logger.Info("archive mirroring disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPub = gcppublisher.New(client, a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPub, nil
}

func (a *App) setupProgress(ctx context.Context) (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress events disabled")
		return nil, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.progressHub, nil
}

// startLocalExtractor serves h on a loopback port and returns its base URL.
func (a *App) startLocalExtractor(h http.Handler) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("local extractor listen failed: %w", err)
	}
	a.extractServer = &http.Server{
		Handler:           h,
		ReadHeaderTimeout: a.readHeaderTimeout(),
	}
	go func() {
		if err := a.extractServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("local extractor stopped", zap.Error(err))
		}
	}()
	endpoint := "http://" + ln.Addr().String()
	a.logger.Info("local extraction service started", zap.String("endpoint", endpoint))
	return endpoint, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP handler of the API server.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the API and runs the worker pool until ctx is cancelled or a
// termination signal arrives, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.readHeaderTimeout(),
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	a.draining.Store(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Crawl runs a single crawl through the worker pool, without the HTTP
// server. It is used by the crawl command.
func (a *App) Crawl(ctx context.Context, seedURL string) (crawler.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.dispatch.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()
	res, err := a.dispatch.Submit(ctx, seedURL)
	if err != nil {
		return crawler.Result{}, fmt.Errorf("crawl %s: %w", seedURL, err)
	}
	return res, nil
}

func (a *App) ready(context.Context) error {
	if a.draining.Load() {
		return errors.New("shutting down")
	}
	return nil
}

// Close releases every dependency. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.extractServer != nil {
		if err := a.extractServer.Shutdown(ctx); err != nil {
			a.logger.Warn("local extractor shutdown failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.archives != nil {
		a.archives.Close()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPub != nil {
		a.pubsubPub.Stop()
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
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on stdout/stderr for some platforms; nothing to act on.
	_ = a.logger.Sync()
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
}

func (a *App) readHeaderTimeout() time.Duration {
	if a.cfg.Server.ReadHeaderTimeoutSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(a.cfg.Server.ReadHeaderTimeoutSec) * time.Second
}
