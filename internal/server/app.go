// Package server is the composition root: it builds the application's
// dependencies from config and runs the HTTP server, worker pool and
// scheduler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/api"
	"github.com/JakeFAU/scholar-crawler/internal/clock/system"
	"github.com/JakeFAU/scholar-crawler/internal/config"
	"github.com/JakeFAU/scholar-crawler/internal/crawler"
	"github.com/JakeFAU/scholar-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/scholar-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/scholar-crawler/internal/logging"
	"github.com/JakeFAU/scholar-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/scholar-crawler/internal/provider/scholar"
	memorypublisher "github.com/JakeFAU/scholar-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/scholar-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/scholar-crawler/internal/queue/memory"
	"github.com/JakeFAU/scholar-crawler/internal/service"
	gcsstorage "github.com/JakeFAU/scholar-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/scholar-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/scholar-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/scholar-crawler/internal/storage/postgres"
	"github.com/JakeFAU/scholar-crawler/internal/telemetry"
	"github.com/JakeFAU/scholar-crawler/internal/tor"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	service   *service.Service
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	queue     *queueMemory.Queue

	pool            pgstore.Pool
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	tracer          *trace.TracerProvider
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Provider),
		zap.String("archive", cfg.Archive.Provider),
		zap.String("publisher", cfg.Publisher.Provider),
		zap.Bool("tor", cfg.Tor.Enabled),
	)
	return &App{cfg: cfg, logger: logger}, nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	if err := app.wire(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context) error {
	if a.cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: a.cfg.Tracing.ServiceName,
			SampleRatio: a.cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		a.tracer = tp
	}

	store, jobStore, err := a.setupStores(ctx)
	if err != nil {
		return err
	}
	blobs, err := a.setupArchive(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	rotator, err := a.setupRotator(ctx)
	if err != nil {
		return err
	}

	registry := crawler.NewRegistry()
	registry.Register(scholar.Tag, scholar.Factory(scholar.Options{
		Domain:    a.cfg.Crawler.SourceDomain,
		Locale:    a.cfg.Crawler.Locale,
		UserAgent: a.cfg.Crawler.UserAgent,
	}))

	engine, err := crawler.NewEngine(a.cfg.CrawlerSettings(), crawler.Deps{
		Registry: registry,
		Transport: collyfetcher.New(collyfetcher.Config{
			Timeout:     a.cfg.Crawler.RequestTimeout,
			MaxBodySize: a.cfg.Crawler.MaxBodyBytes,
		}),
		Rotator:   rotator,
		Store:     store,
		Blobs:     blobs,
		Publisher: publisher,
		Pacer: ratelimit.New(ratelimit.Config{
			RequestsPerSecond: a.cfg.Crawler.RequestsPerSecond,
			Burst:             a.cfg.Crawler.Burst,
		}),
		Clock: system.New(),
	}, a.logger)
	if err != nil {
		return fmt.Errorf("engine init failed: %w", err)
	}

	a.queue = queueMemory.NewQueue(a.cfg.Scheduler.QueueDepth)
	a.service, err = service.New(a.cfg.Crawler.Provider, service.Deps{
		Store:    store,
		Jobs:     jobStore,
		Runner:   engine,
		Queue:    a.queue,
		Registry: registry,
		Clock:    system.New(),
	}, a.logger)
	if err != nil {
		return fmt.Errorf("service init failed: %w", err)
	}
	a.dispatch = dispatcher.NewPool(a.cfg.Scheduler.Workers, a.queue, jobStore, a.service, a.logger)

	for _, s := range a.cfg.Scheduler.Schedules {
		sch, err := a.service.Schedule(ctx, s.ProfileID, s.Provider, s.Cron)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", s.ProfileID, err)
		}
		a.logger.Info("configured schedule registered",
			zap.String("schedule_id", sch.ID),
			zap.String("profile_id", sch.ProfileID),
			zap.String("cron", sch.Cron),
		)
	}

	a.apiServer = api.NewServer(a.service, api.Config{
		AuthEnabled:    a.cfg.Auth.Enabled,
		APIKey:         a.cfg.Auth.APIKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
		RunTimeout:     a.cfg.Crawler.RunTimeout,
	}, a.logger)
	return nil
}

func (a *App) setupStores(ctx context.Context) (crawler.Store, crawler.JobStore, error) {
	if a.cfg.Storage.Provider != "postgres" {
		a.logger.Info("using in-memory record and job stores", zap.Int("profiles", len(a.cfg.Profiles)))
		return memoryStorage.NewRecordStore(a.cfg.Profiles...), memoryStorage.NewJobStore(), nil
	}
	pgCfg := a.cfg.Storage.Postgres
	pool, err := pgstore.NewPool(ctx, pgstore.Config{
		DSN:             pgCfg.DSN,
		MaxConns:        pgCfg.MaxConns,
		MinConns:        pgCfg.MinConns,
		MaxConnLifetime: pgCfg.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool
	if pgCfg.Migrate {
		if err := pgstore.Migrate(ctx, pool, a.logger); err != nil {
			return nil, nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
	}
	records, err := pgstore.NewRecordStore(pool)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range a.cfg.Profiles {
		if err := records.UpsertProfile(ctx, p); err != nil {
			return nil, nil, fmt.Errorf("seed profile %s: %w", p.ID, err)
		}
	}
	jobs, err := pgstore.NewJobStore(pool)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("postgres stores initialized", zap.Int("seeded_profiles", len(a.cfg.Profiles)))
	return records, jobs, nil
}

func (a *App) setupArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Archive.GCSBucket,
			Prefix: a.cfg.Archive.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS archive store", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local archive store", zap.String("path", a.cfg.Archive.BaseDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory archive store")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.Publisher.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Publisher.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.pubsubPublisher = gcppublisher.New(client)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Publisher.ProjectID),
			zap.String("topic", a.cfg.Publisher.Topic),
		)
		return a.pubsubPublisher, nil
	case "memory":
		a.logger.Info("using in-memory publisher")
		return memorypublisher.New(), nil
	default:
		return nil, nil
	}
}

// setupRotator returns an untyped nil when Tor is disabled so the engine
// sees no rotator at all.
func (a *App) setupRotator(ctx context.Context) (crawler.IdentityRotator, error) {
	if !a.cfg.Tor.Enabled {
		a.logger.Warn("tor disabled, requests go out directly")
		return nil, nil
	}
	rotator, err := tor.NewRotator(tor.Config{
		SocksAddr:   a.cfg.Tor.SocksAddr,
		ControlAddr: a.cfg.Tor.ControlAddr,
		Password:    a.cfg.Tor.ControlPassword,
		SettleDelay: a.cfg.Tor.SettleDelay,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("tor rotator init failed: %w", err)
	}
	if err := rotator.CheckSOCKS(ctx); err != nil {
		a.logger.Warn("tor socks port not answering yet", zap.String("addr", a.cfg.Tor.SocksAddr), zap.Error(err))
	}
	return rotator, nil
}

// Service exposes the job service, mainly for the one-shot CLI.
func (a *App) Service() *service.Service {
	return a.service
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the HTTP server, workers and scheduler, and blocks until the
// context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.dispatch.Run(ctx)
	}()
	a.service.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.service.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop failed", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers still running at shutdown deadline")
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
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
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
