// Package app wires the configured backends into a running sync service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/utafrali/catalogsync/internal/catalog"
	catalogmem "github.com/utafrali/catalogsync/internal/catalog/memory"
	catalogpg "github.com/utafrali/catalogsync/internal/catalog/postgres"
	"github.com/utafrali/catalogsync/internal/catalog/remote"
	"github.com/utafrali/catalogsync/internal/config"
	"github.com/utafrali/catalogsync/internal/event"
	handler "github.com/utafrali/catalogsync/internal/handler/http"
	"github.com/utafrali/catalogsync/internal/index"
	"github.com/utafrali/catalogsync/internal/index/elasticsearch"
	indexmem "github.com/utafrali/catalogsync/internal/index/memory"
	"github.com/utafrali/catalogsync/internal/lease"
	leasedynamo "github.com/utafrali/catalogsync/internal/lease/dynamodb"
	leasemem "github.com/utafrali/catalogsync/internal/lease/memory"
	leaseredis "github.com/utafrali/catalogsync/internal/lease/redis"
	"github.com/utafrali/catalogsync/internal/service"
	"github.com/utafrali/catalogsync/internal/synclog"
	synclogmem "github.com/utafrali/catalogsync/internal/synclog/memory"
	synclogpg "github.com/utafrali/catalogsync/internal/synclog/postgres"
	"github.com/utafrali/catalogsync/internal/synclog/sqlite"
	"github.com/utafrali/catalogsync/pkg/database"
	"github.com/utafrali/catalogsync/pkg/health"
	"github.com/utafrali/catalogsync/pkg/httpclient"
	pkgkafka "github.com/utafrali/catalogsync/pkg/kafka"
	"github.com/utafrali/catalogsync/pkg/tracing"
)

const serviceName = "catalog-sync"

type closer struct {
	name  string
	close func() error
}

// App wires together all dependencies and runs the sync service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	orchestrator   *service.Orchestrator
	httpServer     *http.Server
	closers        []closer
	shutdownTracer func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Resources opened before a failure are closed again.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	tcfg := tracing.DefaultConfig(serviceName)
	tcfg.Environment = cfg.Environment
	tcfg.OTLPEndpoint = cfg.OTelEndpoint
	tcfg.SampleRate = cfg.OTelSampleRate
	tcfg.Enabled = cfg.OTelEnabled
	a.shutdownTracer, err = tracing.InitTracer(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	database.SetSlowQueryLogging(cfg.DBSlowQueryThreshold, logger)
	healthHandler := health.NewHandler()

	var pool *pgxpool.Pool
	if cfg.NeedsPostgres() {
		pgCfg := cfg.Postgres()
		pool, err = database.NewPostgresPool(ctx, &pgCfg, logger)
		if err != nil {
			return nil, err
		}
		a.addCloser("postgres", func() error { pool.Close(); return nil })
		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, "catalog"); err != nil {
			logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
		}
		healthHandler.Register("postgres", pool.Ping)
		logger.Info("postgres pool initialized", slog.String("host", pgCfg.Host), slog.String("db", pgCfg.DBName))
	}

	reader := a.newCatalog(pool)

	writer, err := a.newIndexWriter(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	leases, err := a.newLeaseStore(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	logs, err := a.newSyncLogStore(ctx, pool, healthHandler)
	if err != nil {
		return nil, err
	}

	var events service.EventPublisher
	if cfg.KafkaEnabled {
		producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		a.addCloser("kafka", producer.Close)
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
		events = event.NewProducer(producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	a.orchestrator = service.NewOrchestrator(reader, writer, logs, leases, events, service.Config{
		PageSize:        cfg.CatalogPageSize,
		Workers:         cfg.SyncWorkers,
		FullLeaseTTL:    cfg.FullLeaseTTL,
		ItemLeaseTTL:    cfg.ItemLeaseTTL,
		PageMaxAttempts: cfg.CatalogMaxAttempts,
		PageRetryBase:   cfg.CatalogRetryBase,
		ItemDrainWait:   cfg.ItemSyncDrainWait,
	}, logger)
	reporter := service.NewStatusReporter(leases, logs, cfg.StatusFailureWindow)

	router := handler.NewRouter(a.orchestrator, reporter, healthHandler, handler.RouterConfig{
		AdminToken:  cfg.AdminToken,
		SearchRPS:   cfg.SearchRateLimitRPS,
		SearchBurst: cfg.SearchRateLimitBurst,
	}, logger)
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is empty, sync endpoints are unauthenticated")
	}

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return a, nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

func (a *App) newCatalog(pool *pgxpool.Pool) catalog.Reader {
	switch a.cfg.CatalogBackend {
	case "postgres":
		a.logger.Info("postgres catalog reader initialized")
		return catalogpg.NewReader(pool)
	case "remote":
		hc := httpclient.DefaultConfig()
		hc.Timeout = 15 * time.Second
		// Page reads are retried by the orchestrator.
		hc.MaxRetries = 1
		hc.BearerToken = a.cfg.CatalogToken
		a.logger.Info("remote catalog reader initialized", slog.String("url", a.cfg.CatalogServiceURL))
		return remote.NewReader(a.cfg.CatalogServiceURL, hc, a.logger)
	default:
		a.logger.Warn("in-memory catalog initialized, full syncs will empty the index")
		return catalogmem.New()
	}
}

// newIndexWriter returns a nil writer when Elasticsearch is not configured
// so the service stays up and answers sync requests with 503.
func (a *App) newIndexWriter(ctx context.Context, h *health.Handler) (service.IndexWriter, error) {
	var client index.Client
	switch a.cfg.SearchEngine {
	case "elasticsearch":
		es, err := elasticsearch.New(ctx, elasticsearch.Config{
			Host:           a.cfg.ElasticsearchHost,
			Port:           a.cfg.ElasticsearchPort,
			Protocol:       a.cfg.ElasticsearchProtocol,
			APIKey:         a.cfg.ElasticsearchAPIKey,
			Index:          a.cfg.ElasticsearchIndex,
			ConnectTimeout: a.cfg.ElasticsearchConnectTimeout,
		}, a.logger)
		if errors.Is(err, index.ErrNotConfigured) {
			a.logger.Error("elasticsearch is not configured, sync is disabled", slog.String("error", err.Error()))
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("init elasticsearch client: %w", err)
		}
		client = es
		a.logger.Info("elasticsearch index client initialized",
			slog.String("index", a.cfg.ElasticsearchIndex),
		)
	default:
		client = indexmem.New()
		a.logger.Info("in-memory search index initialized")
	}

	writer := index.NewWriter(client, index.WriterConfig{
		BatchSize:   a.cfg.IndexBatchSize,
		MaxAttempts: a.cfg.IndexMaxAttempts,
		RetryBase:   a.cfg.IndexRetryBase,
		CallTimeout: a.cfg.IndexCallTimeout,
	}, a.logger)
	h.Register("search_index", writer.Ping)
	return writer, nil
}

func (a *App) newLeaseStore(ctx context.Context, h *health.Handler) (lease.Store, error) {
	switch a.cfg.LeaseBackend {
	case "redis":
		rdb, err := database.NewRedisClient(ctx, a.cfg.Redis())
		if err != nil {
			return nil, fmt.Errorf("init lease redis: %w", err)
		}
		a.addCloser("redis", rdb.Close)
		store := leaseredis.NewStore(rdb)
		h.Register("redis", store.Ping)
		a.logger.Info("redis lease store initialized", slog.String("addr", a.cfg.Redis().Addr()))
		return store, nil
	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		store, err := leasedynamo.NewStore(dynamodb.NewFromConfig(awsCfg), a.cfg.DynamoDBLeaseTable)
		if err != nil {
			return nil, fmt.Errorf("init lease dynamodb: %w", err)
		}
		a.logger.Info("dynamodb lease store initialized", slog.String("table", a.cfg.DynamoDBLeaseTable))
		return store, nil
	default:
		a.logger.Warn("in-memory lease store initialized, leases are not shared across processes")
		return leasemem.New(), nil
	}
}

func (a *App) newSyncLogStore(ctx context.Context, pool *pgxpool.Pool, h *health.Handler) (synclog.Store, error) {
	switch a.cfg.SyncLogBackend {
	case "postgres":
		if err := synclogpg.Migrate(ctx, pool, a.logger); err != nil {
			return nil, fmt.Errorf("migrate sync log: %w", err)
		}
		a.logger.Info("postgres sync log store initialized")
		return synclogpg.NewStore(pool), nil
	case "sqlite":
		store, err := sqlite.Open(ctx, a.cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sync log: %w", err)
		}
		a.addCloser("sqlite", store.Close)
		h.Register("sqlite", store.Ping)
		a.logger.Info("sqlite sync log store initialized", slog.String("path", a.cfg.SQLitePath))
		return store, nil
	default:
		a.logger.Warn("in-memory sync log store initialized, history is lost on restart")
		return synclogmem.New(), nil
	}
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server, blocking until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown stops accepting requests, waits for running sync jobs up to the
// configured timeout and closes every backend.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	jobsCtx, cancelJobs := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelJobs()
	if err := a.orchestrator.Shutdown(jobsCtx); err != nil {
		a.logger.Error("sync jobs did not finish before shutdown", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	errs = append(errs, a.closeAll()...)

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeAll() []error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Error("close error", slog.String("resource", c.name), slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	a.closers = nil

	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracer(ctx); err != nil {
			errs = append(errs, err)
		}
		a.shutdownTracer = nil
	}
	return errs
}
