package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	integrationapp "github.com/contractiq/backend/internal/application/integration"
	"github.com/contractiq/backend/internal/infrastructure/auth"
	"github.com/contractiq/backend/internal/infrastructure/cache"
	"github.com/contractiq/backend/internal/infrastructure/clm"
	"github.com/contractiq/backend/internal/infrastructure/config"
	"github.com/contractiq/backend/internal/infrastructure/event"
	"github.com/contractiq/backend/internal/infrastructure/logger"
	"github.com/contractiq/backend/internal/infrastructure/migration"
	"github.com/contractiq/backend/internal/infrastructure/persistence"
	"github.com/contractiq/backend/internal/infrastructure/ratelimit"
	"github.com/contractiq/backend/internal/infrastructure/scheduler"
	"github.com/contractiq/backend/internal/infrastructure/telemetry"
	"github.com/contractiq/backend/internal/infrastructure/vault"
	"github.com/contractiq/backend/internal/interfaces/http/handler"
	"github.com/contractiq/backend/internal/interfaces/http/middleware"
	"github.com/contractiq/backend/internal/interfaces/http/router"
)

const (
	serviceVersion  = "1.0.0"
	shutdownTimeout = 30 * time.Second
)

//	@title			CLM Sync API
//	@version		1.0
//	@description	Synchronizes the contract store with external CLM providers.
//	@BasePath		/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	bootLog, err := logger.New(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, bootLog); err != nil {
		bootLog.Error("Server exited with error", zap.Error(err))
		_ = bootLog.Sync()
		os.Exit(1)
	}
	_ = bootLog.Sync()
}

func run(ctx context.Context, cfg *config.Config, bootLog *zap.Logger) error {
	// Telemetry
	telCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    serviceVersion,
		Insecure:          cfg.Telemetry.Insecure,
	}
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telCfg, bootLog)
	if err != nil {
		return err
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, bootLog)
	if err != nil {
		return err
	}
	logCfg := telCfg
	logCfg.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, logCfg, bootLog)
	if err != nil {
		return err
	}

	// Tee application logs into OTLP when log export is on
	log, err := logger.New(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
	}, logger.WithCore(loggerProvider.ZapCore(zapcore.InfoLevel)))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting CLM sync service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("run_lock_backend", cfg.Sync.RunLockBackend),
	)

	// Database
	db, err := persistence.NewDatabase(&cfg.Database, logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level)))
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled: cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBName:  cfg.Database.DBName,
	}, log); err != nil {
		return err
	}
	if err := migrateSchema(cfg, db, log); err != nil {
		return err
	}

	// Run-lock and webhook delivery dedupe
	caches := cache.NewFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(!cfg.IsProduction()),
	)
	defer func() { _ = caches.Close() }()
	runLock, err := caches.CreateRunLock(cfg.Sync.RunLockBackend)
	if err != nil {
		return err
	}
	deliveries := caches.CreateIdempotencyStore(cfg.Sync.RunLockBackend)

	credentialVault, err := newVault(cfg, log)
	if err != nil {
		return err
	}

	// Event bus with the audit trail
	bus := event.NewInMemoryEventBus(log, event.WithAsyncDispatch())
	audit := integrationapp.NewAuditHandler(log)
	bus.Subscribe(audit, audit.EventTypes()...)
	if err := bus.Start(ctx); err != nil {
		return err
	}

	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider.Meter("clm-sync"))
	if err != nil {
		return err
	}

	integrationRepo := persistence.NewGormIntegrationRepository(db.DB)
	providers := clm.NewRegistry(clm.NewHTTPClient())
	limiter := ratelimit.NewProviderLimiter()
	mappingRepo := persistence.NewGormExternalIDMappingRepository(db.DB)
	contractStore := persistence.NewGormContractStore(db.DB)

	registry := integrationapp.NewRegistryService(integrationapp.RegistryServiceConfig{
		Repo:      integrationRepo,
		Vault:     credentialVault,
		Providers: providers,
		Events:    bus,
		Limiter:   limiter,
		CacheTTL:  cfg.Sync.RegistryCacheTTL,
		Logger:    log,
	})
	orchestrator := integrationapp.NewOrchestrator(integrationapp.OrchestratorConfig{
		Integrations: integrationRepo,
		Operations:   persistence.NewGormSyncOperationRepository(db.DB),
		Mappings:     mappingRepo,
		Contracts:    contractStore,
		UnitOfWork:   persistence.NewGormSyncUnitOfWork(db.DB, contractStore, mappingRepo),
		Vault:        credentialVault,
		Providers:    providers,
		Lock:         runLock,
		Limiter:      limiter,
		Events:       bus,
		Metrics:      syncMetrics,
		Cache:        registry,
		LockTTL:      cfg.Sync.RunLockTTL,
		Logger:       log,
	})
	webhooks := integrationapp.NewWebhookService(integrationapp.WebhookServiceConfig{
		Integrations: integrationRepo,
		Runner:       orchestrator,
		Deliveries:   deliveries,
		DeliveryTTL:  cfg.Webhook.DedupTTL,
		Events:       bus,
		Metrics:      syncMetrics,
		Logger:       log,
	})

	pool, err := scheduler.NewWorkerPool(scheduler.WorkerPoolConfig{
		Workers:     cfg.Sync.Workers,
		QueueSize:   cfg.Sync.QueueSize,
		JobTimeout:  cfg.Sync.JobTimeout,
		HistorySize: cfg.Sync.HistorySize,
	}, orchestrator, log)
	if err != nil {
		return err
	}
	orchestrator.AttachPool(pool)
	// in-flight runs drain in pool.Stop rather than dying with the signal
	if err := pool.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	var schedules handler.ScheduleInspector
	var trigger *scheduler.ScheduleTrigger
	if cfg.Sync.SchedulerEnabled {
		trigger = scheduler.NewScheduleTrigger(orchestrator, log)
		registry.UseSchedules(trigger)
		trigger.Start()
		schedules = trigger
	}
	restored, err := registry.Rehydrate(ctx)
	if err != nil {
		return err
	}
	log.Info("Integrations restored", zap.Int("active", restored))

	// HTTP
	jwtService := auth.NewJWTService(cfg.JWT)
	engine := newEngine(cfg, log)
	routeCfg := router.Config{JWT: jwtService}
	if cfg.HTTP.APIRateLimit > 0 {
		routeCfg.APIRateLimiter = middleware.NewRateLimiter(cfg.HTTP.APIRateLimit, time.Minute)
		defer routeCfg.APIRateLimiter.Close()
	}
	if cfg.HTTP.WebhookRateLimit > 0 {
		routeCfg.WebhookRateLimiter = middleware.NewRateLimiter(cfg.HTTP.WebhookRateLimit, time.Minute)
		defer routeCfg.WebhookRateLimiter.Close()
	}
	router.Setup(engine, router.Handlers{
		System:        handler.NewSystemHandler(cfg.App.Name, serviceVersion, db, orchestrator).WithQueue(pool),
		Integrations:  handler.NewIntegrationHandler(registry, schedules),
		SyncOperation: handler.NewSyncOperationHandler(orchestrator),
		Webhooks:      handler.NewWebhookHandler(webhooks, cfg.Webhook),
	}, routeCfg)

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if trigger != nil {
			trigger.Stop()
		}
		if err := pool.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if n := orchestrator.Abandon(shutdownCtx); n > 0 {
			log.Warn("Queued sync operations abandoned", zap.Int("count", n))
		}
		if err := bus.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		for _, shutdown := range []func(context.Context) error{
			tracerProvider.Shutdown, meterProvider.Shutdown, loggerProvider.Shutdown,
		} {
			if err := shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Server exited gracefully")
	return nil
}

func newEngine(cfg *config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		log.Warn("Invalid trusted proxies, trusting none", zap.Error(err))
		_ = engine.SetTrustedProxies(nil)
	}
	engine.Use(
		middleware.RequestID(),
		middleware.Tracing(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		}),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.SpanEnricher(),
		middleware.Secure(),
		middleware.BodyLimit(cfg.HTTP.MaxBodySize),
	)
	return engine
}

// migrateSchema applies the embedded SQL migrations on postgres and falls
// back to AutoMigrate for other dialects
func migrateSchema(cfg *config.Config, db *persistence.Database, log *zap.Logger) error {
	if db.DB.Dialector.Name() != "postgres" {
		return db.AutoMigrate()
	}
	// the migrator closes the pool it is given, so it gets its own
	sqlDB, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, migration.Embedded(), log)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}

// newVault builds the credential vault. Outside production a missing key
// ring is replaced by a random per-process key, so stored credentials do
// not survive a restart.
func newVault(cfg *config.Config, log *zap.Logger) (*vault.Vault, error) {
	keyID := cfg.Vault.ActiveKeyID
	keys := cfg.Vault.Keys
	if len(keys) == 0 && !cfg.IsProduction() {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		if keyID == "" {
			keyID = "ephemeral"
		}
		keys = map[string]string{keyID: base64.StdEncoding.EncodeToString(raw)}
		log.Warn("No vault keys configured, using an ephemeral key")
	}
	return vault.NewFromBase64(keyID, keys)
}
