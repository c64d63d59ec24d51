package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/teaching-load-planner/api/swagger"
	"github.com/noah-isme/teaching-load-planner/internal/handler"
	internalmiddleware "github.com/noah-isme/teaching-load-planner/internal/middleware"
	"github.com/noah-isme/teaching-load-planner/internal/repository"
	"github.com/noah-isme/teaching-load-planner/internal/service"
	"github.com/noah-isme/teaching-load-planner/pkg/cache"
	"github.com/noah-isme/teaching-load-planner/pkg/config"
	"github.com/noah-isme/teaching-load-planner/pkg/database"
	"github.com/noah-isme/teaching-load-planner/pkg/jobs"
	"github.com/noah-isme/teaching-load-planner/pkg/logger"
	corsmiddleware "github.com/noah-isme/teaching-load-planner/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/teaching-load-planner/pkg/middleware/requestid"
	"github.com/noah-isme/teaching-load-planner/pkg/storage"
)

// @title Teaching Load Planner API
// @version 1.0.0
// @description Draft, review and export per-term teaching load plans.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close() //nolint:errcheck

	validate := validator.New()
	metrics := service.NewMetricsService()

	draftRepo := repository.NewDraftRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	phaseRepo := repository.NewPhaseRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, "planner", cfg.Catalog.CacheTTL, logr, cfg.Catalog.CacheEnabled)
	catalogSvc := service.NewCatalogService(catalogRepo, cacheSvc, cfg.Catalog.CacheTTL, validate, logr)
	templateSvc := service.NewTemplateService(templateRepo, auditRepo, validate, logr)
	phaseSvc := service.NewPhaseService(phaseRepo, draftRepo, logr)
	draftSvc := service.NewDraftService(service.DraftServiceDeps{
		Drafts:    draftRepo,
		Catalog:   catalogSvc,
		Templates: templateSvc,
		Phases:    phaseSvc,
		Audit:     auditRepo,
		Metrics:   metrics,
		Logger:    logr,
	})
	tokenSvc := service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})

	flushQueue := jobs.NewQueue("wizard-snapshots", service.FlushSnapshotJob, jobs.QueueConfig{
		Workers:    cfg.Planning.FlushWorkers,
		MaxRetries: cfg.Planning.FlushRetries,
		RetryDelay: cfg.Planning.SnapshotDebounce,
		Logger:     logr,
	})
	// Stopped explicitly after the sessions flush.
	flushQueue.Start(context.Background())

	var snapshots service.SnapshotStore
	switch strings.ToLower(cfg.Planning.SnapshotBackend) {
	case "memory":
		snapshots = service.NewMemorySnapshotStore()
	default:
		snapshots = repository.NewSnapshotRepository(redisClient, cfg.Planning.SnapshotTTL, logr)
	}

	sessions := service.NewSessionManager(service.SessionManagerConfig{
		Backend:    draftSvc,
		Catalog:    catalogSvc,
		Store:      snapshots,
		Namespace:  cfg.Planning.SnapshotNamespace,
		Debounce:   cfg.Planning.SnapshotDebounce,
		IdleTTL:    cfg.Planning.SessionIdleTTL,
		Dispatcher: flushQueue,
		Metrics:    metrics,
		Logger:     logr,
	})
	go sessions.Run(ctx, time.Minute)

	handlers := handler.Handlers{
		Drafts:    handler.NewDraftHandler(draftSvc),
		Wizard:    handler.NewWizardHandler(sessions),
		Templates: handler.NewTemplateHandler(templateSvc, draftSvc),
		Phases:    handler.NewPhaseHandler(phaseSvc),
		Catalog:   handler.NewCatalogHandler(catalogSvc),
		Audit:     handler.NewAuditHandler(auditRepo),
		Metrics: handler.NewMetricsHandler(metrics, sessions, map[string]handler.ReadinessCheck{
			"postgres": db.PingContext,
			"redis":    redisPing(redisClient),
		}),
	}

	if cfg.Exports.Enabled {
		files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Fatal("failed to prepare export storage", zap.Error(err))
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc := service.NewExportService(draftSvc, catalogSvc, files, signer, service.ExportConfig{
			APIPrefix:    cfg.APIPrefix,
			ResultTTL:    cfg.Exports.SignedURLTTL,
			CSVSeparator: cfg.Exports.CSVSeparator,
		}, logr)
		go exportSvc.RunCleanup(ctx, cfg.Exports.CleanupInterval)
		handlers.Exports = handler.NewExportHandler(exportSvc)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r, r.Group(cfg.APIPrefix), handlers, handler.RouteDeps{
		Tokens: tokenSvc,
		Audit:  auditRepo,
		Logger: logr,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown", zap.Error(err))
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logr.Warn("flushing wizard sessions", zap.Error(err))
	}
	flushQueue.Stop()
}

func redisPing(client redis.UniversalClient) handler.ReadinessCheck {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
