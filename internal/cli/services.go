package cli

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/teaching-load-planner/internal/importer"
	"github.com/noah-isme/teaching-load-planner/internal/models"
	"github.com/noah-isme/teaching-load-planner/internal/repository"
	"github.com/noah-isme/teaching-load-planner/internal/service"
	"github.com/noah-isme/teaching-load-planner/pkg/cache"
	"github.com/noah-isme/teaching-load-planner/pkg/config"
	"github.com/noah-isme/teaching-load-planner/pkg/database"
	"github.com/noah-isme/teaching-load-planner/pkg/logger"
)

type catalogImporter interface {
	ImportCatalog(ctx context.Context, path string) (int, error)
	ImportTemplates(ctx context.Context, owner models.Actor, path string) ([]models.Template, error)
}

type phaseOpener interface {
	Open(ctx context.Context, phase *models.PlanningPhase) error
}

type services struct {
	importer catalogImporter
	phases   phaseOpener
	close    func()
}

// openServices is replaced in tests.
var openServices = func(ctx context.Context) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	validate := validator.New()
	auditRepo := repository.NewAuditRepository(db)
	catalogSvc := service.NewCatalogService(repository.NewCatalogRepository(db), nil, cfg.Catalog.CacheTTL, validate, logr)
	closers := []func() error{db.Close}

	// Imports drop the API's cached catalog so new formats are picked up.
	if cfg.Catalog.CacheEnabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, catalog cache left as is", zap.Error(err))
		} else {
			closers = append(closers, client.Close)
			metrics := service.NewMetricsService()
			cacheSvc := service.NewCacheService(repository.NewCacheRepository(client, logr), metrics, "planner", cfg.Catalog.CacheTTL, logr, true)
			catalogSvc = service.NewCatalogService(repository.NewCatalogRepository(db), cacheSvc, cfg.Catalog.CacheTTL, validate, logr)
		}
	}

	templateSvc := service.NewTemplateService(repository.NewTemplateRepository(db), auditRepo, validate, logr)
	phaseSvc := service.NewPhaseService(repository.NewPhaseRepository(db), repository.NewDraftRepository(db), logr)

	return &services{
		importer: importer.New(catalogSvc, templateSvc),
		phases:   phaseSvc,
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
			_ = logr.Sync()
		},
	}, nil
}
