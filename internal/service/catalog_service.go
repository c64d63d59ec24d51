package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
)

const (
	catalogFormatsCacheKey = "catalog:formats"
	catalogModulesCacheKey = "catalog:modules:all"
	catalogCachePattern    = "catalog:*"
)

type catalogRepository interface {
	ListFormatDefinitions(ctx context.Context) ([]models.TeachingFormatDefinition, error)
	ListModules(ctx context.Context, ids []string) ([]models.CatalogModule, error)
	UpsertModule(ctx context.Context, module models.CatalogModule) error
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// CatalogService serves the read-only course catalog used for hour projections.
type CatalogService struct {
	repo      catalogRepository
	cache     catalogCache
	ttl       time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCatalogService constructs the service. cache may be nil.
func NewCatalogService(repo catalogRepository, cache catalogCache, ttl time.Duration, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{repo: repo, cache: cache, ttl: ttl, validator: validate, logger: logger}
}

// Catalog returns the format definitions of every module.
func (s *CatalogService) Catalog(ctx context.Context) (models.ModuleCatalog, error) {
	var defs []models.TeachingFormatDefinition
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, catalogFormatsCacheKey, &defs); err == nil && hit {
			return buildCatalog(defs), nil
		}
	}
	defs, err := s.repo.ListFormatDefinitions(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to load course catalog")
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, catalogFormatsCacheKey, defs, s.ttl)
	}
	return buildCatalog(defs), nil
}

// Modules lists catalog modules, all of them when ids is empty.
func (s *CatalogService) Modules(ctx context.Context, ids []string) ([]models.CatalogModule, error) {
	cacheable := len(ids) == 0 && s.cache != nil
	if cacheable {
		var modules []models.CatalogModule
		if hit, err := s.cache.Get(ctx, catalogModulesCacheKey, &modules); err == nil && hit {
			return modules, nil
		}
	}
	modules, err := s.repo.ListModules(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to load catalog modules")
	}
	if cacheable {
		_ = s.cache.Set(ctx, catalogModulesCacheKey, modules, s.ttl)
	}
	return modules, nil
}

// ImportModules validates and upserts modules, then drops cached catalog data.
func (s *CatalogService) ImportModules(ctx context.Context, modules []models.CatalogModule) (int, error) {
	for _, module := range modules {
		if err := s.validateModule(module); err != nil {
			return 0, err
		}
	}
	imported := 0
	for _, module := range modules {
		if err := s.repo.UpsertModule(ctx, module); err != nil {
			return imported, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to import module %s", module.ID))
		}
		imported++
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, catalogCachePattern); err != nil {
			s.logger.Warn("catalog cache invalidation failed", zap.Error(err))
		}
	}
	s.logger.Info("catalog imported", zap.Int("modules", imported))
	return imported, nil
}

func (s *CatalogService) validateModule(module models.CatalogModule) error {
	if strings.TrimSpace(module.ID) == "" || strings.TrimSpace(module.Code) == "" || strings.TrimSpace(module.Name) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "catalog modules need id, code and name")
	}
	seen := make(map[models.TeachingFormat]struct{}, len(module.Formats))
	for _, def := range module.Formats {
		if !def.Code.Valid() {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("module %s: unknown teaching format %q", module.ID, def.Code))
		}
		if err := s.validator.Var(def.HoursPerGroup, "gte=0"); err != nil {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("module %s: hours per group must not be negative", module.ID))
		}
		if _, dup := seen[def.Code]; dup {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("module %s: format %s defined twice", module.ID, def.Code))
		}
		seen[def.Code] = struct{}{}
	}
	return nil
}

func buildCatalog(defs []models.TeachingFormatDefinition) models.ModuleCatalog {
	catalog := make(models.ModuleCatalog)
	for _, def := range defs {
		catalog[def.ModuleID] = append(catalog[def.ModuleID], def)
	}
	return catalog
}
