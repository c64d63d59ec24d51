package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/teaching-load-planner/internal/models"
)

// CatalogRepository reads and maintains the course catalog.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListFormatDefinitions returns every teaching format definition of the catalog.
func (r *CatalogRepository) ListFormatDefinitions(ctx context.Context) ([]models.TeachingFormatDefinition, error) {
	const query = `SELECT module_id, code, hours_per_group FROM catalog_formats ORDER BY module_id, code`
	var defs []models.TeachingFormatDefinition
	if err := r.db.SelectContext(ctx, &defs, query); err != nil {
		return nil, fmt.Errorf("list format definitions: %w", err)
	}
	return defs, nil
}

// ListModules returns catalog modules with their formats, optionally limited to ids.
func (r *CatalogRepository) ListModules(ctx context.Context, ids []string) ([]models.CatalogModule, error) {
	query := `SELECT id, code, name FROM catalog_modules`
	args := []interface{}{}
	if len(ids) > 0 {
		query += ` WHERE id = ANY($1)`
		args = append(args, pq.Array(ids))
	}
	query += ` ORDER BY code`

	var modules []models.CatalogModule
	if err := r.db.SelectContext(ctx, &modules, query, args...); err != nil {
		return nil, fmt.Errorf("list catalog modules: %w", err)
	}
	if len(modules) == 0 {
		return modules, nil
	}

	moduleIDs := make([]string, len(modules))
	for i, module := range modules {
		moduleIDs[i] = module.ID
	}
	var defs []models.TeachingFormatDefinition
	if err := r.db.SelectContext(ctx, &defs, `SELECT module_id, code, hours_per_group FROM catalog_formats WHERE module_id = ANY($1) ORDER BY module_id, code`, pq.Array(moduleIDs)); err != nil {
		return nil, fmt.Errorf("list module formats: %w", err)
	}
	byModule := make(map[string][]models.TeachingFormatDefinition, len(modules))
	for _, def := range defs {
		byModule[def.ModuleID] = append(byModule[def.ModuleID], def)
	}
	for i := range modules {
		modules[i].Formats = byModule[modules[i].ID]
		if modules[i].Formats == nil {
			modules[i].Formats = []models.TeachingFormatDefinition{}
		}
	}
	return modules, nil
}

// UpsertModule writes a module and replaces its format definitions.
func (r *CatalogRepository) UpsertModule(ctx context.Context, module models.CatalogModule) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert module: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const upsertModule = `INSERT INTO catalog_modules (id, code, name) VALUES ($1, $2, $3)
	ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name, updated_at = NOW()`
	if _, err = tx.ExecContext(ctx, upsertModule, module.ID, module.Code, module.Name); err != nil {
		return fmt.Errorf("upsert module %s: %w", module.ID, err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM catalog_formats WHERE module_id = $1`, module.ID); err != nil {
		return fmt.Errorf("clear formats of %s: %w", module.ID, err)
	}
	for _, def := range module.Formats {
		if _, err = tx.ExecContext(ctx, `INSERT INTO catalog_formats (module_id, code, hours_per_group) VALUES ($1, $2, $3)`, module.ID, def.Code, def.HoursPerGroup); err != nil {
			return fmt.Errorf("insert format %s of %s: %w", def.Code, module.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert module: %w", err)
	}
	return nil
}
