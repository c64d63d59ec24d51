// Package importer loads catalog modules and planning templates from YAML
// files and hands them to the services that own them.
package importer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/teaching-load-planner/internal/models"
)

// CatalogFile is the on-disk layout of a catalog import.
type CatalogFile struct {
	Modules []models.CatalogModule `yaml:"modules"`
}

// TemplateFile is the on-disk layout of a template import.
type TemplateFile struct {
	Templates []models.Template `yaml:"templates"`
}

type catalogImporter interface {
	ImportModules(ctx context.Context, modules []models.CatalogModule) (int, error)
}

type templateSaver interface {
	Save(ctx context.Context, actor models.Actor, template *models.Template) error
}

// ParseCatalog decodes a catalog document. Module ids must be unique.
func ParseCatalog(data []byte) ([]models.CatalogModule, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("importer: catalog payload is empty")
	}
	var file CatalogFile
	if err := decodeStrict(data, &file); err != nil {
		return nil, fmt.Errorf("importer: decode catalog: %w", err)
	}
	seen := make(map[string]struct{}, len(file.Modules))
	for i := range file.Modules {
		module := &file.Modules[i]
		module.ID = strings.TrimSpace(module.ID)
		module.Code = strings.TrimSpace(module.Code)
		module.Name = strings.TrimSpace(module.Name)
		if _, dup := seen[module.ID]; dup {
			return nil, fmt.Errorf("importer: module %q listed twice", module.ID)
		}
		seen[module.ID] = struct{}{}
		for j := range module.Formats {
			module.Formats[j].ModuleID = module.ID
		}
	}
	return file.Modules, nil
}

// ParseTemplates decodes a template document.
func ParseTemplates(data []byte) ([]models.Template, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("importer: template payload is empty")
	}
	var file TemplateFile
	if err := decodeStrict(data, &file); err != nil {
		return nil, fmt.Errorf("importer: decode templates: %w", err)
	}
	return file.Templates, nil
}

// LoadCatalogFile reads and parses a catalog file.
func LoadCatalogFile(path string) ([]models.CatalogModule, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("importer: read %s: %w", path, err)
	}
	modules, err := ParseCatalog(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return modules, nil
}

// LoadTemplateFile reads and parses a template file.
func LoadTemplateFile(path string) ([]models.Template, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("importer: read %s: %w", path, err)
	}
	templates, err := ParseTemplates(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return templates, nil
}

// Importer feeds parsed files to the catalog and template services.
type Importer struct {
	catalog   catalogImporter
	templates templateSaver
}

// New constructs an Importer. Either dependency may be nil when unused.
func New(catalog catalogImporter, templates templateSaver) *Importer {
	return &Importer{catalog: catalog, templates: templates}
}

// ImportCatalog loads path and upserts every module in it.
func (i *Importer) ImportCatalog(ctx context.Context, path string) (int, error) {
	if i.catalog == nil {
		return 0, fmt.Errorf("importer: catalog service not configured")
	}
	modules, err := LoadCatalogFile(path)
	if err != nil {
		return 0, err
	}
	return i.catalog.ImportModules(ctx, modules)
}

// ImportTemplates loads path and saves each template for owner. It stops at
// the first template the service rejects and reports how many were saved.
func (i *Importer) ImportTemplates(ctx context.Context, owner models.Actor, path string) ([]models.Template, error) {
	if i.templates == nil {
		return nil, fmt.Errorf("importer: template service not configured")
	}
	if strings.TrimSpace(owner.UserID) == "" {
		return nil, fmt.Errorf("importer: template owner is required")
	}
	templates, err := LoadTemplateFile(path)
	if err != nil {
		return nil, err
	}
	saved := make([]models.Template, 0, len(templates))
	for idx := range templates {
		tpl := templates[idx]
		if err := i.templates.Save(ctx, owner, &tpl); err != nil {
			return saved, fmt.Errorf("importer: template %q: %w", tpl.Name, err)
		}
		saved = append(saved, tpl)
	}
	return saved, nil
}

func decodeStrict(data []byte, out interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}
