package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
	"github.com/noah-isme/teaching-load-planner/pkg/export"
	"github.com/noah-isme/teaching-load-planner/pkg/storage"
)

type draftReader interface {
	GetDraft(ctx context.Context, actor models.Actor, id string) (*models.PlanningDraft, error)
}

type moduleDirectory interface {
	Modules(ctx context.Context, ids []string) ([]models.CatalogModule, error)
}

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix    string
	ResultTTL    time.Duration
	CSVSeparator rune
}

// ExportService renders a draft's teaching load as CSV or PDF and hands out
// signed download links.
type ExportService struct {
	drafts  draftReader
	modules moduleDirectory
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
	now     func() time.Time
}

// NewExportService constructs an ExportService. Renderers default to the pkg/export ones.
func NewExportService(drafts draftReader, modules moduleDirectory, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	csvExporter := export.NewCSVExporter()
	if cfg.CSVSeparator != 0 {
		csvExporter = csvExporter.WithSeparator(cfg.CSVSeparator)
	}
	return &ExportService{
		drafts:  drafts,
		modules: modules,
		storage: files,
		csv:     csvExporter,
		pdf:     export.NewPDFExporter(),
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// ExportDraft renders the draft and stores the file.
func (s *ExportService) ExportDraft(ctx context.Context, actor models.Actor, draftID string, format models.ExportFormat) (*models.PlanExport, error) {
	if !format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	draft, err := s.drafts.GetDraft(ctx, actor, draftID)
	if err != nil {
		return nil, err
	}
	names := map[string]models.CatalogModule{}
	if s.modules != nil && len(draft.ModuleEntries) > 0 {
		ids := make([]string, 0, len(draft.ModuleEntries))
		for _, entry := range draft.ModuleEntries {
			ids = append(ids, entry.ModuleID)
		}
		modules, err := s.modules.Modules(ctx, ids)
		if err != nil {
			s.logger.Warn("module names unavailable for export", zap.String("draft_id", draftID), zap.Error(err))
		}
		for _, module := range modules {
			names[module.ID] = module
		}
	}

	dataset := BuildLoadReport(draft, names)
	var payload []byte
	switch format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render plan")
	}

	relPath, err := s.storage.Save(s.filename(draft, format), payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store plan export")
	}
	token, expiresAt, err := s.signer.Generate(draft.ID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign plan export")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Info("plan exported", zap.String("draft_id", draft.ID), zap.String("format", string(format)), zap.String("path", relPath))
	return &models.PlanExport{
		DraftID:      draft.ID,
		Format:       format,
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/planning/exports/download?token=%s", prefix, token),
		ExpiresAt:    expiresAt,
	}, nil
}

// Resolve validates a download token and returns the stored path.
func (s *ExportService) Resolve(token string) (storage.DownloadClaims, error) {
	claims, err := s.signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return storage.DownloadClaims{}, appErrors.Clone(appErrors.ErrNotFound, "download link expired")
		}
		return storage.DownloadClaims{}, appErrors.Clone(appErrors.ErrUnauthorized, "invalid download link")
	}
	return claims, nil
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "export not found")
	}
	return file, nil
}

// Cleanup removes exports older than ttl, the configured result TTL when ttl <= 0.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

// RunCleanup removes expired exports every interval until ctx is done.
func (s *ExportService) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Cleanup(0)
			if err != nil {
				s.logger.Warn("export cleanup failed", zap.Error(err))
				continue
			}
			if len(deleted) > 0 {
				s.logger.Info("expired exports removed", zap.Int("count", len(deleted)))
			}
		}
	}
}

func (s *ExportService) filename(draft *models.PlanningDraft, format models.ExportFormat) string {
	timestamp := s.now().UTC().Format("20060102_150405")
	return fmt.Sprintf("plans/%s/%s_%s.%s", sanitizeFilename(draft.OwnerID), sanitizeFilename(draft.TermID), timestamp, format)
}

// Load report columns.
const (
	colModule   = "Module"
	colName     = "Name"
	colLecture  = "Lecture"
	colExercise = "Exercise"
	colLab      = "Lab"
	colSeminar  = "Seminar"
	colTotal    = "Total Hours"
	colStaff    = "Staff"
)

// BuildLoadReport turns a draft into the tabular load report. Format columns
// show "groups x / hours" per teaching format.
func BuildLoadReport(draft *models.PlanningDraft, modules map[string]models.CatalogModule) export.Dataset {
	dataset := export.Dataset{
		Title:   "Teaching load plan",
		Headers: []string{colModule, colName, colLecture, colExercise, colLab, colSeminar, colTotal, colStaff},
		Numeric: []string{colLecture, colExercise, colLab, colSeminar, colTotal},
		Rows:    make([]map[string]string, 0, len(draft.ModuleEntries)),
	}
	dataset.Meta = []string{
		"Term: " + draft.TermID,
		"Owner: " + draft.OwnerID,
		"Status: " + string(draft.Status),
	}
	if len(draft.DayOffPreferences) > 0 {
		slots := make([]string, 0, len(draft.DayOffPreferences))
		for _, pref := range draft.DayOffPreferences {
			slots = append(slots, fmt.Sprintf("%s %s (%s)", pref.Weekday, pref.Period, pref.Priority))
		}
		dataset.Meta = append(dataset.Meta, "Days off: "+strings.Join(slots, ", "))
	}

	var totals models.ComputedHours
	for _, entry := range draft.ModuleEntries {
		code, name := entry.ModuleID, ""
		if module, ok := modules[entry.ModuleID]; ok {
			code, name = module.Code, module.Name
		}
		hours := entry.ComputedHours
		dataset.Rows = append(dataset.Rows, map[string]string{
			colModule:   code,
			colName:     name,
			colLecture:  formatCell(entry.GroupCounts.Lecture, hours.Lecture),
			colExercise: formatCell(entry.GroupCounts.Exercise, hours.Exercise),
			colLab:      formatCell(entry.GroupCounts.Lab, hours.Lab),
			colSeminar:  formatCell(entry.GroupCounts.Seminar, hours.Seminar),
			colTotal:    formatHours(hours.Total),
			colStaff:    strings.Join(entry.StaffIDs, ", "),
		})
		totals.Lecture += hours.Lecture
		totals.Exercise += hours.Exercise
		totals.Lab += hours.Lab
		totals.Seminar += hours.Seminar
		totals.Total += hours.Total
	}
	dataset.Footer = map[string]string{
		colModule:   "Total",
		colLecture:  formatHours(totals.Lecture),
		colExercise: formatHours(totals.Exercise),
		colLab:      formatHours(totals.Lab),
		colSeminar:  formatHours(totals.Seminar),
		colTotal:    formatHours(totals.Total),
	}
	return dataset
}

func formatCell(groups int, hours float64) string {
	if groups == 0 {
		return ""
	}
	return fmt.Sprintf("%dx / %s", groups, formatHours(hours))
}

func formatHours(hours float64) string {
	return strconv.FormatFloat(hours, 'f', 2, 64)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
