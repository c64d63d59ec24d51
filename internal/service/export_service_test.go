package service

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
	"github.com/noah-isme/teaching-load-planner/pkg/storage"
)

type draftReaderStub struct {
	draft *models.PlanningDraft
	err   error
}

func (s draftReaderStub) GetDraft(ctx context.Context, actor models.Actor, id string) (*models.PlanningDraft, error) {
	return s.draft, s.err
}

type moduleDirectoryStub struct{}

func (moduleDirectoryStub) Modules(ctx context.Context, ids []string) ([]models.CatalogModule, error) {
	return []models.CatalogModule{{ID: "mod-1", Code: "CS101", Name: "Programming"}}, nil
}

func exportDraft() *models.PlanningDraft {
	return &models.PlanningDraft{
		ID:      "draft-1",
		TermID:  "2026-winter",
		OwnerID: "user-1",
		Status:  models.DraftStatusDraft,
		ModuleEntries: []models.PlannedModuleEntry{
			{
				ModuleID:      "mod-1",
				GroupCounts:   models.GroupCounts{Lecture: 1, Exercise: 2},
				ComputedHours: models.ComputedHours{Lecture: 2, Exercise: 4, Total: 6},
				StaffIDs:      []string{"staff-1"},
			},
			{
				ModuleID:      "mod-legacy",
				GroupCounts:   models.GroupCounts{Lab: 1},
				ComputedHours: models.ComputedHours{Total: 3},
			},
		},
		DayOffPreferences: []models.DayOffPreference{{Weekday: "friday", Period: models.PeriodFull, Priority: models.PriorityHigh}},
	}
}

func newExportServiceForTest(t *testing.T, reader draftReader) (*ExportService, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	svc := NewExportService(reader, moduleDirectoryStub{}, store, signer, ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour}, zap.NewNop())
	return svc, store
}

func TestBuildLoadReport(t *testing.T) {
	dataset := BuildLoadReport(exportDraft(), map[string]models.CatalogModule{"mod-1": {ID: "mod-1", Code: "CS101", Name: "Programming"}})

	require.Len(t, dataset.Rows, 2)
	assert.Equal(t, "CS101", dataset.Rows[0][colModule])
	assert.Equal(t, "2x / 4.00", dataset.Rows[0][colExercise])
	assert.Equal(t, "", dataset.Rows[0][colLab])
	assert.Equal(t, "mod-legacy", dataset.Rows[1][colModule])
	assert.Equal(t, "3.00", dataset.Rows[1][colTotal])
	assert.Equal(t, "9.00", dataset.Footer[colTotal])
	assert.Contains(t, dataset.Meta, "Days off: friday full (high)")
}

func TestExportServiceExportDraftCSV(t *testing.T) {
	svc, store := newExportServiceForTest(t, draftReaderStub{draft: exportDraft()})

	result, err := svc.ExportDraft(context.Background(), models.Actor{UserID: "user-1"}, "draft-1", models.ExportFormatCSV)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.RelativePath, "plans/user-1/2026-winter_"))
	assert.Contains(t, result.URL, "/api/v1/planning/exports/download?token=")

	raw, err := os.ReadFile(store.Path(result.RelativePath))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "CS101,Programming,1x / 2.00,2x / 4.00,,,6.00,staff-1")

	claims, err := svc.Resolve(result.Token)
	require.NoError(t, err)
	assert.Equal(t, "draft-1", claims.Subject)
	assert.Equal(t, result.RelativePath, claims.Path)
}

func TestExportServiceExportDraftPDF(t *testing.T) {
	svc, store := newExportServiceForTest(t, draftReaderStub{draft: exportDraft()})

	result, err := svc.ExportDraft(context.Background(), models.Actor{UserID: "user-1"}, "draft-1", models.ExportFormatPDF)
	require.NoError(t, err)
	info, err := os.Stat(store.Path(result.RelativePath))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	svc, _ := newExportServiceForTest(t, draftReaderStub{draft: exportDraft()})
	_, err := svc.ExportDraft(context.Background(), models.Actor{UserID: "user-1"}, "draft-1", "xlsx")
	require.True(t, appErrors.IsValidation(err))
}

func TestExportServicePropagatesAccessErrors(t *testing.T) {
	svc, _ := newExportServiceForTest(t, draftReaderStub{err: appErrors.ErrForbidden})
	_, err := svc.ExportDraft(context.Background(), models.Actor{UserID: "user-2"}, "draft-1", models.ExportFormatCSV)
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestExportServiceResolveRejectsGarbage(t *testing.T) {
	svc, _ := newExportServiceForTest(t, draftReaderStub{})
	_, err := svc.Resolve("nope")
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
