package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
)

type templateServiceMock struct {
	templates []models.Template
	latest    *models.Template
	err       error
	saved     *models.Template
	deleted   string
}

func (m *templateServiceMock) List(ctx context.Context, actor models.Actor) ([]models.Template, error) {
	return m.templates, m.err
}

func (m *templateServiceMock) ForTermType(ctx context.Context, actor models.Actor, termType models.TemplateTermType) (*models.Template, error) {
	return m.latest, m.err
}

func (m *templateServiceMock) Get(ctx context.Context, actor models.Actor, id string) (*models.Template, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &m.templates[0], nil
}

func (m *templateServiceMock) Save(ctx context.Context, actor models.Actor, template *models.Template) error {
	if m.err != nil {
		return m.err
	}
	template.OwnerID = actor.UserID
	if template.ID == "" {
		template.ID = "tpl-new"
	}
	m.saved = template
	return nil
}

func (m *templateServiceMock) Delete(ctx context.Context, actor models.Actor, id string) error {
	m.deleted = id
	return m.err
}

type draftLookupStub struct {
	draft *models.PlanningDraft
	err   error
}

func (d draftLookupStub) GetDraft(ctx context.Context, actor models.Actor, id string) (*models.PlanningDraft, error) {
	return d.draft, d.err
}

func TestTemplateHandlerListByTermType(t *testing.T) {
	mockSvc := &templateServiceMock{latest: nil}
	handler := NewTemplateHandler(mockSvc, nil)

	c, w := newTestContext(t, http.MethodGet, "/planning/templates?termType=firstHalfYear", nil, staffClaims)
	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	var items []models.Template
	decodeData(t, w, &items)
	assert.Empty(t, items)

	mockSvc.latest = &models.Template{ID: "tpl-1", TermType: models.TermTypeFirstHalfYear}
	c, w = newTestContext(t, http.MethodGet, "/planning/templates?termType=firstHalfYear", nil, staffClaims)
	handler.List(c)
	decodeData(t, w, &items)
	require.Len(t, items, 1)
	assert.Equal(t, "tpl-1", items[0].ID)
}

func TestTemplateHandlerSaveCreates(t *testing.T) {
	mockSvc := &templateServiceMock{}
	handler := NewTemplateHandler(mockSvc, nil)

	body := map[string]interface{}{
		"name":      "Winter",
		"term_type": "secondHalfYear",
		"module_entries": []map[string]interface{}{
			{"module_id": "7", "group_counts": map[string]int{"lecture": 1}},
		},
	}
	c, w := newTestContext(t, http.MethodPost, "/planning/templates", body, staffClaims)
	handler.Save(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, mockSvc.saved)
	assert.Equal(t, "42", mockSvc.saved.OwnerID)
	assert.Equal(t, models.TermTypeSecondHalfYear, mockSvc.saved.TermType)
	require.Len(t, mockSvc.saved.ModuleEntries, 1)
}

func TestTemplateHandlerSaveRejectsUnknownTermType(t *testing.T) {
	mockSvc := &templateServiceMock{}
	handler := NewTemplateHandler(mockSvc, nil)

	c, w := newTestContext(t, http.MethodPost, "/planning/templates", map[string]string{"name": "Winter", "term_type": "winter"}, staffClaims)
	handler.Save(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, mockSvc.saved)
}

func TestTemplateHandlerSaveFromDraft(t *testing.T) {
	draft := &models.PlanningDraft{
		ID:      "d-1",
		OwnerID: "42",
		ModuleEntries: []models.PlannedModuleEntry{
			{ID: "e-1", ModuleID: "3", GroupCounts: models.GroupCounts{Exercise: 2}, ComputedHours: models.ComputedHours{Exercise: 3, Total: 3}},
		},
		Notes: "from last winter",
	}
	mockSvc := &templateServiceMock{}
	handler := NewTemplateHandler(mockSvc, draftLookupStub{draft: draft})

	c, w := newTestContext(t, http.MethodPost, "/planning/templates", map[string]string{"id": "tpl-1", "name": "Winter", "term_type": "secondHalfYear", "draft_id": "d-1"}, staffClaims)
	handler.Save(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mockSvc.saved)
	assert.Equal(t, "tpl-1", mockSvc.saved.ID)
	assert.Equal(t, "from last winter", mockSvc.saved.Notes)
	require.Len(t, mockSvc.saved.ModuleEntries, 1)
	assert.Equal(t, 2, mockSvc.saved.ModuleEntries[0].GroupCounts.Exercise)
}

func TestTemplateHandlerSaveFromForeignDraft(t *testing.T) {
	mockSvc := &templateServiceMock{}
	handler := NewTemplateHandler(mockSvc, draftLookupStub{err: appErrors.ErrForbidden})

	c, w := newTestContext(t, http.MethodPost, "/planning/templates", map[string]string{"name": "Winter", "term_type": "secondHalfYear", "draft_id": "d-9"}, staffClaims)
	handler.Save(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Nil(t, mockSvc.saved)
}

func TestTemplateHandlerGetAndDelete(t *testing.T) {
	mockSvc := &templateServiceMock{templates: []models.Template{{ID: "tpl-1"}}}
	handler := NewTemplateHandler(mockSvc, nil)

	c, w := newTestContext(t, http.MethodGet, "/planning/templates/tpl-1", nil, staffClaims)
	c.Params = gin.Params{{Key: "id", Value: "tpl-1"}}
	handler.Get(c)
	require.Equal(t, http.StatusOK, w.Code)

	c, _ = newTestContext(t, http.MethodDelete, "/planning/templates/tpl-1", nil, staffClaims)
	c.Params = gin.Params{{Key: "id", Value: "tpl-1"}}
	handler.Delete(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, "tpl-1", mockSvc.deleted)

	mockSvc.err = appErrors.ErrTemplateUnavailable
	c, w = newTestContext(t, http.MethodGet, "/planning/templates/tpl-2", nil, staffClaims)
	c.Params = gin.Params{{Key: "id", Value: "tpl-2"}}
	handler.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}
