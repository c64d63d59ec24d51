package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/teaching-load-planner/internal/dto"
	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
	"github.com/noah-isme/teaching-load-planner/pkg/response"
)

type draftService interface {
	CreateOrGetDraft(ctx context.Context, actor models.Actor, termID string, programID *string) (*models.PlanningDraft, bool, error)
	GetDraft(ctx context.Context, actor models.Actor, id string) (*models.PlanningDraft, error)
	ListDrafts(ctx context.Context, actor models.Actor, filter models.DraftFilter) ([]models.PlanningDraft, *models.Pagination, error)
	UpdateDraftFields(ctx context.Context, actor models.Actor, id string, patch models.DraftFieldsPatch) (*models.PlanningDraft, error)
	DeleteDraft(ctx context.Context, actor models.Actor, id string, force bool) error
	AddModuleEntry(ctx context.Context, actor models.Actor, draftID string, entry models.PlannedModuleEntry) (*models.PlannedModuleEntry, error)
	UpdateModuleEntry(ctx context.Context, actor models.Actor, draftID, entryID string, patch models.ModuleEntryPatch) (*models.PlannedModuleEntry, error)
	RemoveModuleEntry(ctx context.Context, actor models.Actor, draftID, entryID string) error
	SubmitDraft(ctx context.Context, actor models.Actor, id string) (*models.PlanningDraft, error)
	ApproveDraft(ctx context.Context, actor models.Actor, id string) (*models.PlanningDraft, error)
	RejectDraft(ctx context.Context, actor models.Actor, id, reason string) (*models.PlanningDraft, error)
	ApplyTemplateToDraft(ctx context.Context, actor models.Actor, templateID, draftID string, clearExisting bool) (*models.TemplateApplyResult, error)
}

// DraftHandler exposes planning draft endpoints.
type DraftHandler struct {
	service draftService
}

// NewDraftHandler builds a new handler.
func NewDraftHandler(service draftService) *DraftHandler {
	return &DraftHandler{service: service}
}

// List godoc
// @Summary List planning drafts
// @Description Staff see their own drafts; reviewers see every draft.
// @Tags Planning Drafts
// @Produce json
// @Param termId query string false "Term filter"
// @Param status query []string false "Status filter" collectionFormat(multi)
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /planning/drafts [get]
func (h *DraftHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.DraftListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid draft query"))
		return
	}
	if !validateRequest(c, &query, "invalid draft query") {
		return
	}
	drafts, pagination, err := h.service.ListDrafts(c.Request.Context(), actor, query.ToFilter())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, drafts, pagination)
}

// Create godoc
// @Summary Create or fetch the caller's draft for a term
// @Tags Planning Drafts
// @Accept json
// @Produce json
// @Param payload body dto.CreateDraftRequest true "Draft payload"
// @Success 200 {object} response.Envelope
// @Success 201 {object} response.Envelope
// @Router /planning/drafts [post]
func (h *DraftHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateDraftRequest
	if !bindJSON(c, &req, "invalid draft payload") {
		return
	}
	draft, created, err := h.service.CreateOrGetDraft(c.Request.Context(), actor, req.TermID, req.ProgramID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if created {
		response.Created(c, draft)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil)
}

// Get godoc
// @Summary Get a planning draft
// @Tags Planning Drafts
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Router /planning/drafts/{id} [get]
func (h *DraftHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	draft, err := h.service.GetDraft(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil)
}

// Update godoc
// @Summary Update notes, room needs or day-off preferences
// @Tags Planning Drafts
// @Accept json
// @Produce json
// @Param id path string true "Draft ID"
// @Param payload body dto.UpdateDraftRequest true "Fields"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /planning/drafts/{id} [patch]
func (h *DraftHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateDraftRequest
	if !bindJSON(c, &req, "invalid draft payload") {
		return
	}
	draft, err := h.service.UpdateDraftFields(c.Request.Context(), actor, c.Param("id"), req.ToPatch())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil)
}

// Delete godoc
// @Summary Delete a draft
// @Description Locked drafts require force=true.
// @Tags Planning Drafts
// @Param id path string true "Draft ID"
// @Param force query bool false "Delete even when locked"
// @Success 204
// @Router /planning/drafts/{id} [delete]
func (h *DraftHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(c.Query("force"))
	if err := h.service.DeleteDraft(c.Request.Context(), actor, c.Param("id"), force); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddModule godoc
// @Summary Add a module entry
// @Tags Planning Drafts
// @Accept json
// @Produce json
// @Param id path string true "Draft ID"
// @Param payload body dto.ModuleEntryRequest true "Module entry"
// @Success 201 {object} response.Envelope
// @Router /planning/drafts/{id}/modules [post]
func (h *DraftHandler) AddModule(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.ModuleEntryRequest
	if !bindJSON(c, &req, "invalid module entry payload") {
		return
	}
	entry, err := h.service.AddModuleEntry(c.Request.Context(), actor, c.Param("id"), req.ToEntry())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// UpdateModule godoc
// @Summary Update a module entry
// @Tags Planning Drafts
// @Accept json
// @Produce json
// @Param id path string true "Draft ID"
// @Param entryId path string true "Entry ID"
// @Param payload body dto.UpdateModuleEntryRequest true "Entry fields"
// @Success 200 {object} response.Envelope
// @Router /planning/drafts/{id}/modules/{entryId} [patch]
func (h *DraftHandler) UpdateModule(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateModuleEntryRequest
	if !bindJSON(c, &req, "invalid module entry payload") {
		return
	}
	entry, err := h.service.UpdateModuleEntry(c.Request.Context(), actor, c.Param("id"), c.Param("entryId"), req.ToPatch())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// RemoveModule godoc
// @Summary Remove a module entry
// @Tags Planning Drafts
// @Param id path string true "Draft ID"
// @Param entryId path string true "Entry ID"
// @Success 204
// @Router /planning/drafts/{id}/modules/{entryId} [delete]
func (h *DraftHandler) RemoveModule(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.service.RemoveModuleEntry(c.Request.Context(), actor, c.Param("id"), c.Param("entryId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Submit godoc
// @Summary Submit a draft for review
// @Tags Planning Drafts
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /planning/drafts/{id}/submit [post]
func (h *DraftHandler) Submit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	draft, err := h.service.SubmitDraft(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil)
}

// Approve godoc
// @Summary Approve a submitted draft
// @Tags Planning Review
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Router /planning/drafts/{id}/approve [post]
func (h *DraftHandler) Approve(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	draft, err := h.service.ApproveDraft(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil)
}

// Reject godoc
// @Summary Reject a submitted draft
// @Tags Planning Review
// @Accept json
// @Produce json
// @Param id path string true "Draft ID"
// @Param payload body dto.RejectDraftRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /planning/drafts/{id}/reject [post]
func (h *DraftHandler) Reject(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.RejectDraftRequest
	if !bindJSON(c, &req, "invalid rejection payload") {
		return
	}
	draft, err := h.service.RejectDraft(c.Request.Context(), actor, c.Param("id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil)
}

// ApplyTemplate godoc
// @Summary Merge a template into a draft
// @Description Modules already on the draft are skipped unless clear_existing is set.
// @Tags Planning Drafts
// @Accept json
// @Produce json
// @Param id path string true "Draft ID"
// @Param payload body dto.ApplyTemplateRequest true "Template"
// @Success 200 {object} response.Envelope
// @Router /planning/drafts/{id}/apply-template [post]
func (h *DraftHandler) ApplyTemplate(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.ApplyTemplateRequest
	if !bindJSON(c, &req, "invalid template payload") {
		return
	}
	result, err := h.service.ApplyTemplateToDraft(c.Request.Context(), actor, req.TemplateID, c.Param("id"), req.ClearExisting)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
