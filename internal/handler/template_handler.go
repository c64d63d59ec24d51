package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/teaching-load-planner/internal/dto"
	"github.com/noah-isme/teaching-load-planner/internal/models"
	"github.com/noah-isme/teaching-load-planner/internal/service"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
	"github.com/noah-isme/teaching-load-planner/pkg/response"
)

type templateService interface {
	List(ctx context.Context, actor models.Actor) ([]models.Template, error)
	ForTermType(ctx context.Context, actor models.Actor, termType models.TemplateTermType) (*models.Template, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Template, error)
	Save(ctx context.Context, actor models.Actor, template *models.Template) error
	Delete(ctx context.Context, actor models.Actor, id string) error
}

type draftLookup interface {
	GetDraft(ctx context.Context, actor models.Actor, id string) (*models.PlanningDraft, error)
}

// TemplateHandler manages the caller's planning templates.
type TemplateHandler struct {
	templates templateService
	drafts    draftLookup
}

// NewTemplateHandler builds a new handler.
func NewTemplateHandler(templates templateService, drafts draftLookup) *TemplateHandler {
	return &TemplateHandler{templates: templates, drafts: drafts}
}

// List godoc
// @Summary List the caller's templates
// @Description With termType only the latest template for that term type is returned.
// @Tags Planning Templates
// @Produce json
// @Param termType query string false "firstHalfYear or secondHalfYear"
// @Success 200 {object} response.Envelope
// @Router /planning/templates [get]
func (h *TemplateHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if termType := c.Query("termType"); termType != "" {
		template, err := h.templates.ForTermType(c.Request.Context(), actor, models.TemplateTermType(termType))
		if err != nil {
			response.Error(c, err)
			return
		}
		items := []models.Template{}
		if template != nil {
			items = append(items, *template)
		}
		response.JSON(c, http.StatusOK, items, nil)
		return
	}
	templates, err := h.templates.List(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, templates, nil)
}

// Get godoc
// @Summary Get a template
// @Tags Planning Templates
// @Produce json
// @Param id path string true "Template ID"
// @Success 200 {object} response.Envelope
// @Router /planning/templates/{id} [get]
func (h *TemplateHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	template, err := h.templates.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, template, nil)
}

// Save godoc
// @Summary Create or replace a template
// @Description When draft_id is given the template copies that draft's plan.
// @Tags Planning Templates
// @Accept json
// @Produce json
// @Param payload body dto.SaveTemplateRequest true "Template"
// @Success 200 {object} response.Envelope
// @Success 201 {object} response.Envelope
// @Router /planning/templates [post]
func (h *TemplateHandler) Save(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.SaveTemplateRequest
	if !bindJSON(c, &req, "invalid template payload") {
		return
	}
	template := req.ToTemplate()
	if req.DraftID != "" {
		if h.drafts == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "templates cannot be copied from drafts"))
			return
		}
		draft, err := h.drafts.GetDraft(c.Request.Context(), actor, req.DraftID)
		if err != nil {
			response.Error(c, err)
			return
		}
		template = service.TemplateFromDraft(draft, req.Name, models.TemplateTermType(req.TermType))
		template.ID = req.ID
	}
	if err := h.templates.Save(c.Request.Context(), actor, template); err != nil {
		response.Error(c, err)
		return
	}
	if req.ID == "" {
		response.Created(c, template)
		return
	}
	response.JSON(c, http.StatusOK, template, nil)
}

// Delete godoc
// @Summary Delete a template
// @Tags Planning Templates
// @Param id path string true "Template ID"
// @Success 204
// @Router /planning/templates/{id} [delete]
func (h *TemplateHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.templates.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
