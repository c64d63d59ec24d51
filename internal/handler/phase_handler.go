package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/teaching-load-planner/internal/dto"
	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
	"github.com/noah-isme/teaching-load-planner/pkg/response"
)

type phaseService interface {
	Active(ctx context.Context) (*models.PlanningPhase, error)
	SubmissionStatus(ctx context.Context, userID string) (*models.SubmissionStatus, error)
	Open(ctx context.Context, phase *models.PlanningPhase) error
}

// PhaseHandler exposes the submission window.
type PhaseHandler struct {
	service phaseService
}

// NewPhaseHandler builds a new handler.
func NewPhaseHandler(service phaseService) *PhaseHandler {
	return &PhaseHandler{service: service}
}

// Active godoc
// @Summary Get the active planning phase
// @Description data is null when no phase is open.
// @Tags Planning Phase
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /planning/phase [get]
func (h *PhaseHandler) Active(c *gin.Context) {
	phase, err := h.service.Active(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, phase, nil)
}

// SubmissionStatus godoc
// @Summary Tell whether the caller may submit
// @Tags Planning Phase
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /planning/submission-status [get]
func (h *PhaseHandler) SubmissionStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	status, err := h.service.SubmissionStatus(c.Request.Context(), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Open godoc
// @Summary Open a planning phase
// @Description Timestamps are RFC 3339. The new phase replaces the active one.
// @Tags Planning Phase
// @Accept json
// @Produce json
// @Param payload body dto.OpenPhaseRequest true "Phase"
// @Success 201 {object} response.Envelope
// @Router /planning/phases [post]
func (h *PhaseHandler) Open(c *gin.Context) {
	var req dto.OpenPhaseRequest
	if !bindJSON(c, &req, "invalid phase payload") {
		return
	}
	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "starts_at must be RFC 3339"))
		return
	}
	deadline, err := time.Parse(time.RFC3339, req.Deadline)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "deadline must be RFC 3339"))
		return
	}
	phase := &models.PlanningPhase{Name: req.Name, TermID: req.TermID, StartsAt: startsAt, Deadline: deadline, Active: true}
	if err := h.service.Open(c.Request.Context(), phase); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, phase)
}
