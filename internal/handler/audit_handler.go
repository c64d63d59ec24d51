package handler

import (
	"context"
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
	"github.com/noah-isme/teaching-load-planner/pkg/response"
)

type auditTrail interface {
	ListForResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error)
}

// AuditHandler exposes the review trail of planning drafts.
type AuditHandler struct {
	trail auditTrail
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(trail auditTrail) *AuditHandler {
	return &AuditHandler{trail: trail}
}

// DraftHistory godoc
// @Summary List the audit trail of a draft
// @Tags Planning Drafts
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Router /planning/drafts/{id}/history [get]
func (h *AuditHandler) DraftHistory(c *gin.Context) {
	logs, err := h.trail.ListForResource(c.Request.Context(), "planning_draft", c.Param("id"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to load draft history"))
		return
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	response.OK(c, logs)
}
