package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/teaching-load-planner/internal/dto"
	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
	"github.com/noah-isme/teaching-load-planner/pkg/response"
	"github.com/noah-isme/teaching-load-planner/pkg/storage"
)

type exportService interface {
	ExportDraft(ctx context.Context, actor models.Actor, draftID string, format models.ExportFormat) (*models.PlanExport, error)
	Resolve(token string) (storage.DownloadClaims, error)
	Open(relPath string) (*os.File, error)
}

// ExportHandler renders drafts and serves signed downloads.
type ExportHandler struct {
	service exportService
}

// NewExportHandler builds a new handler.
func NewExportHandler(service exportService) *ExportHandler {
	return &ExportHandler{service: service}
}

// Create godoc
// @Summary Render a draft's teaching load
// @Tags Planning Exports
// @Accept json
// @Produce json
// @Param id path string true "Draft ID"
// @Param payload body dto.ExportDraftRequest true "Format"
// @Success 201 {object} response.Envelope
// @Router /planning/drafts/{id}/exports [post]
func (h *ExportHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.ExportDraftRequest
	if !bindJSON(c, &req, "invalid export payload") {
		return
	}
	result, err := h.service.ExportDraft(c.Request.Context(), actor, c.Param("id"), models.ExportFormat(req.Format))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download a rendered plan
// @Description The signed token stands in for authentication.
// @Tags Planning Exports
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200
// @Router /planning/exports/download [get]
func (h *ExportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	claims, err := h.service.Resolve(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.service.Open(claims.Path)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "export unreadable"))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", "attachment; filename=\""+filepath.Base(claims.Path)+"\"")
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), file)
}
