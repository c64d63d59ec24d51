package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
	"github.com/noah-isme/teaching-load-planner/pkg/response"
)

type catalogService interface {
	Modules(ctx context.Context, ids []string) ([]models.CatalogModule, error)
	ImportModules(ctx context.Context, modules []models.CatalogModule) (int, error)
}

// CatalogHandler serves the read-only course catalog.
type CatalogHandler struct {
	service catalogService
}

// NewCatalogHandler builds a new handler.
func NewCatalogHandler(service catalogService) *CatalogHandler {
	return &CatalogHandler{service: service}
}

// Modules godoc
// @Summary List catalog modules with their teaching formats
// @Tags Catalog
// @Produce json
// @Param ids query string false "Comma separated module ids"
// @Success 200 {object} response.Envelope
// @Router /planning/catalog/modules [get]
func (h *CatalogHandler) Modules(c *gin.Context) {
	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	modules, err := h.service.Modules(c.Request.Context(), ids)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, modules, nil)
}

// Import godoc
// @Summary Upsert catalog modules
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body []models.CatalogModule true "Modules"
// @Success 200 {object} response.Envelope
// @Router /planning/catalog/modules [post]
func (h *CatalogHandler) Import(c *gin.Context) {
	var modules []models.CatalogModule
	if err := c.ShouldBindJSON(&modules); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid catalog payload"))
		return
	}
	imported, err := h.service.ImportModules(c.Request.Context(), modules)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"imported": imported}, nil)
}
