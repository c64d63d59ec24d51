package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/teaching-load-planner/internal/middleware"
	"github.com/noah-isme/teaching-load-planner/internal/models"
)

// Handlers groups the endpoint handlers mounted by RegisterRoutes.
type Handlers struct {
	Drafts    *DraftHandler
	Wizard    *WizardHandler
	Templates *TemplateHandler
	Phases    *PhaseHandler
	Catalog   *CatalogHandler
	Exports   *ExportHandler
	Metrics   *MetricsHandler
	Audit     *AuditHandler
}

// TokenValidator authenticates bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// AuditWriter persists audit records.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RouteDeps carries the cross-cutting pieces the routes need.
type RouteDeps struct {
	Tokens TokenValidator
	Audit  AuditWriter
	Logger *zap.Logger
}

// RegisterRoutes mounts the planning API under api. Operational endpoints are
// registered on root.
func RegisterRoutes(root *gin.Engine, api *gin.RouterGroup, h Handlers, deps RouteDeps) {
	if h.Metrics != nil {
		root.GET("/health", h.Metrics.Health)
		root.GET("/ready", h.Metrics.Ready)
		root.GET("/metrics", h.Metrics.Prometheus)
	}

	planning := api.Group("/planning")
	if h.Exports != nil {
		planning.GET("/exports/download", h.Exports.Download)
	}

	secured := planning.Group("")
	secured.Use(middleware.JWT(deps.Tokens))

	if h.Drafts != nil {
		drafts := secured.Group("/drafts")
		drafts.GET("", h.Drafts.List)
		drafts.POST("", h.Drafts.Create)
		drafts.GET("/:id", h.Drafts.Get)
		drafts.PATCH("/:id", h.Drafts.Update)
		drafts.DELETE("/:id", h.Drafts.Delete)
		drafts.POST("/:id/modules", h.Drafts.AddModule)
		drafts.PATCH("/:id/modules/:entryId", h.Drafts.UpdateModule)
		drafts.DELETE("/:id/modules/:entryId", h.Drafts.RemoveModule)
		drafts.POST("/:id/submit", h.Drafts.Submit)
		drafts.POST("/:id/approve", middleware.RequireReviewer(), h.Drafts.Approve)
		drafts.POST("/:id/reject", middleware.RequireReviewer(), h.Drafts.Reject)
		drafts.POST("/:id/apply-template", h.Drafts.ApplyTemplate)
		if h.Audit != nil {
			drafts.GET("/:id/history", middleware.RequireReviewer(), h.Audit.DraftHistory)
		}
		if h.Exports != nil {
			drafts.POST("/:id/exports", middleware.Audit(deps.Audit, deps.Logger, models.AuditActionDraftExport, "planning_draft"), h.Exports.Create)
		}
	}

	if h.Wizard != nil {
		wizard := secured.Group("/wizard")
		wizard.POST("/start", h.Wizard.Start)
		wizard.GET("", h.Wizard.State)
		wizard.PATCH("", h.Wizard.UpdateFields)
		wizard.DELETE("", h.Wizard.Discard)
		wizard.POST("/draft", h.Wizard.EnsureDraft)
		wizard.POST("/modules", h.Wizard.AddModule)
		wizard.PUT("/modules/:moduleId", h.Wizard.SaveModule)
		wizard.DELETE("/modules/:moduleId", h.Wizard.RemoveModule)
		wizard.PUT("/modules/:moduleId/staff", h.Wizard.AssignStaff)
		wizard.PUT("/step", h.Wizard.SetStep)
		wizard.POST("/day-offs", h.Wizard.AddDayOff)
		wizard.DELETE("/day-offs", h.Wizard.RemoveDayOff)
		wizard.POST("/template", h.Wizard.ApplyTemplate)
		wizard.GET("/validation", h.Wizard.Validation)
		wizard.POST("/submit", h.Wizard.Submit)
		wizard.POST("/recover", h.Wizard.Recover)
	}

	if h.Templates != nil {
		templates := secured.Group("/templates")
		templates.GET("", h.Templates.List)
		templates.POST("", h.Templates.Save)
		templates.GET("/:id", h.Templates.Get)
		templates.DELETE("/:id", h.Templates.Delete)
	}

	if h.Phases != nil {
		secured.GET("/phase", h.Phases.Active)
		secured.GET("/submission-status", h.Phases.SubmissionStatus)
		secured.POST("/phases", middleware.RequireRoles(models.RoleAdmin), h.Phases.Open)
	}

	if h.Catalog != nil {
		secured.GET("/catalog/modules", h.Catalog.Modules)
		secured.POST("/catalog/modules", middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(deps.Audit, deps.Logger, models.AuditActionCatalogImported, "catalog"), h.Catalog.Import)
	}

	if h.Metrics != nil {
		secured.GET("/stats", middleware.RequireRoles(models.RoleAdmin), h.Metrics.Stats)
	}
}
