package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
)

type templateRepository interface {
	FindByID(ctx context.Context, id string) (*models.Template, error)
	FindLatestForTermType(ctx context.Context, ownerID string, termType models.TemplateTermType) (*models.Template, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Template, error)
	Upsert(ctx context.Context, template *models.Template) error
	Delete(ctx context.Context, ownerID, id string) error
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// TemplateService manages user-owned planning templates.
type TemplateService struct {
	repo      templateRepository
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTemplateService constructs the service.
func NewTemplateService(repo templateRepository, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *TemplateService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// List returns the actor's templates.
func (s *TemplateService) List(ctx context.Context, actor models.Actor) ([]models.Template, error) {
	templates, err := s.repo.ListByOwner(ctx, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to list templates")
	}
	return templates, nil
}

// ForTermType returns the actor's template for the term type, or nil when none exists.
func (s *TemplateService) ForTermType(ctx context.Context, actor models.Actor, termType models.TemplateTermType) (*models.Template, error) {
	if !termType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown term type %q", termType))
	}
	template, err := s.repo.FindLatestForTermType(ctx, actor.UserID, termType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to load template")
	}
	return template, nil
}

// Get loads a template the actor owns.
func (s *TemplateService) Get(ctx context.Context, actor models.Actor, id string) (*models.Template, error) {
	template, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrTemplateUnavailable, "template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to load template")
	}
	if template.OwnerID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "template belongs to another user")
	}
	return template, nil
}

// Save validates and stores a template for the actor. A template with the
// same name is replaced.
func (s *TemplateService) Save(ctx context.Context, actor models.Actor, template *models.Template) error {
	if template == nil {
		return appErrors.Clone(appErrors.ErrValidation, "template is required")
	}
	template.OwnerID = actor.UserID
	template.Name = strings.TrimSpace(template.Name)
	if err := s.validateTemplate(template); err != nil {
		return err
	}
	if err := s.repo.Upsert(ctx, template); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save template")
	}
	s.record(ctx, actor, models.AuditActionTemplateSave, template.ID, template)
	s.logger.Info("template saved", zap.String("template_id", template.ID), zap.String("owner_id", actor.UserID), zap.Int("modules", len(template.ModuleEntries)))
	return nil
}

// Delete removes one of the actor's templates.
func (s *TemplateService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if err := s.repo.Delete(ctx, actor.UserID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrTemplateUnavailable, "template not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete template")
	}
	s.record(ctx, actor, models.AuditActionTemplateDelete, id, nil)
	return nil
}

// TemplateFromDraft captures a draft's module configuration as a template.
func TemplateFromDraft(draft *models.PlanningDraft, name string, termType models.TemplateTermType) *models.Template {
	template := &models.Template{
		Name:              name,
		OwnerID:           draft.OwnerID,
		TermType:          termType,
		ModuleEntries:     make([]models.TemplateModuleEntry, 0, len(draft.ModuleEntries)),
		DayOffPreferences: append([]models.DayOffPreference{}, draft.DayOffPreferences...),
		Notes:             draft.Notes,
		RoomNeedsText:     draft.RoomNeedsText,
	}
	for _, entry := range draft.ModuleEntries {
		entry = entry.Clone()
		template.ModuleEntries = append(template.ModuleEntries, models.TemplateModuleEntry{
			ModuleID:        entry.ModuleID,
			GroupCounts:     entry.GroupCounts,
			StaffIDs:        entry.StaffIDs,
			RoomPreferences: entry.RoomPreferences,
			RoomCapacities:  entry.RoomCapacities,
			Notes:           entry.Notes,
		})
	}
	return template
}

func (s *TemplateService) validateTemplate(template *models.Template) error {
	if template.Name == "" {
		return appErrors.Clone(appErrors.ErrValidation, "template name is required")
	}
	if !template.TermType.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown term type %q", template.TermType))
	}
	seen := make(map[string]struct{}, len(template.ModuleEntries))
	for _, entry := range template.ModuleEntries {
		if err := s.validator.Struct(entry); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid template module entry")
		}
		if err := validateEntryShape(models.PlannedModuleEntry{
			ModuleID:        entry.ModuleID,
			GroupCounts:     entry.GroupCounts,
			RoomPreferences: entry.RoomPreferences,
			RoomCapacities:  entry.RoomCapacities,
		}); err != nil {
			return err
		}
		if _, dup := seen[entry.ModuleID]; dup {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("module %s appears twice in the template", entry.ModuleID))
		}
		seen[entry.ModuleID] = struct{}{}
	}
	return validateDayOffs(template.DayOffPreferences)
}

func (s *TemplateService) record(ctx context.Context, actor models.Actor, action, templateID string, payload interface{}) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "planning_template",
		ResourceID: &templateID,
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			log.NewValues = raw
		}
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record template audit log", zap.String("action", action), zap.Error(err))
	}
}
