package service

import (
	"context"

	"github.com/noah-isme/teaching-load-planner/internal/models"
)

// PlanningBackend is the authoritative store of planning drafts as seen by the
// wizard. DraftService implements it in-process.
type PlanningBackend interface {
	CreateOrGetDraft(ctx context.Context, actor models.Actor, termID string, programID *string) (*models.PlanningDraft, bool, error)
	GetDraft(ctx context.Context, actor models.Actor, id string) (*models.PlanningDraft, error)
	UpdateDraftFields(ctx context.Context, actor models.Actor, id string, patch models.DraftFieldsPatch) (*models.PlanningDraft, error)
	DeleteDraft(ctx context.Context, actor models.Actor, id string, force bool) error

	AddModuleEntry(ctx context.Context, actor models.Actor, draftID string, entry models.PlannedModuleEntry) (*models.PlannedModuleEntry, error)
	UpdateModuleEntry(ctx context.Context, actor models.Actor, draftID, entryID string, patch models.ModuleEntryPatch) (*models.PlannedModuleEntry, error)
	RemoveModuleEntry(ctx context.Context, actor models.Actor, draftID, entryID string) error

	SubmitDraft(ctx context.Context, actor models.Actor, id string) (*models.PlanningDraft, error)
	ApproveDraft(ctx context.Context, actor models.Actor, id string) (*models.PlanningDraft, error)
	RejectDraft(ctx context.Context, actor models.Actor, id, reason string) (*models.PlanningDraft, error)

	GetTemplateForTermType(ctx context.Context, actor models.Actor, termType models.TemplateTermType) (*models.Template, error)
	ApplyTemplateToDraft(ctx context.Context, actor models.Actor, templateID, draftID string, clearExisting bool) (*models.TemplateApplyResult, error)

	GetActivePlanningPhase(ctx context.Context) (*models.PlanningPhase, error)
	GetSubmissionStatus(ctx context.Context, userID string) (*models.SubmissionStatus, error)
}
