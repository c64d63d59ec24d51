package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	"github.com/noah-isme/teaching-load-planner/internal/repository"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
)

type draftRepository interface {
	FindByID(ctx context.Context, id string) (*models.PlanningDraft, error)
	FindByOwnerAndTerm(ctx context.Context, ownerID, termID string, programID *string) (*models.PlanningDraft, error)
	List(ctx context.Context, filter models.DraftFilter) ([]models.PlanningDraft, int, error)
	Create(ctx context.Context, draft *models.PlanningDraft) error
	UpdateFields(ctx context.Context, id string, patch models.DraftFieldsPatch) error
	UpdateStatus(ctx context.Context, params repository.UpdateDraftStatusParams) error
	Delete(ctx context.Context, id string) error
	InsertEntry(ctx context.Context, draftID string, entry *models.PlannedModuleEntry) error
	UpdateEntry(ctx context.Context, draftID string, entry *models.PlannedModuleEntry) error
	DeleteEntry(ctx context.Context, draftID, entryID string) error
	MergeEntries(ctx context.Context, draftID string, clearExisting bool, entries []models.PlannedModuleEntry) error
}

type catalogProvider interface {
	Catalog(ctx context.Context) (models.ModuleCatalog, error)
}

type templateProvider interface {
	ForTermType(ctx context.Context, actor models.Actor, termType models.TemplateTermType) (*models.Template, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Template, error)
}

type phaseProvider interface {
	Active(ctx context.Context) (*models.PlanningPhase, error)
	SubmissionStatus(ctx context.Context, userID string) (*models.SubmissionStatus, error)
}

type transitionMetrics interface {
	RecordDraftTransition(status string)
}

// DraftServiceDeps wires the draft service.
type DraftServiceDeps struct {
	Drafts    draftRepository
	Catalog   catalogProvider
	Templates templateProvider
	Phases    phaseProvider
	Audit     auditWriter
	Metrics   transitionMetrics
	Logger    *zap.Logger
}

// DraftService is the authoritative store of planning drafts. It enforces
// ownership, the lock on non-draft statuses and the review workflow.
type DraftService struct {
	drafts    draftRepository
	catalog   catalogProvider
	templates templateProvider
	phases    phaseProvider
	audit     auditWriter
	metrics   transitionMetrics
	logger    *zap.Logger
	now       func() time.Time
}

var _ PlanningBackend = (*DraftService)(nil)

// NewDraftService constructs the service.
func NewDraftService(deps DraftServiceDeps) *DraftService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &DraftService{
		drafts:    deps.Drafts,
		catalog:   deps.Catalog,
		templates: deps.Templates,
		phases:    deps.Phases,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       time.Now,
	}
}

// CreateOrGetDraft returns the actor's draft for the term, creating it when
// missing. The boolean reports whether a new draft was created.
func (s *DraftService) CreateOrGetDraft(ctx context.Context, actor models.Actor, termID string, programID *string) (*models.PlanningDraft, bool, error) {
	termID = strings.TrimSpace(termID)
	if termID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "term is required")
	}
	if programID != nil && strings.TrimSpace(*programID) == "" {
		programID = nil
	}

	existing, err := s.drafts.FindByOwnerAndTerm(ctx, actor.UserID, termID, programID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, unavailable(err, "failed to load draft")
	}

	draft := &models.PlanningDraft{TermID: termID, ProgramID: programID, OwnerID: actor.UserID, Status: models.DraftStatusDraft}
	if err := s.drafts.Create(ctx, draft); err != nil {
		if errors.Is(err, repository.ErrDuplicateDraft) {
			existing, err = s.drafts.FindByOwnerAndTerm(ctx, actor.UserID, termID, programID)
			if err != nil {
				return nil, false, unavailable(err, "failed to load draft")
			}
			return existing, false, nil
		}
		return nil, false, unavailable(err, "failed to create draft")
	}
	s.record(ctx, actor, models.AuditActionDraftCreate, draft.ID, nil, map[string]string{"term_id": termID})
	s.logger.Info("planning draft created", zap.String("draft_id", draft.ID), zap.String("owner_id", actor.UserID), zap.String("term_id", termID))
	return draft, true, nil
}

// GetDraft loads a draft. Only the owner and reviewers may read it.
func (s *DraftService) GetDraft(ctx context.Context, actor models.Actor, id string) (*models.PlanningDraft, error) {
	draft, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if draft.OwnerID != actor.UserID && !actor.Role.CanReview() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "draft belongs to another user")
	}
	return draft, nil
}

// ListDrafts lists drafts; non-reviewers only see their own.
func (s *DraftService) ListDrafts(ctx context.Context, actor models.Actor, filter models.DraftFilter) ([]models.PlanningDraft, *models.Pagination, error) {
	if !actor.Role.CanReview() {
		filter.OwnerID = actor.UserID
	}
	drafts, total, err := s.drafts.List(ctx, filter)
	if err != nil {
		return nil, nil, unavailable(err, "failed to list drafts")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return drafts, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// UpdateDraftFields writes draft-scalar fields of an editable draft.
func (s *DraftService) UpdateDraftFields(ctx context.Context, actor models.Actor, id string, patch models.DraftFieldsPatch) (*models.PlanningDraft, error) {
	draft, err := s.loadEditable(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if patch.DayOffPreferences != nil {
		prefs := append([]models.DayOffPreference{}, (*patch.DayOffPreferences)...)
		if err := validateDayOffs(prefs); err != nil {
			return nil, err
		}
		patch.DayOffPreferences = &prefs
	}
	if patch.Empty() {
		return draft, nil
	}
	if err := s.drafts.UpdateFields(ctx, id, patch); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lockedError(draft)
		}
		return nil, unavailable(err, "failed to update draft")
	}
	return s.load(ctx, id)
}

// DeleteDraft removes a draft. Drafts that left the draft status need force.
func (s *DraftService) DeleteDraft(ctx context.Context, actor models.Actor, id string, force bool) error {
	draft, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if draft.OwnerID != actor.UserID && actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "draft belongs to another user")
	}
	if draft.Locked() && !force {
		return appErrors.Clone(appErrors.ErrDraftLocked, fmt.Sprintf("draft is %s; delete it with force to start over", draft.Status))
	}
	if err := s.drafts.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "draft not found")
		}
		return unavailable(err, "failed to delete draft")
	}
	s.record(ctx, actor, models.AuditActionDraftDelete, id, map[string]string{"status": string(draft.Status)}, nil)
	s.logger.Info("planning draft deleted", zap.String("draft_id", id), zap.String("status", string(draft.Status)), zap.Bool("force", force))
	return nil
}

// AddModuleEntry appends a module to an editable draft. Hours are computed
// from the live catalog.
func (s *DraftService) AddModuleEntry(ctx context.Context, actor models.Actor, draftID string, entry models.PlannedModuleEntry) (*models.PlannedModuleEntry, error) {
	draft, err := s.loadEditable(ctx, actor, draftID)
	if err != nil {
		return nil, err
	}
	if err := validateEntryShape(entry); err != nil {
		return nil, err
	}
	if _, exists := draft.FindEntry(entry.ModuleID); exists {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("module %s is already part of the plan", entry.ModuleID))
	}
	catalog, err := s.catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	entry = entry.Clone()
	entry.ID = ""
	entry.StaffIDs = uniqueStrings(entry.StaffIDs)
	entry.ComputedHours = ResolveHours(catalog.FormatsFor(entry.ModuleID), entry.GroupCounts, entry.ComputedHours.Total)
	if err := s.drafts.InsertEntry(ctx, draftID, &entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("module %s is already part of the plan", entry.ModuleID))
		}
		return nil, unavailable(err, "failed to add module entry")
	}
	return &entry, nil
}

// UpdateModuleEntry applies a patch to one entry of an editable draft.
func (s *DraftService) UpdateModuleEntry(ctx context.Context, actor models.Actor, draftID, entryID string, patch models.ModuleEntryPatch) (*models.PlannedModuleEntry, error) {
	draft, err := s.loadEditable(ctx, actor, draftID)
	if err != nil {
		return nil, err
	}
	var current *models.PlannedModuleEntry
	for i := range draft.ModuleEntries {
		if draft.ModuleEntries[i].ID == entryID {
			current = &draft.ModuleEntries[i]
			break
		}
	}
	if current == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "module entry not found")
	}

	entry := current.Clone()
	if patch.GroupCounts != nil {
		entry.GroupCounts = *patch.GroupCounts
	}
	if patch.StaffIDs != nil {
		entry.StaffIDs = uniqueStrings(*patch.StaffIDs)
	}
	if patch.RoomPreferences != nil {
		entry.RoomPreferences = patch.RoomPreferences
	}
	if patch.RoomCapacities != nil {
		entry.RoomCapacities = patch.RoomCapacities
	}
	if patch.Notes != nil {
		entry.Notes = *patch.Notes
	}
	if err := validateEntryShape(entry); err != nil {
		return nil, err
	}

	catalog, err := s.catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	var recorded float64
	if entry.GroupCounts == current.GroupCounts {
		recorded = current.ComputedHours.Total
	}
	entry.ComputedHours = ResolveHours(catalog.FormatsFor(entry.ModuleID), entry.GroupCounts, recorded)
	if err := s.drafts.UpdateEntry(ctx, draftID, &entry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "module entry not found")
		}
		return nil, unavailable(err, "failed to update module entry")
	}
	return &entry, nil
}

// RemoveModuleEntry deletes one entry of an editable draft.
func (s *DraftService) RemoveModuleEntry(ctx context.Context, actor models.Actor, draftID, entryID string) error {
	if _, err := s.loadEditable(ctx, actor, draftID); err != nil {
		return err
	}
	if err := s.drafts.DeleteEntry(ctx, draftID, entryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "module entry not found")
		}
		return unavailable(err, "failed to remove module entry")
	}
	return nil
}

// SubmitDraft moves the actor's draft to submitted when the plan and the
// planning phase allow it.
func (s *DraftService) SubmitDraft(ctx context.Context, actor models.Actor, id string) (*models.PlanningDraft, error) {
	draft, err := s.loadEditable(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	reasons := make([]string, 0, 3)
	phase, err := s.phases.Active(ctx)
	if err != nil {
		return nil, err
	}
	status, err := s.phases.SubmissionStatus(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !status.CanSubmit {
		reasons = append(reasons, status.Reason)
	} else if phase != nil && phase.TermID != draft.TermID {
		reasons = append(reasons, "the planning phase is not open for this term")
	}
	if len(draft.ModuleEntries) == 0 {
		reasons = append(reasons, MsgNoModules)
	}
	if draft.TotalHours() <= 0 {
		reasons = append(reasons, MsgNoHours)
	}
	if len(reasons) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrSubmissionBlocked, "", reasons)
	}

	now := s.now().UTC()
	if err := s.drafts.UpdateStatus(ctx, repository.UpdateDraftStatusParams{
		ID:          id,
		From:        models.DraftStatusDraft,
		To:          models.DraftStatusSubmitted,
		SubmittedAt: &now,
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lockedError(draft)
		}
		return nil, unavailable(err, "failed to submit draft")
	}
	s.transition(ctx, actor, models.AuditActionDraftSubmit, draft, models.DraftStatusSubmitted, nil)
	return s.load(ctx, id)
}

// ApproveDraft accepts a submitted draft.
func (s *DraftService) ApproveDraft(ctx context.Context, actor models.Actor, id string) (*models.PlanningDraft, error) {
	return s.review(ctx, actor, id, models.DraftStatusApproved, nil)
}

// RejectDraft sends a submitted draft back with a reason.
func (s *DraftService) RejectDraft(ctx context.Context, actor models.Actor, id, reason string) (*models.PlanningDraft, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}
	return s.review(ctx, actor, id, models.DraftStatusRejected, &reason)
}

func (s *DraftService) review(ctx context.Context, actor models.Actor, id string, to models.DraftStatus, reason *string) (*models.PlanningDraft, error) {
	if !actor.Role.CanReview() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only reviewers may review plans")
	}
	draft, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if draft.OwnerID == actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "plans cannot be reviewed by their owner")
	}
	if draft.Status != models.DraftStatusSubmitted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("draft is %s; only submitted drafts can be reviewed", draft.Status))
	}

	now := s.now().UTC()
	reviewer := actor.UserID
	if err := s.drafts.UpdateStatus(ctx, repository.UpdateDraftStatusParams{
		ID:              id,
		From:            models.DraftStatusSubmitted,
		To:              to,
		ReviewedAt:      &now,
		ReviewedBy:      &reviewer,
		RejectionReason: reason,
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "draft was reviewed concurrently")
		}
		return nil, unavailable(err, "failed to review draft")
	}

	action := models.AuditActionDraftApprove
	if to == models.DraftStatusRejected {
		action = models.AuditActionDraftReject
	}
	s.transition(ctx, actor, action, draft, to, reason)
	return s.load(ctx, id)
}

// GetTemplateForTermType returns the actor's template for the term type or nil.
func (s *DraftService) GetTemplateForTermType(ctx context.Context, actor models.Actor, termType models.TemplateTermType) (*models.Template, error) {
	return s.templates.ForTermType(ctx, actor, termType)
}

// ApplyTemplateToDraft merges the template's module entries into the draft.
// Modules already present are skipped unless clearExisting empties the draft first.
func (s *DraftService) ApplyTemplateToDraft(ctx context.Context, actor models.Actor, templateID, draftID string, clearExisting bool) (*models.TemplateApplyResult, error) {
	template, err := s.templates.Get(ctx, actor, templateID)
	if err != nil {
		return nil, err
	}
	draft, err := s.loadEditable(ctx, actor, draftID)
	if err != nil {
		return nil, err
	}
	catalog, err := s.catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	result := &models.TemplateApplyResult{}
	seen := make(map[string]struct{}, len(template.ModuleEntries))
	entries := make([]models.PlannedModuleEntry, 0, len(template.ModuleEntries))
	for _, item := range template.ModuleEntries {
		if _, dup := seen[item.ModuleID]; dup {
			result.SkippedCount++
			continue
		}
		seen[item.ModuleID] = struct{}{}
		if !clearExisting {
			if _, exists := draft.FindEntry(item.ModuleID); exists {
				result.SkippedCount++
				continue
			}
		}
		entry := models.PlannedModuleEntry{
			ModuleID:        item.ModuleID,
			GroupCounts:     item.GroupCounts,
			StaffIDs:        uniqueStrings(item.StaffIDs),
			RoomPreferences: item.RoomPreferences,
			RoomCapacities:  item.RoomCapacities,
			Notes:           item.Notes,
		}
		if err := validateEntryShape(entry); err != nil {
			s.logger.Warn("skipping invalid template entry", zap.String("template_id", templateID), zap.String("module_id", item.ModuleID), zap.Error(err))
			result.SkippedCount++
			continue
		}
		entry.ComputedHours = ComputeHours(catalog.FormatsFor(entry.ModuleID), entry.GroupCounts)
		entries = append(entries, entry)
	}

	if len(entries) > 0 || clearExisting {
		if err := s.drafts.MergeEntries(ctx, draftID, clearExisting, entries); err != nil {
			return nil, unavailable(err, "failed to apply template")
		}
	}
	result.AddedCount = len(entries)
	s.record(ctx, actor, models.AuditActionTemplateApply, draftID, nil, map[string]interface{}{
		"template_id":    templateID,
		"clear_existing": clearExisting,
		"added":          result.AddedCount,
		"skipped":        result.SkippedCount,
	})
	return result, nil
}

// GetActivePlanningPhase returns the open phase or nil.
func (s *DraftService) GetActivePlanningPhase(ctx context.Context) (*models.PlanningPhase, error) {
	return s.phases.Active(ctx)
}

// GetSubmissionStatus reports whether userID may submit a plan.
func (s *DraftService) GetSubmissionStatus(ctx context.Context, userID string) (*models.SubmissionStatus, error) {
	return s.phases.SubmissionStatus(ctx, userID)
}

func (s *DraftService) load(ctx context.Context, id string) (*models.PlanningDraft, error) {
	draft, err := s.drafts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "draft not found")
		}
		return nil, unavailable(err, "failed to load draft")
	}
	return draft, nil
}

// loadEditable loads a draft the actor owns and may still change.
func (s *DraftService) loadEditable(ctx context.Context, actor models.Actor, id string) (*models.PlanningDraft, error) {
	draft, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if draft.OwnerID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "draft belongs to another user")
	}
	if draft.Locked() {
		return nil, lockedError(draft)
	}
	return draft, nil
}

func (s *DraftService) transition(ctx context.Context, actor models.Actor, action string, draft *models.PlanningDraft, to models.DraftStatus, reason *string) {
	newValues := map[string]interface{}{"status": to}
	if reason != nil {
		newValues["rejection_reason"] = *reason
	}
	s.record(ctx, actor, action, draft.ID, map[string]interface{}{"status": draft.Status}, newValues)
	if s.metrics != nil {
		s.metrics.RecordDraftTransition(string(to))
	}
	s.logger.Info("planning draft transitioned",
		zap.String("draft_id", draft.ID),
		zap.String("from", string(draft.Status)),
		zap.String("to", string(to)),
		zap.String("actor_id", actor.UserID))
}

func (s *DraftService) record(ctx context.Context, actor models.Actor, action, draftID string, oldValues, newValues interface{}) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "planning_draft",
		ResourceID: &draftID,
	}
	if oldValues != nil {
		if raw, err := json.Marshal(oldValues); err == nil {
			log.OldValues = raw
		}
	}
	if newValues != nil {
		if raw, err := json.Marshal(newValues); err == nil {
			log.NewValues = raw
		}
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record draft audit log", zap.String("action", action), zap.Error(err))
	}
}

func lockedError(draft *models.PlanningDraft) error {
	return appErrors.Clone(appErrors.ErrDraftLocked, fmt.Sprintf("draft is %s and can no longer be edited; delete it and create a new one to make changes", draft.Status))
}

func unavailable(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, message)
}
