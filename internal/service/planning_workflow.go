package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
)

type guardMetrics interface {
	RecordGuardVerdict(verdict string)
}

// WorkflowConfig wires a PlanningWorkflow.
type WorkflowConfig struct {
	Actor   models.Actor
	Session *WizardSession
	Backend PlanningBackend
	Merger  *TemplateMerger
	Metrics guardMetrics
	Logger  *zap.Logger
	Now     func() time.Time
}

// StartResult describes the session after the wizard was opened.
type StartResult struct {
	Restored bool                      `json:"restored"`
	Guard    GuardResult               `json:"guard"`
	State    models.WizardSessionState `json:"state"`
}

// PlanningWorkflow drives one user's wizard: local edits go to the session
// first and are then mirrored to the backend.
type PlanningWorkflow struct {
	actor   models.Actor
	session *WizardSession
	backend PlanningBackend
	merger  *TemplateMerger
	metrics guardMetrics
	logger  *zap.Logger
	now     func() time.Time

	startMu  sync.Mutex
	started  bool
	restored bool
}

// NewPlanningWorkflow constructs the coordinator.
func NewPlanningWorkflow(cfg WorkflowConfig) *PlanningWorkflow {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Merger == nil {
		cfg.Merger = NewTemplateMerger(cfg.Backend, nil, cfg.Logger)
	}
	return &PlanningWorkflow{
		actor:   cfg.Actor,
		session: cfg.Session,
		backend: cfg.Backend,
		merger:  cfg.Merger,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With(zap.String("user_id", cfg.Actor.UserID)),
		now:     cfg.Now,
	}
}

// Session exposes the underlying wizard session.
func (w *PlanningWorkflow) Session() *WizardSession {
	return w.session
}

// Actor returns the acting user.
func (w *PlanningWorkflow) Actor() models.Actor {
	return w.actor
}

// State returns a copy of the working state.
func (w *PlanningWorkflow) State() models.WizardSessionState {
	return w.session.State()
}

// Start restores the user's snapshot and checks any referenced draft before
// the wizard can be used. The snapshot is read only on the first successful
// start so later calls never roll back newer in-memory edits. Read failures
// are returned so the caller can retry; the snapshot stays untouched.
func (w *PlanningWorkflow) Start(ctx context.Context, termID string) (*StartResult, error) {
	w.startMu.Lock()
	defer w.startMu.Unlock()

	if !w.started {
		restored, err := w.session.RestoreSnapshot(ctx, w.actor.UserID)
		if err != nil {
			return nil, err
		}
		w.restored = restored
	}

	termID = strings.TrimSpace(termID)
	if termID != "" {
		state := w.session.State()
		if state.TermID != nil && *state.TermID != termID {
			if err := w.session.Reset(ctx); err != nil {
				w.logger.Warn("clearing snapshot of previous term failed", zap.Error(err))
			}
			w.restored = false
		}
		if current := w.session.State(); current.TermID == nil {
			if err := w.session.ApplyPartialUpdate(models.WizardPatch{TermID: &termID}); err != nil {
				return nil, err
			}
		}
	}

	guard := GuardResult{Verdict: GuardOK, Editable: true}
	if state := w.session.State(); state.DraftID != nil {
		draft, err := w.backend.GetDraft(ctx, w.actor, *state.DraftID)
		if err != nil {
			result, handled := GuardFetchError(err)
			if !handled {
				return nil, err
			}
			guard = result
			w.session.ClearDraftReference()
		} else {
			guard = w.applyGuard(draft)
		}
		w.recordVerdict(guard.Verdict)
	}

	w.started = true
	return &StartResult{Restored: w.restored, Guard: guard, State: w.session.State()}, nil
}

// Resume starts the workflow unless it already runs, so a session recreated
// after eviction or a restart picks up its snapshot before any edit.
func (w *PlanningWorkflow) Resume(ctx context.Context) error {
	w.startMu.Lock()
	started := w.started
	w.startMu.Unlock()
	if started {
		return nil
	}
	_, err := w.Start(ctx, "")
	return err
}

// EnsureDraft makes sure the session is bound to a server-side draft for the
// selected term, creating one if needed.
func (w *PlanningWorkflow) EnsureDraft(ctx context.Context) (*models.PlanningDraft, GuardResult, error) {
	state := w.session.State()
	if state.TermID == nil || *state.TermID == "" {
		return nil, GuardResult{}, appErrors.Clone(appErrors.ErrValidation, MsgNoTerm)
	}
	if state.DraftID != nil {
		draft, err := w.backend.GetDraft(ctx, w.actor, *state.DraftID)
		if err != nil {
			if result, handled := GuardFetchError(err); handled {
				w.session.ClearDraftReference()
				w.recordVerdict(result.Verdict)
				return nil, result, result.Err()
			}
			return nil, GuardResult{}, err
		}
		guard := w.applyGuard(draft)
		w.recordVerdict(guard.Verdict)
		w.syncAfterBind(ctx, guard)
		return draft, guard, guard.Err()
	}

	draft, created, err := w.backend.CreateOrGetDraft(ctx, w.actor, *state.TermID, nil)
	if err != nil {
		return nil, GuardResult{}, err
	}
	if !created {
		guard := w.applyGuard(draft)
		w.recordVerdict(guard.Verdict)
		w.syncAfterBind(ctx, guard)
		return draft, guard, guard.Err()
	}

	synced, err := w.pushLocal(ctx, draft)
	if err != nil {
		return draft, GuardResult{Verdict: GuardOK, Editable: true}, err
	}
	return synced, GuardResult{Verdict: GuardOK, Editable: true}, nil
}

// SaveModuleEntry adds or updates the module entry locally and then remotely.
// Validation failures never reach the backend.
func (w *PlanningWorkflow) SaveModuleEntry(ctx context.Context, entry models.PlannedModuleEntry) error {
	if _, found := findEntry(w.session.State(), entry.ModuleID); found {
		if err := w.session.UpdateModuleEntry(entry); err != nil {
			return err
		}
	} else if err := w.session.AddModuleEntry(entry); err != nil {
		return err
	}
	return w.sync(ctx)
}

// RemoveModuleEntry drops a module from the plan.
func (w *PlanningWorkflow) RemoveModuleEntry(ctx context.Context, moduleID string) error {
	if err := w.session.RemoveModuleEntry(moduleID); err != nil {
		return err
	}
	return w.sync(ctx)
}

// AssignStaff sets the staff of a module entry.
func (w *PlanningWorkflow) AssignStaff(ctx context.Context, moduleID string, staffIDs []string) error {
	if err := w.session.AssignStaff(moduleID, staffIDs); err != nil {
		return err
	}
	return w.sync(ctx)
}

// SaveFields applies a partial update of draft-scalar fields.
func (w *PlanningWorkflow) SaveFields(ctx context.Context, patch models.WizardPatch) error {
	state := w.session.State()
	if patch.TermID != nil && state.DraftID != nil && (state.TermID == nil || strings.TrimSpace(*patch.TermID) != *state.TermID) {
		return appErrors.Clone(appErrors.ErrValidation, "the term cannot change once a draft exists")
	}
	if err := w.session.ApplyPartialUpdate(patch); err != nil {
		return err
	}
	return w.sync(ctx)
}

// AddDayOff records a day-off preference.
func (w *PlanningWorkflow) AddDayOff(ctx context.Context, pref models.DayOffPreference) error {
	if err := w.session.AddDayOff(pref); err != nil {
		return err
	}
	return w.sync(ctx)
}

// RemoveDayOff drops a day-off preference.
func (w *PlanningWorkflow) RemoveDayOff(ctx context.Context, weekday string, period models.DayOffPeriod) error {
	if err := w.session.RemoveDayOff(weekday, period); err != nil {
		return err
	}
	return w.sync(ctx)
}

// SetStep moves the wizard to step.
func (w *PlanningWorkflow) SetStep(step models.WizardStep) error {
	return w.session.SetStep(step)
}

// ApplyTemplate seeds the bound draft from the user's template for termType
// and advances the wizard to the step the merge suggests.
func (w *PlanningWorkflow) ApplyTemplate(ctx context.Context, termType models.TemplateTermType, mode TemplateMergeMode) (*TemplateMergeResult, error) {
	if !termType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown template term type")
	}
	draftID, ok := w.draftID()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, MsgNoDraft)
	}
	template, err := w.backend.GetTemplateForTermType(ctx, w.actor, termType)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, appErrors.ErrTemplateUnavailable
	}

	result, err := w.merger.ApplyTemplate(ctx, w.actor, w.session, template, draftID, mode)
	if err != nil {
		if appErrors.IsAuthorization(err) {
			w.session.ClearDraftReference()
			w.recordVerdict(GuardDiscard)
		}
		return nil, err
	}
	if err := w.sync(ctx); err != nil {
		w.logger.Warn("unsaved plan changes not stored after template merge", zap.String("draft_id", draftID), zap.Error(err))
	}
	if err := w.session.SetStep(result.NextStep); err != nil {
		w.logger.Debug("template merge left wizard on current step", zap.Int("next_step", int(result.NextStep)), zap.Error(err))
		result.NextStep = w.session.State().CurrentStep
	}
	return result, nil
}

// Validate runs the submission gate against the current session.
func (w *PlanningWorkflow) Validate(ctx context.Context) (SubmissionValidation, error) {
	phase, err := w.backend.GetActivePlanningPhase(ctx)
	if err != nil {
		return SubmissionValidation{}, err
	}
	status, err := w.backend.GetSubmissionStatus(ctx, w.actor.UserID)
	if err != nil {
		return SubmissionValidation{}, err
	}
	return ValidateForSubmission(w.session.State(), PhaseContext{Phase: phase, Status: status, Now: w.now()}), nil
}

// Submit validates the plan and submits the bound draft. On success the
// session and its snapshot are cleared.
func (w *PlanningWorkflow) Submit(ctx context.Context) (*models.PlanningDraft, SubmissionValidation, error) {
	validation, err := w.Validate(ctx)
	if err != nil {
		return nil, validation, err
	}
	if !validation.Valid {
		return nil, validation, appErrors.WithDetails(appErrors.ErrSubmissionBlocked, "", validation.Errors)
	}
	draftID, _ := w.draftID()
	submitted, err := w.backend.SubmitDraft(ctx, w.actor, draftID)
	if err != nil {
		if appErrors.IsAuthorization(err) || appErrors.HasCode(err, appErrors.ErrDraftLocked.Code) {
			return nil, validation, w.remoteFailure(ctx, draftID, err)
		}
		return nil, validation, err
	}
	if err := w.session.Reset(ctx); err != nil {
		w.logger.Warn("clearing wizard snapshot after submit failed", zap.Error(err))
	}
	return submitted, validation, nil
}

// RecoverLockedDraft deletes the locked draft and recreates one for the same
// term, carrying over the plan content held by the session.
func (w *PlanningWorkflow) RecoverLockedDraft(ctx context.Context) (*models.PlanningDraft, error) {
	state := w.session.State()
	if state.DraftID == nil || !state.Locked {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "draft is not locked")
	}
	if state.TermID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, MsgNoTerm)
	}
	if err := w.backend.DeleteDraft(ctx, w.actor, *state.DraftID, true); err != nil {
		return nil, err
	}
	w.session.ClearDraftReference()

	draft, created, err := w.backend.CreateOrGetDraft(ctx, w.actor, *state.TermID, nil)
	if err != nil {
		return nil, err
	}
	if !created {
		guard := w.applyGuard(draft)
		w.recordVerdict(guard.Verdict)
		if !guard.OK() {
			return draft, guard.Err()
		}
		return draft, nil
	}
	w.logger.Info("locked draft recreated", zap.String("old_draft_id", *state.DraftID), zap.String("draft_id", draft.ID))
	return w.pushLocal(ctx, draft)
}

// Discard throws away the working copy and its snapshot.
func (w *PlanningWorkflow) Discard(ctx context.Context) error {
	return w.session.Reset(ctx)
}

// Close flushes any pending snapshot write.
func (w *PlanningWorkflow) Close(ctx context.Context) error {
	return w.session.Close(ctx)
}

func (w *PlanningWorkflow) applyGuard(draft *models.PlanningDraft) GuardResult {
	guard := ValidateOwnership(draft, w.actor.UserID)
	switch guard.Verdict {
	case GuardDiscard:
		w.session.ClearDraftReference()
	default:
		w.session.BindDraft(draft)
	}
	return guard
}

// pushLocal mirrors session content onto a freshly created draft and binds
// the session to the result.
func (w *PlanningWorkflow) pushLocal(ctx context.Context, draft *models.PlanningDraft) (*models.PlanningDraft, error) {
	state := w.session.State()
	w.session.BindDraft(&models.PlanningDraft{ID: draft.ID, TermID: draft.TermID, OwnerID: draft.OwnerID, Status: draft.Status,
		ModuleEntries: state.ModuleEntries, DayOffPreferences: state.DayOffPreferences, Notes: state.Notes, RoomNeedsText: state.RoomNeedsText})

	for _, entry := range state.ModuleEntries {
		if _, exists := draft.FindEntry(entry.ModuleID); exists {
			continue
		}
		remote := entry.Clone()
		remote.ID = ""
		if _, err := w.backend.AddModuleEntry(ctx, w.actor, draft.ID, remote); err != nil {
			return nil, err
		}
	}
	if state.Notes != "" || state.RoomNeedsText != "" || len(state.DayOffPreferences) > 0 {
		patch := models.DraftFieldsPatch{
			Notes:             &state.Notes,
			RoomNeedsText:     &state.RoomNeedsText,
			DayOffPreferences: &state.DayOffPreferences,
		}
		if _, err := w.backend.UpdateDraftFields(ctx, w.actor, draft.ID, patch); err != nil {
			return nil, err
		}
	}
	w.session.MarkSynced(state.Pending)

	fresh, err := w.backend.GetDraft(ctx, w.actor, draft.ID)
	if err != nil {
		return nil, err
	}
	w.session.BindDraft(fresh)
	return fresh, nil
}

// sync sends every local edit the bound draft has not confirmed yet, including
// edits whose own save failed earlier, then adopts the re-read draft. Edits
// that still fail stay pending and are kept on top of the draft.
func (w *PlanningWorkflow) sync(ctx context.Context) error {
	draftID, ok := w.draftID()
	if !ok || w.session.PendingSync().Empty() {
		return nil
	}
	revision := w.session.BeginRemote()
	draft, err := w.backend.GetDraft(ctx, w.actor, draftID)
	if err != nil {
		return w.remoteFailure(ctx, draftID, err)
	}
	if draft.Locked() {
		w.session.BindDraft(draft)
		w.recordVerdict(GuardLocked)
		return appErrors.ErrDraftLocked
	}

	pushed, pushErr := w.pushPending(ctx, draft)
	if pushErr != nil && (appErrors.IsAuthorization(pushErr) || appErrors.HasCode(pushErr, appErrors.ErrDraftLocked.Code)) {
		return w.remoteFailure(ctx, draftID, pushErr)
	}
	if pushed {
		fresh, err := w.backend.GetDraft(ctx, w.actor, draftID)
		if err != nil {
			w.logger.Warn("draft reload after save failed", zap.String("draft_id", draftID), zap.Error(err))
			if pushErr != nil {
				return w.remoteFailure(ctx, draftID, pushErr)
			}
			return nil
		}
		draft = fresh
	}
	w.session.ApplyRemote(revision, draft)
	if pushErr != nil {
		return w.remoteFailure(ctx, draftID, pushErr)
	}
	return nil
}

// pushPending writes the pending edits against draft and reports whether any
// remote call succeeded. It stops at the first failure.
func (w *PlanningWorkflow) pushPending(ctx context.Context, draft *models.PlanningDraft) (bool, error) {
	state := w.session.State()
	pending := state.Pending
	pushed := false

	for moduleID, rev := range pending.Removed {
		if remote, ok := draft.FindEntry(moduleID); ok && remote.ID != "" {
			if err := w.backend.RemoveModuleEntry(ctx, w.actor, draft.ID, remote.ID); err != nil {
				return pushed, err
			}
			pushed = true
		}
		w.session.MarkSynced(models.PendingSync{Removed: map[string]uint64{moduleID: rev}})
	}

	for moduleID, rev := range pending.Modules {
		local, ok := findEntry(state, moduleID)
		if ok {
			var err error
			if remote, exists := draft.FindEntry(moduleID); exists && remote.ID != "" {
				_, err = w.backend.UpdateModuleEntry(ctx, w.actor, draft.ID, remote.ID, entryPatch(local))
			} else {
				add := local.Clone()
				add.ID = ""
				_, err = w.backend.AddModuleEntry(ctx, w.actor, draft.ID, add)
			}
			if err != nil {
				return pushed, err
			}
			pushed = true
		}
		w.session.MarkSynced(models.PendingSync{Modules: map[string]uint64{moduleID: rev}})
	}

	if len(pending.Fields) > 0 {
		patch := models.DraftFieldsPatch{}
		for field := range pending.Fields {
			switch field {
			case models.FieldNotes:
				patch.Notes = &state.Notes
			case models.FieldRoomNeedsText:
				patch.RoomNeedsText = &state.RoomNeedsText
			case models.FieldDayOffs:
				patch.DayOffPreferences = &state.DayOffPreferences
			}
		}
		if !patch.Empty() {
			if _, err := w.backend.UpdateDraftFields(ctx, w.actor, draft.ID, patch); err != nil {
				return pushed, err
			}
			pushed = true
		}
		w.session.MarkSynced(models.PendingSync{Fields: pending.Fields})
	}
	return pushed, nil
}

// syncAfterBind pushes edits made before the session was bound to an
// editable draft. Failures stay pending for the next save.
func (w *PlanningWorkflow) syncAfterBind(ctx context.Context, guard GuardResult) {
	if !guard.OK() {
		return
	}
	if err := w.sync(ctx); err != nil {
		w.logger.Warn("unsaved plan changes not stored yet", zap.Error(err))
	}
}

// remoteFailure applies the recovery flow for a failed remote mutation.
// Transient failures leave the local state and its snapshot untouched.
func (w *PlanningWorkflow) remoteFailure(ctx context.Context, draftID string, err error) error {
	switch {
	case appErrors.HasCode(err, appErrors.ErrDraftLocked.Code):
		if draft, getErr := w.backend.GetDraft(ctx, w.actor, draftID); getErr == nil {
			w.session.BindDraft(draft)
		}
		w.recordVerdict(GuardLocked)
	case appErrors.IsAuthorization(err):
		w.session.ClearDraftReference()
		w.recordVerdict(GuardDiscard)
	default:
		w.logger.Warn("remote draft update failed", zap.String("draft_id", draftID), zap.Error(err))
	}
	return err
}

func (w *PlanningWorkflow) draftID() (string, bool) {
	state := w.session.State()
	if state.DraftID == nil || *state.DraftID == "" {
		return "", false
	}
	return *state.DraftID, true
}

func (w *PlanningWorkflow) recordVerdict(verdict GuardVerdict) {
	if w.metrics != nil {
		w.metrics.RecordGuardVerdict(string(verdict))
	}
}

func findEntry(state models.WizardSessionState, moduleID string) (models.PlannedModuleEntry, bool) {
	for _, entry := range state.ModuleEntries {
		if entry.ModuleID == moduleID {
			return entry, true
		}
	}
	return models.PlannedModuleEntry{}, false
}

func entryPatch(entry models.PlannedModuleEntry) models.ModuleEntryPatch {
	counts := entry.GroupCounts
	staff := append([]string{}, entry.StaffIDs...)
	notes := entry.Notes
	return models.ModuleEntryPatch{
		GroupCounts:     &counts,
		StaffIDs:        &staff,
		RoomPreferences: entry.RoomPreferences,
		RoomCapacities:  entry.RoomCapacities,
		Notes:           &notes,
	}
}
