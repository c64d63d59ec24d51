package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
)

// TemplateMergeMode selects how template modules combine with existing entries.
type TemplateMergeMode string

const (
	MergeSkipExisting   TemplateMergeMode = "mergeSkipExisting"
	ReplaceAll          TemplateMergeMode = "replaceAll"
	MergeAndFastForward TemplateMergeMode = "mergeAndFastForward"
)

// Valid reports whether the mode is known.
func (m TemplateMergeMode) Valid() bool {
	switch m {
	case MergeSkipExisting, ReplaceAll, MergeAndFastForward:
		return true
	}
	return false
}

// TemplateMergeResult reports the outcome of applying a template.
type TemplateMergeResult struct {
	AddedCount   int               `json:"added_count"`
	SkippedCount int               `json:"skipped_count"`
	NextStep     models.WizardStep `json:"next_step"`
	FastForward  bool              `json:"fast_forward"`
	// FieldsPending is set when merged scalar fields could not be saved remotely yet.
	FieldsPending bool `json:"fields_pending"`
}

type templateMetrics interface {
	RecordTemplateApplied(mode string, added, skipped int)
}

// TemplateMerger seeds a draft from a saved template. Module entries are merged
// by the backend; the session is then re-read from the authoritative draft.
type TemplateMerger struct {
	backend PlanningBackend
	metrics templateMetrics
	logger  *zap.Logger
}

// NewTemplateMerger constructs a merger.
func NewTemplateMerger(backend PlanningBackend, metrics templateMetrics, logger *zap.Logger) *TemplateMerger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateMerger{backend: backend, metrics: metrics, logger: logger}
}

// ApplyTemplate applies the template to the target draft and refreshes the session.
func (m *TemplateMerger) ApplyTemplate(ctx context.Context, actor models.Actor, session *WizardSession, template *models.Template, targetDraftID string, mode TemplateMergeMode) (*TemplateMergeResult, error) {
	if !mode.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown merge mode %q", mode))
	}
	if template == nil {
		return nil, appErrors.ErrTemplateUnavailable
	}
	if targetDraftID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "create the draft before applying a template")
	}
	if session.State().Locked {
		return nil, appErrors.ErrDraftLocked
	}
	startStep := session.State().CurrentStep

	applied, err := m.backend.ApplyTemplateToDraft(ctx, actor, template.ID, targetDraftID, mode == ReplaceAll)
	if err != nil {
		m.logger.Warn("template application failed",
			zap.String("template_id", template.ID),
			zap.String("draft_id", targetDraftID),
			zap.Error(err))
		m.resync(ctx, actor, session, targetDraftID)
		return nil, err
	}

	draft, err := m.backend.GetDraft(ctx, actor, targetDraftID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrConsistency.Code, appErrors.ErrConsistency.Status, "template applied but the draft could not be reloaded")
	}
	if mode == ReplaceAll {
		session.ForgetPendingModules()
	}
	session.BindDraft(draft)
	if err := session.MergeTemplateFields(template); err != nil {
		return nil, err
	}

	result := &TemplateMergeResult{
		AddedCount:   applied.AddedCount,
		SkippedCount: applied.SkippedCount,
		NextStep:     nextStep(startStep),
	}
	if mode == MergeAndFastForward {
		result.NextStep = models.FinalStep
		result.FastForward = true
	}

	state := session.State()
	dayOffs := state.DayOffPreferences
	patch := models.DraftFieldsPatch{
		Notes:             &state.Notes,
		RoomNeedsText:     &state.RoomNeedsText,
		DayOffPreferences: &dayOffs,
	}
	sent := models.PendingSync{Fields: state.Pending.Fields}
	revision := session.BeginRemote()
	updated, err := m.backend.UpdateDraftFields(ctx, actor, targetDraftID, patch)
	if err != nil {
		m.logger.Warn("saving template fields failed", zap.String("draft_id", targetDraftID), zap.Error(err))
		result.FieldsPending = true
	} else {
		session.MarkSynced(sent)
		session.ApplyRemote(revision, updated)
	}

	if m.metrics != nil {
		m.metrics.RecordTemplateApplied(string(mode), result.AddedCount, result.SkippedCount)
	}
	return result, nil
}

func (m *TemplateMerger) resync(ctx context.Context, actor models.Actor, session *WizardSession, draftID string) {
	draft, err := m.backend.GetDraft(ctx, actor, draftID)
	if err != nil {
		m.logger.Warn("draft reload after failed template application failed", zap.String("draft_id", draftID), zap.Error(err))
		return
	}
	session.BindDraft(draft)
}

func nextStep(current models.WizardStep) models.WizardStep {
	if current >= models.FinalStep {
		return models.FinalStep
	}
	return current + 1
}
