package service

import (
	"time"

	"github.com/noah-isme/teaching-load-planner/internal/models"
)

// Submission gate messages.
const (
	MsgNoActivePhase    = "no active planning phase"
	MsgPhaseNotStarted  = "planning phase has not started yet"
	MsgDeadlinePassed   = "planning phase deadline has passed"
	MsgAlreadySubmitted = "a plan has already been approved in this phase"
	MsgNoDraft          = "the plan has not been saved as a draft yet"
	MsgNoTerm           = "no term selected"
	MsgNoModules        = "no modules in the plan"
	MsgNoHours          = "total teaching hours must be greater than zero"
)

// PhaseContext describes the planning phase a submission happens in.
type PhaseContext struct {
	Phase  *models.PlanningPhase
	Status *models.SubmissionStatus
	Now    time.Time
}

// SubmissionValidation lists every reason a plan cannot be submitted.
type SubmissionValidation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// ValidateForSubmission evaluates every submission check without
// short-circuiting so all problems can be shown together.
func ValidateForSubmission(state models.WizardSessionState, phase PhaseContext) SubmissionValidation {
	errs := make([]string, 0)

	now := phase.Now
	if now.IsZero() {
		now = time.Now()
	}
	switch {
	case phase.Phase == nil || !phase.Phase.Active:
		errs = append(errs, MsgNoActivePhase)
	case !phase.Phase.StartsAt.IsZero() && now.Before(phase.Phase.StartsAt):
		errs = append(errs, MsgPhaseNotStarted)
	case !phase.Phase.Deadline.IsZero() && now.After(phase.Phase.Deadline):
		errs = append(errs, MsgDeadlinePassed)
	}
	if phase.Status != nil && !phase.Status.CanSubmit {
		reason := phase.Status.Reason
		if reason == "" {
			reason = MsgAlreadySubmitted
		}
		if !containsString(errs, reason) {
			errs = append(errs, reason)
		}
	}

	if state.DraftID == nil || *state.DraftID == "" {
		errs = append(errs, MsgNoDraft)
	}
	if state.TermID == nil || *state.TermID == "" {
		errs = append(errs, MsgNoTerm)
	}
	if len(state.ModuleEntries) == 0 {
		errs = append(errs, MsgNoModules)
	}
	if models.SumHours(state.ModuleEntries) <= 0 {
		errs = append(errs, MsgNoHours)
	}

	if len(errs) == 0 {
		return SubmissionValidation{Valid: true}
	}
	return SubmissionValidation{Valid: false, Errors: errs}
}
