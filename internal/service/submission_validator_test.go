package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/teaching-load-planner/internal/models"
)

func readyState() models.WizardSessionState {
	draftID := "draft-1"
	term := planningTerm
	state := newSessionState("42")
	state.DraftID = &draftID
	state.TermID = &term
	state.ModuleEntries = []models.PlannedModuleEntry{{ModuleID: "7", GroupCounts: models.GroupCounts{Lecture: 1}, ComputedHours: models.ComputedHours{Lecture: 2, Total: 2}}}
	return state
}

func TestValidateForSubmissionAcceptsCompletePlan(t *testing.T) {
	phase := openPhase()

	result := ValidateForSubmission(readyState(), PhaseContext{Phase: phase, Status: &models.SubmissionStatus{CanSubmit: true}, Now: time.Now()})

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateForSubmissionReportsEveryProblem(t *testing.T) {
	state := readyState()
	state.ModuleEntries = nil

	result := ValidateForSubmission(state, PhaseContext{Phase: nil})

	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, MsgNoActivePhase)
	assert.Contains(t, result.Errors, MsgNoModules)
	assert.Contains(t, result.Errors, MsgNoHours)
}

func TestValidateForSubmissionPhaseWindow(t *testing.T) {
	phase := openPhase()

	early := ValidateForSubmission(readyState(), PhaseContext{Phase: phase, Now: phase.StartsAt.Add(-time.Minute)})
	late := ValidateForSubmission(readyState(), PhaseContext{Phase: phase, Now: phase.Deadline.Add(time.Minute)})
	inactive := *phase
	inactive.Active = false
	closed := ValidateForSubmission(readyState(), PhaseContext{Phase: &inactive, Now: time.Now()})

	assert.Equal(t, []string{MsgPhaseNotStarted}, early.Errors)
	assert.Equal(t, []string{MsgDeadlinePassed}, late.Errors)
	assert.Equal(t, []string{MsgNoActivePhase}, closed.Errors)
}

func TestValidateForSubmissionMissingDraftAndTerm(t *testing.T) {
	state := readyState()
	state.DraftID = nil
	state.TermID = nil

	result := ValidateForSubmission(state, PhaseContext{Phase: openPhase(), Now: time.Now()})

	assert.Equal(t, []string{MsgNoDraft, MsgNoTerm}, result.Errors)
}

func TestValidateForSubmissionZeroHours(t *testing.T) {
	state := readyState()
	state.ModuleEntries[0].ComputedHours = models.ComputedHours{}

	result := ValidateForSubmission(state, PhaseContext{Phase: openPhase(), Now: time.Now()})

	assert.Equal(t, []string{MsgNoHours}, result.Errors)
}

func TestValidateForSubmissionSubmissionStatusReason(t *testing.T) {
	withReason := ValidateForSubmission(readyState(), PhaseContext{
		Phase:  openPhase(),
		Status: &models.SubmissionStatus{CanSubmit: false, Reason: "quota reached"},
		Now:    time.Now(),
	})
	defaulted := ValidateForSubmission(readyState(), PhaseContext{
		Phase:  openPhase(),
		Status: &models.SubmissionStatus{CanSubmit: false},
		Now:    time.Now(),
	})
	duplicate := ValidateForSubmission(readyState(), PhaseContext{
		Phase:  nil,
		Status: &models.SubmissionStatus{CanSubmit: false, Reason: MsgNoActivePhase},
	})

	assert.Equal(t, []string{"quota reached"}, withReason.Errors)
	assert.Equal(t, []string{MsgAlreadySubmitted}, defaulted.Errors)
	assert.Equal(t, []string{MsgNoActivePhase}, duplicate.Errors)
}
