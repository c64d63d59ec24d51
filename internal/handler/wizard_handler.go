package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/teaching-load-planner/internal/dto"
	"github.com/noah-isme/teaching-load-planner/internal/models"
	"github.com/noah-isme/teaching-load-planner/internal/service"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
	"github.com/noah-isme/teaching-load-planner/pkg/response"
)

type wizardFlow interface {
	State() models.WizardSessionState
	Start(ctx context.Context, termID string) (*service.StartResult, error)
	EnsureDraft(ctx context.Context) (*models.PlanningDraft, service.GuardResult, error)
	SaveModuleEntry(ctx context.Context, entry models.PlannedModuleEntry) error
	RemoveModuleEntry(ctx context.Context, moduleID string) error
	AssignStaff(ctx context.Context, moduleID string, staffIDs []string) error
	SaveFields(ctx context.Context, patch models.WizardPatch) error
	AddDayOff(ctx context.Context, pref models.DayOffPreference) error
	RemoveDayOff(ctx context.Context, weekday string, period models.DayOffPeriod) error
	SetStep(step models.WizardStep) error
	ApplyTemplate(ctx context.Context, termType models.TemplateTermType, mode service.TemplateMergeMode) (*service.TemplateMergeResult, error)
	Validate(ctx context.Context) (service.SubmissionValidation, error)
	Submit(ctx context.Context) (*models.PlanningDraft, service.SubmissionValidation, error)
	RecoverLockedDraft(ctx context.Context) (*models.PlanningDraft, error)
	Discard(ctx context.Context) error
}

// wizardResolver leases the caller's wizard; done ends the lease.
type wizardResolver func(ctx context.Context, actor models.Actor) (flow wizardFlow, done func(), err error)

// WizardHandler drives the per-user planning wizard.
type WizardHandler struct {
	flows wizardResolver
}

// NewWizardHandler builds a handler backed by the session registry.
func NewWizardHandler(sessions *service.SessionManager) *WizardHandler {
	return &WizardHandler{flows: func(ctx context.Context, actor models.Actor) (wizardFlow, func(), error) {
		workflow, done, err := sessions.Workflow(ctx, actor)
		if err != nil {
			return nil, done, err
		}
		return workflow, done, nil
	}}
}

func (h *WizardHandler) flow(c *gin.Context) (wizardFlow, func(), bool) {
	actor, ok := actorFromContext(c)
	if !ok {
		return nil, nil, false
	}
	flow, done, err := h.flows(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return nil, nil, false
	}
	return flow, done, true
}

func writeState(c *gin.Context, flow wizardFlow) {
	state := flow.State()
	response.JSON(c, http.StatusOK, dto.WizardStateResponse{State: state, TotalHours: models.SumHours(state.ModuleEntries)}, nil)
}

// Start godoc
// @Summary Start or resume the planning wizard
// @Description Restores the caller's snapshot and checks the referenced draft.
// @Tags Planning Wizard
// @Accept json
// @Produce json
// @Param payload body dto.StartWizardRequest false "Term"
// @Success 200 {object} response.Envelope
// @Router /planning/wizard/start [post]
func (h *WizardHandler) Start(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	var req dto.StartWizardRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req, "invalid wizard payload") {
		return
	}
	result, err := flow.Start(c.Request.Context(), req.TermID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// State godoc
// @Summary Get the wizard working state
// @Tags Planning Wizard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /planning/wizard [get]
func (h *WizardHandler) State(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	writeState(c, flow)
}

// EnsureDraft godoc
// @Summary Bind the wizard to a server-side draft
// @Tags Planning Wizard
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /planning/wizard/draft [post]
func (h *WizardHandler) EnsureDraft(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	draft, guard, err := flow.EnsureDraft(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil, map[string]interface{}{"guard": guard})
}

// UpdateFields godoc
// @Summary Patch wizard fields
// @Tags Planning Wizard
// @Accept json
// @Produce json
// @Param payload body dto.WizardFieldsRequest true "Fields"
// @Success 200 {object} response.Envelope
// @Router /planning/wizard [patch]
func (h *WizardHandler) UpdateFields(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	var req dto.WizardFieldsRequest
	if !bindJSON(c, &req, "invalid wizard payload") {
		return
	}
	if err := flow.SaveFields(c.Request.Context(), req.ToPatch()); err != nil {
		response.Error(c, err)
		return
	}
	writeState(c, flow)
}

// Discard godoc
// @Summary Discard the wizard working copy
// @Tags Planning Wizard
// @Success 204
// @Router /planning/wizard [delete]
func (h *WizardHandler) Discard(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	if err := flow.Discard(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddModule godoc
// @Summary Add a module to the wizard plan
// @Tags Planning Wizard
// @Accept json
// @Produce json
// @Param payload body dto.ModuleEntryRequest true "Module entry"
// @Success 200 {object} response.Envelope
// @Router /planning/wizard/modules [post]
func (h *WizardHandler) AddModule(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	var req dto.ModuleEntryRequest
	if !bindJSON(c, &req, "invalid module entry payload") {
		return
	}
	if err := flow.SaveModuleEntry(c.Request.Context(), req.ToEntry()); err != nil {
		response.Error(c, err)
		return
	}
	writeState(c, flow)
}

// SaveModule godoc
// @Summary Replace a module entry of the wizard plan
// @Tags Planning Wizard
// @Accept json
// @Produce json
// @Param moduleId path string true "Module ID"
// @Param payload body dto.ModuleEntryRequest true "Module entry"
// @Success 200 {object} response.Envelope
// @Router /planning/wizard/modules/{moduleId} [put]
func (h *WizardHandler) SaveModule(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	var req dto.ModuleEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid module entry payload"))
		return
	}
	req.ModuleID = c.Param("moduleId")
	if !validateRequest(c, &req, "invalid module entry payload") {
		return
	}
	if err := flow.SaveModuleEntry(c.Request.Context(), req.ToEntry()); err != nil {
		response.Error(c, err)
		return
	}
	writeState(c, flow)
}

// RemoveModule godoc
// @Summary Remove a module from the wizard plan
// @Tags Planning Wizard
// @Produce json
// @Param moduleId path string true "Module ID"
// @Success 200 {object} response.Envelope
// @Router /planning/wizard/modules/{moduleId} [delete]
func (h *WizardHandler) RemoveModule(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	if err := flow.RemoveModuleEntry(c.Request.Context(), c.Param("moduleId")); err != nil {
		response.Error(c, err)
		return
	}
	writeState(c, flow)
}

// AssignStaff godoc
// @Summary Set the staff teaching a module
// @Tags Planning Wizard
// @Accept json
// @Produce json
// @Param moduleId path string true "Module ID"
// @Param payload body dto.AssignStaffRequest true "Staff"
// @Success 200 {object} response.Envelope
// @Router /planning/wizard/modules/{moduleId}/staff [put]
func (h *WizardHandler) AssignStaff(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	var req dto.AssignStaffRequest
	if !bindJSON(c, &req, "invalid staff payload") {
		return
	}
	if err := flow.AssignStaff(c.Request.Context(), c.Param("moduleId"), req.StaffIDs); err != nil {
		response.Error(c, err)
		return
	}
	writeState(c, flow)
}

// SetStep godoc
// @Summary Move the wizard to a step
// @Tags Planning Wizard
// @Accept json
// @Produce json
// @Param payload body dto.SetStepRequest true "Step"
// @Success 200 {object} response.Envelope
// @Router /planning/wizard/step [put]
func (h *WizardHandler) SetStep(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	var req dto.SetStepRequest
	if !bindJSON(c, &req, "invalid step payload") {
		return
	}
	if err := flow.SetStep(models.WizardStep(*req.Step)); err != nil {
		response.Error(c, err)
		return
	}
	writeState(c, flow)
}

// AddDayOff godoc
// @Summary Add a day-off preference
// @Tags Planning Wizard
// @Accept json
// @Produce json
// @Param payload body models.DayOffPreference true "Preference"
// @Success 200 {object} response.Envelope
// @Router /planning/wizard/day-offs [post]
func (h *WizardHandler) AddDayOff(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	var req models.DayOffPreference
	if !bindJSON(c, &req, "invalid day-off payload") {
		return
	}
	if err := flow.AddDayOff(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	writeState(c, flow)
}

// RemoveDayOff godoc
// @Summary Remove a day-off preference
// @Tags Planning Wizard
// @Produce json
// @Param weekday query string true "Weekday"
// @Param period query string true "Period"
// @Success 200 {object} response.Envelope
// @Router /planning/wizard/day-offs [delete]
func (h *WizardHandler) RemoveDayOff(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	if err := flow.RemoveDayOff(c.Request.Context(), c.Query("weekday"), models.DayOffPeriod(c.Query("period"))); err != nil {
		response.Error(c, err)
		return
	}
	writeState(c, flow)
}

// ApplyTemplate godoc
// @Summary Seed the wizard draft from the caller's template
// @Tags Planning Wizard
// @Accept json
// @Produce json
// @Param payload body dto.WizardTemplateRequest true "Template selection"
// @Success 200 {object} response.Envelope
// @Router /planning/wizard/template [post]
func (h *WizardHandler) ApplyTemplate(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	var req dto.WizardTemplateRequest
	if !bindJSON(c, &req, "invalid template payload") {
		return
	}
	mode := service.TemplateMergeMode(req.Mode)
	if mode == "" {
		mode = service.MergeSkipExisting
	}
	result, err := flow.ApplyTemplate(c.Request.Context(), models.TemplateTermType(req.TermType), mode)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Validation godoc
// @Summary Run the submission checks
// @Tags Planning Wizard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /planning/wizard/validation [get]
func (h *WizardHandler) Validation(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	validation, err := flow.Validate(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, validation, nil)
}

// Submit godoc
// @Summary Submit the wizard draft
// @Tags Planning Wizard
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /planning/wizard/submit [post]
func (h *WizardHandler) Submit(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	draft, validation, err := flow.Submit(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.WizardSubmitResponse{Draft: draft, Valid: validation.Valid, Errors: validation.Errors}, nil)
}

// Recover godoc
// @Summary Replace a locked draft with a new editable one
// @Tags Planning Wizard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /planning/wizard/recover [post]
func (h *WizardHandler) Recover(c *gin.Context) {
	flow, done, ok := h.flow(c)
	if !ok {
		return
	}
	defer done()
	draft, err := flow.RecoverLockedDraft(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, draft, nil)
}
