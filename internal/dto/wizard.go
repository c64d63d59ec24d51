package dto

import "github.com/noah-isme/teaching-load-planner/internal/models"

// StartWizardRequest opens the wizard, optionally for a term.
type StartWizardRequest struct {
	TermID string `json:"term_id"`
}

// WizardFieldsRequest patches wizard fields.
type WizardFieldsRequest struct {
	TermID            *string                    `json:"term_id,omitempty"`
	SelectedModuleIDs *[]string                  `json:"selected_module_ids,omitempty"`
	Notes             *string                    `json:"notes,omitempty" validate:"omitempty,max=4000"`
	RoomNeedsText     *string                    `json:"room_needs_text,omitempty" validate:"omitempty,max=4000"`
	DayOffPreferences *[]models.DayOffPreference `json:"day_off_preferences,omitempty" validate:"omitempty,dive"`
}

// ToPatch converts the request to a wizard patch.
func (r WizardFieldsRequest) ToPatch() models.WizardPatch {
	return models.WizardPatch{
		TermID:            r.TermID,
		SelectedModuleIDs: r.SelectedModuleIDs,
		Notes:             r.Notes,
		RoomNeedsText:     r.RoomNeedsText,
		DayOffPreferences: r.DayOffPreferences,
	}
}

// AssignStaffRequest replaces the staff of a module entry.
type AssignStaffRequest struct {
	StaffIDs []string `json:"staff_ids" validate:"dive,required"`
}

// SetStepRequest moves the wizard.
type SetStepRequest struct {
	Step *int `json:"step" validate:"required,min=0,max=6"`
}

// WizardTemplateRequest applies the caller's template for a term type.
type WizardTemplateRequest struct {
	TermType string `json:"term_type" validate:"required,oneof=firstHalfYear secondHalfYear"`
	Mode     string `json:"mode" validate:"omitempty,oneof=mergeSkipExisting replaceAll mergeAndFastForward"`
}

// WizardStateResponse wraps the working state with derived values.
type WizardStateResponse struct {
	State      models.WizardSessionState `json:"state"`
	TotalHours float64                   `json:"total_hours"`
}

// WizardSubmitResponse reports the submitted draft and the checks that ran.
type WizardSubmitResponse struct {
	Draft  *models.PlanningDraft `json:"draft"`
	Valid  bool                  `json:"valid"`
	Errors []string              `json:"errors,omitempty"`
}
