package dto

import "github.com/noah-isme/teaching-load-planner/internal/models"

// CreateDraftRequest opens (or returns) the caller's draft for a term.
type CreateDraftRequest struct {
	TermID    string  `json:"term_id" validate:"required"`
	ProgramID *string `json:"program_id,omitempty"`
}

// UpdateDraftRequest patches draft-scalar fields; omitted fields are kept.
type UpdateDraftRequest struct {
	Notes             *string                    `json:"notes,omitempty" validate:"omitempty,max=4000"`
	RoomNeedsText     *string                    `json:"room_needs_text,omitempty" validate:"omitempty,max=4000"`
	DayOffPreferences *[]models.DayOffPreference `json:"day_off_preferences,omitempty" validate:"omitempty,dive"`
}

// ToPatch converts the request to a service patch.
func (r UpdateDraftRequest) ToPatch() models.DraftFieldsPatch {
	return models.DraftFieldsPatch{
		Notes:             r.Notes,
		RoomNeedsText:     r.RoomNeedsText,
		DayOffPreferences: r.DayOffPreferences,
	}
}

// DraftListQuery binds list filters from the query string.
type DraftListQuery struct {
	TermID   string   `form:"termId"`
	Status   []string `form:"status" validate:"omitempty,dive,oneof=draft submitted approved rejected"`
	Page     int      `form:"page" validate:"omitempty,min=1"`
	PageSize int      `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

// ToFilter converts the query to a repository filter.
func (q DraftListQuery) ToFilter() models.DraftFilter {
	statuses := make([]models.DraftStatus, 0, len(q.Status))
	for _, status := range q.Status {
		statuses = append(statuses, models.DraftStatus(status))
	}
	return models.DraftFilter{TermID: q.TermID, Status: statuses, Page: q.Page, PageSize: q.PageSize}
}

// ModuleEntryRequest describes one module of a plan.
type ModuleEntryRequest struct {
	ModuleID        string                           `json:"module_id" validate:"required"`
	GroupCounts     models.GroupCounts               `json:"group_counts"`
	StaffIDs        []string                         `json:"staff_ids" validate:"omitempty,dive,required"`
	RoomPreferences map[models.TeachingFormat]string `json:"room_preferences,omitempty"`
	RoomCapacities  map[models.TeachingFormat]int    `json:"room_capacities,omitempty" validate:"omitempty,dive,min=0"`
	Notes           string                           `json:"notes,omitempty" validate:"max=2000"`
}

// ToEntry converts the request to a planned entry.
func (r ModuleEntryRequest) ToEntry() models.PlannedModuleEntry {
	return models.PlannedModuleEntry{
		ModuleID:        r.ModuleID,
		GroupCounts:     r.GroupCounts,
		StaffIDs:        r.StaffIDs,
		RoomPreferences: r.RoomPreferences,
		RoomCapacities:  r.RoomCapacities,
		Notes:           r.Notes,
	}
}

// UpdateModuleEntryRequest patches a stored entry.
type UpdateModuleEntryRequest struct {
	GroupCounts     *models.GroupCounts              `json:"group_counts,omitempty"`
	StaffIDs        *[]string                        `json:"staff_ids,omitempty"`
	RoomPreferences map[models.TeachingFormat]string `json:"room_preferences,omitempty"`
	RoomCapacities  map[models.TeachingFormat]int    `json:"room_capacities,omitempty" validate:"omitempty,dive,min=0"`
	Notes           *string                          `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// ToPatch converts the request to a service patch.
func (r UpdateModuleEntryRequest) ToPatch() models.ModuleEntryPatch {
	return models.ModuleEntryPatch{
		GroupCounts:     r.GroupCounts,
		StaffIDs:        r.StaffIDs,
		RoomPreferences: r.RoomPreferences,
		RoomCapacities:  r.RoomCapacities,
		Notes:           r.Notes,
	}
}

// RejectDraftRequest carries the reviewer's reason.
type RejectDraftRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// ApplyTemplateRequest seeds a draft from a stored template.
type ApplyTemplateRequest struct {
	TemplateID    string `json:"template_id" validate:"required"`
	ClearExisting bool   `json:"clear_existing"`
}

// ExportDraftRequest selects the rendered format.
type ExportDraftRequest struct {
	Format string `json:"format" validate:"required,oneof=csv pdf"`
}

// SaveTemplateRequest creates or replaces a template. When DraftID is set the
// template content is copied from that draft.
type SaveTemplateRequest struct {
	ID                string                       `json:"id,omitempty"`
	Name              string                       `json:"name" validate:"required,max=200"`
	TermType          string                       `json:"term_type" validate:"required,oneof=firstHalfYear secondHalfYear"`
	DraftID           string                       `json:"draft_id,omitempty"`
	ModuleEntries     []models.TemplateModuleEntry `json:"module_entries" validate:"omitempty,dive"`
	DayOffPreferences []models.DayOffPreference    `json:"day_off_preferences" validate:"omitempty,dive"`
	Notes             string                       `json:"notes"`
	RoomNeedsText     string                       `json:"room_needs_text"`
}

// ToTemplate converts the request to a template.
func (r SaveTemplateRequest) ToTemplate() *models.Template {
	return &models.Template{
		ID:                r.ID,
		Name:              r.Name,
		TermType:          models.TemplateTermType(r.TermType),
		ModuleEntries:     r.ModuleEntries,
		DayOffPreferences: r.DayOffPreferences,
		Notes:             r.Notes,
		RoomNeedsText:     r.RoomNeedsText,
	}
}

// OpenPhaseRequest opens a submission window.
type OpenPhaseRequest struct {
	Name     string `json:"name" validate:"required"`
	TermID   string `json:"term_id" validate:"required"`
	StartsAt string `json:"starts_at" validate:"required"`
	Deadline string `json:"deadline" validate:"required"`
}
