package models

import (
	"sort"
	"time"
)

// TeachingFormat identifies how a course is taught.
type TeachingFormat string

const (
	FormatLecture  TeachingFormat = "lecture"
	FormatExercise TeachingFormat = "exercise"
	FormatLab      TeachingFormat = "lab"
	FormatSeminar  TeachingFormat = "seminar"
)

// TeachingFormats lists every format in display order.
var TeachingFormats = []TeachingFormat{FormatLecture, FormatExercise, FormatLab, FormatSeminar}

// Valid reports whether the format is one of the known codes.
func (f TeachingFormat) Valid() bool {
	switch f {
	case FormatLecture, FormatExercise, FormatLab, FormatSeminar:
		return true
	}
	return false
}

// TeachingFormatDefinition is the catalog's weekly-hour cost of one group of a format.
type TeachingFormatDefinition struct {
	ModuleID      string         `db:"module_id" json:"module_id,omitempty" yaml:"-"`
	Code          TeachingFormat `db:"code" json:"code" yaml:"code"`
	HoursPerGroup float64        `db:"hours_per_group" json:"hours_per_group" yaml:"hours_per_group"`
}

// GroupCounts holds the number of parallel groups per teaching format.
type GroupCounts struct {
	Lecture  int `db:"lecture_groups" json:"lecture" yaml:"lecture" validate:"min=0"`
	Exercise int `db:"exercise_groups" json:"exercise" yaml:"exercise" validate:"min=0"`
	Lab      int `db:"lab_groups" json:"lab" yaml:"lab" validate:"min=0"`
	Seminar  int `db:"seminar_groups" json:"seminar" yaml:"seminar" validate:"min=0"`
}

// Get returns the count for a format.
func (g GroupCounts) Get(format TeachingFormat) int {
	switch format {
	case FormatLecture:
		return g.Lecture
	case FormatExercise:
		return g.Exercise
	case FormatLab:
		return g.Lab
	case FormatSeminar:
		return g.Seminar
	}
	return 0
}

// IsZero reports whether all four counts are zero.
func (g GroupCounts) IsZero() bool {
	return g.Lecture == 0 && g.Exercise == 0 && g.Lab == 0 && g.Seminar == 0
}

// HasNegative reports whether any count is below zero.
func (g GroupCounts) HasNegative() bool {
	return g.Lecture < 0 || g.Exercise < 0 || g.Lab < 0 || g.Seminar < 0
}

// ComputedHours is the cached weekly-hour projection of a module entry.
type ComputedHours struct {
	Lecture  float64 `db:"lecture_hours" json:"lecture"`
	Exercise float64 `db:"exercise_hours" json:"exercise"`
	Lab      float64 `db:"lab_hours" json:"lab"`
	Seminar  float64 `db:"seminar_hours" json:"seminar"`
	Total    float64 `db:"total_hours" json:"total"`
}

// Get returns the hours attributed to a format.
func (h ComputedHours) Get(format TeachingFormat) float64 {
	switch format {
	case FormatLecture:
		return h.Lecture
	case FormatExercise:
		return h.Exercise
	case FormatLab:
		return h.Lab
	case FormatSeminar:
		return h.Seminar
	}
	return 0
}

// PlannedModuleEntry is one course configured within a draft.
type PlannedModuleEntry struct {
	ID              string                    `json:"id,omitempty"`
	ModuleID        string                    `json:"module_id"`
	GroupCounts     GroupCounts               `json:"group_counts"`
	ComputedHours   ComputedHours             `json:"computed_hours"`
	StaffIDs        []string                  `json:"staff_ids"`
	RoomPreferences map[TeachingFormat]string `json:"room_preferences,omitempty"`
	RoomCapacities  map[TeachingFormat]int    `json:"room_capacities,omitempty"`
	Notes           string                    `json:"notes,omitempty"`
}

// Clone returns a deep copy of the entry.
func (e PlannedModuleEntry) Clone() PlannedModuleEntry {
	out := e
	out.StaffIDs = append([]string(nil), e.StaffIDs...)
	if e.RoomPreferences != nil {
		out.RoomPreferences = make(map[TeachingFormat]string, len(e.RoomPreferences))
		for k, v := range e.RoomPreferences {
			out.RoomPreferences[k] = v
		}
	}
	if e.RoomCapacities != nil {
		out.RoomCapacities = make(map[TeachingFormat]int, len(e.RoomCapacities))
		for k, v := range e.RoomCapacities {
			out.RoomCapacities[k] = v
		}
	}
	return out
}

// DraftStatus enumerates the plan workflow states.
type DraftStatus string

const (
	DraftStatusDraft     DraftStatus = "draft"
	DraftStatusSubmitted DraftStatus = "submitted"
	DraftStatusApproved  DraftStatus = "approved"
	DraftStatusRejected  DraftStatus = "rejected"
)

// Locked reports whether drafts in this status forbid in-place edits.
func (s DraftStatus) Locked() bool {
	return s != DraftStatusDraft
}

// DayOffPeriod marks which part of a weekday is requested off.
type DayOffPeriod string

const (
	PeriodFull      DayOffPeriod = "full"
	PeriodMorning   DayOffPeriod = "morning"
	PeriodAfternoon DayOffPeriod = "afternoon"
)

// DayOffPriority ranks how strongly a day off is requested.
type DayOffPriority string

const (
	PriorityHigh   DayOffPriority = "high"
	PriorityMedium DayOffPriority = "medium"
	PriorityLow    DayOffPriority = "low"
)

// DayOffPreference is a requested free slot in the weekly timetable.
type DayOffPreference struct {
	Weekday  string         `json:"weekday" yaml:"weekday" validate:"required,oneof=monday tuesday wednesday thursday friday saturday"`
	Period   DayOffPeriod   `json:"period" yaml:"period" validate:"required,oneof=full morning afternoon"`
	Priority DayOffPriority `json:"priority" yaml:"priority" validate:"required,oneof=high medium low"`
	Reason   string         `json:"reason,omitempty" yaml:"reason"`
}

// Slot returns the uniqueness key of the preference.
func (d DayOffPreference) Slot() string {
	return d.Weekday + "/" + string(d.Period)
}

// PlanningDraft is a staff member's teaching-load plan for one term.
type PlanningDraft struct {
	ID                string               `json:"id,omitempty"`
	TermID            string               `json:"term_id"`
	ProgramID         *string              `json:"program_id,omitempty"`
	OwnerID           string               `json:"owner_id"`
	Status            DraftStatus          `json:"status"`
	ModuleEntries     []PlannedModuleEntry `json:"module_entries"`
	DayOffPreferences []DayOffPreference   `json:"day_off_preferences"`
	Notes             string               `json:"notes"`
	RoomNeedsText     string               `json:"room_needs_text"`
	SubmittedAt       *time.Time           `json:"submitted_at,omitempty"`
	ReviewedAt        *time.Time           `json:"reviewed_at,omitempty"`
	ReviewedBy        *string              `json:"reviewed_by,omitempty"`
	RejectionReason   *string              `json:"rejection_reason,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// Locked reports whether the draft forbids in-place edits.
func (d *PlanningDraft) Locked() bool {
	return d != nil && d.Status.Locked()
}

// FindEntry returns the entry for the module, if present.
func (d *PlanningDraft) FindEntry(moduleID string) (*PlannedModuleEntry, bool) {
	if d == nil {
		return nil, false
	}
	for i := range d.ModuleEntries {
		if d.ModuleEntries[i].ModuleID == moduleID {
			return &d.ModuleEntries[i], true
		}
	}
	return nil, false
}

// TotalHours sums the cached totals of all entries.
func (d *PlanningDraft) TotalHours() float64 {
	if d == nil {
		return 0
	}
	return SumHours(d.ModuleEntries)
}

// SumHours sums the cached totals of the given entries.
func SumHours(entries []PlannedModuleEntry) float64 {
	var total float64
	for _, entry := range entries {
		total += entry.ComputedHours.Total
	}
	return total
}

// DraftFieldsPatch carries draft-scalar fields; nil pointers are left untouched.
type DraftFieldsPatch struct {
	Notes             *string             `json:"notes,omitempty"`
	RoomNeedsText     *string             `json:"room_needs_text,omitempty"`
	DayOffPreferences *[]DayOffPreference `json:"day_off_preferences,omitempty"`
}

// Empty reports whether the patch carries no change.
func (p DraftFieldsPatch) Empty() bool {
	return p.Notes == nil && p.RoomNeedsText == nil && p.DayOffPreferences == nil
}

// ModuleEntryPatch carries updatable entry fields; nil pointers are left untouched.
type ModuleEntryPatch struct {
	GroupCounts     *GroupCounts              `json:"group_counts,omitempty"`
	StaffIDs        *[]string                 `json:"staff_ids,omitempty"`
	RoomPreferences map[TeachingFormat]string `json:"room_preferences,omitempty"`
	RoomCapacities  map[TeachingFormat]int    `json:"room_capacities,omitempty"`
	Notes           *string                   `json:"notes,omitempty"`
}

// TemplateTermType groups terms for template lookup.
type TemplateTermType string

const (
	TermTypeFirstHalfYear  TemplateTermType = "firstHalfYear"
	TermTypeSecondHalfYear TemplateTermType = "secondHalfYear"
)

// Valid reports whether the term type is known.
func (t TemplateTermType) Valid() bool {
	return t == TermTypeFirstHalfYear || t == TermTypeSecondHalfYear
}

// TemplateModuleEntry is a module entry stored on a template, without cached hours.
type TemplateModuleEntry struct {
	ModuleID        string                    `json:"module_id" yaml:"module_id" validate:"required"`
	GroupCounts     GroupCounts               `json:"group_counts" yaml:"group_counts"`
	StaffIDs        []string                  `json:"staff_ids,omitempty" yaml:"staff_ids"`
	RoomPreferences map[TeachingFormat]string `json:"room_preferences,omitempty" yaml:"room_preferences"`
	RoomCapacities  map[TeachingFormat]int    `json:"room_capacities,omitempty" yaml:"room_capacities"`
	Notes           string                    `json:"notes,omitempty" yaml:"notes"`
}

// Template is a reusable default configuration for a term type.
type Template struct {
	ID                string                `json:"id" yaml:"id"`
	Name              string                `json:"name" yaml:"name"`
	OwnerID           string                `json:"owner_id" yaml:"-"`
	TermType          TemplateTermType      `json:"term_type" yaml:"term_type"`
	ModuleEntries     []TemplateModuleEntry `json:"module_entries" yaml:"module_entries"`
	DayOffPreferences []DayOffPreference    `json:"day_off_preferences" yaml:"day_off_preferences"`
	Notes             string                `json:"notes" yaml:"notes"`
	RoomNeedsText     string                `json:"room_needs_text" yaml:"room_needs_text"`
	CreatedAt         time.Time             `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time             `json:"updated_at" yaml:"-"`
}

// TemplateApplyResult reports what a template application changed.
type TemplateApplyResult struct {
	AddedCount   int `json:"added_count"`
	SkippedCount int `json:"skipped_count"`
}

// PlanningPhase is the window in which plans may be submitted.
type PlanningPhase struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	TermID    string    `db:"term_id" json:"term_id"`
	StartsAt  time.Time `db:"starts_at" json:"starts_at"`
	Deadline  time.Time `db:"deadline" json:"deadline"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SubmissionStatus tells whether a user may submit in the active phase.
type SubmissionStatus struct {
	UserID    string `json:"user_id"`
	CanSubmit bool   `json:"can_submit"`
	Reason    string `json:"reason,omitempty"`
}

// ModuleCatalog maps module ids to their teaching format definitions.
type ModuleCatalog map[string][]TeachingFormatDefinition

// FormatsFor returns the definitions of a module, nil when unknown.
func (c ModuleCatalog) FormatsFor(moduleID string) []TeachingFormatDefinition {
	if c == nil {
		return nil
	}
	return c[moduleID]
}

// ModuleIDs returns the catalog keys in ascending order.
func (c ModuleCatalog) ModuleIDs() []string {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CatalogModule describes a course offered in the catalog.
type CatalogModule struct {
	ID      string                     `db:"id" json:"id" yaml:"id"`
	Code    string                     `db:"code" json:"code" yaml:"code"`
	Name    string                     `db:"name" json:"name" yaml:"name"`
	Formats []TeachingFormatDefinition `db:"-" json:"formats" yaml:"formats"`
}

// DraftFilter narrows draft listings.
type DraftFilter struct {
	OwnerID  string
	TermID   string
	Status   []DraftStatus
	Page     int
	PageSize int
}
