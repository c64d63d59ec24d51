package models

import "time"

// WizardStep indexes the steps of the planning wizard.
type WizardStep int

const (
	StepTerm WizardStep = iota
	StepModuleSelection
	StepModuleConfiguration
	StepStaffing
	StepExtraInfo
	StepDayOff
	StepReview
)

// FinalStep is the review step that gates submission.
const FinalStep = StepReview

// Valid reports whether the index names a wizard step.
func (s WizardStep) Valid() bool {
	return s >= StepTerm && s <= StepReview
}

// WizardSessionState is the working copy accumulated across wizard steps.
type WizardSessionState struct {
	OwnerID                  string               `json:"owner_id"`
	DraftID                  *string              `json:"draft_id,omitempty"`
	TermID                   *string              `json:"term_id,omitempty"`
	SelectedModuleIDs        []string             `json:"selected_module_ids"`
	ModuleEntries            []PlannedModuleEntry `json:"module_entries"`
	DayOffPreferences        []DayOffPreference   `json:"day_off_preferences"`
	Notes                    string               `json:"notes"`
	RoomNeedsText            string               `json:"room_needs_text"`
	StaffAssignmentsByModule map[string][]string  `json:"staff_assignments_by_module"`
	CurrentStep              WizardStep           `json:"current_step"`
	IsDirty                  bool                 `json:"is_dirty"`
	Locked                   bool                 `json:"locked"`
	LastPersistedAt          *time.Time           `json:"last_persisted_at,omitempty"`
	Revision                 uint64               `json:"revision"`
	Pending                  PendingSync          `json:"pending"`
}

// Clone returns a deep copy of the state.
func (s WizardSessionState) Clone() WizardSessionState {
	out := s
	if s.DraftID != nil {
		id := *s.DraftID
		out.DraftID = &id
	}
	if s.TermID != nil {
		id := *s.TermID
		out.TermID = &id
	}
	if s.LastPersistedAt != nil {
		ts := *s.LastPersistedAt
		out.LastPersistedAt = &ts
	}
	out.SelectedModuleIDs = append([]string(nil), s.SelectedModuleIDs...)
	out.ModuleEntries = make([]PlannedModuleEntry, len(s.ModuleEntries))
	for i, entry := range s.ModuleEntries {
		out.ModuleEntries[i] = entry.Clone()
	}
	out.DayOffPreferences = append([]DayOffPreference(nil), s.DayOffPreferences...)
	out.StaffAssignmentsByModule = make(map[string][]string, len(s.StaffAssignmentsByModule))
	for k, v := range s.StaffAssignmentsByModule {
		out.StaffAssignmentsByModule[k] = append([]string(nil), v...)
	}
	out.Pending = s.Pending.Clone()
	return out
}

// DraftField names a draft-scalar field edited through the wizard.
type DraftField string

const (
	FieldNotes         DraftField = "notes"
	FieldRoomNeedsText DraftField = "room_needs_text"
	FieldDayOffs       DraftField = "day_off_preferences"
)

// PendingSync lists local edits the bound draft has not confirmed yet. Each
// item carries the session revision of its latest edit.
type PendingSync struct {
	Modules map[string]uint64     `json:"modules,omitempty"`
	Removed map[string]uint64     `json:"removed,omitempty"`
	Fields  map[DraftField]uint64 `json:"fields,omitempty"`
}

// Empty reports whether every local edit has been confirmed.
func (p PendingSync) Empty() bool {
	return len(p.Modules) == 0 && len(p.Removed) == 0 && len(p.Fields) == 0
}

// Clone returns a deep copy.
func (p PendingSync) Clone() PendingSync {
	var out PendingSync
	if len(p.Modules) > 0 {
		out.Modules = make(map[string]uint64, len(p.Modules))
		for k, v := range p.Modules {
			out.Modules[k] = v
		}
	}
	if len(p.Removed) > 0 {
		out.Removed = make(map[string]uint64, len(p.Removed))
		for k, v := range p.Removed {
			out.Removed[k] = v
		}
	}
	if len(p.Fields) > 0 {
		out.Fields = make(map[DraftField]uint64, len(p.Fields))
		for k, v := range p.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// WizardPatch is a partial update of the draft-scalar wizard fields.
type WizardPatch struct {
	TermID            *string             `json:"term_id,omitempty"`
	SelectedModuleIDs *[]string           `json:"selected_module_ids,omitempty"`
	Notes             *string             `json:"notes,omitempty"`
	RoomNeedsText     *string             `json:"room_needs_text,omitempty"`
	DayOffPreferences *[]DayOffPreference `json:"day_off_preferences,omitempty"`
}

// WizardSnapshot is the durable recovery copy of a session.
type WizardSnapshot struct {
	OwnerID  string             `json:"owner_id"`
	SavedAt  time.Time          `json:"saved_at"`
	State    WizardSessionState `json:"state"`
	Revision uint64             `json:"revision"`
}

// SnapshotKey addresses one durable wizard snapshot.
type SnapshotKey struct {
	Namespace string
	Owner     string
}

// String renders the key as a flat storage key.
func (k SnapshotKey) String() string {
	return k.Namespace + ":" + k.Owner
}
