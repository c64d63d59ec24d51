package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
	"github.com/noah-isme/teaching-load-planner/pkg/jobs"
)

// SnapshotFlushJobType labels queued snapshot writes.
const SnapshotFlushJobType = "wizard_snapshot_flush"

type formatCatalog interface {
	FormatsFor(moduleID string) []models.TeachingFormatDefinition
}

type snapshotDispatcher interface {
	Enqueue(job jobs.Job) error
}

type snapshotMetrics interface {
	ObserveSnapshotWrite(duration time.Duration, err error)
}

// WizardSessionConfig wires a session's collaborators.
type WizardSessionConfig struct {
	// OwnerID is the acting user.
	OwnerID string
	// StorageOwner selects the snapshot slot; defaults to OwnerID.
	StorageOwner string
	Namespace    string
	Store        SnapshotStore
	Catalog      formatCatalog
	Debounce     time.Duration
	Dispatcher   snapshotDispatcher
	Metrics      snapshotMetrics
	Logger       *zap.Logger
	Now          func() time.Time
}

// WizardSession holds the working copy of a plan while the wizard runs.
// Mutations mark the session dirty and schedule a coalesced snapshot write.
type WizardSession struct {
	mu      sync.Mutex
	state   models.WizardSessionState
	pending bool
	timer   *time.Timer
	closed  bool
	// io orders snapshot writes against deletes.
	io sync.Mutex

	key        models.SnapshotKey
	store      SnapshotStore
	catalog    formatCatalog
	debounce   time.Duration
	dispatcher snapshotDispatcher
	metrics    snapshotMetrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewWizardSession constructs an empty session for the configured owner.
func NewWizardSession(cfg WizardSessionConfig) *WizardSession {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Store == nil {
		cfg.Store = NewMemorySnapshotStore()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = models.ModuleCatalog{}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "planning-wizard"
	}
	storageOwner := cfg.StorageOwner
	if storageOwner == "" {
		storageOwner = cfg.OwnerID
	}
	return &WizardSession{
		state:      newSessionState(cfg.OwnerID),
		key:        models.SnapshotKey{Namespace: cfg.Namespace, Owner: storageOwner},
		store:      cfg.Store,
		catalog:    cfg.Catalog,
		debounce:   cfg.Debounce,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

func newSessionState(ownerID string) models.WizardSessionState {
	return models.WizardSessionState{
		OwnerID:                  ownerID,
		SelectedModuleIDs:        []string{},
		ModuleEntries:            []models.PlannedModuleEntry{},
		DayOffPreferences:        []models.DayOffPreference{},
		StaffAssignmentsByModule: map[string][]string{},
		CurrentStep:              models.StepTerm,
	}
}

// OwnerID returns the acting user of the session.
func (s *WizardSession) OwnerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.OwnerID
}

// SnapshotKey returns the slot the session snapshots into.
func (s *WizardSession) SnapshotKey() models.SnapshotKey {
	return s.key
}

// State returns a copy of the working state.
func (s *WizardSession) State() models.WizardSessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// SetCatalog swaps the format catalog used for hour projections.
func (s *WizardSession) SetCatalog(catalog formatCatalog) {
	if catalog == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = catalog
}

// ApplyPartialUpdate merges draft-scalar fields into the session.
func (s *WizardSession) ApplyPartialUpdate(patch models.WizardPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureEditableLocked(); err != nil {
		return err
	}
	var dayOffs []models.DayOffPreference
	if patch.DayOffPreferences != nil {
		dayOffs = append([]models.DayOffPreference{}, (*patch.DayOffPreferences)...)
		if err := validateDayOffs(dayOffs); err != nil {
			return err
		}
	}
	if patch.TermID != nil {
		term := strings.TrimSpace(*patch.TermID)
		if term == "" {
			s.state.TermID = nil
		} else {
			s.state.TermID = &term
		}
	}
	if patch.SelectedModuleIDs != nil {
		s.state.SelectedModuleIDs = uniqueStrings(*patch.SelectedModuleIDs)
	}
	if patch.Notes != nil {
		s.state.Notes = *patch.Notes
	}
	if patch.RoomNeedsText != nil {
		s.state.RoomNeedsText = *patch.RoomNeedsText
	}
	if patch.DayOffPreferences != nil {
		s.state.DayOffPreferences = dayOffs
	}
	s.touchLocked()
	if patch.Notes != nil {
		s.markFieldLocked(models.FieldNotes)
	}
	if patch.RoomNeedsText != nil {
		s.markFieldLocked(models.FieldRoomNeedsText)
	}
	if patch.DayOffPreferences != nil {
		s.markFieldLocked(models.FieldDayOffs)
	}
	return nil
}

// SelectModules replaces the set of modules picked in the selection step.
func (s *WizardSession) SelectModules(moduleIDs []string) error {
	ids := append([]string{}, moduleIDs...)
	return s.ApplyPartialUpdate(models.WizardPatch{SelectedModuleIDs: &ids})
}

// AddModuleEntry appends a module entry after computing its hours. Duplicate
// modules and entries without any group are rejected and leave the session unchanged.
func (s *WizardSession) AddModuleEntry(entry models.PlannedModuleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureEditableLocked(); err != nil {
		return err
	}
	if err := validateEntryShape(entry); err != nil {
		return err
	}
	if s.indexOfLocked(entry.ModuleID) >= 0 {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("module %s is already part of the plan", entry.ModuleID))
	}
	entry = entry.Clone()
	entry.ComputedHours = ResolveHours(s.catalog.FormatsFor(entry.ModuleID), entry.GroupCounts, entry.ComputedHours.Total)
	if entry.StaffIDs == nil {
		entry.StaffIDs = []string{}
	}
	s.state.ModuleEntries = append(s.state.ModuleEntries, entry)
	s.state.StaffAssignmentsByModule[entry.ModuleID] = append([]string(nil), entry.StaffIDs...)
	if !containsString(s.state.SelectedModuleIDs, entry.ModuleID) {
		s.state.SelectedModuleIDs = append(s.state.SelectedModuleIDs, entry.ModuleID)
	}
	s.touchLocked()
	s.markModuleLocked(entry.ModuleID)
	return nil
}

// UpdateModuleEntry replaces the entry with the same module id.
func (s *WizardSession) UpdateModuleEntry(entry models.PlannedModuleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureEditableLocked(); err != nil {
		return err
	}
	if err := validateEntryShape(entry); err != nil {
		return err
	}
	idx := s.indexOfLocked(entry.ModuleID)
	if idx < 0 {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("module %s is not part of the plan", entry.ModuleID))
	}
	current := s.state.ModuleEntries[idx]
	entry = entry.Clone()
	if entry.ID == "" {
		entry.ID = current.ID
	}
	var recorded float64
	if entry.GroupCounts == current.GroupCounts {
		recorded = current.ComputedHours.Total
	}
	entry.ComputedHours = ResolveHours(s.catalog.FormatsFor(entry.ModuleID), entry.GroupCounts, recorded)
	if entry.StaffIDs == nil {
		entry.StaffIDs = []string{}
	}
	s.state.ModuleEntries[idx] = entry
	s.state.StaffAssignmentsByModule[entry.ModuleID] = append([]string(nil), entry.StaffIDs...)
	s.touchLocked()
	s.markModuleLocked(entry.ModuleID)
	return nil
}

// RemoveModuleEntry drops the entry for the module.
func (s *WizardSession) RemoveModuleEntry(moduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureEditableLocked(); err != nil {
		return err
	}
	idx := s.indexOfLocked(moduleID)
	if idx < 0 {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("module %s is not part of the plan", moduleID))
	}
	s.state.ModuleEntries = append(s.state.ModuleEntries[:idx], s.state.ModuleEntries[idx+1:]...)
	delete(s.state.StaffAssignmentsByModule, moduleID)
	s.touchLocked()
	s.markRemovedLocked(moduleID)
	return nil
}

// AssignStaff sets the staff members teaching a module.
func (s *WizardSession) AssignStaff(moduleID string, staffIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureEditableLocked(); err != nil {
		return err
	}
	idx := s.indexOfLocked(moduleID)
	if idx < 0 {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("module %s is not part of the plan", moduleID))
	}
	staff := uniqueStrings(staffIDs)
	s.state.ModuleEntries[idx].StaffIDs = staff
	s.state.StaffAssignmentsByModule[moduleID] = append([]string(nil), staff...)
	s.touchLocked()
	s.markModuleLocked(moduleID)
	return nil
}

// AddDayOff records a day-off preference; each (weekday, period) slot is unique.
func (s *WizardSession) AddDayOff(pref models.DayOffPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureEditableLocked(); err != nil {
		return err
	}
	next := append(append([]models.DayOffPreference{}, s.state.DayOffPreferences...), pref)
	if err := validateDayOffs(next); err != nil {
		return err
	}
	s.state.DayOffPreferences = next
	s.touchLocked()
	s.markFieldLocked(models.FieldDayOffs)
	return nil
}

// RemoveDayOff drops the preference for the slot.
func (s *WizardSession) RemoveDayOff(weekday string, period models.DayOffPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureEditableLocked(); err != nil {
		return err
	}
	slot := models.DayOffPreference{Weekday: normalizeWeekday(weekday), Period: period}.Slot()
	for i, pref := range s.state.DayOffPreferences {
		if pref.Slot() == slot {
			s.state.DayOffPreferences = append(s.state.DayOffPreferences[:i], s.state.DayOffPreferences[i+1:]...)
			s.touchLocked()
			s.markFieldLocked(models.FieldDayOffs)
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrNotFound, "day-off preference not found")
}

// SetStep moves the wizard. Moving forward requires every step passed over to be valid.
func (s *WizardSession) SetStep(step models.WizardStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !step.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown wizard step %d", step))
	}
	for current := s.state.CurrentStep; current < step; current++ {
		if !s.stepValidLocked(current) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("step %d is incomplete", current))
		}
	}
	s.state.CurrentStep = step
	s.touchLocked()
	return nil
}

// StepValid evaluates the forward-navigation predicate of a step.
func (s *WizardSession) StepValid(step models.WizardStep) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepValidLocked(step)
}

// CanAdvance reports whether the current step allows moving forward.
func (s *WizardSession) CanAdvance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepValidLocked(s.state.CurrentStep)
}

func (s *WizardSession) stepValidLocked(step models.WizardStep) bool {
	switch step {
	case models.StepTerm:
		return s.state.TermID != nil && *s.state.TermID != ""
	case models.StepModuleSelection:
		return len(s.state.SelectedModuleIDs) > 0
	case models.StepModuleConfiguration:
		return len(s.state.ModuleEntries) > 0
	case models.StepStaffing, models.StepExtraInfo, models.StepDayOff:
		return true
	case models.StepReview:
		return len(s.state.ModuleEntries) > 0 && models.SumHours(s.state.ModuleEntries) > 0
	}
	return false
}

// TotalHours sums the cached totals of every module entry.
func (s *WizardSession) TotalHours() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SumHours(s.state.ModuleEntries)
}

// BeginRemote issues a revision for an outgoing remote call.
func (s *WizardSession) BeginRemote() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Revision++
	return s.state.Revision
}

// ApplyRemote adopts the draft returned by a remote call if no local mutation
// or newer call happened since revision was issued. Stale bodies are dropped.
func (s *WizardSession) ApplyRemote(revision uint64, draft *models.PlanningDraft) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if revision != s.state.Revision {
		s.logger.Debug("discarding stale draft response",
			zap.Uint64("revision", revision),
			zap.Uint64("latest", s.state.Revision))
		return false
	}
	s.bindDraftLocked(draft)
	return true
}

// BindDraft replaces the working copy with an authoritative draft. Local edits
// the draft has not confirmed yet are kept on top of it unless the draft is locked.
func (s *WizardSession) BindDraft(draft *models.PlanningDraft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Revision++
	s.bindDraftLocked(draft)
}

func (s *WizardSession) bindDraftLocked(draft *models.PlanningDraft) {
	if draft == nil {
		return
	}
	if draft.ID != "" {
		id := draft.ID
		s.state.DraftID = &id
	}
	if draft.TermID != "" {
		term := draft.TermID
		s.state.TermID = &term
	}
	if draft.Locked() {
		s.state.Pending = models.PendingSync{}
	}
	pending := s.state.Pending

	local := make(map[string]models.PlannedModuleEntry, len(s.state.ModuleEntries))
	for _, entry := range s.state.ModuleEntries {
		local[entry.ModuleID] = entry
	}
	entries := make([]models.PlannedModuleEntry, 0, len(draft.ModuleEntries)+len(pending.Modules))
	staff := make(map[string][]string, len(draft.ModuleEntries))
	selected := append([]string{}, s.state.SelectedModuleIDs...)
	seen := make(map[string]struct{}, len(draft.ModuleEntries))
	keep := func(entry models.PlannedModuleEntry) {
		if entry.StaffIDs == nil {
			entry.StaffIDs = []string{}
		}
		entries = append(entries, entry)
		staff[entry.ModuleID] = append([]string(nil), entry.StaffIDs...)
		seen[entry.ModuleID] = struct{}{}
		if !containsString(selected, entry.ModuleID) {
			selected = append(selected, entry.ModuleID)
		}
	}
	for _, remote := range draft.ModuleEntries {
		if _, removed := pending.Removed[remote.ModuleID]; removed {
			continue
		}
		if _, dirty := pending.Modules[remote.ModuleID]; dirty {
			if entry, ok := local[remote.ModuleID]; ok {
				entry = entry.Clone()
				if entry.ID == "" {
					entry.ID = remote.ID
				}
				keep(entry)
				continue
			}
		}
		entry := remote.Clone()
		entry.ComputedHours = ResolveHours(s.catalog.FormatsFor(entry.ModuleID), entry.GroupCounts, remote.ComputedHours.Total)
		keep(entry)
	}
	for _, entry := range s.state.ModuleEntries {
		if _, dirty := pending.Modules[entry.ModuleID]; !dirty {
			continue
		}
		if _, ok := seen[entry.ModuleID]; !ok {
			keep(entry.Clone())
		}
	}
	s.state.ModuleEntries = entries
	s.state.StaffAssignmentsByModule = staff
	s.state.SelectedModuleIDs = selected
	if _, dirty := pending.Fields[models.FieldDayOffs]; !dirty {
		s.state.DayOffPreferences = append([]models.DayOffPreference{}, draft.DayOffPreferences...)
	}
	if _, dirty := pending.Fields[models.FieldNotes]; !dirty {
		s.state.Notes = draft.Notes
	}
	if _, dirty := pending.Fields[models.FieldRoomNeedsText]; !dirty {
		s.state.RoomNeedsText = draft.RoomNeedsText
	}
	s.state.Locked = draft.Locked()
	s.state.IsDirty = !pending.Empty()
	s.scheduleSnapshotLocked()
}

// PendingSync returns the local edits the bound draft has not confirmed yet.
func (s *WizardSession) PendingSync() models.PendingSync {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Pending.Clone()
}

// MarkSynced drops the given edits from the pending set. An item edited again
// after the given revision stays pending.
func (s *WizardSession) MarkSynced(synced models.PendingSync) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := &s.state.Pending
	for id, rev := range synced.Modules {
		if current, ok := pending.Modules[id]; ok && current <= rev {
			delete(pending.Modules, id)
		}
	}
	for id, rev := range synced.Removed {
		if current, ok := pending.Removed[id]; ok && current <= rev {
			delete(pending.Removed, id)
		}
	}
	for field, rev := range synced.Fields {
		if current, ok := pending.Fields[field]; ok && current <= rev {
			delete(pending.Fields, field)
		}
	}
	s.state.IsDirty = !pending.Empty()
	s.scheduleSnapshotLocked()
}

// ForgetPendingModules drops unconfirmed module edits, used when the draft's
// module list is replaced on purpose.
func (s *WizardSession) ForgetPendingModules() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Pending.Modules = nil
	s.state.Pending.Removed = nil
}

// MergeTemplateFields copies a template's draft-scalar fields into the session.
// Day-offs are added, replacing any preference for the same slot; notes and
// room needs are overwritten when the template carries a value.
func (s *WizardSession) MergeTemplateFields(template *models.Template) error {
	if template == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureEditableLocked(); err != nil {
		return err
	}
	incoming := append([]models.DayOffPreference{}, template.DayOffPreferences...)
	if err := validateDayOffs(incoming); err != nil {
		return err
	}
	merged := make([]models.DayOffPreference, 0, len(s.state.DayOffPreferences)+len(incoming))
	index := make(map[string]int, cap(merged))
	for _, pref := range s.state.DayOffPreferences {
		index[pref.Slot()] = len(merged)
		merged = append(merged, pref)
	}
	for _, pref := range incoming {
		if i, ok := index[pref.Slot()]; ok {
			merged[i] = pref
			continue
		}
		index[pref.Slot()] = len(merged)
		merged = append(merged, pref)
	}
	s.state.DayOffPreferences = merged
	if template.Notes != "" {
		s.state.Notes = template.Notes
	}
	if template.RoomNeedsText != "" {
		s.state.RoomNeedsText = template.RoomNeedsText
	}
	s.touchLocked()
	if len(incoming) > 0 {
		s.markFieldLocked(models.FieldDayOffs)
	}
	if template.Notes != "" {
		s.markFieldLocked(models.FieldNotes)
	}
	if template.RoomNeedsText != "" {
		s.markFieldLocked(models.FieldRoomNeedsText)
	}
	return nil
}

// ClearDraftReference forgets the bound draft and any lock on it.
func (s *WizardSession) ClearDraftReference() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.DraftID = nil
	s.state.Locked = false
	s.touchLocked()
}

// PersistSnapshot writes the working copy to the snapshot store immediately.
func (s *WizardSession) PersistSnapshot(ctx context.Context) error {
	return s.persist(ctx, false)
}

// persist writes the snapshot. With onlyPending the write is skipped when no
// change is outstanding, so a flush racing a ClearSnapshot cannot bring the
// deleted snapshot back.
func (s *WizardSession) persist(ctx context.Context, onlyPending bool) error {
	s.io.Lock()
	defer s.io.Unlock()

	s.mu.Lock()
	if onlyPending && !s.pending {
		s.mu.Unlock()
		return nil
	}
	s.stopTimerLocked()
	now := s.now().UTC()
	state := s.state.Clone()
	state.LastPersistedAt = &now
	snapshot := models.WizardSnapshot{
		OwnerID:  state.OwnerID,
		SavedAt:  now,
		State:    state,
		Revision: state.Revision,
	}
	s.pending = false
	s.mu.Unlock()

	blob, err := json.Marshal(snapshot)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode wizard snapshot")
	}
	start := time.Now()
	err = s.store.Save(ctx, s.key, blob)
	if s.metrics != nil {
		s.metrics.ObserveSnapshotWrite(time.Since(start), err)
	}
	if err != nil {
		s.mu.Lock()
		s.pending = true
		s.mu.Unlock()
		s.logger.Warn("wizard snapshot write failed", zap.String("key", s.key.String()), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to persist wizard snapshot")
	}

	s.mu.Lock()
	s.state.LastPersistedAt = &now
	s.mu.Unlock()
	return nil
}

// RestoreSnapshot loads the stored snapshot if it was written for userID. A
// snapshot recorded for another user is deleted and restoration fails.
func (s *WizardSession) RestoreSnapshot(ctx context.Context, userID string) (bool, error) {
	blob, err := s.store.Load(ctx, s.key)
	if err != nil {
		if errors.Is(err, appErrors.ErrSnapshotNotFound) {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to read wizard snapshot")
	}

	var snapshot models.WizardSnapshot
	if err := json.Unmarshal(blob, &snapshot); err != nil {
		s.logger.Warn("discarding unreadable wizard snapshot", zap.String("key", s.key.String()), zap.Error(err))
		return false, s.deleteSnapshot(ctx)
	}
	if snapshot.OwnerID == "" || snapshot.OwnerID != userID || snapshot.State.OwnerID != snapshot.OwnerID {
		s.logger.Info("purging wizard snapshot of another user",
			zap.String("key", s.key.String()),
			zap.String("user_id", userID))
		return false, s.deleteSnapshot(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	state := snapshot.State.Clone()
	if state.StaffAssignmentsByModule == nil {
		state.StaffAssignmentsByModule = map[string][]string{}
	}
	if state.ModuleEntries == nil {
		state.ModuleEntries = []models.PlannedModuleEntry{}
	}
	if state.SelectedModuleIDs == nil {
		state.SelectedModuleIDs = []string{}
	}
	if state.DayOffPreferences == nil {
		state.DayOffPreferences = []models.DayOffPreference{}
	}
	if state.Revision < s.state.Revision {
		state.Revision = s.state.Revision
	}
	s.state = state
	return true, nil
}

// ClearSnapshot deletes the stored snapshot and cancels any pending write.
func (s *WizardSession) ClearSnapshot(ctx context.Context) error {
	s.io.Lock()
	defer s.io.Unlock()

	s.mu.Lock()
	s.stopTimerLocked()
	s.pending = false
	s.mu.Unlock()
	return s.deleteSnapshot(ctx)
}

func (s *WizardSession) deleteSnapshot(ctx context.Context) error {
	if err := s.store.Delete(ctx, s.key); err != nil {
		return appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to delete wizard snapshot")
	}
	return nil
}

// Reset discards the working copy and its snapshot.
func (s *WizardSession) Reset(ctx context.Context) error {
	s.mu.Lock()
	revision := s.state.Revision + 1
	s.state = newSessionState(s.state.OwnerID)
	s.state.Revision = revision
	s.mu.Unlock()
	return s.ClearSnapshot(ctx)
}

// Close flushes any pending snapshot write. It is safe to call more than once;
// edits made after Close are still written, without waiting for the debounce.
func (s *WizardSession) Close(ctx context.Context) error {
	s.mu.Lock()
	s.stopTimerLocked()
	s.closed = true
	s.mu.Unlock()
	return s.persist(ctx, true)
}

// HasPendingSnapshot reports whether a write is scheduled but not done.
func (s *WizardSession) HasPendingSnapshot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *WizardSession) touchLocked() {
	s.state.IsDirty = true
	s.state.Revision++
	s.scheduleSnapshotLocked()
}

func (s *WizardSession) markModuleLocked(moduleID string) {
	if s.state.Pending.Modules == nil {
		s.state.Pending.Modules = map[string]uint64{}
	}
	s.state.Pending.Modules[moduleID] = s.state.Revision
	delete(s.state.Pending.Removed, moduleID)
}

func (s *WizardSession) markRemovedLocked(moduleID string) {
	if s.state.Pending.Removed == nil {
		s.state.Pending.Removed = map[string]uint64{}
	}
	s.state.Pending.Removed[moduleID] = s.state.Revision
	delete(s.state.Pending.Modules, moduleID)
}

func (s *WizardSession) markFieldLocked(field models.DraftField) {
	if s.state.Pending.Fields == nil {
		s.state.Pending.Fields = map[models.DraftField]uint64{}
	}
	s.state.Pending.Fields[field] = s.state.Revision
}

func (s *WizardSession) scheduleSnapshotLocked() {
	s.pending = true
	if s.timer != nil {
		s.timer.Stop()
	}
	delay := s.debounce
	if delay <= 0 || s.closed {
		delay = time.Millisecond
	}
	s.timer = time.AfterFunc(delay, s.flushScheduled)
}

func (s *WizardSession) flushScheduled() {
	s.mu.Lock()
	pending := s.pending
	closed := s.closed
	s.timer = nil
	s.mu.Unlock()
	if !pending {
		return
	}
	if s.dispatcher != nil && !closed {
		err := s.dispatcher.Enqueue(jobs.Job{ID: s.key.String(), Type: SnapshotFlushJobType, Payload: s})
		if err == nil {
			return
		}
		s.logger.Warn("snapshot flush enqueue failed, writing inline", zap.Error(err))
	}
	_ = s.persist(context.Background(), true)
}

func (s *WizardSession) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *WizardSession) ensureEditableLocked() error {
	if s.state.Locked {
		return appErrors.ErrDraftLocked
	}
	return nil
}

func (s *WizardSession) indexOfLocked(moduleID string) int {
	for i, entry := range s.state.ModuleEntries {
		if entry.ModuleID == moduleID {
			return i
		}
	}
	return -1
}

// FlushSnapshotJob is the queue handler for SnapshotFlushJobType jobs.
func FlushSnapshotJob(ctx context.Context, job jobs.Job) error {
	session, ok := job.Payload.(*WizardSession)
	if !ok || session == nil {
		return fmt.Errorf("snapshot job %s: unexpected payload %T", job.ID, job.Payload)
	}
	return session.persist(ctx, true)
}

func validateEntryShape(entry models.PlannedModuleEntry) error {
	if strings.TrimSpace(entry.ModuleID) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "module id is required")
	}
	if entry.GroupCounts.HasNegative() {
		return appErrors.Clone(appErrors.ErrValidation, "group counts must not be negative")
	}
	if entry.GroupCounts.IsZero() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("module %s needs at least one group", entry.ModuleID))
	}
	for format, capacity := range entry.RoomCapacities {
		if !format.Valid() {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown teaching format %q", format))
		}
		if capacity < 0 {
			return appErrors.Clone(appErrors.ErrValidation, "room capacity must not be negative")
		}
	}
	for format := range entry.RoomPreferences {
		if !format.Valid() {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown teaching format %q", format))
		}
	}
	return nil
}

func validateDayOffs(prefs []models.DayOffPreference) error {
	seen := make(map[string]struct{}, len(prefs))
	for i := range prefs {
		prefs[i].Weekday = normalizeWeekday(prefs[i].Weekday)
		pref := prefs[i]
		if pref.Weekday == "" {
			return appErrors.Clone(appErrors.ErrValidation, "day-off weekday is required")
		}
		switch pref.Period {
		case models.PeriodFull, models.PeriodMorning, models.PeriodAfternoon:
		default:
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown day-off period %q", pref.Period))
		}
		switch pref.Priority {
		case models.PriorityHigh, models.PriorityMedium, models.PriorityLow:
		default:
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown day-off priority %q", pref.Priority))
		}
		if _, dup := seen[pref.Slot()]; dup {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("day-off %s %s is already requested", pref.Weekday, pref.Period))
		}
		seen[pref.Slot()] = struct{}{}
	}
	return nil
}

func normalizeWeekday(day string) string {
	return strings.ToLower(strings.TrimSpace(day))
}

func uniqueStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
