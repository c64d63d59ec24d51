package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
	"github.com/noah-isme/teaching-load-planner/pkg/jobs"
)

type countingStore struct {
	*MemorySnapshotStore
	saves atomic.Int32
}

func (c *countingStore) Save(ctx context.Context, key models.SnapshotKey, blob []byte) error {
	c.saves.Add(1)
	return c.MemorySnapshotStore.Save(ctx, key, blob)
}

func newTestSession(ownerID string, store SnapshotStore) *WizardSession {
	return NewWizardSession(WizardSessionConfig{
		OwnerID:  ownerID,
		Store:    store,
		Catalog:  testCatalog(),
		Debounce: time.Hour,
	})
}

func TestWizardSessionAddModuleEntryComputesHours(t *testing.T) {
	session := newTestSession("42", nil)

	require.NoError(t, session.AddModuleEntry(models.PlannedModuleEntry{
		ModuleID:    "3",
		GroupCounts: models.GroupCounts{Lecture: 1, Exercise: 2},
		StaffIDs:    []string{"s-1"},
	}))

	state := session.State()
	require.Len(t, state.ModuleEntries, 1)
	assert.Equal(t, 2.0, state.ModuleEntries[0].ComputedHours.Lecture)
	assert.Equal(t, 3.0, state.ModuleEntries[0].ComputedHours.Exercise)
	assert.Equal(t, 5.0, state.ModuleEntries[0].ComputedHours.Total)
	assert.Equal(t, []string{"3"}, state.SelectedModuleIDs)
	assert.Equal(t, []string{"s-1"}, state.StaffAssignmentsByModule["3"])
	assert.True(t, state.IsDirty)
	assert.Equal(t, 5.0, session.TotalHours())
}

func TestWizardSessionRejectsEntryWithoutGroups(t *testing.T) {
	session := newTestSession("42", nil)
	before := session.State()

	err := session.AddModuleEntry(models.PlannedModuleEntry{ModuleID: "7"})

	require.Error(t, err)
	assert.True(t, appErrors.IsValidation(err))
	after := session.State()
	assert.Len(t, after.ModuleEntries, len(before.ModuleEntries))
	assert.Equal(t, before.Revision, after.Revision)
	assert.False(t, after.IsDirty)
}

func TestWizardSessionRejectsNegativeCounts(t *testing.T) {
	session := newTestSession("42", nil)

	err := session.AddModuleEntry(models.PlannedModuleEntry{ModuleID: "7", GroupCounts: models.GroupCounts{Lecture: 2, Lab: -1}})

	assert.True(t, appErrors.IsValidation(err))
	assert.Empty(t, session.State().ModuleEntries)
}

func TestWizardSessionDuplicateModuleLeavesSingleEntry(t *testing.T) {
	session := newTestSession("42", nil)
	require.NoError(t, session.AddModuleEntry(lectureEntry("3", 1)))
	before := session.State()

	err := session.AddModuleEntry(lectureEntry("3", 2))

	require.Error(t, err)
	assert.True(t, appErrors.IsValidation(err))
	after := session.State()
	require.Len(t, after.ModuleEntries, 1)
	assert.Equal(t, 1, after.ModuleEntries[0].GroupCounts.Lecture)
	assert.Equal(t, before.Revision, after.Revision)
}

func TestWizardSessionUpdateKeepsRecordedTotalForUnchangedCounts(t *testing.T) {
	session := newTestSession("42", nil)
	entry := lectureEntry("unknown-module", 1)
	entry.ComputedHours.Total = 4
	require.NoError(t, session.AddModuleEntry(entry))
	require.Equal(t, 4.0, session.TotalHours())

	entry.Notes = "moved to the afternoon"
	require.NoError(t, session.UpdateModuleEntry(entry))
	assert.Equal(t, 4.0, session.TotalHours())

	entry.GroupCounts.Lecture = 2
	require.NoError(t, session.UpdateModuleEntry(entry))
	assert.Equal(t, 0.0, session.TotalHours())
}

func TestWizardSessionUpdateAndRemoveUnknownModule(t *testing.T) {
	session := newTestSession("42", nil)

	assert.True(t, appErrors.HasCode(session.UpdateModuleEntry(lectureEntry("7", 1)), appErrors.ErrNotFound.Code))
	assert.True(t, appErrors.HasCode(session.RemoveModuleEntry("7"), appErrors.ErrNotFound.Code))
	assert.True(t, appErrors.HasCode(session.AssignStaff("7", []string{"s-1"}), appErrors.ErrNotFound.Code))
}

func TestWizardSessionAssignStaffDeduplicates(t *testing.T) {
	session := newTestSession("42", nil)
	require.NoError(t, session.AddModuleEntry(lectureEntry("7", 1)))

	require.NoError(t, session.AssignStaff("7", []string{"s-1", " s-2 ", "s-1", ""}))

	state := session.State()
	assert.Equal(t, []string{"s-1", "s-2"}, state.ModuleEntries[0].StaffIDs)
	assert.Equal(t, []string{"s-1", "s-2"}, state.StaffAssignmentsByModule["7"])
}

func TestWizardSessionDayOffSlotsAreUnique(t *testing.T) {
	session := newTestSession("42", nil)
	friday := models.DayOffPreference{Weekday: "Friday", Period: models.PeriodFull, Priority: models.PriorityHigh}

	require.NoError(t, session.AddDayOff(friday))
	err := session.AddDayOff(models.DayOffPreference{Weekday: "friday", Period: models.PeriodFull, Priority: models.PriorityLow})
	assert.True(t, appErrors.IsValidation(err))

	require.NoError(t, session.AddDayOff(models.DayOffPreference{Weekday: "friday", Period: models.PeriodMorning, Priority: models.PriorityLow}))
	require.Len(t, session.State().DayOffPreferences, 2)
	assert.Equal(t, "friday", session.State().DayOffPreferences[0].Weekday)

	require.NoError(t, session.RemoveDayOff("FRIDAY", models.PeriodFull))
	assert.Len(t, session.State().DayOffPreferences, 1)
	assert.True(t, appErrors.HasCode(session.RemoveDayOff("monday", models.PeriodFull), appErrors.ErrNotFound.Code))
}

func TestWizardSessionRejectsUnknownDayOffValues(t *testing.T) {
	session := newTestSession("42", nil)

	assert.True(t, appErrors.IsValidation(session.AddDayOff(models.DayOffPreference{Weekday: "monday", Period: "evening", Priority: models.PriorityHigh})))
	assert.True(t, appErrors.IsValidation(session.AddDayOff(models.DayOffPreference{Weekday: "monday", Period: models.PeriodFull, Priority: "urgent"})))
	assert.True(t, appErrors.IsValidation(session.AddDayOff(models.DayOffPreference{Period: models.PeriodFull, Priority: models.PriorityLow})))
	assert.Empty(t, session.State().DayOffPreferences)
}

func TestWizardSessionStepGating(t *testing.T) {
	session := newTestSession("42", nil)

	assert.False(t, session.CanAdvance())
	assert.True(t, appErrors.IsValidation(session.SetStep(models.StepModuleSelection)))

	term := planningTerm
	require.NoError(t, session.ApplyPartialUpdate(models.WizardPatch{TermID: &term}))
	require.NoError(t, session.SetStep(models.StepModuleSelection))
	assert.True(t, appErrors.IsValidation(session.SetStep(models.StepModuleConfiguration)))

	require.NoError(t, session.SelectModules([]string{"7", "7", "3"}))
	assert.Equal(t, []string{"7", "3"}, session.State().SelectedModuleIDs)
	require.NoError(t, session.SetStep(models.StepModuleConfiguration))
	assert.True(t, appErrors.IsValidation(session.SetStep(models.StepReview)))

	require.NoError(t, session.AddModuleEntry(lectureEntry("7", 1)))
	require.NoError(t, session.SetStep(models.StepReview))
	assert.True(t, session.StepValid(models.StepReview))

	require.NoError(t, session.SetStep(models.StepTerm))
	assert.True(t, appErrors.IsValidation(session.SetStep(models.WizardStep(12))))
}

func TestWizardSessionLockedStateRefusesEdits(t *testing.T) {
	session := newTestSession("42", nil)
	session.BindDraft(&models.PlanningDraft{ID: "draft-1", TermID: planningTerm, OwnerID: "42", Status: models.DraftStatusSubmitted,
		ModuleEntries: []models.PlannedModuleEntry{{ID: "e-1", ModuleID: "7", GroupCounts: models.GroupCounts{Lecture: 1}}}})
	before := session.State()
	require.True(t, before.Locked)

	assert.ErrorIs(t, session.AddModuleEntry(lectureEntry("3", 1)), appErrors.ErrDraftLocked)
	assert.ErrorIs(t, session.UpdateModuleEntry(lectureEntry("7", 3)), appErrors.ErrDraftLocked)
	assert.ErrorIs(t, session.RemoveModuleEntry("7"), appErrors.ErrDraftLocked)
	notes := "late change"
	assert.ErrorIs(t, session.ApplyPartialUpdate(models.WizardPatch{Notes: &notes}), appErrors.ErrDraftLocked)

	after := session.State()
	assert.Equal(t, before.ModuleEntries, after.ModuleEntries)
	assert.Equal(t, before.Notes, after.Notes)
}

func TestWizardSessionBindDraftRecomputesHours(t *testing.T) {
	session := newTestSession("42", nil)

	session.BindDraft(&models.PlanningDraft{ID: "draft-1", TermID: planningTerm, OwnerID: "42", Status: models.DraftStatusDraft,
		ModuleEntries: []models.PlannedModuleEntry{{ID: "e-1", ModuleID: "9", GroupCounts: models.GroupCounts{Lab: 2}}},
		Notes:         "remote notes"})

	state := session.State()
	require.NotNil(t, state.DraftID)
	assert.Equal(t, "draft-1", *state.DraftID)
	assert.Equal(t, 6.0, state.ModuleEntries[0].ComputedHours.Total)
	assert.Equal(t, "remote notes", state.Notes)
	assert.False(t, state.IsDirty)
	assert.False(t, state.Locked)
}

func TestWizardSessionApplyRemoteDiscardsStaleResponse(t *testing.T) {
	session := newTestSession("42", nil)
	remote := &models.PlanningDraft{ID: "draft-1", TermID: planningTerm, OwnerID: "42", Status: models.DraftStatusDraft, Notes: "server"}

	revision := session.BeginRemote()
	notes := "typed while saving"
	require.NoError(t, session.ApplyPartialUpdate(models.WizardPatch{Notes: &notes}))

	assert.False(t, session.ApplyRemote(revision, remote))
	assert.Equal(t, "typed while saving", session.State().Notes)

	revision = session.BeginRemote()
	latest := session.BeginRemote()
	assert.False(t, session.ApplyRemote(revision, remote))
	assert.True(t, session.ApplyRemote(latest, remote))
	assert.Equal(t, "typed while saving", session.State().Notes)

	session.MarkSynced(session.PendingSync())
	assert.True(t, session.ApplyRemote(session.BeginRemote(), remote))
	assert.Equal(t, "server", session.State().Notes)
}

func TestWizardSessionBindKeepsUnconfirmedEdits(t *testing.T) {
	session := newTestSession("42", nil)
	session.BindDraft(&models.PlanningDraft{ID: "draft-1", TermID: planningTerm, OwnerID: "42", Status: models.DraftStatusDraft,
		ModuleEntries: []models.PlannedModuleEntry{
			{ID: "e-7", ModuleID: "7", GroupCounts: models.GroupCounts{Lecture: 1}},
			{ID: "e-9", ModuleID: "9", GroupCounts: models.GroupCounts{Lab: 1}},
		}})
	require.True(t, session.PendingSync().Empty())

	require.NoError(t, session.UpdateModuleEntry(lectureEntry("7", 3)))
	require.NoError(t, session.RemoveModuleEntry("9"))
	require.NoError(t, session.AddModuleEntry(lectureEntry("3", 1)))
	notes := "mine"
	require.NoError(t, session.ApplyPartialUpdate(models.WizardPatch{Notes: &notes}))

	session.BindDraft(&models.PlanningDraft{ID: "draft-1", TermID: planningTerm, OwnerID: "42", Status: models.DraftStatusDraft,
		ModuleEntries: []models.PlannedModuleEntry{
			{ID: "e-7", ModuleID: "7", GroupCounts: models.GroupCounts{Lecture: 1}},
			{ID: "e-9", ModuleID: "9", GroupCounts: models.GroupCounts{Lab: 1}},
		},
		Notes: "server"})

	state := session.State()
	require.Len(t, state.ModuleEntries, 2)
	assert.Equal(t, "7", state.ModuleEntries[0].ModuleID)
	assert.Equal(t, "e-7", state.ModuleEntries[0].ID)
	assert.Equal(t, 3, state.ModuleEntries[0].GroupCounts.Lecture)
	assert.Equal(t, "3", state.ModuleEntries[1].ModuleID)
	assert.Equal(t, "mine", state.Notes)
	assert.True(t, state.IsDirty)
	assert.Contains(t, state.Pending.Removed, "9")
}

func TestWizardSessionLockedBindDropsUnconfirmedEdits(t *testing.T) {
	session := newTestSession("42", nil)
	session.BindDraft(&models.PlanningDraft{ID: "draft-1", TermID: planningTerm, OwnerID: "42", Status: models.DraftStatusDraft})
	require.NoError(t, session.AddModuleEntry(lectureEntry("7", 1)))

	session.BindDraft(&models.PlanningDraft{ID: "draft-1", TermID: planningTerm, OwnerID: "42", Status: models.DraftStatusSubmitted})

	state := session.State()
	assert.Empty(t, state.ModuleEntries)
	assert.True(t, state.Pending.Empty())
	assert.False(t, state.IsDirty)
	assert.True(t, state.Locked)
}

func TestWizardSessionMarkSyncedKeepsNewerEdit(t *testing.T) {
	session := newTestSession("42", nil)
	require.NoError(t, session.AddModuleEntry(lectureEntry("7", 1)))
	sent := session.PendingSync()
	require.NoError(t, session.UpdateModuleEntry(lectureEntry("7", 2)))
	require.NoError(t, session.AddModuleEntry(lectureEntry("3", 1)))

	session.MarkSynced(sent)

	pending := session.PendingSync()
	assert.Contains(t, pending.Modules, "7")
	assert.Contains(t, pending.Modules, "3")

	session.MarkSynced(session.PendingSync())
	assert.True(t, session.PendingSync().Empty())
	assert.False(t, session.State().IsDirty)
}

func TestWizardSessionSnapshotKeepsUnconfirmedEdits(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()
	session := newTestSession("42", store)
	require.NoError(t, session.AddModuleEntry(lectureEntry("7", 1)))
	require.NoError(t, session.Close(ctx))

	restored := newTestSession("42", store)
	ok, err := restored.RestoreSnapshot(ctx, "42")

	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, restored.PendingSync().Modules, "7")
}

func TestWizardSessionMergeTemplateFields(t *testing.T) {
	session := newTestSession("42", nil)
	require.NoError(t, session.AddDayOff(models.DayOffPreference{Weekday: "friday", Period: models.PeriodFull, Priority: models.PriorityLow}))
	require.NoError(t, session.AddDayOff(models.DayOffPreference{Weekday: "monday", Period: models.PeriodMorning, Priority: models.PriorityLow}))
	notes := "mine"
	require.NoError(t, session.ApplyPartialUpdate(models.WizardPatch{Notes: &notes}))

	require.NoError(t, session.MergeTemplateFields(&models.Template{
		DayOffPreferences: []models.DayOffPreference{
			{Weekday: "friday", Period: models.PeriodFull, Priority: models.PriorityHigh},
			{Weekday: "wednesday", Period: models.PeriodAfternoon, Priority: models.PriorityMedium},
		},
		RoomNeedsText: "projector",
	}))

	state := session.State()
	require.Len(t, state.DayOffPreferences, 3)
	assert.Equal(t, models.PriorityHigh, state.DayOffPreferences[0].Priority)
	assert.Equal(t, "monday", state.DayOffPreferences[1].Weekday)
	assert.Equal(t, "wednesday", state.DayOffPreferences[2].Weekday)
	assert.Equal(t, "mine", state.Notes)
	assert.Equal(t, "projector", state.RoomNeedsText)
}

func TestWizardSessionSnapshotRoundTrip(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()
	session := newTestSession("42", store)
	term := planningTerm
	require.NoError(t, session.ApplyPartialUpdate(models.WizardPatch{TermID: &term}))
	require.NoError(t, session.AddModuleEntry(lectureEntry("7", 2)))
	require.NoError(t, session.PersistSnapshot(ctx))
	assert.False(t, session.HasPendingSnapshot())

	restored := newTestSession("42", store)
	ok, err := restored.RestoreSnapshot(ctx, "42")

	require.NoError(t, err)
	require.True(t, ok)
	state := restored.State()
	require.NotNil(t, state.TermID)
	assert.Equal(t, planningTerm, *state.TermID)
	require.Len(t, state.ModuleEntries, 1)
	assert.Equal(t, 4.0, state.ModuleEntries[0].ComputedHours.Total)
	assert.NotNil(t, state.LastPersistedAt)
}

func TestWizardSessionRestoreWithoutSnapshot(t *testing.T) {
	ok, err := newTestSession("42", nil).RestoreSnapshot(context.Background(), "42")

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWizardSessionSnapshotOfAnotherUserIsPurged(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()
	first := NewWizardSession(WizardSessionConfig{OwnerID: "A", StorageOwner: "kiosk-3", Store: store, Catalog: testCatalog(), Debounce: time.Hour})
	require.NoError(t, first.AddModuleEntry(lectureEntry("7", 1)))
	require.NoError(t, first.PersistSnapshot(ctx))
	key := first.SnapshotKey()
	require.True(t, store.Has(key))

	second := NewWizardSession(WizardSessionConfig{OwnerID: "B", StorageOwner: "kiosk-3", Store: store, Catalog: testCatalog(), Debounce: time.Hour})
	ok, err := second.RestoreSnapshot(ctx, "B")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, store.Has(key))
	assert.Empty(t, second.State().ModuleEntries)
	assert.Equal(t, "B", second.OwnerID())
}

func TestWizardSessionUnreadableSnapshotIsPurged(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()
	session := newTestSession("42", store)
	require.NoError(t, store.Save(ctx, session.SnapshotKey(), []byte("{not json")))

	ok, err := session.RestoreSnapshot(ctx, "42")

	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, store.Has(session.SnapshotKey()))
}

func TestWizardSessionDebounceCoalescesWrites(t *testing.T) {
	store := &countingStore{MemorySnapshotStore: NewMemorySnapshotStore()}
	session := NewWizardSession(WizardSessionConfig{OwnerID: "42", Store: store, Catalog: testCatalog(), Debounce: 30 * time.Millisecond})

	require.NoError(t, session.AddModuleEntry(lectureEntry("7", 1)))
	require.NoError(t, session.AddModuleEntry(lectureEntry("3", 1)))
	require.NoError(t, session.AssignStaff("3", []string{"s-1"}))

	assert.Eventually(t, func() bool { return store.Has(session.SnapshotKey()) }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), store.saves.Load())
	assert.False(t, session.HasPendingSnapshot())
}

func TestWizardSessionCloseFlushesPendingWrite(t *testing.T) {
	store := NewMemorySnapshotStore()
	session := newTestSession("42", store)
	require.NoError(t, session.AddModuleEntry(lectureEntry("7", 1)))
	require.True(t, session.HasPendingSnapshot())
	require.False(t, store.Has(session.SnapshotKey()))

	require.NoError(t, session.Close(context.Background()))

	assert.True(t, store.Has(session.SnapshotKey()))
	assert.False(t, session.HasPendingSnapshot())
	require.NoError(t, session.Close(context.Background()))
}

func TestWizardSessionResetClearsSnapshot(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()
	session := newTestSession("42", store)
	require.NoError(t, session.AddModuleEntry(lectureEntry("7", 1)))
	require.NoError(t, session.PersistSnapshot(ctx))
	revision := session.State().Revision

	require.NoError(t, session.Reset(ctx))

	state := session.State()
	assert.Empty(t, state.ModuleEntries)
	assert.Greater(t, state.Revision, revision)
	assert.False(t, store.Has(session.SnapshotKey()))
	assert.False(t, session.HasPendingSnapshot())
}

func TestWizardSessionFlushAfterClearDoesNotRewrite(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()
	session := newTestSession("42", store)
	require.NoError(t, session.AddModuleEntry(lectureEntry("7", 1)))

	require.NoError(t, session.ClearSnapshot(ctx))
	require.NoError(t, FlushSnapshotJob(ctx, jobs.Job{ID: session.SnapshotKey().String(), Type: SnapshotFlushJobType, Payload: session}))

	assert.False(t, store.Has(session.SnapshotKey()))
}

type gatedStore struct {
	*MemorySnapshotStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Save(ctx context.Context, key models.SnapshotKey, blob []byte) error {
	close(g.entered)
	<-g.release
	return g.MemorySnapshotStore.Save(ctx, key, blob)
}

func TestWizardSessionClearWaitsForInflightWrite(t *testing.T) {
	store := &gatedStore{MemorySnapshotStore: NewMemorySnapshotStore(), entered: make(chan struct{}), release: make(chan struct{})}
	ctx := context.Background()
	session := newTestSession("42", store)
	require.NoError(t, session.AddModuleEntry(lectureEntry("7", 1)))

	written := make(chan error, 1)
	go func() { written <- session.PersistSnapshot(ctx) }()
	<-store.entered
	cleared := make(chan error, 1)
	go func() { cleared <- session.ClearSnapshot(ctx) }()
	close(store.release)

	require.NoError(t, <-written)
	require.NoError(t, <-cleared)
	assert.False(t, store.Has(session.SnapshotKey()))
}

func TestWizardSessionEditAfterCloseIsWritten(t *testing.T) {
	store := NewMemorySnapshotStore()
	ctx := context.Background()
	session := newTestSession("42", store)
	require.NoError(t, session.Close(ctx))
	require.False(t, store.Has(session.SnapshotKey()))

	require.NoError(t, session.AddModuleEntry(lectureEntry("7", 1)))

	assert.Eventually(t, func() bool { return store.Has(session.SnapshotKey()) }, time.Second, 5*time.Millisecond)
	restored := newTestSession("42", store)
	_, err := restored.RestoreSnapshot(ctx, "42")
	require.NoError(t, err)
	assert.Len(t, restored.State().ModuleEntries, 1)
}

func TestWizardSessionFlushThroughQueue(t *testing.T) {
	store := NewMemorySnapshotStore()
	queue := jobs.NewQueue("snapshots", FlushSnapshotJob, jobs.QueueConfig{Workers: 1})
	queue.Start(context.Background())
	defer queue.Stop()
	session := NewWizardSession(WizardSessionConfig{OwnerID: "42", Store: store, Catalog: testCatalog(), Debounce: time.Millisecond, Dispatcher: queue})

	require.NoError(t, session.AddModuleEntry(lectureEntry("7", 1)))

	assert.Eventually(t, func() bool { return store.Has(session.SnapshotKey()) }, time.Second, 5*time.Millisecond)
}

func TestFlushSnapshotJobRejectsForeignPayload(t *testing.T) {
	err := FlushSnapshotJob(context.Background(), jobs.Job{ID: "x", Type: SnapshotFlushJobType, Payload: "nope"})

	assert.Error(t, err)
}
