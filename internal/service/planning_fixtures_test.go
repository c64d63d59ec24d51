package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	"github.com/noah-isme/teaching-load-planner/internal/repository"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
)

// memoryDraftRepo mimics the PostgreSQL draft repository, including the
// status guards its UPDATE statements carry.
type memoryDraftRepo struct {
	mu     sync.Mutex
	drafts map[string]*models.PlanningDraft
	seq    int
}

func newMemoryDraftRepo() *memoryDraftRepo {
	return &memoryDraftRepo{drafts: make(map[string]*models.PlanningDraft)}
}

func (r *memoryDraftRepo) nextID(prefix string) string {
	r.seq++
	return fmt.Sprintf("%s-%d", prefix, r.seq)
}

func cloneDraft(d *models.PlanningDraft) *models.PlanningDraft {
	out := *d
	out.ModuleEntries = make([]models.PlannedModuleEntry, len(d.ModuleEntries))
	for i, entry := range d.ModuleEntries {
		out.ModuleEntries[i] = entry.Clone()
	}
	out.DayOffPreferences = append([]models.DayOffPreference{}, d.DayOffPreferences...)
	return &out
}

func (r *memoryDraftRepo) put(d *models.PlanningDraft) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drafts[d.ID] = cloneDraft(d)
}

func (r *memoryDraftRepo) setStatus(id string, status models.DraftStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drafts[id].Status = status
}

func (r *memoryDraftRepo) FindByID(ctx context.Context, id string) (*models.PlanningDraft, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drafts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneDraft(d), nil
}

func (r *memoryDraftRepo) FindByOwnerAndTerm(ctx context.Context, ownerID, termID string, programID *string) (*models.PlanningDraft, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drafts {
		if d.OwnerID == ownerID && d.TermID == termID && samePtr(d.ProgramID, programID) {
			return cloneDraft(d), nil
		}
	}
	return nil, sql.ErrNoRows
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *memoryDraftRepo) List(ctx context.Context, filter models.DraftFilter) ([]models.PlanningDraft, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.PlanningDraft{}
	for _, d := range r.drafts {
		if filter.OwnerID != "" && d.OwnerID != filter.OwnerID {
			continue
		}
		if filter.TermID != "" && d.TermID != filter.TermID {
			continue
		}
		out = append(out, *cloneDraft(d))
	}
	return out, len(out), nil
}

func (r *memoryDraftRepo) CountByOwnerAndStatus(ctx context.Context, ownerID, termID string, status models.DraftStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.drafts {
		if d.OwnerID == ownerID && d.TermID == termID && d.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *memoryDraftRepo) Create(ctx context.Context, draft *models.PlanningDraft) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drafts {
		if d.OwnerID == draft.OwnerID && d.TermID == draft.TermID && samePtr(d.ProgramID, draft.ProgramID) {
			return repository.ErrDuplicateDraft
		}
	}
	draft.ID = r.nextID("draft")
	if draft.Status == "" {
		draft.Status = models.DraftStatusDraft
	}
	if draft.ModuleEntries == nil {
		draft.ModuleEntries = []models.PlannedModuleEntry{}
	}
	if draft.DayOffPreferences == nil {
		draft.DayOffPreferences = []models.DayOffPreference{}
	}
	draft.CreatedAt = time.Now().UTC()
	draft.UpdatedAt = draft.CreatedAt
	r.drafts[draft.ID] = cloneDraft(draft)
	return nil
}

func (r *memoryDraftRepo) editable(id string) (*models.PlanningDraft, error) {
	d, ok := r.drafts[id]
	if !ok || d.Status != models.DraftStatusDraft {
		return nil, sql.ErrNoRows
	}
	return d, nil
}

func (r *memoryDraftRepo) UpdateFields(ctx context.Context, id string, patch models.DraftFieldsPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.editable(id)
	if err != nil {
		return err
	}
	if patch.Notes != nil {
		d.Notes = *patch.Notes
	}
	if patch.RoomNeedsText != nil {
		d.RoomNeedsText = *patch.RoomNeedsText
	}
	if patch.DayOffPreferences != nil {
		d.DayOffPreferences = append([]models.DayOffPreference{}, (*patch.DayOffPreferences)...)
	}
	return nil
}

func (r *memoryDraftRepo) UpdateStatus(ctx context.Context, params repository.UpdateDraftStatusParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drafts[params.ID]
	if !ok || d.Status != params.From {
		return sql.ErrNoRows
	}
	d.Status = params.To
	if params.SubmittedAt != nil {
		d.SubmittedAt = params.SubmittedAt
	}
	d.ReviewedAt = params.ReviewedAt
	d.ReviewedBy = params.ReviewedBy
	d.RejectionReason = params.RejectionReason
	return nil
}

func (r *memoryDraftRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drafts[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.drafts, id)
	return nil
}

func (r *memoryDraftRepo) InsertEntry(ctx context.Context, draftID string, entry *models.PlannedModuleEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.editable(draftID)
	if err != nil {
		return err
	}
	if _, exists := d.FindEntry(entry.ModuleID); exists {
		return repository.ErrDuplicateEntry
	}
	entry.ID = r.nextID("entry")
	d.ModuleEntries = append(d.ModuleEntries, entry.Clone())
	return nil
}

func (r *memoryDraftRepo) UpdateEntry(ctx context.Context, draftID string, entry *models.PlannedModuleEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.editable(draftID)
	if err != nil {
		return err
	}
	for i := range d.ModuleEntries {
		if d.ModuleEntries[i].ID == entry.ID {
			d.ModuleEntries[i] = entry.Clone()
			return nil
		}
	}
	return sql.ErrNoRows
}

func (r *memoryDraftRepo) DeleteEntry(ctx context.Context, draftID, entryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.editable(draftID)
	if err != nil {
		return err
	}
	for i := range d.ModuleEntries {
		if d.ModuleEntries[i].ID == entryID {
			d.ModuleEntries = append(d.ModuleEntries[:i], d.ModuleEntries[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (r *memoryDraftRepo) MergeEntries(ctx context.Context, draftID string, clearExisting bool, entries []models.PlannedModuleEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, err := r.editable(draftID)
	if err != nil {
		return err
	}
	if clearExisting {
		d.ModuleEntries = []models.PlannedModuleEntry{}
	}
	for _, entry := range entries {
		if _, exists := d.FindEntry(entry.ModuleID); exists {
			return repository.ErrDuplicateEntry
		}
		entry = entry.Clone()
		entry.ID = r.nextID("entry")
		d.ModuleEntries = append(d.ModuleEntries, entry)
	}
	return nil
}

type staticCatalog struct {
	catalog models.ModuleCatalog
	err     error
}

func (c staticCatalog) Catalog(ctx context.Context) (models.ModuleCatalog, error) {
	return c.catalog, c.err
}

type memoryTemplates struct {
	templates []*models.Template
}

func (m *memoryTemplates) ForTermType(ctx context.Context, actor models.Actor, termType models.TemplateTermType) (*models.Template, error) {
	for _, t := range m.templates {
		if t.OwnerID == actor.UserID && t.TermType == termType {
			return t, nil
		}
	}
	return nil, nil
}

func (m *memoryTemplates) Get(ctx context.Context, actor models.Actor, id string) (*models.Template, error) {
	for _, t := range m.templates {
		if t.ID != id {
			continue
		}
		if t.OwnerID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "template belongs to another user")
		}
		return t, nil
	}
	return nil, appErrors.ErrTemplateUnavailable
}

type stubPhases struct {
	phase  *models.PlanningPhase
	status *models.SubmissionStatus
}

func (s *stubPhases) Active(ctx context.Context) (*models.PlanningPhase, error) {
	return s.phase, nil
}

func (s *stubPhases) SubmissionStatus(ctx context.Context, userID string) (*models.SubmissionStatus, error) {
	if s.status != nil {
		status := *s.status
		status.UserID = userID
		return &status, nil
	}
	return &models.SubmissionStatus{UserID: userID, CanSubmit: s.phase != nil}, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *recordingAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, log := range a.logs {
		out = append(out, log.Action)
	}
	return out
}

const planningTerm = "2026-winter"

func testCatalog() models.ModuleCatalog {
	return models.ModuleCatalog{
		"7": {{ModuleID: "7", Code: models.FormatLecture, HoursPerGroup: 2}},
		"3": {
			{ModuleID: "3", Code: models.FormatLecture, HoursPerGroup: 2},
			{ModuleID: "3", Code: models.FormatExercise, HoursPerGroup: 1.5},
		},
		"9": {{ModuleID: "9", Code: models.FormatLab, HoursPerGroup: 3}},
	}
}

func openPhase() *models.PlanningPhase {
	now := time.Now()
	return &models.PlanningPhase{ID: "phase-1", Name: "Winter planning", TermID: planningTerm, StartsAt: now.Add(-time.Hour), Deadline: now.Add(24 * time.Hour), Active: true}
}

type planningEnv struct {
	repo      *memoryDraftRepo
	templates *memoryTemplates
	phases    *stubPhases
	audit     *recordingAudit
	service   *DraftService
}

func newPlanningEnv(t *testing.T) *planningEnv {
	t.Helper()
	env := &planningEnv{
		repo:      newMemoryDraftRepo(),
		templates: &memoryTemplates{},
		phases:    &stubPhases{phase: openPhase()},
		audit:     &recordingAudit{},
	}
	env.service = NewDraftService(DraftServiceDeps{
		Drafts:    env.repo,
		Catalog:   staticCatalog{catalog: testCatalog()},
		Templates: env.templates,
		Phases:    env.phases,
		Audit:     env.audit,
		Logger:    zap.NewNop(),
	})
	return env
}

func (e *planningEnv) workflow(actor models.Actor, store SnapshotStore) *PlanningWorkflow {
	return e.workflowWithBackend(actor, store, e.service)
}

func (e *planningEnv) workflowWithBackend(actor models.Actor, store SnapshotStore, backend PlanningBackend) *PlanningWorkflow {
	session := NewWizardSession(WizardSessionConfig{
		OwnerID:  actor.UserID,
		Store:    store,
		Catalog:  testCatalog(),
		Debounce: time.Hour,
	})
	return NewPlanningWorkflow(WorkflowConfig{Actor: actor, Session: session, Backend: backend})
}

// flakyBackend fails selected backend calls with err.
type flakyBackend struct {
	PlanningBackend
	err        error
	failAdd    bool
	failGet    bool
	failApply  bool
	failFields bool
}

func (f *flakyBackend) UpdateDraftFields(ctx context.Context, actor models.Actor, id string, patch models.DraftFieldsPatch) (*models.PlanningDraft, error) {
	if f.failFields {
		return nil, f.err
	}
	return f.PlanningBackend.UpdateDraftFields(ctx, actor, id, patch)
}

func (f *flakyBackend) AddModuleEntry(ctx context.Context, actor models.Actor, draftID string, entry models.PlannedModuleEntry) (*models.PlannedModuleEntry, error) {
	if f.failAdd {
		return nil, f.err
	}
	return f.PlanningBackend.AddModuleEntry(ctx, actor, draftID, entry)
}

func (f *flakyBackend) GetDraft(ctx context.Context, actor models.Actor, id string) (*models.PlanningDraft, error) {
	if f.failGet {
		return nil, f.err
	}
	return f.PlanningBackend.GetDraft(ctx, actor, id)
}

func (f *flakyBackend) ApplyTemplateToDraft(ctx context.Context, actor models.Actor, templateID, draftID string, clearExisting bool) (*models.TemplateApplyResult, error) {
	if f.failApply {
		return nil, f.err
	}
	return f.PlanningBackend.ApplyTemplateToDraft(ctx, actor, templateID, draftID, clearExisting)
}

var (
	ownerActor    = models.Actor{UserID: "42", Role: models.RoleStaff}
	intruderActor = models.Actor{UserID: "99", Role: models.RoleStaff}
	reviewerActor = models.Actor{UserID: "r-1", Role: models.RoleReviewer}
	adminActor    = models.Actor{UserID: "a-1", Role: models.RoleAdmin}
)

func lectureEntry(moduleID string, lectures int) models.PlannedModuleEntry {
	return models.PlannedModuleEntry{ModuleID: moduleID, GroupCounts: models.GroupCounts{Lecture: lectures}}
}
