package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/teaching-load-planner/internal/models"
)

// ErrDuplicateDraft is returned when a draft already exists for the owner and term.
var ErrDuplicateDraft = errors.New("draft already exists for owner and term")

// ErrDuplicateEntry is returned when the module is already part of the draft.
var ErrDuplicateEntry = errors.New("module already part of draft")

const uniqueViolation = "23505"

const draftColumns = `id, term_id, program_id, owner_id, status, day_off_preferences, notes, room_needs_text,
	submitted_at, reviewed_at, reviewed_by, rejection_reason, created_at, updated_at`

const entryColumns = `id, draft_id, module_id, position, lecture_groups, exercise_groups, lab_groups, seminar_groups,
	lecture_hours, exercise_hours, lab_hours, seminar_hours, total_hours, staff_ids, room_preferences, room_capacities, notes`

type draftRow struct {
	ID                string             `db:"id"`
	TermID            string             `db:"term_id"`
	ProgramID         *string            `db:"program_id"`
	OwnerID           string             `db:"owner_id"`
	Status            models.DraftStatus `db:"status"`
	DayOffPreferences []byte             `db:"day_off_preferences"`
	Notes             string             `db:"notes"`
	RoomNeedsText     string             `db:"room_needs_text"`
	SubmittedAt       *time.Time         `db:"submitted_at"`
	ReviewedAt        *time.Time         `db:"reviewed_at"`
	ReviewedBy        *string            `db:"reviewed_by"`
	RejectionReason   *string            `db:"rejection_reason"`
	CreatedAt         time.Time          `db:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at"`
}

type moduleEntryRow struct {
	ID       string `db:"id"`
	DraftID  string `db:"draft_id"`
	ModuleID string `db:"module_id"`
	Position int    `db:"position"`
	models.GroupCounts
	models.ComputedHours
	StaffIDs        pq.StringArray `db:"staff_ids"`
	RoomPreferences []byte         `db:"room_preferences"`
	RoomCapacities  []byte         `db:"room_capacities"`
	Notes           string         `db:"notes"`
}

// UpdateDraftStatusParams describes a guarded status transition.
type UpdateDraftStatusParams struct {
	ID              string
	From            models.DraftStatus
	To              models.DraftStatus
	SubmittedAt     *time.Time
	ReviewedAt      *time.Time
	ReviewedBy      *string
	RejectionReason *string
}

// DraftRepository persists planning drafts and their module entries.
type DraftRepository struct {
	db *sqlx.DB
}

// NewDraftRepository constructs the repository.
func NewDraftRepository(db *sqlx.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

// FindByID loads a draft with its module entries.
func (r *DraftRepository) FindByID(ctx context.Context, id string) (*models.PlanningDraft, error) {
	query := fmt.Sprintf(`SELECT %s FROM planning_drafts WHERE id = $1`, draftColumns)
	var row draftRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return r.hydrate(ctx, row)
}

// FindByOwnerAndTerm returns the owner's draft for the term and program.
func (r *DraftRepository) FindByOwnerAndTerm(ctx context.Context, ownerID, termID string, programID *string) (*models.PlanningDraft, error) {
	program := ""
	if programID != nil {
		program = *programID
	}
	query := fmt.Sprintf(`SELECT %s FROM planning_drafts WHERE owner_id = $1 AND term_id = $2 AND COALESCE(program_id, '') = $3`, draftColumns)
	var row draftRow
	if err := r.db.GetContext(ctx, &row, query, ownerID, termID, program); err != nil {
		return nil, err
	}
	return r.hydrate(ctx, row)
}

// List returns drafts without module entries, newest first.
func (r *DraftRepository) List(ctx context.Context, filter models.DraftFilter) ([]models.PlanningDraft, int, error) {
	base := " FROM planning_drafts WHERE 1=1"
	args := make([]interface{}, 0, 3)
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		base += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	if filter.TermID != "" {
		args = append(args, filter.TermID)
		base += fmt.Sprintf(" AND term_id = $%d", len(args))
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			statuses[i] = string(status)
		}
		args = append(args, pq.Array(statuses))
		base += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}

	query := fmt.Sprintf("SELECT %s%s ORDER BY updated_at DESC LIMIT %d OFFSET %d", draftColumns, base, size, (page-1)*size)
	var rows []draftRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list drafts: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count drafts: %w", err)
	}

	drafts := make([]models.PlanningDraft, 0, len(rows))
	for _, row := range rows {
		draft, err := row.toModel()
		if err != nil {
			return nil, 0, err
		}
		drafts = append(drafts, *draft)
	}
	return drafts, total, nil
}

// CountByOwnerAndStatus counts the owner's drafts for a term in the given status.
func (r *DraftRepository) CountByOwnerAndStatus(ctx context.Context, ownerID, termID string, status models.DraftStatus) (int, error) {
	const query = `SELECT COUNT(*) FROM planning_drafts WHERE owner_id = $1 AND term_id = $2 AND status = $3`
	var count int
	if err := r.db.GetContext(ctx, &count, query, ownerID, termID, status); err != nil {
		return 0, fmt.Errorf("count drafts by status: %w", err)
	}
	return count, nil
}

// Create inserts an empty draft.
func (r *DraftRepository) Create(ctx context.Context, draft *models.PlanningDraft) error {
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	if draft.Status == "" {
		draft.Status = models.DraftStatusDraft
	}
	now := time.Now().UTC()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now
	if draft.ModuleEntries == nil {
		draft.ModuleEntries = []models.PlannedModuleEntry{}
	}
	if draft.DayOffPreferences == nil {
		draft.DayOffPreferences = []models.DayOffPreference{}
	}

	row, err := newDraftRow(draft)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO planning_drafts (%s) VALUES (:id, :term_id, :program_id, :owner_id, :status, :day_off_preferences, :notes, :room_needs_text,
	:submitted_at, :reviewed_at, :reviewed_by, :rejection_reason, :created_at, :updated_at)`, draftColumns)
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateDraft
		}
		return fmt.Errorf("create draft: %w", err)
	}
	return nil
}

// UpdateFields writes the draft-scalar fields present in patch.
func (r *DraftRepository) UpdateFields(ctx context.Context, id string, patch models.DraftFieldsPatch) error {
	sets := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)
	if patch.Notes != nil {
		args = append(args, *patch.Notes)
		sets = append(sets, fmt.Sprintf("notes = $%d", len(args)))
	}
	if patch.RoomNeedsText != nil {
		args = append(args, *patch.RoomNeedsText)
		sets = append(sets, fmt.Sprintf("room_needs_text = $%d", len(args)))
	}
	if patch.DayOffPreferences != nil {
		prefs := *patch.DayOffPreferences
		if prefs == nil {
			prefs = []models.DayOffPreference{}
		}
		payload, err := json.Marshal(prefs)
		if err != nil {
			return fmt.Errorf("marshal day-off preferences: %w", err)
		}
		args = append(args, payload)
		sets = append(sets, fmt.Sprintf("day_off_preferences = $%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, time.Now().UTC())
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id)

	query := fmt.Sprintf("UPDATE planning_drafts SET %s WHERE id = $%d AND status = 'draft'", strings.Join(sets, ", "), len(args))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update draft fields: %w", err)
	}
	return expectAffected(res)
}

// UpdateStatus moves a draft from params.From to params.To. It returns
// sql.ErrNoRows when the draft is not in the expected status.
func (r *DraftRepository) UpdateStatus(ctx context.Context, params UpdateDraftStatusParams) error {
	const query = `UPDATE planning_drafts
	SET status = $1, submitted_at = COALESCE($2, submitted_at), reviewed_at = $3, reviewed_by = $4, rejection_reason = $5, updated_at = $6
	WHERE id = $7 AND status = $8`
	res, err := r.db.ExecContext(ctx, query, params.To, params.SubmittedAt, params.ReviewedAt, params.ReviewedBy, params.RejectionReason, time.Now().UTC(), params.ID, params.From)
	if err != nil {
		return fmt.Errorf("update draft status: %w", err)
	}
	return expectAffected(res)
}

// Delete removes the draft; module entries cascade.
func (r *DraftRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM planning_drafts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return expectAffected(res)
}

// InsertEntry appends a module entry to the draft.
func (r *DraftRepository) InsertEntry(ctx context.Context, draftID string, entry *models.PlannedModuleEntry) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert entry: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var position int
	if err = tx.GetContext(ctx, &position, `SELECT COALESCE(MAX(position), -1) + 1 FROM planning_module_entries WHERE draft_id = $1`, draftID); err != nil {
		return fmt.Errorf("next entry position: %w", err)
	}
	if err = insertEntryTx(ctx, tx, draftID, position, entry); err != nil {
		return err
	}
	if err = touchDraftTx(ctx, tx, draftID); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit insert entry: %w", err)
	}
	return nil
}

// UpdateEntry overwrites a module entry.
func (r *DraftRepository) UpdateEntry(ctx context.Context, draftID string, entry *models.PlannedModuleEntry) error {
	row, err := newEntryRow(draftID, 0, entry)
	if err != nil {
		return err
	}
	const query = `UPDATE planning_module_entries SET
	lecture_groups = :lecture_groups, exercise_groups = :exercise_groups, lab_groups = :lab_groups, seminar_groups = :seminar_groups,
	lecture_hours = :lecture_hours, exercise_hours = :exercise_hours, lab_hours = :lab_hours, seminar_hours = :seminar_hours, total_hours = :total_hours,
	staff_ids = :staff_ids, room_preferences = :room_preferences, room_capacities = :room_capacities, notes = :notes
	WHERE id = :id AND draft_id = :draft_id`
	res, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE planning_drafts SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), draftID)
	if err != nil {
		return fmt.Errorf("touch draft: %w", err)
	}
	return nil
}

// DeleteEntry removes a module entry.
func (r *DraftRepository) DeleteEntry(ctx context.Context, draftID, entryID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM planning_module_entries WHERE id = $1 AND draft_id = $2`, entryID, draftID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return expectAffected(res)
}

// MergeEntries adds entries in one transaction. With clearExisting the draft's
// entries are removed first.
func (r *DraftRepository) MergeEntries(ctx context.Context, draftID string, clearExisting bool, entries []models.PlannedModuleEntry) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge entries: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if clearExisting {
		if _, err = tx.ExecContext(ctx, `DELETE FROM planning_module_entries WHERE draft_id = $1`, draftID); err != nil {
			return fmt.Errorf("clear entries: %w", err)
		}
	}
	var position int
	if err = tx.GetContext(ctx, &position, `SELECT COALESCE(MAX(position), -1) + 1 FROM planning_module_entries WHERE draft_id = $1`, draftID); err != nil {
		return fmt.Errorf("next entry position: %w", err)
	}
	for i := range entries {
		if err = insertEntryTx(ctx, tx, draftID, position+i, &entries[i]); err != nil {
			return err
		}
	}
	if err = touchDraftTx(ctx, tx, draftID); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit merge entries: %w", err)
	}
	return nil
}

func (r *DraftRepository) hydrate(ctx context.Context, row draftRow) (*models.PlanningDraft, error) {
	draft, err := row.toModel()
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM planning_module_entries WHERE draft_id = $1 ORDER BY position, module_id`, entryColumns)
	var rows []moduleEntryRow
	if err := r.db.SelectContext(ctx, &rows, query, row.ID); err != nil {
		return nil, fmt.Errorf("load draft entries: %w", err)
	}
	draft.ModuleEntries = make([]models.PlannedModuleEntry, 0, len(rows))
	for _, entryRow := range rows {
		entry, err := entryRow.toModel()
		if err != nil {
			return nil, err
		}
		draft.ModuleEntries = append(draft.ModuleEntries, entry)
	}
	return draft, nil
}

func insertEntryTx(ctx context.Context, tx *sqlx.Tx, draftID string, position int, entry *models.PlannedModuleEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	row, err := newEntryRow(draftID, position, entry)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO planning_module_entries (%s) VALUES (:id, :draft_id, :module_id, :position,
	:lecture_groups, :exercise_groups, :lab_groups, :seminar_groups,
	:lecture_hours, :exercise_hours, :lab_hours, :seminar_hours, :total_hours,
	:staff_ids, :room_preferences, :room_capacities, :notes)`, entryColumns)
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func touchDraftTx(ctx context.Context, tx *sqlx.Tx, draftID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE planning_drafts SET updated_at = $1 WHERE id = $2`, time.Now().UTC(), draftID); err != nil {
		return fmt.Errorf("touch draft: %w", err)
	}
	return nil
}

func newDraftRow(draft *models.PlanningDraft) (draftRow, error) {
	prefs, err := json.Marshal(draft.DayOffPreferences)
	if err != nil {
		return draftRow{}, fmt.Errorf("marshal day-off preferences: %w", err)
	}
	return draftRow{
		ID:                draft.ID,
		TermID:            draft.TermID,
		ProgramID:         draft.ProgramID,
		OwnerID:           draft.OwnerID,
		Status:            draft.Status,
		DayOffPreferences: prefs,
		Notes:             draft.Notes,
		RoomNeedsText:     draft.RoomNeedsText,
		SubmittedAt:       draft.SubmittedAt,
		ReviewedAt:        draft.ReviewedAt,
		ReviewedBy:        draft.ReviewedBy,
		RejectionReason:   draft.RejectionReason,
		CreatedAt:         draft.CreatedAt,
		UpdatedAt:         draft.UpdatedAt,
	}, nil
}

func (row draftRow) toModel() (*models.PlanningDraft, error) {
	draft := &models.PlanningDraft{
		ID:                row.ID,
		TermID:            row.TermID,
		ProgramID:         row.ProgramID,
		OwnerID:           row.OwnerID,
		Status:            row.Status,
		ModuleEntries:     []models.PlannedModuleEntry{},
		DayOffPreferences: []models.DayOffPreference{},
		Notes:             row.Notes,
		RoomNeedsText:     row.RoomNeedsText,
		SubmittedAt:       row.SubmittedAt,
		ReviewedAt:        row.ReviewedAt,
		ReviewedBy:        row.ReviewedBy,
		RejectionReason:   row.RejectionReason,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
	if len(row.DayOffPreferences) > 0 {
		if err := json.Unmarshal(row.DayOffPreferences, &draft.DayOffPreferences); err != nil {
			return nil, fmt.Errorf("decode day-off preferences of draft %s: %w", row.ID, err)
		}
	}
	return draft, nil
}

func newEntryRow(draftID string, position int, entry *models.PlannedModuleEntry) (moduleEntryRow, error) {
	prefs := entry.RoomPreferences
	if prefs == nil {
		prefs = map[models.TeachingFormat]string{}
	}
	caps := entry.RoomCapacities
	if caps == nil {
		caps = map[models.TeachingFormat]int{}
	}
	rawPrefs, err := json.Marshal(prefs)
	if err != nil {
		return moduleEntryRow{}, fmt.Errorf("marshal room preferences: %w", err)
	}
	rawCaps, err := json.Marshal(caps)
	if err != nil {
		return moduleEntryRow{}, fmt.Errorf("marshal room capacities: %w", err)
	}
	staff := entry.StaffIDs
	if staff == nil {
		staff = []string{}
	}
	return moduleEntryRow{
		ID:              entry.ID,
		DraftID:         draftID,
		ModuleID:        entry.ModuleID,
		Position:        position,
		GroupCounts:     entry.GroupCounts,
		ComputedHours:   entry.ComputedHours,
		StaffIDs:        pq.StringArray(staff),
		RoomPreferences: rawPrefs,
		RoomCapacities:  rawCaps,
		Notes:           entry.Notes,
	}, nil
}

func (row moduleEntryRow) toModel() (models.PlannedModuleEntry, error) {
	entry := models.PlannedModuleEntry{
		ID:            row.ID,
		ModuleID:      row.ModuleID,
		GroupCounts:   row.GroupCounts,
		ComputedHours: row.ComputedHours,
		StaffIDs:      append([]string{}, row.StaffIDs...),
		Notes:         row.Notes,
	}
	if len(row.RoomPreferences) > 0 {
		if err := json.Unmarshal(row.RoomPreferences, &entry.RoomPreferences); err != nil {
			return entry, fmt.Errorf("decode room preferences of entry %s: %w", row.ID, err)
		}
	}
	if len(row.RoomCapacities) > 0 {
		if err := json.Unmarshal(row.RoomCapacities, &entry.RoomCapacities); err != nil {
			return entry, fmt.Errorf("decode room capacities of entry %s: %w", row.ID, err)
		}
	}
	return entry, nil
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
