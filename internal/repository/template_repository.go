package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/teaching-load-planner/internal/models"
)

const templateColumns = `id, name, owner_id, term_type, module_entries, day_off_preferences, notes, room_needs_text, created_at, updated_at`

type templateRow struct {
	ID                string                  `db:"id"`
	Name              string                  `db:"name"`
	OwnerID           string                  `db:"owner_id"`
	TermType          models.TemplateTermType `db:"term_type"`
	ModuleEntries     []byte                  `db:"module_entries"`
	DayOffPreferences []byte                  `db:"day_off_preferences"`
	Notes             string                  `db:"notes"`
	RoomNeedsText     string                  `db:"room_needs_text"`
	CreatedAt         time.Time               `db:"created_at"`
	UpdatedAt         time.Time               `db:"updated_at"`
}

// TemplateRepository persists user-owned planning templates.
type TemplateRepository struct {
	db *sqlx.DB
}

// NewTemplateRepository constructs the repository.
func NewTemplateRepository(db *sqlx.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// FindByID loads a template.
func (r *TemplateRepository) FindByID(ctx context.Context, id string) (*models.Template, error) {
	query := fmt.Sprintf(`SELECT %s FROM planning_templates WHERE id = $1`, templateColumns)
	var row templateRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return row.toModel()
}

// FindLatestForTermType returns the owner's most recently updated template for the term type.
func (r *TemplateRepository) FindLatestForTermType(ctx context.Context, ownerID string, termType models.TemplateTermType) (*models.Template, error) {
	query := fmt.Sprintf(`SELECT %s FROM planning_templates WHERE owner_id = $1 AND term_type = $2 ORDER BY updated_at DESC LIMIT 1`, templateColumns)
	var row templateRow
	if err := r.db.GetContext(ctx, &row, query, ownerID, termType); err != nil {
		return nil, err
	}
	return row.toModel()
}

// ListByOwner returns all templates of the owner ordered by name.
func (r *TemplateRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Template, error) {
	query := fmt.Sprintf(`SELECT %s FROM planning_templates WHERE owner_id = $1 ORDER BY name`, templateColumns)
	var rows []templateRow
	if err := r.db.SelectContext(ctx, &rows, query, ownerID); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	templates := make([]models.Template, 0, len(rows))
	for _, row := range rows {
		template, err := row.toModel()
		if err != nil {
			return nil, err
		}
		templates = append(templates, *template)
	}
	return templates, nil
}

// Upsert creates the template or replaces the one with the same owner and name.
func (r *TemplateRepository) Upsert(ctx context.Context, template *models.Template) error {
	if template.ID == "" {
		template.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}
	template.UpdatedAt = now

	row, err := newTemplateRow(template)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO planning_templates (%s)
	VALUES (:id, :name, :owner_id, :term_type, :module_entries, :day_off_preferences, :notes, :room_needs_text, :created_at, :updated_at)
	ON CONFLICT (owner_id, name) DO UPDATE SET
		term_type = EXCLUDED.term_type,
		module_entries = EXCLUDED.module_entries,
		day_off_preferences = EXCLUDED.day_off_preferences,
		notes = EXCLUDED.notes,
		room_needs_text = EXCLUDED.room_needs_text,
		updated_at = EXCLUDED.updated_at
	RETURNING id, created_at`, templateColumns)
	bound, args, err := sqlx.Named(query, row)
	if err != nil {
		return fmt.Errorf("bind template upsert: %w", err)
	}
	var stored struct {
		ID        string    `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}
	if err := r.db.GetContext(ctx, &stored, r.db.Rebind(bound), args...); err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	template.ID = stored.ID
	template.CreatedAt = stored.CreatedAt
	return nil
}

// Delete removes a template owned by ownerID.
func (r *TemplateRepository) Delete(ctx context.Context, ownerID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM planning_templates WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return expectAffected(res)
}

func newTemplateRow(template *models.Template) (templateRow, error) {
	entries := template.ModuleEntries
	if entries == nil {
		entries = []models.TemplateModuleEntry{}
	}
	prefs := template.DayOffPreferences
	if prefs == nil {
		prefs = []models.DayOffPreference{}
	}
	rawEntries, err := json.Marshal(entries)
	if err != nil {
		return templateRow{}, fmt.Errorf("marshal template entries: %w", err)
	}
	rawPrefs, err := json.Marshal(prefs)
	if err != nil {
		return templateRow{}, fmt.Errorf("marshal template day-offs: %w", err)
	}
	return templateRow{
		ID:                template.ID,
		Name:              template.Name,
		OwnerID:           template.OwnerID,
		TermType:          template.TermType,
		ModuleEntries:     rawEntries,
		DayOffPreferences: rawPrefs,
		Notes:             template.Notes,
		RoomNeedsText:     template.RoomNeedsText,
		CreatedAt:         template.CreatedAt,
		UpdatedAt:         template.UpdatedAt,
	}, nil
}

func (row templateRow) toModel() (*models.Template, error) {
	template := &models.Template{
		ID:                row.ID,
		Name:              row.Name,
		OwnerID:           row.OwnerID,
		TermType:          row.TermType,
		ModuleEntries:     []models.TemplateModuleEntry{},
		DayOffPreferences: []models.DayOffPreference{},
		Notes:             row.Notes,
		RoomNeedsText:     row.RoomNeedsText,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
	if len(row.ModuleEntries) > 0 {
		if err := json.Unmarshal(row.ModuleEntries, &template.ModuleEntries); err != nil {
			return nil, fmt.Errorf("decode entries of template %s: %w", row.ID, err)
		}
	}
	if len(row.DayOffPreferences) > 0 {
		if err := json.Unmarshal(row.DayOffPreferences, &template.DayOffPreferences); err != nil {
			return nil, fmt.Errorf("decode day-offs of template %s: %w", row.ID, err)
		}
	}
	return template, nil
}
