package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/teaching-load-planner/internal/models"
)

// PhaseRepository persists planning phases.
type PhaseRepository struct {
	db *sqlx.DB
}

// NewPhaseRepository constructs the repository.
func NewPhaseRepository(db *sqlx.DB) *PhaseRepository {
	return &PhaseRepository{db: db}
}

// FindActive returns the phase flagged active.
func (r *PhaseRepository) FindActive(ctx context.Context) (*models.PlanningPhase, error) {
	const query = `SELECT id, name, term_id, starts_at, deadline, active, created_at FROM planning_phases WHERE active = TRUE LIMIT 1`
	var phase models.PlanningPhase
	if err := r.db.GetContext(ctx, &phase, query); err != nil {
		return nil, err
	}
	return &phase, nil
}

// Create inserts a phase. Activating it deactivates every other phase.
func (r *PhaseRepository) Create(ctx context.Context, phase *models.PlanningPhase) (err error) {
	if phase.ID == "" {
		phase.ID = uuid.NewString()
	}
	if phase.CreatedAt.IsZero() {
		phase.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create phase: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if phase.Active {
		if _, err = tx.ExecContext(ctx, `UPDATE planning_phases SET active = FALSE WHERE active = TRUE`); err != nil {
			return fmt.Errorf("deactivate phases: %w", err)
		}
	}
	const query = `INSERT INTO planning_phases (id, name, term_id, starts_at, deadline, active, created_at)
	VALUES (:id, :name, :term_id, :starts_at, :deadline, :active, :created_at)`
	if _, err = tx.NamedExecContext(ctx, query, phase); err != nil {
		return fmt.Errorf("create phase: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create phase: %w", err)
	}
	return nil
}
