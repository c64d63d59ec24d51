package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
)

type phaseRepository interface {
	FindActive(ctx context.Context) (*models.PlanningPhase, error)
	Create(ctx context.Context, phase *models.PlanningPhase) error
}

type approvalCounter interface {
	CountByOwnerAndStatus(ctx context.Context, ownerID, termID string, status models.DraftStatus) (int, error)
}

// PhaseService answers questions about the planning phase currently accepting plans.
type PhaseService struct {
	phases phaseRepository
	drafts approvalCounter
	logger *zap.Logger
	now    func() time.Time
}

// NewPhaseService constructs the service.
func NewPhaseService(phases phaseRepository, drafts approvalCounter, logger *zap.Logger) *PhaseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PhaseService{phases: phases, drafts: drafts, logger: logger, now: time.Now}
}

// Active returns the active phase or nil when none is open.
func (s *PhaseService) Active(ctx context.Context) (*models.PlanningPhase, error) {
	phase, err := s.phases.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to load planning phase")
	}
	return phase, nil
}

// SubmissionStatus reports whether userID may submit a plan in the active phase.
func (s *PhaseService) SubmissionStatus(ctx context.Context, userID string) (*models.SubmissionStatus, error) {
	status := &models.SubmissionStatus{UserID: userID}
	phase, err := s.Active(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	switch {
	case phase == nil || !phase.Active:
		status.Reason = MsgNoActivePhase
		return status, nil
	case now.Before(phase.StartsAt):
		status.Reason = MsgPhaseNotStarted
		return status, nil
	case now.After(phase.Deadline):
		status.Reason = MsgDeadlinePassed
		return status, nil
	}

	approved, err := s.drafts.CountByOwnerAndStatus(ctx, userID, phase.TermID, models.DraftStatusApproved)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to load submission status")
	}
	if approved > 0 {
		status.Reason = MsgAlreadySubmitted
		return status, nil
	}
	status.CanSubmit = true
	return status, nil
}

// Open creates a phase; when active it replaces the current active phase.
func (s *PhaseService) Open(ctx context.Context, phase *models.PlanningPhase) error {
	if phase == nil || strings.TrimSpace(phase.Name) == "" || strings.TrimSpace(phase.TermID) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "phase name and term are required")
	}
	if !phase.Deadline.After(phase.StartsAt) {
		return appErrors.Clone(appErrors.ErrValidation, "phase deadline must be after its start")
	}
	if err := s.phases.Create(ctx, phase); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create planning phase")
	}
	s.logger.Info("planning phase opened", zap.String("phase_id", phase.ID), zap.String("term_id", phase.TermID), zap.Bool("active", phase.Active))
	return nil
}
