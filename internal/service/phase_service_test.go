package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
)

type mockPhaseRepo struct {
	active  *models.PlanningPhase
	findErr error
	created []*models.PlanningPhase
}

func (m *mockPhaseRepo) FindActive(ctx context.Context) (*models.PlanningPhase, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.active == nil {
		return nil, sql.ErrNoRows
	}
	return m.active, nil
}

func (m *mockPhaseRepo) Create(ctx context.Context, phase *models.PlanningPhase) error {
	phase.ID = "phase-new"
	m.created = append(m.created, phase)
	return nil
}

type approvalCounterStub struct {
	approved int
	err      error
}

func (a approvalCounterStub) CountByOwnerAndStatus(ctx context.Context, ownerID, termID string, status models.DraftStatus) (int, error) {
	return a.approved, a.err
}

func TestPhaseServiceSubmissionStatus(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	open := &models.PlanningPhase{TermID: planningTerm, StartsAt: now.Add(-time.Hour), Deadline: now.Add(time.Hour), Active: true}
	upcoming := &models.PlanningPhase{TermID: planningTerm, StartsAt: now.Add(time.Hour), Deadline: now.Add(2 * time.Hour), Active: true}
	expired := &models.PlanningPhase{TermID: planningTerm, StartsAt: now.Add(-2 * time.Hour), Deadline: now.Add(-time.Hour), Active: true}

	cases := []struct {
		name      string
		phase     *models.PlanningPhase
		approved  int
		canSubmit bool
		reason    string
	}{
		{name: "open", phase: open, canSubmit: true},
		{name: "no phase", phase: nil, reason: MsgNoActivePhase},
		{name: "not started", phase: upcoming, reason: MsgPhaseNotStarted},
		{name: "deadline passed", phase: expired, reason: MsgDeadlinePassed},
		{name: "already approved", phase: open, approved: 1, reason: MsgAlreadySubmitted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewPhaseService(&mockPhaseRepo{active: tc.phase}, approvalCounterStub{approved: tc.approved}, nil)
			svc.now = func() time.Time { return now }

			status, err := svc.SubmissionStatus(context.Background(), "42")

			require.NoError(t, err)
			assert.Equal(t, "42", status.UserID)
			assert.Equal(t, tc.canSubmit, status.CanSubmit)
			assert.Equal(t, tc.reason, status.Reason)
		})
	}
}

func TestPhaseServiceSurfacesRepositoryFailures(t *testing.T) {
	svc := NewPhaseService(&mockPhaseRepo{findErr: errors.New("db down")}, approvalCounterStub{}, nil)

	_, err := svc.Active(context.Background())
	assert.True(t, appErrors.IsTransient(err))

	svc = NewPhaseService(&mockPhaseRepo{active: openPhase()}, approvalCounterStub{err: errors.New("db down")}, nil)
	_, err = svc.SubmissionStatus(context.Background(), "42")
	assert.True(t, appErrors.IsTransient(err))
}

func TestPhaseServiceOpenValidates(t *testing.T) {
	repo := &mockPhaseRepo{}
	svc := NewPhaseService(repo, approvalCounterStub{}, nil)
	start := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, appErrors.IsValidation(svc.Open(context.Background(), &models.PlanningPhase{Name: "Winter", StartsAt: start, Deadline: start.Add(time.Hour)})))
	assert.True(t, appErrors.IsValidation(svc.Open(context.Background(), &models.PlanningPhase{Name: "Winter", TermID: planningTerm, StartsAt: start, Deadline: start})))

	phase := &models.PlanningPhase{Name: "Winter", TermID: planningTerm, StartsAt: start, Deadline: start.Add(72 * time.Hour), Active: true}
	require.NoError(t, svc.Open(context.Background(), phase))
	assert.Equal(t, "phase-new", phase.ID)
	assert.Len(t, repo.created, 1)
}
