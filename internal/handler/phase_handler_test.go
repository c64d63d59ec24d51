package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teaching-load-planner/internal/models"
)

type phaseServiceMock struct {
	active *models.PlanningPhase
	status *models.SubmissionStatus
	opened *models.PlanningPhase
	userID string
}

func (m *phaseServiceMock) Active(ctx context.Context) (*models.PlanningPhase, error) {
	return m.active, nil
}

func (m *phaseServiceMock) SubmissionStatus(ctx context.Context, userID string) (*models.SubmissionStatus, error) {
	m.userID = userID
	return m.status, nil
}

func (m *phaseServiceMock) Open(ctx context.Context, phase *models.PlanningPhase) error {
	phase.ID = "phase-1"
	m.opened = phase
	return nil
}

func TestPhaseHandlerActiveWithoutPhase(t *testing.T) {
	handler := NewPhaseHandler(&phaseServiceMock{})

	c, w := newTestContext(t, http.MethodGet, "/planning/phase", nil, staffClaims)
	handler.Active(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w).Data)
}

func TestPhaseHandlerSubmissionStatusUsesCaller(t *testing.T) {
	mockSvc := &phaseServiceMock{status: &models.SubmissionStatus{UserID: "42", CanSubmit: true}}
	handler := NewPhaseHandler(mockSvc)

	c, w := newTestContext(t, http.MethodGet, "/planning/submission-status", nil, staffClaims)
	handler.SubmissionStatus(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "42", mockSvc.userID)
}

func TestPhaseHandlerOpen(t *testing.T) {
	mockSvc := &phaseServiceMock{}
	handler := NewPhaseHandler(mockSvc)

	body := map[string]string{"name": "Winter planning", "term_id": "2026-winter", "starts_at": "2026-11-01T00:00:00Z", "deadline": "2026-11-30T23:59:00Z"}
	c, w := newTestContext(t, http.MethodPost, "/planning/phases", body, &models.JWTClaims{UserID: "a-1", Role: models.RoleAdmin})
	handler.Open(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, mockSvc.opened)
	assert.True(t, mockSvc.opened.Active)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), mockSvc.opened.StartsAt.UTC())

	body["deadline"] = "end of november"
	c, w = newTestContext(t, http.MethodPost, "/planning/phases", body, &models.JWTClaims{UserID: "a-1", Role: models.RoleAdmin})
	handler.Open(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
