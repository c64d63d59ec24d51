package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teaching-load-planner/internal/models"
)

type auditTrailStub struct {
	logs     []models.AuditLog
	err      error
	resource string
	id       string
}

func (s *auditTrailStub) ListForResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error) {
	s.resource, s.id = resource, resourceID
	return s.logs, s.err
}

func TestAuditHandlerDraftHistory(t *testing.T) {
	trail := &auditTrailStub{logs: []models.AuditLog{{ID: "a-1", Action: models.AuditActionDraftSubmit, Resource: "planning_draft"}}}
	h := NewAuditHandler(trail)
	c, w := newTestContext(t, http.MethodGet, "/api/v1/planning/drafts/d-1/history", nil, reviewerClaims)
	c.Params = gin.Params{{Key: "id", Value: "d-1"}}

	h.DraftHistory(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "planning_draft", trail.resource)
	assert.Equal(t, "d-1", trail.id)
	var logs []models.AuditLog
	decodeData(t, w, &logs)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionDraftSubmit, logs[0].Action)
}

func TestAuditHandlerDraftHistoryEmptyAndFailure(t *testing.T) {
	h := NewAuditHandler(&auditTrailStub{})
	c, w := newTestContext(t, http.MethodGet, "/", nil, reviewerClaims)
	c.Params = gin.Params{{Key: "id", Value: "d-2"}}

	h.DraftHistory(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(decode(t, w).Data))

	h = NewAuditHandler(&auditTrailStub{err: errors.New("db down")})
	c, w = newTestContext(t, http.MethodGet, "/", nil, reviewerClaims)
	h.DraftHistory(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", errorCode(t, w))
}

func TestRoutesHistoryIsReviewerOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, r.Group("/api/v1"), Handlers{
		Drafts: NewDraftHandler(&draftServiceMock{}),
		Audit:  NewAuditHandler(&auditTrailStub{}),
	}, RouteDeps{Tokens: tokenTable{"staff": staffClaims, "reviewer": reviewerClaims}})

	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/api/v1/planning/drafts/d-1/history", "staff", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/planning/drafts/d-1/history", "reviewer", "").Code)
}
