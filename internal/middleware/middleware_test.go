package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
	"github.com/noah-isme/teaching-load-planner/pkg/logger"
)

type stubValidator struct {
	claims *models.JWTClaims
	err    error
	seen   string
}

func (s *stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	s.seen = token
	return s.claims, s.err
}

type auditRecorder struct {
	logs []*models.AuditLog
}

func (a *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type observerStub struct {
	paths    []string
	statuses []int
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.paths = append(o.paths, path)
	o.statuses = append(o.statuses, status)
}

func perform(r *gin.Engine, method, path, authorization string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestJWTRequiresBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	validator := &stubValidator{claims: &models.JWTClaims{UserID: "42", Role: models.RoleStaff}}
	r := gin.New()
	r.GET("/me", JWT(validator), func(c *gin.Context) {
		claims := c.MustGet(ContextUserKey).(*models.JWTClaims)
		assert.Equal(t, "42", c.GetString(logger.UserIDKey))
		c.String(http.StatusOK, claims.UserID)
	})

	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/me", "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/me", "Bearer ").Code)

	w := perform(r, http.MethodGet, "/me", "Bearer token-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "42", w.Body.String())
	assert.Equal(t, "token-1", validator.seen)
}

func TestJWTRejectsInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWT(&stubValidator{err: appErrors.Clone(appErrors.ErrUnauthorized, "token expired")}), func(c *gin.Context) {
		t.Fatal("handler must not run")
	})

	assert.Equal(t, http.StatusUnauthorized, perform(r, http.MethodGet, "/me", "Bearer stale").Code)
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/public", OptionalJWT(&stubValidator{err: appErrors.ErrUnauthorized}), func(c *gin.Context) {
		_, exists := c.Get(ContextUserKey)
		assert.False(t, exists)
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusNoContent, perform(r, http.MethodGet, "/public", "Bearer bad").Code)
	assert.Equal(t, http.StatusNoContent, perform(r, http.MethodGet, "/public", "").Code)
}

func withClaims(claims *models.JWTClaims) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims != nil {
			c.Set(ContextUserKey, claims)
		}
		c.Next()
	}
}

func TestRBAC(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name   string
		claims *models.JWTClaims
		path   string
		want   int
	}{
		{name: "anonymous", claims: nil, path: "/users/42", want: http.StatusUnauthorized},
		{name: "reviewer", claims: &models.JWTClaims{UserID: "r-1", Role: models.RoleReviewer}, path: "/users/42", want: http.StatusOK},
		{name: "self", claims: &models.JWTClaims{UserID: "42", Role: models.RoleStaff}, path: "/users/42", want: http.StatusOK},
		{name: "other staff", claims: &models.JWTClaims{UserID: "99", Role: models.RoleStaff}, path: "/users/42", want: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/users/:id", withClaims(tc.claims), RBAC(string(models.RoleReviewer), "SELF"), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})
			assert.Equal(t, tc.want, perform(r, http.MethodGet, tc.path, "").Code)
		})
	}
}

func TestRequireReviewer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/drafts/:id/approve", withClaims(&models.JWTClaims{UserID: "42", Role: models.RoleStaff}), RequireReviewer(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusForbidden, perform(r, http.MethodPost, "/drafts/d-1/approve", "").Code)
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := &auditRecorder{}
	r := gin.New()
	claims := &models.JWTClaims{UserID: "42", Role: models.RoleStaff}
	r.POST("/drafts/:id/exports", withClaims(claims), Audit(recorder, nil, models.AuditActionDraftExport, "planning_draft"), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	r.POST("/drafts/:id/fail", withClaims(claims), Audit(recorder, nil, models.AuditActionDraftExport, "planning_draft"), func(c *gin.Context) {
		c.Status(http.StatusForbidden)
	})

	perform(r, http.MethodPost, "/drafts/d-1/exports", "")
	perform(r, http.MethodPost, "/drafts/d-1/fail", "")

	require.Len(t, recorder.logs, 1)
	log := recorder.logs[0]
	assert.Equal(t, models.AuditActionDraftExport, log.Action)
	require.NotNil(t, log.UserID)
	assert.Equal(t, "42", *log.UserID)
	require.NotNil(t, log.ResourceID)
	assert.Equal(t, "d-1", *log.ResourceID)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &observerStub{}
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/drafts/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	perform(r, http.MethodGet, "/drafts/d-1", "")
	perform(r, http.MethodGet, "/nowhere", "")

	assert.Equal(t, []string{"/drafts/:id", "unmatched"}, observer.paths)
	assert.Equal(t, []int{http.StatusOK, http.StatusNotFound}, observer.statuses)
}
