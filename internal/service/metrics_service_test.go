package service

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceSnapshotCounters(t *testing.T) {
	m := NewMetricsService()

	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/planning/wizard", http.StatusOK, 10*time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.ObserveSnapshotWrite(time.Millisecond, nil)
	m.ObserveSnapshotWrite(time.Millisecond, errors.New("redis down"))
	m.RecordDraftTransition("submitted")
	m.RecordDraftTransition("approved")

	snapshot := m.Snapshot()
	assert.Equal(t, uint64(1), snapshot.RequestsTotal)
	assert.Equal(t, uint64(1), snapshot.CacheHits)
	assert.Equal(t, uint64(1), snapshot.CacheMisses)
	assert.Equal(t, uint64(1), snapshot.SnapshotWrites)
	assert.Equal(t, uint64(1), snapshot.SnapshotWriteErrors)
	assert.Equal(t, uint64(1), snapshot.Submissions)
}

func TestMetricsServiceExposesPlanningCollectors(t *testing.T) {
	m := NewMetricsService()
	m.RecordTemplateApplied("mergeSkipExisting", 2, 1)
	m.RecordGuardVerdict("owned")
	m.SetActiveSessions(3)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `planning_template_applications_total{mode="mergeSkipExisting"} 1`)
	assert.Contains(t, body, "planning_wizard_sessions_active 3")
	assert.Contains(t, body, "planning_guard_verdicts_total")
}

func TestMetricsServiceNilIsSafe(t *testing.T) {
	var m *MetricsService

	m.RecordDraftTransition("submitted")
	m.SetActiveSessions(1)

	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())
}
