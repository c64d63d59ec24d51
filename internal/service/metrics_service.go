package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	cacheLatency     prometheus.Observer
	cacheWrite       prometheus.Observer
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	snapshotWrites   *prometheus.CounterVec
	snapshotLatency  prometheus.Observer
	templateApplied  *prometheus.CounterVec
	templateEntries  *prometheus.CounterVec
	draftTransitions *prometheus.CounterVec
	guardVerdicts    *prometheus.CounterVec
	activeSessions   prometheus.Gauge

	cacheHitCount      uint64
	cacheMissCount     uint64
	requestCount       uint64
	snapshotWriteCount uint64
	snapshotFailCount  uint64
	submissionCount    uint64
}

// MetricsSnapshot summarises counters for health endpoints.
type MetricsSnapshot struct {
	RequestsTotal       uint64    `json:"requests_total"`
	CacheHits           uint64    `json:"cache_hits"`
	CacheMisses         uint64    `json:"cache_misses"`
	SnapshotWrites      uint64    `json:"snapshot_writes"`
	SnapshotWriteErrors uint64    `json:"snapshot_write_errors"`
	Submissions         uint64    `json:"submissions"`
	Goroutines          int       `json:"goroutines"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	snapshotWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planning_snapshot_writes_total",
		Help: "Wizard snapshot writes by outcome",
	}, []string{"outcome"})

	snapshotLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "planning_snapshot_write_seconds",
		Help:    "Latency of wizard snapshot writes",
		Buckets: prometheus.DefBuckets,
	})

	templateApplied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planning_template_applications_total",
		Help: "Template applications by merge mode",
	}, []string{"mode"})

	templateEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planning_template_entries_total",
		Help: "Template module entries by merge result",
	}, []string{"result"})

	draftTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planning_draft_transitions_total",
		Help: "Draft workflow transitions by target status",
	}, []string{"status"})

	guardVerdicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planning_guard_verdicts_total",
		Help: "Ownership guard verdicts",
	}, []string{"verdict"})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "planning_wizard_sessions_active",
		Help: "Wizard sessions currently held in memory",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHits, cacheMisses,
		snapshotWrites, snapshotLatency, templateApplied, templateEntries, draftTransitions, guardVerdicts, activeSessions, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:         registry,
		handler:          handler,
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheWrite:       cacheWrite,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		snapshotWrites:   snapshotWrites,
		snapshotLatency:  snapshotLatency,
		templateApplied:  templateApplied,
		templateEntries:  templateEntries,
		draftTransitions: draftTransitions,
		guardVerdicts:    guardVerdicts,
		activeSessions:   activeSessions,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveSnapshotWrite records a wizard snapshot write.
func (m *MetricsService) ObserveSnapshotWrite(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.snapshotLatency.Observe(duration.Seconds())
	if err != nil {
		m.snapshotWrites.WithLabelValues("error").Inc()
		atomic.AddUint64(&m.snapshotFailCount, 1)
		return
	}
	m.snapshotWrites.WithLabelValues("ok").Inc()
	atomic.AddUint64(&m.snapshotWriteCount, 1)
}

// RecordTemplateApplied counts a template application and its merge results.
func (m *MetricsService) RecordTemplateApplied(mode string, added, skipped int) {
	if m == nil {
		return
	}
	m.templateApplied.WithLabelValues(mode).Inc()
	m.templateEntries.WithLabelValues("added").Add(float64(added))
	m.templateEntries.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordDraftTransition counts a workflow status change.
func (m *MetricsService) RecordDraftTransition(status string) {
	if m == nil {
		return
	}
	m.draftTransitions.WithLabelValues(status).Inc()
	if status == "submitted" {
		atomic.AddUint64(&m.submissionCount, 1)
	}
}

// RecordGuardVerdict counts an ownership guard outcome.
func (m *MetricsService) RecordGuardVerdict(verdict string) {
	if m == nil {
		return
	}
	m.guardVerdicts.WithLabelValues(verdict).Inc()
}

// SetActiveSessions reports the number of in-memory wizard sessions.
func (m *MetricsService) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		RequestsTotal:       atomic.LoadUint64(&m.requestCount),
		CacheHits:           atomic.LoadUint64(&m.cacheHitCount),
		CacheMisses:         atomic.LoadUint64(&m.cacheMissCount),
		SnapshotWrites:      atomic.LoadUint64(&m.snapshotWriteCount),
		SnapshotWriteErrors: atomic.LoadUint64(&m.snapshotFailCount),
		Submissions:         atomic.LoadUint64(&m.submissionCount),
		Goroutines:          runtime.NumGoroutine(),
		GeneratedAt:         time.Now().UTC(),
	}
}
