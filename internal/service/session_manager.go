package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/teaching-load-planner/internal/models"
)

type workflowMetrics interface {
	snapshotMetrics
	guardMetrics
	templateMetrics
	SetActiveSessions(n int)
}

// SessionManagerConfig wires the per-user wizard registry.
type SessionManagerConfig struct {
	Backend    PlanningBackend
	Catalog    catalogProvider
	Store      SnapshotStore
	Namespace  string
	Debounce   time.Duration
	IdleTTL    time.Duration
	Dispatcher snapshotDispatcher
	Metrics    workflowMetrics
	Logger     *zap.Logger
	Now        func() time.Time
}

type managedWorkflow struct {
	workflow *PlanningWorkflow
	lastUsed time.Time
	// leases counts requests currently holding the workflow.
	leases int
}

// SessionManager keeps one wizard workflow per user and evicts idle ones.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*managedWorkflow

	cfg    SessionManagerConfig
	merger *TemplateMerger
	logger *zap.Logger
	now    func() time.Time
}

// NewSessionManager constructs an empty registry.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Store == nil {
		cfg.Store = NewMemorySnapshotStore()
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	var metrics templateMetrics
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}
	return &SessionManager{
		sessions: make(map[string]*managedWorkflow),
		cfg:      cfg,
		merger:   NewTemplateMerger(cfg.Backend, metrics, cfg.Logger),
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// Workflow leases the actor's wizard, creating it on first use. A new
// workflow first restores the user's snapshot and checks its draft, so edits
// never start from an empty session; if that fails the error is returned and
// the next call retries. The returned release func ends the lease; Sweep never
// evicts a leased workflow. The format catalog is refreshed on every call.
func (m *SessionManager) Workflow(ctx context.Context, actor models.Actor) (*PlanningWorkflow, func(), error) {
	catalog := m.loadCatalog(ctx)

	m.mu.Lock()
	managed := m.acquireLocked(actor, catalog)
	m.mu.Unlock()

	var once sync.Once
	release := func() { once.Do(func() { m.release(managed) }) }
	if err := managed.workflow.Resume(ctx); err != nil {
		release()
		return nil, func() {}, err
	}
	return managed.workflow, release, nil
}

func (m *SessionManager) acquireLocked(actor models.Actor, catalog models.ModuleCatalog) *managedWorkflow {
	if managed, ok := m.sessions[actor.UserID]; ok {
		managed.lastUsed = m.now()
		managed.leases++
		if catalog != nil {
			managed.workflow.session.SetCatalog(catalog)
		}
		return managed
	}

	sessionCfg := WizardSessionConfig{
		OwnerID:    actor.UserID,
		Namespace:  m.cfg.Namespace,
		Store:      m.cfg.Store,
		Debounce:   m.cfg.Debounce,
		Dispatcher: m.cfg.Dispatcher,
		Logger:     m.logger,
		Now:        m.now,
	}
	if catalog != nil {
		sessionCfg.Catalog = catalog
	}
	workflowCfg := WorkflowConfig{
		Actor:   actor,
		Backend: m.cfg.Backend,
		Merger:  m.merger,
		Logger:  m.logger,
		Now:     m.now,
	}
	if m.cfg.Metrics != nil {
		sessionCfg.Metrics = m.cfg.Metrics
		workflowCfg.Metrics = m.cfg.Metrics
	}
	workflowCfg.Session = NewWizardSession(sessionCfg)

	managed := &managedWorkflow{workflow: NewPlanningWorkflow(workflowCfg), lastUsed: m.now(), leases: 1}
	m.sessions[actor.UserID] = managed
	m.reportLocked()
	m.logger.Debug("wizard session opened", zap.String("user_id", actor.UserID))
	return managed
}

func (m *SessionManager) release(managed *managedWorkflow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if managed.leases > 0 {
		managed.leases--
	}
	managed.lastUsed = m.now()
}

// Release closes the user's wizard, flushing its pending snapshot.
func (m *SessionManager) Release(ctx context.Context, userID string) error {
	m.mu.Lock()
	managed, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
		m.reportLocked()
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return managed.workflow.Close(ctx)
}

// Sweep closes workflows unused for longer than the idle TTL. Workflows held
// by a request are skipped.
func (m *SessionManager) Sweep(ctx context.Context) int {
	cutoff := m.now().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	idle := make(map[string]*PlanningWorkflow)
	for userID, managed := range m.sessions {
		if managed.leases == 0 && managed.lastUsed.Before(cutoff) {
			idle[userID] = managed.workflow
			delete(m.sessions, userID)
		}
	}
	if len(idle) > 0 {
		m.reportLocked()
	}
	m.mu.Unlock()

	for userID, workflow := range idle {
		if err := workflow.Close(ctx); err != nil {
			m.logger.Warn("closing idle wizard session failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return len(idle)
}

// Run sweeps idle sessions periodically until ctx is cancelled.
func (m *SessionManager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx); n > 0 {
				m.logger.Info("evicted idle wizard sessions", zap.Int("count", n))
			}
		}
	}
}

// Shutdown closes every open workflow.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	open := m.sessions
	m.sessions = make(map[string]*managedWorkflow)
	m.reportLocked()
	m.mu.Unlock()

	var firstErr error
	for userID, managed := range open {
		if err := managed.workflow.Close(ctx); err != nil {
			m.logger.Warn("closing wizard session failed", zap.String("user_id", userID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Active returns the number of open workflows.
func (m *SessionManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) loadCatalog(ctx context.Context) models.ModuleCatalog {
	if m.cfg.Catalog == nil {
		return nil
	}
	catalog, err := m.cfg.Catalog.Catalog(ctx)
	if err != nil {
		m.logger.Warn("catalog unavailable for wizard session", zap.Error(err))
		return nil
	}
	return catalog
}

func (m *SessionManager) reportLocked() {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SetActiveSessions(len(m.sessions))
	}
}
