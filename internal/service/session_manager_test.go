package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/teaching-load-planner/internal/models"
	appErrors "github.com/noah-isme/teaching-load-planner/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, env *planningEnv, store SnapshotStore, clock *fakeClock) *SessionManager {
	t.Helper()
	return NewSessionManager(SessionManagerConfig{
		Backend:  env.service,
		Catalog:  staticCatalog{catalog: testCatalog()},
		Store:    store,
		Debounce: time.Hour,
		IdleTTL:  10 * time.Minute,
		Metrics:  NewMetricsService(),
		Now:      clock.Now,
	})
}

// acquire leases the actor's workflow and ends the lease right away.
func acquire(t *testing.T, manager *SessionManager, actor models.Actor) *PlanningWorkflow {
	t.Helper()
	wf, done, err := manager.Workflow(context.Background(), actor)
	require.NoError(t, err)
	done()
	return wf
}

type flakySnapshotStore struct {
	*MemorySnapshotStore
	mu       sync.Mutex
	failLoad bool
}

func (f *flakySnapshotStore) Load(ctx context.Context, key models.SnapshotKey) ([]byte, error) {
	f.mu.Lock()
	fail := f.failLoad
	f.mu.Unlock()
	if fail {
		return nil, errors.New("redis: connection refused")
	}
	return f.MemorySnapshotStore.Load(ctx, key)
}

func TestSessionManagerReusesWorkflowPerUser(t *testing.T) {
	env := newPlanningEnv(t)
	clock := &fakeClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	manager := newTestManager(t, env, nil, clock)

	first := acquire(t, manager, ownerActor)
	again := acquire(t, manager, ownerActor)
	other := acquire(t, manager, intruderActor)

	assert.Same(t, first, again)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, manager.Active())
	assert.Equal(t, ownerActor, first.Actor())
}

func TestSessionManagerWorkflowUsesCatalog(t *testing.T) {
	env := newPlanningEnv(t)
	manager := newTestManager(t, env, nil, &fakeClock{now: time.Now()})

	wf := acquire(t, manager, ownerActor)
	require.NoError(t, wf.Session().AddModuleEntry(models.PlannedModuleEntry{ModuleID: "9", GroupCounts: models.GroupCounts{Lab: 2}}))

	assert.Equal(t, 6.0, wf.Session().TotalHours())
}

func TestSessionManagerReleaseFlushesSnapshot(t *testing.T) {
	env := newPlanningEnv(t)
	store := NewMemorySnapshotStore()
	manager := newTestManager(t, env, store, &fakeClock{now: time.Now()})
	ctx := context.Background()
	wf := acquire(t, manager, ownerActor)
	require.NoError(t, wf.Session().AddModuleEntry(lectureEntry("7", 1)))

	require.NoError(t, manager.Release(ctx, ownerActor.UserID))

	assert.True(t, store.Has(wf.Session().SnapshotKey()))
	assert.Equal(t, 0, manager.Active())
	require.NoError(t, manager.Release(ctx, ownerActor.UserID))

	restored := acquire(t, manager, ownerActor)
	result, err := restored.Start(ctx, "")
	require.NoError(t, err)
	assert.True(t, result.Restored)
	assert.Len(t, result.State.ModuleEntries, 1)
}

func TestSessionManagerSweepEvictsIdleSessions(t *testing.T) {
	env := newPlanningEnv(t)
	store := NewMemorySnapshotStore()
	clock := &fakeClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	manager := newTestManager(t, env, store, clock)
	ctx := context.Background()

	idle := acquire(t, manager, ownerActor)
	require.NoError(t, idle.Session().AddModuleEntry(lectureEntry("7", 1)))
	clock.Advance(8 * time.Minute)
	acquire(t, manager, intruderActor)
	clock.Advance(5 * time.Minute)

	evicted := manager.Sweep(ctx)

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, manager.Active())
	assert.True(t, store.Has(idle.Session().SnapshotKey()))
}

func TestSessionManagerSweepSkipsLeasedWorkflow(t *testing.T) {
	env := newPlanningEnv(t)
	clock := &fakeClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	manager := newTestManager(t, env, NewMemorySnapshotStore(), clock)
	ctx := context.Background()

	wf, done, err := manager.Workflow(ctx, ownerActor)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	assert.Equal(t, 0, manager.Sweep(ctx))
	require.NoError(t, wf.Session().AddModuleEntry(lectureEntry("7", 1)))
	done()
	done()
	clock.Advance(time.Hour)

	assert.Equal(t, 1, manager.Sweep(ctx))
	assert.Equal(t, 0, manager.Active())
}

func TestSessionManagerRecreatedWorkflowKeepsSnapshot(t *testing.T) {
	env := newPlanningEnv(t)
	store := NewMemorySnapshotStore()
	clock := &fakeClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	manager := newTestManager(t, env, store, clock)
	ctx := context.Background()

	first := acquire(t, manager, ownerActor)
	_, err := first.Start(ctx, planningTerm)
	require.NoError(t, err)
	require.NoError(t, first.SaveModuleEntry(ctx, lectureEntry("7", 1)))
	require.NoError(t, first.SaveModuleEntry(ctx, lectureEntry("3", 1)))
	clock.Advance(11 * time.Minute)
	require.Equal(t, 1, manager.Sweep(ctx))

	second := acquire(t, manager, ownerActor)
	require.NotSame(t, first, second)
	state := second.State()
	require.NotNil(t, state.TermID)
	assert.Equal(t, planningTerm, *state.TermID)
	assert.Len(t, state.ModuleEntries, 2)

	require.NoError(t, second.SaveModuleEntry(ctx, models.PlannedModuleEntry{ModuleID: "9", GroupCounts: models.GroupCounts{Lab: 1}}))
	require.NoError(t, manager.Release(ctx, ownerActor.UserID))

	result, err := acquire(t, manager, ownerActor).Start(ctx, planningTerm)
	require.NoError(t, err)
	assert.True(t, result.Restored)
	assert.Equal(t, []string{"7", "3", "9"}, moduleIDs(result.State.ModuleEntries))
}

func TestSessionManagerRetriesUnreadableSnapshot(t *testing.T) {
	env := newPlanningEnv(t)
	store := &flakySnapshotStore{MemorySnapshotStore: NewMemorySnapshotStore()}
	manager := newTestManager(t, env, store, &fakeClock{now: time.Now()})
	ctx := context.Background()

	seed := acquire(t, manager, ownerActor)
	require.NoError(t, seed.Session().AddModuleEntry(lectureEntry("7", 1)))
	require.NoError(t, manager.Release(ctx, ownerActor.UserID))

	store.mu.Lock()
	store.failLoad = true
	store.mu.Unlock()
	_, _, err := manager.Workflow(ctx, ownerActor)
	assert.True(t, appErrors.IsTransient(err))

	store.mu.Lock()
	store.failLoad = false
	store.mu.Unlock()
	wf := acquire(t, manager, ownerActor)
	assert.Len(t, wf.State().ModuleEntries, 1)
}

func TestSessionManagerShutdownClosesEverything(t *testing.T) {
	env := newPlanningEnv(t)
	store := NewMemorySnapshotStore()
	manager := newTestManager(t, env, store, &fakeClock{now: time.Now()})
	ctx := context.Background()
	for _, actor := range []models.Actor{ownerActor, intruderActor, reviewerActor} {
		require.NoError(t, acquire(t, manager, actor).Session().AddDayOff(models.DayOffPreference{Weekday: "monday", Period: models.PeriodFull, Priority: models.PriorityLow}))
	}

	require.NoError(t, manager.Shutdown(ctx))

	assert.Equal(t, 0, manager.Active())
	for _, actor := range []models.Actor{ownerActor, intruderActor, reviewerActor} {
		assert.True(t, store.Has(models.SnapshotKey{Namespace: "planning-wizard", Owner: actor.UserID}))
	}
}

func TestSessionManagerToleratesCatalogOutage(t *testing.T) {
	env := newPlanningEnv(t)
	manager := NewSessionManager(SessionManagerConfig{
		Backend: env.service,
		Catalog: staticCatalog{err: errors.New("catalog down")},
	})

	wf := acquire(t, manager, ownerActor)

	require.NotNil(t, wf)
	assert.Equal(t, 1, manager.Active())
}

func TestSessionManagerRunStopsOnCancel(t *testing.T) {
	env := newPlanningEnv(t)
	manager := newTestManager(t, env, nil, &fakeClock{now: time.Now()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		manager.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session sweeper did not stop")
	}
}
