package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulp/pulp-service-sub000/pkg/config"
	"github.com/pulp/pulp-service-sub000/pkg/executor"
	"github.com/pulp/pulp-service-sub000/pkg/housekeeping"
	"github.com/pulp/pulp-service-sub000/pkg/lockservice"
	"github.com/pulp/pulp-service-sub000/pkg/types"
)

func newTestWorker(ts *fakeTaskStore, cfg config.Config) *WorkerContext {
	ls := lockservice.NewFakeClient()
	return &WorkerContext{
		Name:         "worker-1",
		Versions:     map[string]string{"core": "1.0.0"},
		Config:       cfg,
		Logger:       zerolog.Nop(),
		TaskStore:    ts,
		LockService:  ls,
		ClaimLock:    lockservice.NewClaimLock(ls),
		ResourceLock: lockservice.NewResourceLock(ls),
		Housekeeping: housekeeping.New(ts, ls, cfg, "worker-1", zerolog.Nop()),
		Executor:     executor.NewRegistry(),
		Lifecycle:    &Lifecycle{},
	}
}

func TestFetchClaimsFirstAvailableTask(t *testing.T) {
	task := &types.Task{ID: "t1", Name: "sync", State: types.TaskWaiting, CreatedAt: time.Now(), ReservedResources: []string{"repo-a"}}
	ts := newFakeTaskStore(task)
	w := newTestWorker(ts, config.Default())

	got, err := w.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, []string{"repo-a"}, got.LockedExclusive)
}

func TestFetchSecondWorkerBlockedByHeldResource(t *testing.T) {
	t1 := &types.Task{ID: "t1", Name: "sync", State: types.TaskWaiting, CreatedAt: time.Now(), ReservedResources: []string{"repo-a"}}
	t2 := &types.Task{ID: "t2", Name: "sync", State: types.TaskWaiting, CreatedAt: time.Now(), ReservedResources: []string{"repo-a"}}
	ts := newFakeTaskStore(t1, t2)
	w := newTestWorker(ts, config.Default())

	ctx := context.Background()
	_, held, _ := w.LockService.Get(ctx, lockservice.ExclusiveKey("repo-a"))
	assert.False(t, held)

	got, err := w.Fetch(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.ID)

	// second fetch (simulating a second worker pass) should see repo-a held
	other := newTestWorker(newFakeTaskStore(t2), config.Default())
	other.LockService = w.LockService
	other.ClaimLock = lockservice.NewClaimLock(w.LockService)
	other.ResourceLock = lockservice.NewResourceLock(w.LockService)
	second, err := other.Fetch(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestFetchIgnoresIncompatibleTask(t *testing.T) {
	task := &types.Task{
		ID: "t1", Name: "sync", State: types.TaskWaiting, CreatedAt: time.Now(),
		Versions: map[string]string{"core": "99.0.0"},
	}
	ts := newFakeTaskStore(task)
	w := newTestWorker(ts, config.Default())

	got, err := w.Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)

	ids := w.Housekeeping.IgnoredTaskIDs()
	assert.Contains(t, ids, "t1")
}

func TestFetchReturnsNilWhenNoTasksWaiting(t *testing.T) {
	ts := newFakeTaskStore()
	w := newTestWorker(ts, config.Default())

	got, err := w.Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}
