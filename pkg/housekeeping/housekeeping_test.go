package housekeeping

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulp/pulp-service-sub000/pkg/config"
	"github.com/pulp/pulp-service-sub000/pkg/lockservice"
	"github.com/pulp/pulp-service-sub000/pkg/types"
)

// fakeTaskStore is a minimal in-memory taskstore.Client for this package's
// tests; it implements just enough behavior to exercise Beat's branches.
type fakeTaskStore struct {
	mu             sync.Mutex
	tasks          map[string]*types.Task
	workers        map[string]*types.Worker
	touchErr       error
	advisoryLocked map[string]bool
	dispatchCount  int
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{
		tasks:          make(map[string]*types.Task),
		workers:        make(map[string]*types.Worker),
		advisoryLocked: make(map[string]bool),
	}
}

func (f *fakeTaskStore) WaitingTasks(ctx context.Context, limit int, excludeIDs []string) ([]*types.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	excluded := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}
	var out []*types.Task
	var ids []string
	for id := range f.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := f.tasks[id]
		if t.State != types.TaskWaiting {
			continue
		}
		if _, skip := excluded[id]; skip {
			continue
		}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeTaskStore) GetTask(ctx context.Context, id string) (*types.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, assert.AnError
	}
	return t, nil
}

func (f *fakeTaskStore) SetTaskFailed(ctx context.Context, id, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.State.IsFinal() {
		return nil
	}
	t.State = types.TaskFailed
	t.Error = errMsg
	return nil
}

func (f *fakeTaskStore) UpsertWorker(ctx context.Context, name string, versions map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers[name] = &types.Worker{Name: name, AppType: "worker", LastHeartbeat: time.Now(), Versions: versions}
	return nil
}

func (f *fakeTaskStore) TouchWorker(ctx context.Context, name string) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.workers[name]; ok {
		w.LastHeartbeat = time.Now()
	}
	return nil
}

func (f *fakeTaskStore) DeleteWorker(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.workers, name)
	return nil
}

func (f *fakeTaskStore) MissingWorkers(ctx context.Context, ttl time.Duration) ([]*types.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Worker
	for _, w := range f.workers {
		if time.Since(w.LastHeartbeat) > ttl {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeTaskStore) CountLiveWorkers(ctx context.Context, ttl time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.workers {
		if time.Since(w.LastHeartbeat) < ttl {
			n++
		}
	}
	return n, nil
}

func (f *fakeTaskStore) CountTasksNotFinalOlderThan(ctx context.Context, age time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tasks {
		if (t.State == types.TaskWaiting || t.State == types.TaskRunning) && time.Since(t.CreatedAt) > age {
			n++
		}
	}
	return n, nil
}

func (f *fakeTaskStore) DispatchScheduledTasks(ctx context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatchCount++
	return 0, nil
}

func (f *fakeTaskStore) WithAdvisoryLock(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
	f.mu.Lock()
	if f.advisoryLocked[name] {
		f.mu.Unlock()
		return false, nil
	}
	f.advisoryLocked[name] = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.advisoryLocked[name] = false
		f.mu.Unlock()
	}()

	return true, fn(ctx)
}

func (f *fakeTaskStore) Close() {}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.WorkerTTL = 300 * time.Millisecond
	cfg.IgnoredTasksCleanupInterval = 2
	cfg.WorkerCleanupInterval = 2
	cfg.MetricHeartbeatInterval = 2
	return cfg
}

func TestBeatSkipsWorkWithinHeartbeatPeriod(t *testing.T) {
	ts := newFakeTaskStore()
	cfg := config.Default()
	cfg.WorkerTTL = time.Hour
	b := New(ts, lockservice.NewFakeClient(), cfg, "worker-1", zerolog.Nop())

	require.NoError(t, b.Beat(context.Background()))
	firstCount := b.beatCount
	require.NoError(t, b.Beat(context.Background()))
	assert.Equal(t, firstCount, b.beatCount, "a second Beat within the heartbeat period must be a no-op")
}

func TestBeatSetsShutdownRequestedOnTouchFailure(t *testing.T) {
	ts := newFakeTaskStore()
	ts.touchErr = assert.AnError
	b := New(ts, lockservice.NewFakeClient(), testConfig(), "worker-1", zerolog.Nop())

	require.NoError(t, b.Beat(context.Background()))
	assert.True(t, b.ShutdownRequested())
}

func TestBeatReapsMissingWorkerAndReleasesLocks(t *testing.T) {
	ctx := context.Background()
	ts := newFakeTaskStore()
	ls := lockservice.NewFakeClient()
	rl := lockservice.NewResourceLock(ls)

	ts.workers["ghost"] = &types.Worker{Name: "ghost", LastHeartbeat: time.Now().Add(-time.Hour)}
	ts.tasks["task-1"] = &types.Task{ID: "task-1", Name: "sync", State: types.TaskRunning, CreatedAt: time.Now(), ReservedResources: []string{"repo-a"}}

	_, err := rl.Acquire(ctx, []string{"repo-a"}, nil, "ghost")
	require.NoError(t, err)
	_, err = ls.SetIfAbsent(ctx, "task:task-1", "ghost", 0)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.WorkerCleanupInterval = 1
	b := New(ts, ls, cfg, "worker-1", zerolog.Nop())

	require.NoError(t, b.Beat(context.Background()))

	assert.Equal(t, types.TaskFailed, ts.tasks["task-1"].State)
	_, held, err := ls.Get(ctx, lockservice.ExclusiveKey("repo-a"))
	require.NoError(t, err)
	assert.False(t, held, "repo-a must be released after its owning worker is reaped")

	_, exists := ts.workers["ghost"]
	assert.False(t, exists)
}

func TestIgnoreAndIgnoredTaskIDs(t *testing.T) {
	b := New(newFakeTaskStore(), lockservice.NewFakeClient(), testConfig(), "worker-1", zerolog.Nop())
	b.Ignore("task-1")
	b.Ignore("task-2")
	ids := b.IgnoredTaskIDs()
	sort.Strings(ids)
	assert.Equal(t, []string{"task-1", "task-2"}, ids)
}
