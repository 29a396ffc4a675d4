package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pulp/pulp-service-sub000/pkg/types"
)

// fakeTaskStore is a minimal in-memory taskstore.Client for this package's
// tests.
type fakeTaskStore struct {
	mu      sync.Mutex
	tasks   map[string]*types.Task
	workers map[string]*types.Worker
}

func newFakeTaskStore(tasks ...*types.Task) *fakeTaskStore {
	f := &fakeTaskStore{
		tasks:   make(map[string]*types.Task),
		workers: make(map[string]*types.Worker),
	}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeTaskStore) WaitingTasks(ctx context.Context, limit int, excludeIDs []string) ([]*types.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	excluded := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}
	var ids []string
	for id := range f.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []*types.Task
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
	return f.tasks[id], nil
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
	return nil, nil
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
	return 0, nil
}

func (f *fakeTaskStore) DispatchScheduledTasks(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func (f *fakeTaskStore) WithAdvisoryLock(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
	return true, fn(ctx)
}

func (f *fakeTaskStore) Close() {}
