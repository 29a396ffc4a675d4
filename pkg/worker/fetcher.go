package worker

import (
	"context"
	"sort"

	"github.com/pulp/pulp-service-sub000/pkg/metrics"
	"github.com/pulp/pulp-service-sub000/pkg/types"
)

// Fetch implements the task fetcher: it queries up to FetchTaskLimit
// waiting tasks (excluding the ignored list), and walks them in
// creation-time order trying to claim and resource-lock each, skipping any
// task whose resources are known-blocked within this pass. It returns the
// first task it successfully claims and locks, or nil if none could be
// claimed.
func (w *WorkerContext) Fetch(ctx context.Context) (*types.Task, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ClaimLatency)

	excluded := w.Housekeeping.IgnoredTaskIDs()
	tasks, err := w.TaskStore.WaitingTasks(ctx, w.Config.FetchTaskLimit, excluded)
	if err != nil {
		return nil, err
	}

	blockedInIteration := make(map[string]struct{})

	for _, task := range tasks {
		exclusive, shared := task.ExclusiveAndSharedResources()
		sort.Strings(exclusive)
		sort.Strings(shared)

		if anyBlocked(exclusive, blockedInIteration) || anyBlocked(shared, blockedInIteration) {
			continue
		}

		compatible, err := IsCompatible(task, w.Versions)
		if err != nil {
			w.Logger.Warn().Err(err).Str("task_id", task.ID).Msg("version compatibility check failed")
			continue
		}
		if !compatible {
			w.Housekeeping.Ignore(task.ID)
			continue
		}

		claimed, err := w.ClaimLock.TryClaim(ctx, task.ID, w.Name)
		if err != nil {
			w.Logger.Warn().Err(err).Str("task_id", task.ID).Msg("claim attempt failed")
			continue
		}
		if !claimed {
			continue
		}

		blocked, err := w.ResourceLock.Acquire(ctx, exclusive, shared, w.Name)
		if err != nil {
			_ = w.ClaimLock.Release(ctx, task.ID, w.Name)
			w.Logger.Warn().Err(err).Str("task_id", task.ID).Msg("resource lock acquire failed")
			continue
		}
		if len(blocked) > 0 {
			_ = w.ClaimLock.Release(ctx, task.ID, w.Name)
			for _, r := range blocked {
				blockedInIteration[r] = struct{}{}
				metrics.ResourceLockContentionTotal.WithLabelValues(r).Inc()
			}
			continue
		}

		task.LockedExclusive = exclusive
		task.LockedShared = shared
		metrics.TasksDispatchedTotal.WithLabelValues(task.Name).Inc()
		return task, nil
	}

	return nil, nil
}

func anyBlocked(resources []string, blocked map[string]struct{}) bool {
	for _, r := range resources {
		if _, ok := blocked[r]; ok {
			return true
		}
	}
	return false
}
