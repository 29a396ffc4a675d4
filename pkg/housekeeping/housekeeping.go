package housekeeping

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulp/pulp-service-sub000/pkg/config"
	"github.com/pulp/pulp-service-sub000/pkg/lockservice"
	"github.com/pulp/pulp-service-sub000/pkg/metrics"
	"github.com/pulp/pulp-service-sub000/pkg/taskstore"
	"github.com/pulp/pulp-service-sub000/pkg/types"
)

// Beater tracks the wall-clock/beat-count state behind a single worker's
// Beat calls and owns the side effects each interval triggers.
type Beater struct {
	TaskStore     taskstore.Client
	LockService   lockservice.Client
	ResourceLock  *lockservice.ResourceLock
	Config        config.Config
	WorkerName    string
	Logger        zerolog.Logger

	mu                sync.Mutex
	lastHeartbeat     time.Time
	beatCount         int64
	ignored           map[string]struct{}
	liveWorkers       int
	shutdownRequested bool
}

// New returns a Beater ready to call Beat. It performs no I/O itself.
func New(ts taskstore.Client, ls lockservice.Client, cfg config.Config, workerName string, logger zerolog.Logger) *Beater {
	return &Beater{
		TaskStore:    ts,
		LockService:  ls,
		ResourceLock: lockservice.NewResourceLock(ls),
		Config:       cfg,
		WorkerName:   workerName,
		Logger:       logger,
		ignored:      make(map[string]struct{}),
		liveWorkers:  1,
	}
}

// Beat is invoked on every supervisor wake and from the idle-sleep loop. It
// is a no-op unless HeartbeatPeriod has elapsed since the previous call that
// did work.
func (b *Beater) Beat(ctx context.Context) error {
	now := time.Now()

	b.mu.Lock()
	if !b.lastHeartbeat.IsZero() && now.Sub(b.lastHeartbeat) < b.Config.HeartbeatPeriod() {
		b.mu.Unlock()
		return nil
	}
	b.lastHeartbeat = now
	b.beatCount++
	count := b.beatCount
	b.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HousekeepingCycleDuration)

	if err := b.TaskStore.TouchWorker(ctx, b.WorkerName); err != nil {
		b.Logger.Warn().Err(err).Msg("heartbeat update failed, requesting shutdown")
		b.mu.Lock()
		b.shutdownRequested = true
		b.mu.Unlock()
	}

	if count%int64(b.Config.IgnoredTasksCleanupInterval) == 0 {
		if err := b.pruneIgnored(ctx); err != nil {
			b.Logger.Warn().Err(err).Msg("ignored-task cleanup failed")
		}
	}

	if count%int64(b.Config.WorkerCleanupInterval) == 0 {
		ran, err := b.TaskStore.WithAdvisoryLock(ctx, "WORKER_CLEANUP", b.cleanupMissingWorkers)
		if err != nil {
			b.Logger.Warn().Err(err).Msg("worker cleanup failed")
		} else if !ran {
			b.Logger.Debug().Msg("worker cleanup lock held by a peer, skipping")
		}
	}

	if _, err := b.TaskStore.WithAdvisoryLock(ctx, "SCHEDULING", b.dispatchScheduled); err != nil {
		b.Logger.Warn().Err(err).Msg("scheduled task dispatch failed")
	}

	if count%int64(b.Config.MetricHeartbeatInterval) == 0 {
		ran, err := b.TaskStore.WithAdvisoryLock(ctx, "TASK_METRICS", b.recordQueueDepth)
		if err != nil {
			b.Logger.Warn().Err(err).Msg("queue-depth metric failed")
		} else if !ran {
			b.Logger.Debug().Msg("task metrics lock held by a peer, skipping")
		}
	}

	if err := b.refreshLiveWorkers(ctx); err != nil {
		b.Logger.Warn().Err(err).Msg("refreshing live worker count failed")
	}

	return nil
}

// pruneIgnored removes ids from the ignored list whose tasks are no longer
// WAITING — e.g. a peer already claimed and resolved them. Each id's own
// current state is checked directly rather than inferred from a general
// waiting-task batch, so an ignored task doesn't get dropped and re-ignored
// just because the queue is deep enough to push it out of a size-limited
// listing.
func (b *Beater) pruneIgnored(ctx context.Context) error {
	b.mu.Lock()
	ids := make([]string, 0, len(b.ignored))
	for id := range b.ignored {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}

	stale := make([]string, 0, len(ids))
	for _, id := range ids {
		task, err := b.TaskStore.GetTask(ctx, id)
		if err != nil || task.State != types.TaskWaiting {
			stale = append(stale, id)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range stale {
		delete(b.ignored, id)
	}
	return nil
}

// cleanupMissingWorkers runs under the WORKER_CLEANUP advisory lock: for
// each worker whose heartbeat has expired, it scans the lock store for
// claim keys that worker owns, releases the associated resource locks under
// that worker's name, fails any non-final task, and deletes the claim and
// worker rows.
func (b *Beater) cleanupMissingWorkers(ctx context.Context) error {
	missing, err := b.TaskStore.MissingWorkers(ctx, b.Config.WorkerTTL)
	if err != nil {
		return err
	}

	for _, w := range missing {
		if err := b.cleanupWorkerClaims(ctx, w.Name); err != nil {
			b.Logger.Warn().Err(err).Str("worker", w.Name).Msg("claim cleanup failed for missing worker")
			continue
		}
		if err := b.TaskStore.DeleteWorker(ctx, w.Name); err != nil {
			b.Logger.Warn().Err(err).Str("worker", w.Name).Msg("deleting missing worker row failed")
			continue
		}
		metrics.WorkersReapedTotal.Inc()
	}
	return nil
}

func (b *Beater) cleanupWorkerClaims(ctx context.Context, missingWorker string) error {
	keys, errCh := b.LockService.Scan(ctx, "task:*")
	var claimKeys []string
	for k := range keys {
		claimKeys = append(claimKeys, k)
	}
	if err := <-errCh; err != nil {
		return err
	}

	for _, key := range claimKeys {
		owner, held, err := b.LockService.Get(ctx, key)
		if err != nil || !held || owner != missingWorker {
			continue
		}
		taskID := strings.TrimPrefix(key, "task:")

		task, err := b.TaskStore.GetTask(ctx, taskID)
		if err != nil {
			b.Logger.Warn().Err(err).Str("task_id", taskID).Msg("loading orphaned claim's task")
			continue
		}

		exclusive, shared := task.ExclusiveAndSharedResources()
		if err := b.ResourceLock.Release(ctx, exclusive, shared, missingWorker); err != nil {
			b.Logger.Warn().Err(err).Str("task_id", taskID).Msg("releasing orphaned task's resource locks")
		}

		if !task.State.IsFinal() {
			if err := b.TaskStore.SetTaskFailed(ctx, taskID, "worker "+missingWorker+" went missing"); err != nil {
				b.Logger.Warn().Err(err).Str("task_id", taskID).Msg("marking orphaned task failed")
			}
		}
		if err := b.LockService.Delete(ctx, key); err != nil {
			b.Logger.Warn().Err(err).Str("task_id", taskID).Msg("deleting orphaned claim key")
		}
	}
	return nil
}

func (b *Beater) dispatchScheduled(ctx context.Context) error {
	n, err := b.TaskStore.DispatchScheduledTasks(ctx, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		b.Logger.Debug().Int("count", n).Msg("dispatched scheduled tasks")
	}
	return nil
}

// recordQueueDepth implements the gauge formula exactly: tasks in WAITING
// or RUNNING older than 5s, minus the live worker count — an estimate of
// backlog beyond what the current fleet can immediately absorb.
func (b *Beater) recordQueueDepth(ctx context.Context) error {
	n, err := b.TaskStore.CountTasksNotFinalOlderThan(ctx, 5*time.Second)
	if err != nil {
		return err
	}
	b.mu.Lock()
	live := b.liveWorkers
	b.mu.Unlock()

	depth := n - live
	metrics.WaitingTasksTotal.Set(float64(depth))
	return nil
}

func (b *Beater) refreshLiveWorkers(ctx context.Context) error {
	n, err := b.TaskStore.CountLiveWorkers(ctx, b.Config.WorkerTTL)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.liveWorkers = n
	b.mu.Unlock()
	metrics.LiveWorkersTotal.Set(float64(n))
	return nil
}

// LiveWorkers returns the cached live-worker count used by the sleep
// pacer's backoff formula.
func (b *Beater) LiveWorkers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.liveWorkers < 1 {
		return 1
	}
	return b.liveWorkers
}

// ShutdownRequested reports whether a heartbeat update failure asked the
// worker to begin shutting down.
func (b *Beater) ShutdownRequested() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shutdownRequested
}

// Ignore adds taskID to the in-memory ignored list, used by the fetcher to
// skip version-incompatible tasks without re-evaluating them every beat.
func (b *Beater) Ignore(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ignored[taskID] = struct{}{}
}

// IgnoredTaskIDs returns a snapshot of the current ignored-task list.
func (b *Beater) IgnoredTaskIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.ignored))
	for id := range b.ignored {
		ids = append(ids, id)
	}
	return ids
}
