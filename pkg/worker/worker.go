/*
Package worker implements the task worker process: the main run loop that
fetches and supervises tasks, and the supporting pieces it's built from —
task fetching (fetcher.go), child supervision (supervisor.go), signal-driven
shutdown (lifecycle.go), idle-pace sleeping (pacer.go), and version
compatibility (identity.go).

A WorkerContext wires together the lock service, task store, housekeeping
beater, and executor registry that the rest of the package's methods are
defined on.
*/
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulp/pulp-service-sub000/pkg/config"
	"github.com/pulp/pulp-service-sub000/pkg/executor"
	"github.com/pulp/pulp-service-sub000/pkg/housekeeping"
	"github.com/pulp/pulp-service-sub000/pkg/lockservice"
	"github.com/pulp/pulp-service-sub000/pkg/taskstore"
)

// WorkerContext holds everything a single worker process needs to fetch,
// supervise, and clean up after tasks.
type WorkerContext struct {
	Name     string
	Versions map[string]string

	Config config.Config
	Logger zerolog.Logger

	TaskStore    taskstore.Client
	LockService  lockservice.Client
	ClaimLock    *lockservice.ClaimLock
	ResourceLock *lockservice.ResourceLock
	Housekeeping *housekeeping.Beater
	Executor     *executor.Registry
	Lifecycle    *Lifecycle
}

// New constructs a WorkerContext from its dependencies, deriving the claim
// and resource lock helpers and the housekeeping beater from the supplied
// store and lock service clients.
func New(name string, versions map[string]string, cfg config.Config, logger zerolog.Logger, ts taskstore.Client, ls lockservice.Client, registry *executor.Registry) *WorkerContext {
	return &WorkerContext{
		Name:         name,
		Versions:     versions,
		Config:       cfg,
		Logger:       logger,
		TaskStore:    ts,
		LockService:  ls,
		ClaimLock:    lockservice.NewClaimLock(ls),
		ResourceLock: lockservice.NewResourceLock(ls),
		Housekeeping: housekeeping.New(ts, ls, cfg, name, logger),
		Executor:     registry,
		Lifecycle:    NewLifecycle(cfg.TaskGraceInterval),
	}
}

// Run drives the worker's main loop: fetch a task, supervise it to
// completion, repeat; when nothing is available, beat and idle-sleep. In
// burst mode it returns as soon as a fetch finds no claimable task, instead
// of sleeping and retrying — used by one-shot/CI invocations.
func (w *WorkerContext) Run(ctx context.Context, burst bool) error {
	if err := w.register(ctx); err != nil {
		return err
	}
	defer w.deregister()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w.Housekeeping.ShutdownRequested() {
			w.Lifecycle.RequestShutdown()
		}
		if w.Lifecycle.ShutdownRequested() {
			w.Logger.Info().Msg("shutdown requested, exiting run loop")
			return nil
		}

		task, err := w.Fetch(ctx)
		if err != nil {
			w.Logger.Warn().Err(err).Msg("fetch failed")
			if burst {
				return err
			}
			w.idleSleep(ctx)
			continue
		}

		if task == nil {
			if burst {
				return nil
			}
			w.idleSleep(ctx)
			continue
		}

		w.Logger.Info().Str("task_id", task.ID).Str("task_name", task.Name).Msg("claimed task")
		w.Supervise(ctx, task)
	}
}

func (w *WorkerContext) register(ctx context.Context) error {
	return w.TaskStore.UpsertWorker(ctx, w.Name, w.Versions)
}

// deregister deletes this worker's registry row on the way out of Run, so a
// graceful shutdown leaves no row for peer cleanup to later reap. Uses its
// own timeout rather than the caller's ctx, which may already be canceled
// by the time Run is returning.
func (w *WorkerContext) deregister() {
	dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.TaskStore.DeleteWorker(dctx, w.Name); err != nil {
		w.Logger.Warn().Err(err).Msg("deleting worker registry row on shutdown")
	}
}
