package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/pulp/pulp-service-sub000/pkg/metrics"
	"github.com/pulp/pulp-service-sub000/pkg/types"
)

// killGrace is the interval between sending the child a cooperative-abort
// signal and killing it outright, once the grace deadline has passed.
const killGrace = 5 * time.Second

// Supervise runs task to completion and unconditionally releases its claim
// and resource locks on exit, regardless of outcome.
//
// Immediate tasks run the registered handler in-process, with the same
// claim/resource-lock discipline but no fork. Non-immediate tasks are
// forked via os/exec into a private working directory and supervised
// through a multiplexed wait on the lifecycle self-pipe, the child's exit,
// and a heartbeat-period timeout.
func (w *WorkerContext) Supervise(ctx context.Context, task *types.Task) {
	timer := metrics.NewTimer()
	defer func() {
		metrics.TaskDuration.WithLabelValues(task.Name).Observe(timer.Duration().Seconds())
	}()
	defer w.releaseTaskLocks(ctx, task)

	if task.Immediate {
		w.runImmediate(ctx, task)
		return
	}
	w.runForked(ctx, task)
}

func (w *WorkerContext) runImmediate(ctx context.Context, task *types.Task) {
	workDir, err := os.MkdirTemp("", "pulp-task-"+task.ID)
	if err != nil {
		w.failTask(ctx, task, fmt.Sprintf("creating work directory: %v", err))
		return
	}
	defer os.RemoveAll(workDir)

	if err := w.Executor.Dispatch(ctx, task, workDir); err != nil {
		w.failTask(ctx, task, err.Error())
		metrics.TaskOutcomesTotal.WithLabelValues(task.Name, "FAILED").Inc()
		return
	}
	metrics.TaskOutcomesTotal.WithLabelValues(task.Name, "COMPLETED").Inc()
}

func (w *WorkerContext) runForked(ctx context.Context, task *types.Task) {
	workDir, err := os.MkdirTemp("", "pulp-task-"+task.ID)
	if err != nil {
		w.failTask(ctx, task, fmt.Sprintf("creating work directory: %v", err))
		return
	}
	defer os.RemoveAll(workDir)

	cmd := exec.CommandContext(ctx, os.Args[0], "run-task", task.ID, task.Name, workDir)
	cmd.Env = append(os.Environ(),
		"PULP_WORKER_TASK_ID="+task.ID,
		"PULP_WORKER_TASK_NAME="+task.Name,
		"PULP_WORKER_WORK_DIR="+workDir,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		w.failTask(ctx, task, fmt.Sprintf("starting child process: %v", err))
		return
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	heartbeatPeriod := w.Config.HeartbeatPeriod()
	var abortSentAt time.Time

	for {
		select {
		case <-w.Lifecycle.Wake():
			if err := w.Housekeeping.Beat(ctx); err != nil {
				w.Logger.Warn().Err(err).Msg("beat failed during supervision")
			}
			w.handleShutdownDuringSupervision(cmd, &abortSentAt)

		case err := <-done:
			w.finishForked(ctx, task, err)
			return

		case <-time.After(heartbeatPeriod):
			if err := w.Housekeeping.Beat(ctx); err != nil {
				w.Logger.Warn().Err(err).Msg("beat failed during supervision")
			}
			w.handleShutdownDuringSupervision(cmd, &abortSentAt)
		}
	}
}

func (w *WorkerContext) handleShutdownDuringSupervision(cmd *exec.Cmd, abortSentAt *time.Time) {
	if !w.Lifecycle.ShutdownRequested() {
		return
	}
	deadline, hasDeadline := w.Lifecycle.GraceDeadline()
	if !hasDeadline {
		w.Logger.Debug().Msg("shutdown requested, waiting indefinitely for in-flight task")
		return
	}
	if time.Now().Before(deadline) {
		w.Logger.Debug().Msg("shutdown grace period active, waiting for in-flight task")
		return
	}

	switch {
	case abortSentAt.IsZero():
		w.Logger.Warn().Msg("grace period expired, sending abort signal to child")
		_ = cmd.Process.Signal(syscall.SIGUSR1)
		*abortSentAt = time.Now()
	case time.Since(*abortSentAt) > killGrace:
		w.Logger.Warn().Msg("child ignored abort signal, killing")
		_ = cmd.Process.Kill()
	}
}

// finishForked records the forked child's outcome. A non-zero exit is only
// logged: the child is responsible for marking its own task FAILED before
// it exits, so the supervisor never overwrites task state here.
func (w *WorkerContext) finishForked(ctx context.Context, task *types.Task, waitErr error) {
	if waitErr != nil {
		w.Logger.Warn().Err(waitErr).Str("task_id", task.ID).Msg("child exited non-zero")
		return
	}
	metrics.TaskOutcomesTotal.WithLabelValues(task.Name, "COMPLETED").Inc()
}

func (w *WorkerContext) failTask(ctx context.Context, task *types.Task, reason string) {
	if err := w.TaskStore.SetTaskFailed(ctx, task.ID, reason); err != nil {
		w.Logger.Warn().Err(err).Str("task_id", task.ID).Msg("marking task failed")
	}
}

func (w *WorkerContext) releaseTaskLocks(ctx context.Context, task *types.Task) {
	if err := w.ResourceLock.ReleaseAtomic(ctx, task.LockedExclusive, task.LockedShared, w.Name); err != nil {
		w.Logger.Warn().Err(err).Str("task_id", task.ID).Msg("releasing resource locks")
	}
	if err := w.ClaimLock.Release(ctx, task.ID, w.Name); err != nil {
		w.Logger.Warn().Err(err).Str("task_id", task.ID).Msg("releasing claim lock")
	}
}
