package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pulp/pulp-service-sub000/pkg/config"
	"github.com/pulp/pulp-service-sub000/pkg/lockservice"
	"github.com/pulp/pulp-service-sub000/pkg/log"
	"github.com/pulp/pulp-service-sub000/pkg/metrics"
	"github.com/pulp/pulp-service-sub000/pkg/taskstore"
	"github.com/pulp/pulp-service-sub000/pkg/worker"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "pulp-worker",
	Short:   "Distributed task worker competing for relational-queue tasks",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"pulp-worker version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("name", "", "Worker name (defaults to a generated uuid)")
	rootCmd.PersistentFlags().Bool("enable-pprof", false, "Enable pprof profiling endpoints")
	cobra.OnInitialize(initLogging)

	runCmd.Flags().Bool("burst", false, "Process waiting tasks until the queue is empty, then exit")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runTaskCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker's main fetch-supervise loop",
	Long: `Run registers the worker, then repeatedly fetches a claimable task,
forks and supervises it to completion, and sleeps between attempts.
With --burst it processes tasks until none are claimable, then exits
instead of looping forever — useful for CI and batch invocations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		burst, _ := cmd.Flags().GetBool("burst")
		return runWorker(cmd, burst)
	},
}

// runTaskCmd is the hidden child-mode entrypoint the supervisor re-execs
// itself as (argv: run-task <task-id> <task-name> <work-dir>). It looks the
// task name up in the same handler registry the parent builds, runs the
// handler, and exits non-zero on failure — the parent only observes the
// exit code and the task store's resulting state.
var runTaskCmd = &cobra.Command{
	Use:    "run-task <task-id> <task-name> <work-dir>",
	Short:  "Internal: execute a single task's handler (invoked by the supervisor)",
	Hidden: true,
	Args:   cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(cmd.Context(), args[0], args[1], args[2])
	},
}

func runWorker(cmd *cobra.Command, burst bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = "worker-" + uuid.NewString()
	}
	logger := log.WithWorkerName(name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts, err := taskstore.Connect(ctx, cfg.TaskStoreDSN)
	if err != nil {
		return fmt.Errorf("connecting to task store: %w", err)
	}
	defer ts.Close()

	ls := lockservice.NewRedisClient(cfg.LockServiceAddr)

	if cfg.MetricsEnabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe("0.0.0.0:9090", mux); err != nil {
				logger.Warn().Err(err).Msg("metrics server exited")
			}
		}()
	}

	if enablePprof, _ := cmd.Flags().GetBool("enable-pprof"); enablePprof {
		go func() {
			if err := http.ListenAndServe("127.0.0.1:6060", nil); err != nil {
				logger.Warn().Err(err).Msg("pprof server exited")
			}
		}()
	}

	registry := newHandlerRegistry()
	w := worker.New(name, declaredVersions(), cfg, logger, ts, ls, registry)

	logger.Info().Bool("burst", burst).Msg("worker starting")

	if err := w.Run(ctx, burst); err != nil && err != context.Canceled {
		return fmt.Errorf("worker run loop: %w", err)
	}
	logger.Info().Msg("worker stopped")
	return nil
}

func runTask(ctx context.Context, taskID, taskName, workDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	ts, err := taskstore.Connect(ctx, cfg.TaskStoreDSN)
	if err != nil {
		return fmt.Errorf("connecting to task store: %w", err)
	}
	defer ts.Close()

	task, err := ts.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("loading task %s: %w", taskID, err)
	}
	task.Name = taskName

	registry := newHandlerRegistry()
	if err := registry.Dispatch(ctx, task, workDir); err != nil {
		if ferr := ts.SetTaskFailed(ctx, taskID, err.Error()); ferr != nil {
			return fmt.Errorf("%w (marking task failed: %v)", err, ferr)
		}
		return err
	}
	return nil
}

func declaredVersions() map[string]string {
	return map[string]string{
		"core": Version,
	}
}
