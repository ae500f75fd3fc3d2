package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/testbench-io/testbench/internal/config"
	"github.com/testbench-io/testbench/internal/worker"
)

// NewWorkerCmd creates the command that runs a Temporal execution worker.
func NewWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a Temporal worker that executes test units",
		Long: `Run a worker that polls the configured Temporal task queue and executes
HTTP units. Requires TESTBENCH_TEMPORAL_HOST.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigFromEnv()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if cfg.Worker.Temporal.Host == "" {
				return fmt.Errorf("TESTBENCH_TEMPORAL_HOST is required to run a worker")
			}

			c, err := dialTemporal(cfg.Worker.Temporal)
			if err != nil {
				return err
			}
			defer c.Close()

			Logger.Debug("creating worker for task queue", "queue", cfg.Worker.Temporal.TaskQueue)
			w := sdkworker.New(c, cfg.Worker.Temporal.TaskQueue, sdkworker.Options{
				MaxConcurrentActivityExecutionSize: cfg.Worker.Concurrency,
			})
			worker.RegisterTemporal(w, &worker.Activities{
				Executor: worker.NewHTTPExecutor(cfg.Worker.HTTPTimeout),
				Evaluate: cfg.Worker.Evaluate,
			})

			Logger.Info("starting worker", "queue", cfg.Worker.Temporal.TaskQueue, "evaluate", cfg.Worker.Evaluate)
			if err := w.Run(sdkworker.InterruptCh()); err != nil {
				return fmt.Errorf("worker stopped: %w", err)
			}
			return nil
		},
	}
}
