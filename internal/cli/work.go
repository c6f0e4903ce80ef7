package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/nodequeue/internal/logging"
	"github.com/dshills/nodequeue/internal/worker"
)

// WorkOptions holds flags for the work command.
type WorkOptions struct {
	*RootOptions
	Queue       string
	ExitAfter   int
	Limit       int
	Concurrency int
}

// NewWorkCommand creates the work command.
func NewWorkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Execute jobs from a queue",
		Long: `Block on a queue and execute index and removal jobs as they arrive.

Failed jobs count toward --limit and are released or moved to the failed
state by the queue. With --concurrency every loop applies --limit on its own.

Example:
  nodequeue work --queue batch --exit-after 300 --verbose
  nodequeue work --queue live --concurrency 4`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWork(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Queue, "queue", "batch", `queue to process, "batch" or "live"`)
	cmd.Flags().IntVar(&opts.ExitAfter, "exit-after", 0, "exit after this many seconds (0 runs until interrupted)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "exit after this many executed jobs, successful or not (0 means no limit)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 1, "number of concurrent worker loops")

	return cmd
}

func runWork(cmd *cobra.Command, opts *WorkOptions) error {
	if opts.ExitAfter < 0 || opts.Limit < 0 || opts.Concurrency < 1 {
		return NewExitError(ExitCommandError, "--exit-after and --limit must not be negative, --concurrency must be at least 1")
	}

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeApp(a)

	queueName, err := a.QueueName(opts.Queue)
	if err != nil {
		return WrapExitError(ExitCommandError, `Invalid queue, should be "live" or "batch"`, err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	metricsDone := make(chan error, 1)
	go func() { metricsDone <- a.ServeMetrics(ctx) }()

	out := &lockedWriter{w: cmd.OutOrStdout()}
	all, err := worker.RunPool(ctx, opts.Concurrency, func(i int) *worker.Loop {
		return worker.New(a.Manager, queueName, worker.Options{
			ExitAfter: time.Duration(opts.ExitAfter) * time.Second,
			Limit:     opts.Limit,
			Verbose:   opts.Verbose,
			Out:       out,
			Logger:    logging.Component(a.Logger, "worker").With("loop", i),
		})
	})
	cancel()
	if mErr := <-metricsDone; mErr != nil {
		a.Logger.Warn("metrics endpoint failed", "error", mErr)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "worker stopped", err)
	}

	total := worker.Total(all)
	a.Logger.Info("worker finished", "queue", queueName, "executed", total.Executed, "failed", total.Failed, "elapsed", total.Elapsed)
	if opts.Verbose && opts.Concurrency > 1 {
		fmt.Fprintf(out, "Executed %d job(s), %d failed\n", total.Executed, total.Failed)
	}
	return nil
}
