package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/nodequeue/internal/producer"
	"github.com/dshills/nodequeue/internal/storage"
)

// IndexChangedNodesOptions holds flags for the index-changed-nodes command.
type IndexChangedNodesOptions struct {
	*RootOptions
	Workspace string
	ExitAfter int
}

// NewIndexChangedNodesCommand creates the index-changed-nodes command.
func NewIndexChangedNodesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IndexChangedNodesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "index-changed-nodes",
		Short: "Queue index jobs for nodes changed since the last run",
		Long: `Read every node modified after the stored watermark, queue one index job
per fulltext root and dimension combination on the live queue, and advance the
watermark. The first run only initializes the watermark.

Example:
  nodequeue index-changed-nodes
  nodequeue index-changed-nodes --workspace live --exit-after 50`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexChangedNodes(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Workspace, "workspace", "live", "workspace to scan for changes")
	cmd.Flags().IntVar(&opts.ExitAfter, "exit-after", 0, "stop queueing after this many seconds (0 means no limit)")

	return cmd
}

func runIndexChangedNodes(cmd *cobra.Command, opts *IndexChangedNodesOptions) error {
	if opts.ExitAfter < 0 {
		return NewExitError(ExitCommandError, "--exit-after must not be negative")
	}

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	_, err = a.IncrementalProducer(cmd.OutOrStdout()).RunOnce(ctx, opts.Workspace, time.Duration(opts.ExitAfter)*time.Second)
	switch {
	case errors.Is(err, storage.ErrWatermarkConflict), errors.Is(err, producer.ErrAlreadyRunning):
		return WrapExitError(ExitFailure, "another run owns the watermark", err)
	case err != nil:
		return WrapExitError(ExitCommandError, "failed to index changed nodes", err)
	}
	return nil
}
