package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/nodequeue/internal/producer"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	Workspace      string
	StartNodePath  string
	DimensionsHash string
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Queue a full reindex on the batch queue",
		Long: `Page through the fulltext roots of a workspace and queue one index job per
page on the batch queue. The batch queue must be empty; flush it first.

Example:
  nodequeue build
  nodequeue build --workspace ""
  nodequeue build --start-node-path /sites/site/news --dimensions-hash 2b5e91d8a0c3e1f4`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Workspace, "workspace", "live", "workspace to reindex, empty for all workspaces")
	cmd.Flags().StringVar(&opts.StartNodePath, "start-node-path", "", "only index nodes at or below this path")
	cmd.Flags().StringVar(&opts.DimensionsHash, "dimensions-hash", "", "only index nodes with this dimensions hash")

	return cmd
}

func runBuild(cmd *cobra.Command, opts *BuildOptions) error {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	_, err = a.BatchProducer(out).Build(ctx, producer.BuildOptions{
		Workspace:      opts.Workspace,
		StartPath:      opts.StartNodePath,
		DimensionsHash: opts.DimensionsHash,
	})
	if errors.Is(err, producer.ErrQueueNotEmpty) {
		return WrapExitError(ExitFailure, "build aborted", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "build failed", err)
	}

	writeReport(out, collectReport(ctx, a, a.Config.Queue.BatchName, opts.started))
	fmt.Fprintln(out)
	return nil
}
