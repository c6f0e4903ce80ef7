package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// FlushOptions holds flags for the flush command.
type FlushOptions struct {
	*RootOptions
	Queue string
}

// NewFlushCommand creates the flush command.
func NewFlushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FlushOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "flush",
		Short:         "Drop every job of a queue",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlush(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Queue, "queue", "batch", `queue to flush, "batch" or "live"`)

	return cmd
}

func runFlush(cmd *cobra.Command, opts *FlushOptions) error {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeApp(a)

	queueName, err := a.QueueName(opts.Queue)
	if err != nil {
		return WrapExitError(ExitCommandError, `Invalid queue, should be "live" or "batch"`, err)
	}

	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()
	if err := a.FlushQueue(ctx, queueName); err != nil {
		fmt.Fprintf(out, "An error occurred: %s\n", err)
		return WrapExitError(ExitCommandError, "flush failed", err)
	}

	writeReport(out, collectReport(ctx, a, queueName, opts.started))
	fmt.Fprintln(out)
	return nil
}
