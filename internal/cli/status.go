package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Queue string
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Print the system report of the queues",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Queue, "queue", "", `queue to report, "batch" or "live"; empty reports both`)

	return cmd
}

func runStatus(cmd *cobra.Command, opts *StatusOptions) error {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeApp(a)

	names := []string{a.Config.Queue.BatchName, a.Config.Queue.LiveName}
	if opts.Queue != "" {
		name, err := a.QueueName(opts.Queue)
		if err != nil {
			return WrapExitError(ExitCommandError, `Invalid queue, should be "live" or "batch"`, err)
		}
		names = []string{name}
	}

	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()
	for _, name := range names {
		writeReport(out, collectReport(ctx, a, name, opts.started))
	}
	fmt.Fprintln(out)
	return nil
}
