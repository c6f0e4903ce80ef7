package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/nodequeue/internal/mcp"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Serve the queue_status, search_content, index_node and build_index tools
over the Model Context Protocol. Stdout carries the protocol; logs go to stderr.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts)
		},
	}
	return cmd
}

func runServe(cmd *cobra.Command, opts *RootOptions) error {
	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	server := mcp.NewServer(a)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ServeMetrics(gctx) })
	g.Go(func() error {
		a.Logger.Info("MCP server ready, listening on stdio")
		defer cancel()
		return server.Serve(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitCommandError, "server error", err)
	}
	a.Logger.Info("server stopped")
	return nil
}
