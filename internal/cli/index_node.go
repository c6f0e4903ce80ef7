package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/nodequeue/internal/app"
	"github.com/dshills/nodequeue/pkg/types"
)

// IndexNodeOptions holds flags for the index-node command.
type IndexNodeOptions struct {
	*RootOptions
	Identifier      string
	Workspace       string
	TargetWorkspace string
	Dimensions      []string
}

// NewIndexNodeCommand creates the index-node command.
func NewIndexNodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IndexNodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "index-node",
		Short: "Index or remove a single node",
		Long: `Resolve one node and index it. Removed nodes are removed from the index
under every dimension combination that lost its content. With live async
indexing enabled the work is queued on the live queue.

Example:
  nodequeue index-node --identifier 5a1c1c2e-7c5b-4e8a-9d43-1f0c2b7e6a10
  nodequeue index-node --identifier 5a1c... --dimension language=de,en`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexNode(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Identifier, "identifier", "", "node identifier (required)")
	cmd.Flags().StringVar(&opts.Workspace, "workspace", "live", "workspace to resolve the node in")
	cmd.Flags().StringVar(&opts.TargetWorkspace, "target-workspace", "", "workspace to index into, defaults to --workspace")
	cmd.Flags().StringArrayVar(&opts.Dimensions, "dimension", nil, "dimension as name=value[,fallback...], repeatable")
	_ = cmd.MarkFlagRequired("identifier")

	return cmd
}

func runIndexNode(cmd *cobra.Command, opts *IndexNodeOptions) error {
	dims, err := parseDimensions(opts.Dimensions)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --dimension", err)
	}

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeApp(a)

	node, err := a.IndexNode(commandContext(cmd), opts.Identifier, opts.Workspace, dims, opts.TargetWorkspace)
	if errors.Is(err, app.ErrNodeNotFound) {
		return WrapExitError(ExitFailure, "nothing indexed", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "indexing failed", err)
	}

	action := "Indexed"
	if node.IsRemoved() {
		action = "Removed"
	}
	if a.Config.LiveAsyncIndexing {
		fmt.Fprintf(cmd.OutOrStdout(), "%s node %s (%s) queued on %s\n", action, node.Identifier(), node.Path(), a.Config.Queue.LiveName)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s node %s (%s)\n", action, node.Identifier(), node.Path())
	return nil
}

// parseDimensions turns name=v1,v2 pairs into dimension values
func parseDimensions(pairs []string) (types.DimensionValues, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	dims := make(types.DimensionValues, len(pairs))
	for _, pair := range pairs {
		name, list, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.TrimSpace(list) == "" {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		var values []string
		for _, v := range strings.Split(list, ",") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		dims[name] = values
	}
	return dims, nil
}
