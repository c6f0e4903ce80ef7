package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/nodequeue/internal/searcher"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Workspace  string
	Dimensions []string
	Limit      int
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <terms...>",
		Short: "Full-text search over the index",
		Long: `Search the indexed documents. All terms must match.

Example:
  nodequeue search coffee beans
  nodequeue search --dimension language=de kaffee`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&opts.Workspace, "workspace", "live", "workspace to search")
	cmd.Flags().StringArrayVar(&opts.Dimensions, "dimension", nil, "dimension as name=value[,fallback...], repeatable")
	cmd.Flags().IntVar(&opts.Limit, "limit", searcher.DefaultLimit, "maximum number of results")

	return cmd
}

func runSearch(cmd *cobra.Command, opts *SearchOptions, query string) error {
	dims, err := parseDimensions(opts.Dimensions)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --dimension", err)
	}

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeApp(a)

	resp, err := a.Searcher.Search(commandContext(cmd), searcher.SearchRequest{
		Query:      query,
		Workspace:  opts.Workspace,
		Dimensions: dims,
		Limit:      opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "search failed", err)
	}

	out := cmd.OutOrStdout()
	if len(resp.Results) == 0 {
		fmt.Fprintf(out, "No results for %q\n", query)
		return nil
	}
	for _, r := range resp.Results {
		fmt.Fprintf(out, "%2d. %s  %s %s (score %.3f)\n", r.Rank, r.Title, r.Path, r.Dimensions, r.Score)
		if opts.Verbose && r.Snippet != "" {
			fmt.Fprintf(out, "    %s\n", r.Snippet)
		}
	}
	return nil
}
