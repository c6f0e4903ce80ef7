package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dshills/nodequeue/internal/app"
	"github.com/dshills/nodequeue/internal/config"
	"github.com/dshills/nodequeue/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	LogLevel   string

	// Config overrides the file and environment (for testing).
	Config *config.Config

	started time.Time
}

// NewRootCommand creates the root command for the nodequeue CLI.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "nodequeue",
		Short:   "Queue-driven search indexing for a versioned content tree",
		Long:    "Builds, updates and serves a full-text index of workspace and dimension aware content nodes through batch and live job queues.",
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.started = time.Now()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", config.DefaultConfigPath, "path to the YAML configuration")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(NewBuildCommand(opts))
	cmd.AddCommand(NewWorkCommand(opts))
	cmd.AddCommand(NewFlushCommand(opts))
	cmd.AddCommand(NewIndexChangedNodesCommand(opts))
	cmd.AddCommand(NewIndexNodeCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// openApp loads the configuration and wires the application. The config
// file is only required when --config was given explicitly.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app.App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.Load(opts.ConfigPath, cmd.Flags().Changed("config"))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
		}
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	logger := logging.New(cmd.ErrOrStderr(), logging.Config{
		Format: cfg.Logging.Format,
		Level:  cfg.Logging.Level,
	})
	a, err := app.New(commandContext(cmd), cfg, logger, prometheus.NewRegistry())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to initialize", err)
	}
	return a, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		a.Logger.Error("error closing application", "error", err)
	}
}
