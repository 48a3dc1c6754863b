// Package cli defines the command-line interface for conveyor.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/conveyorci/conveyor/internal/logging"
)

const (
	// defaultConfigPath is the default path to the workflow definition.
	defaultConfigPath = "conveyor.yaml"
	// defaultDBPath is the default run store location.
	defaultDBPath = "conveyor.db"
)

// Options stores global CLI options shared between commands.
type Options struct {
	ConfigPath string
	DBPath     string
	LogLevel   logging.Level
}

// Execute builds the root command, runs it with the provided args and logger, and returns any error.
func Execute(args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, logging.LevelInfo)
	}

	rootOpts := &Options{
		ConfigPath: defaultConfigPath,
		DBPath:     defaultDBPath,
		LogLevel:   logging.LevelInfo,
	}
	applyBaseEnv(rootOpts)

	rootCmd := newRootCommand(rootOpts, logger)
	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

// newRootCommand constructs the root cobra.Command with global flags and subcommands.
func newRootCommand(opts *Options, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conveyor",
		Short: "conveyor executes staged, parameterized deployment workflows",
		Long: "conveyor is a pipeline-orchestration engine: it runs the staged deployment\n" +
			"workflow defined in conveyor.yaml, injecting credentials into stage\n" +
			"environments, resolving live inventory from the cloud provider and\n" +
			"accepting webhook triggers in serve mode.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := logging.ParseLevel(cmd.Flag("log-level").Value.String())
			opts.LogLevel = level
			logger = logging.NewLogger(os.Stderr, level)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", level)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath, "Path to conveyor.yaml workflow definition")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", opts.DBPath, "Path to the run store database")
	cmd.PersistentFlags().String("log-level", opts.LogLevel.String(), "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newRunCommand(opts),
		newPlanCommand(opts),
		newServeCommand(opts),
		newRunsCommand(opts),
		newInventoryCommand(opts),
		newCredentialsCommand(opts),
	)

	return cmd
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to a default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, logging.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, logging.LevelInfo)
}
