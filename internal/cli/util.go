package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/morozRed/cfgaudit/internal/config"
	"github.com/morozRed/cfgaudit/internal/logging"
)

func resolveWorkingDirectory() (string, error) {
	rootPath, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory: %w", err)
	}
	return rootPath, nil
}

// loadConfig resolves configuration for the working directory, with the
// command's flags taking precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	rootPath, err := resolveWorkingDirectory()
	if err != nil {
		return nil, err
	}
	file, err := OptionalStringFlag(cmd, "config")
	if err != nil {
		return nil, err
	}
	opts := config.LoadOptions{Dir: rootPath, File: file}
	if cmd != nil {
		opts.Flags = cmd.Flags()
	}
	return config.Load(opts)
}

// newLogger builds the stderr logger from config and -v/--quiet.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbosity := 0
	if cmd != nil && cmd.Flags().Lookup("verbose") != nil {
		verbosity, _ = cmd.Flags().GetCount("verbose")
	}
	quiet, _ := OptionalBoolFlag(cmd, "quiet", false)
	level := logging.LevelFromVerbosity(verbosity, quiet, logging.LevelFromString(cfg.LogLevel))
	return logging.NewLogger(os.Stderr, level, logging.ParseFormat(cfg.LogFormat))
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
