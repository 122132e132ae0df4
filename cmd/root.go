package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/goosewin/glot/internal/apperr"
	"github.com/goosewin/glot/internal/config"
	"github.com/goosewin/glot/internal/observability"
	"github.com/goosewin/glot/internal/ui"
	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

var (
	logLevel  string
	logFormat string

	logger = slog.New(slog.DiscardHandler)
)

var rootCmd = &cobra.Command{
	Use:               "glot",
	Short:             "Translate text with a language model",
	Long:              "Glot renders a translation prompt, sends it to a completion backend and prints the result.",
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
}

// setup loads .env files and layered config, then builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve current directory: %w", err)
	}
	loaded, err := config.LoadEnvFiles(cwd)
	if err != nil {
		return err
	}
	if _, err := config.LoadConfig(cwd); err != nil {
		return err
	}

	level := logLevel
	if level == "" {
		level = config.GetString("logging.level", "info")
	}
	format := logFormat
	if format == "" {
		format = config.GetString("logging.format", "text")
	}
	built, err := observability.NewLogger(observability.LogConfig{Level: level, Format: format})
	if err != nil {
		return apperr.Configuration("logging", err.Error())
	}
	logger = built
	slog.SetDefault(logger)

	paths := config.CurrentPaths()
	logger.Debug("configuration loaded",
		"env_files", len(loaded),
		"default", paths.Default,
		"global", paths.Global,
		"project", paths.Project,
	)
	return nil
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	if errors.Is(err, errInputRequired) {
		ui.Warn(os.Stderr, "%s", inputRequiredMessage)
		os.Exit(2)
	}
	ui.Error(os.Stderr, err, apperr.Hint(err))
	os.Exit(1)
}
