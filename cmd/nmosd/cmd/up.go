package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mediamesh/nmosd/internal/agent"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the nmosd registration proxy",
	Long: "Start the nmosd daemon. Announces the node over mDNS, discovers a\n" +
		"Registration API, registers the node, and enters steady state.",
	RunE: runUp,
}

func init() {
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, _ []string) error {
	cfg, err := agent.ParseConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("nmosd up: %w", err)
	}

	// CLI flag overrides.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if registry != "" {
		cfg.Discovery.StaticRegistries = []string{registry}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("nmosd up: %w", err)
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting nmosd",
		"version", buildVersion,
		"api_version", cfg.API.APIVersion,
	)

	a, err := agent.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("nmosd up: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := a.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("nmosd up: %w", err)
	}
	logger.Info("nmosd stopped")
	return nil
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
