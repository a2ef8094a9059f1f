// Package main provides the CLI entry point for the realtime toolkit.
//
// realtimectl exercises the connection-resilience and presence layers
// against a real or simulated backend.
//
// # Basic Usage
//
// Assess the network ahead of a connection attempt:
//
//	realtimectl doctor --config realtime.yaml
//
// Run a scripted connect/presence session against an in-memory backend:
//
//	realtimectl simulate --failures 2
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/crewline/realtime/internal/config"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := buildRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "realtimectl",
		Short:         "Connection resilience and presence toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildDoctorCmd(), buildSimulateCmd(), buildVersionCmd())
	return root
}

// loadConfig falls back to defaults when no path is given, so commands
// work out of the box against the simulated backend.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newLogger builds the slog logger per the logging config; debug forces
// the level down regardless of config.
func newLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
