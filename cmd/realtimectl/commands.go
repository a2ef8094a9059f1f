// commands.go contains the cobra command definitions. Each builder wires
// flags to its handler in handlers.go.
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func buildDoctorCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Probe network reachability and transport restrictions",
		Long: `Run the pre-connect network diagnostics and print the assessment:
measured latency, connectivity classification, and whether persistent
connection upgrades appear blocked by a proxy or firewall.

Exits non-zero when the network is unreachable.`,
		Example: `  # Probe the endpoints from the config file
  realtimectl doctor --config realtime.yaml

  # Probe explicit endpoints
  realtimectl doctor --url https://chat.example.com/health --ws-url wss://chat.example.com/realtime`,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			wsURL, _ := cmd.Flags().GetString("ws-url")
			return runDoctor(cmd.Context(), configPath, url, wsURL, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().String("url", "", "Reachability probe URL (overrides config)")
	cmd.Flags().String("ws-url", "", "WebSocket upgrade probe URL (overrides config)")

	return cmd
}

func buildSimulateCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		failures   int
		duration   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted session against an in-memory backend",
		Long: `Drive the connection manager and presence store against a simulated
backend. The backend fails the first N connect attempts to exercise the
retry scheduler, then streams scripted presence, typing, and read-receipt
events. Bus events and the attempt history are printed as they happen.`,
		Example: `  # Connect on the first attempt
  realtimectl simulate

  # Fail the first two attempts to watch the backoff sequence
  realtimectl simulate --failures 2 --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), configPath, failures, duration, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().IntVar(&failures, "failures", 0, "Number of connect attempts the backend fails before accepting")
	cmd.Flags().DurationVar(&duration, "duration", 2*time.Second, "How long to keep the session alive")

	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("realtimectl %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
