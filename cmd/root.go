// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package cmd

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/openvee/veelink/internal/config"
	"github.com/openvee/veelink/internal/logging"
)

var (
	// Connection selection flags
	cfgFile      string
	deviceTarget string
	relayURL     string
	benchPort    string
	benchBaud    int

	// Timeout overrides; zero keeps the configured value
	scanTimeoutFlag    time.Duration
	connectTimeoutFlag time.Duration
	opTimeoutFlag      time.Duration

	// Logging flags
	logLevelFlag  string
	logFormatFlag string

	// Shared runtime, set up by initRuntime before any command runs
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
)

var rootCmd = &cobra.Command{
	Use:   "veelink",
	Short: "Vee resistance trainer control and telemetry",
	Long: `Veelink - control, monitor and program Vee resistance trainers.

Talks the trainer's BLE control service through a local Bluetooth
adapter, through a remote veelink relay, or over a wired bench adapter
for firmware bring-up.

Connection modes:
  Bluetooth: default; --device pins scanning to one trainer by name or address
  Relay:     --relay ws://host:9178/v1/link
  Bench:     --bench /dev/ttyUSB0 [--baud 115200]

For relay authentication, the token is read from the configuration file
or the VEELINK_RELAY_TOKEN environment variable, or prompted
interactively if neither is set. A --token flag is intentionally not
provided to avoid leaking credentials in shell history.`,
	Version:           "0.6.0",
	PersistentPreRunE: initRuntime,
}

func init() {
	// Connection selection flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&deviceTarget, "device", "d", "", "Trainer name or address to pin scanning to")
	rootCmd.PersistentFlags().StringVar(&relayURL, "relay", "", "Relay URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&benchPort, "bench", "", "Bench serial port device")
	rootCmd.PersistentFlags().IntVarP(&benchBaud, "baud", "b", 115200, "Baud rate (bench only)")

	// Timeout overrides
	rootCmd.PersistentFlags().DurationVar(&scanTimeoutFlag, "scan-timeout", 0, "Device scan timeout (0 = configured value)")
	rootCmd.PersistentFlags().DurationVar(&connectTimeoutFlag, "connect-timeout", 0, "Connect timeout (0 = configured value)")
	rootCmd.PersistentFlags().DurationVar(&opTimeoutFlag, "op-timeout", 0, "Per-command acknowledgment timeout (0 = configured value)")

	// Logging flags
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Log format: text or json")
}

// initRuntime loads configuration and builds the logger. Flags win over
// the file and environment.
func initRuntime(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}

	if deviceTarget != "" {
		cfg.Device.Target = deviceTarget
	}
	if relayURL != "" {
		cfg.Relay.URL = relayURL
	}
	if scanTimeoutFlag > 0 {
		cfg.Link.ScanTimeout = scanTimeoutFlag
	}
	if connectTimeoutFlag > 0 {
		cfg.Link.ConnectTimeout = connectTimeoutFlag
	}
	if opTimeoutFlag > 0 {
		cfg.Link.OpTimeout = opTimeoutFlag
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}
	if logFormatFlag != "" {
		cfg.Logging.Format = logFormatFlag
	}

	logger, closeLog, err = logging.New(cfg.Logging)
	return err
}

// Execute runs the root command
func Execute() error {
	defer func() {
		if closeLog != nil {
			_ = closeLog()
		}
	}()
	return rootCmd.Execute()
}
