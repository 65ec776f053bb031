// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

// Package config loads veelink settings from a YAML file with VEELINK_*
// environment overrides on top.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openvee/veelink/internal/link"
	"github.com/openvee/veelink/pkg/veeproto"
)

type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Link    LinkConfig    `yaml:"link"`
	Relay   RelayConfig   `yaml:"relay"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`

	// Profiles overrides built-in resistance curves per training mode.
	// Keys are mode names (old_school, pump, tut, eccentric, chains),
	// values 64-character hex strings.
	Profiles map[string]string `yaml:"profiles"`
}

type DeviceConfig struct {
	// Prefix filters scan results by advertised name.
	Prefix string `yaml:"prefix"`
	// Target pins scanning to one device name or address.
	Target string `yaml:"target"`
}

type LinkConfig struct {
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	OpTimeout      time.Duration `yaml:"op_timeout"`

	// WriteRetries grants extra attempts to idempotent commands after a
	// failed acknowledgment. Zero keeps the default of one retry,
	// negative disables retries.
	WriteRetries int `yaml:"write_retries"`

	Reconnect link.SupervisorConfig `yaml:"reconnect"`
}

type RelayConfig struct {
	// Listen is the relay server bind address.
	Listen string `yaml:"listen"`
	// URL is the relay endpoint clients dial (ws:// or wss://).
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// Announce publishes the relay over mDNS while serving.
	Announce bool `yaml:"announce"`
}

type HistoryConfig struct {
	// Path is the sqlite database file for session history.
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{Prefix: veeproto.DeviceNamePrefix},
		Relay:  RelayConfig{Listen: ":9178", Announce: true},
		History: HistoryConfig{
			Path: defaultHistoryPath(),
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
	}
}

func defaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "veelink-history.db"
	}
	return filepath.Join(dir, "veelink", "history.db")
}

// Load reads config from a YAML file, then applies environment variable
// overrides. An empty path skips the file and loads defaults plus
// environment. Env vars use the prefix VEELINK_:
//
//	VEELINK_DEVICE_PREFIX, VEELINK_DEVICE_TARGET,
//	VEELINK_LINK_SCAN_TIMEOUT, VEELINK_LINK_CONNECT_TIMEOUT,
//	VEELINK_LINK_OP_TIMEOUT, VEELINK_LINK_WRITE_RETRIES,
//	VEELINK_RELAY_LISTEN, VEELINK_RELAY_URL, VEELINK_RELAY_TOKEN,
//	VEELINK_HISTORY_PATH,
//	VEELINK_LOG_LEVEL, VEELINK_LOG_FORMAT, VEELINK_LOG_OUTPUT
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VEELINK_DEVICE_PREFIX"); v != "" {
		cfg.Device.Prefix = v
	}
	if v := os.Getenv("VEELINK_DEVICE_TARGET"); v != "" {
		cfg.Device.Target = v
	}
	if v := os.Getenv("VEELINK_LINK_SCAN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Link.ScanTimeout = d
		}
	}
	if v := os.Getenv("VEELINK_LINK_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Link.ConnectTimeout = d
		}
	}
	if v := os.Getenv("VEELINK_LINK_OP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Link.OpTimeout = d
		}
	}
	if v := os.Getenv("VEELINK_LINK_WRITE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Link.WriteRetries = n
		}
	}
	if v := os.Getenv("VEELINK_RELAY_LISTEN"); v != "" {
		cfg.Relay.Listen = v
	}
	if v := os.Getenv("VEELINK_RELAY_URL"); v != "" {
		cfg.Relay.URL = v
	}
	if v := os.Getenv("VEELINK_RELAY_TOKEN"); v != "" {
		cfg.Relay.Token = v
	}
	if v := os.Getenv("VEELINK_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("VEELINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VEELINK_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("VEELINK_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
}

func (c *Config) validate() error {
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not text or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	if c.Relay.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Relay.Listen); err != nil {
			return fmt.Errorf("relay.listen: %w", err)
		}
	}
	if _, err := c.ProfileOverrides(); err != nil {
		return err
	}
	return nil
}

// MachineConfig maps the device and link sections onto a connection
// machine configuration.
func (c *Config) MachineConfig() link.Config {
	return link.Config{
		NamePrefix:     c.Device.Prefix,
		Target:         c.Device.Target,
		ScanTimeout:    c.Link.ScanTimeout,
		ConnectTimeout: c.Link.ConnectTimeout,
		OpTimeout:      c.Link.OpTimeout,
		WriteRetries:   c.Link.WriteRetries,
	}
}

// ProfileOverrides parses the profiles section into curve tables keyed
// by training mode.
func (c *Config) ProfileOverrides() (map[veeproto.TrainingMode]veeproto.ModeProfile, error) {
	if len(c.Profiles) == 0 {
		return nil, nil
	}
	out := make(map[veeproto.TrainingMode]veeproto.ModeProfile, len(c.Profiles))
	for name, hexCurve := range c.Profiles {
		mode, ok := veeproto.ParseTrainingMode(name)
		if !ok {
			return nil, fmt.Errorf("profiles: unknown mode %q", name)
		}
		p, err := veeproto.ParseProfile(hexCurve)
		if err != nil {
			return nil, fmt.Errorf("profiles.%s: %w", name, err)
		}
		out[mode] = p
	}
	return out, nil
}
