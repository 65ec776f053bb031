// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvee/veelink/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "level %q", tt.input)
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "veelink.log")

	log, closer, err := New(config.LoggingConfig{Level: "info", Format: "text", Output: path})
	require.NoError(t, err)

	log.Info("file output test", "key", "value")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file output test")
}

func TestNewJSONFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "veelink.log")

	log, closer, err := New(config.LoggingConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	log.Debug("structured", "component", "test")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.True(t, strings.HasPrefix(line, "{"), "json log line: %s", line)
	assert.Contains(t, line, `"component":"test"`)
}

func TestNewLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "veelink.log")

	log, closer, err := New(config.LoggingConfig{Level: "warn", Format: "text", Output: path})
	require.NoError(t, err)

	log.Info("should be filtered")
	log.Warn("should appear")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should be filtered")
	assert.Contains(t, string(data), "should appear")
}

func TestNewInvalidOutput(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Output: "/nonexistent/dir/veelink.log"})
	require.Error(t, err)
}

func TestNewStderrDefault(t *testing.T) {
	log, closer, err := New(config.LoggingConfig{})
	require.NoError(t, err)
	defer closer()
	require.NotNil(t, log)
}
