// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/openvee/veelink/internal/bench"
	"github.com/openvee/veelink/internal/ble"
	"github.com/openvee/veelink/internal/link"
	"github.com/openvee/veelink/internal/relay"
)

// OpenTransport picks the trainer transport from flags and configuration:
// the bench adapter when --bench is set, a relay client when a relay URL
// is configured, the local Bluetooth adapter otherwise. The returned
// cleanup releases transport-level resources and is safe to call after
// the machine using the transport has been closed.
func OpenTransport(ctx context.Context) (link.Transport, string, func(), error) {
	if benchPort != "" {
		t := bench.New(bench.Config{Port: benchPort, Baud: benchBaud}, logger)
		return t, fmt.Sprintf("Bench: %s @ %d baud", benchPort, benchBaud), func() {}, nil
	}

	if cfg.Relay.URL != "" {
		token, err := RelayToken()
		if err != nil {
			return nil, "", nil, err
		}
		c, err := relay.Dial(ctx, cfg.Relay.URL, token, logger)
		if err != nil {
			return nil, "", nil, err
		}
		return c, fmt.Sprintf("Relay: %s", cfg.Relay.URL), func() { c.Close() }, nil
	}

	t := ble.New(logger)
	return t, "Bluetooth adapter", func() {}, nil
}

// OpenLocalTransport is OpenTransport without the relay option, for
// commands that must own a radio themselves.
func OpenLocalTransport() (link.Transport, string) {
	if benchPort != "" {
		t := bench.New(bench.Config{Port: benchPort, Baud: benchBaud}, logger)
		return t, fmt.Sprintf("Bench: %s @ %d baud", benchPort, benchBaud)
	}
	return ble.New(logger), "Bluetooth adapter"
}

// NewMachine builds a connection machine from the loaded configuration.
func NewMachine(t link.Transport) *link.Machine {
	return link.New(t, cfg.MachineConfig(), logger)
}

// RelayToken retrieves the relay token from configuration (which already
// folds in VEELINK_RELAY_TOKEN), prompting interactively as a last
// resort. A non-interactive session with no token configured gets an
// empty token, which unauthenticated relays accept.
func RelayToken() (string, error) {
	if cfg.Relay.Token != "" {
		return cfg.Relay.Token, nil
	}

	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", nil
	}

	fmt.Fprint(os.Stderr, "Relay token: ")

	// Read token without echo
	tokenBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read token: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(line), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(tokenBytes), nil
}
