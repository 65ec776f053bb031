// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors
//
// Veelink - Vee Trainer Link Tool
//
// A CLI tool for controlling Vee resistance trainers and decoding their
// telemetry in human-readable format.

package main

import (
	"os"

	"github.com/openvee/veelink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
