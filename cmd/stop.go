// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/openvee/veelink/pkg/veeproto"
)

var (
	stopSoft  bool
	stopReset bool
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the trainer",
	Long: `Connect to a trainer and stop whatever it is doing.

The default hard stop releases tension immediately. --soft ends the set
at the end of the current rep instead. --reset additionally clears the
programmed workout once stopped.

Exit codes:
  0 - Stop acknowledged
  1 - A command was rejected or timed out
  2 - Connection error`,
	Run: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().BoolVar(&stopSoft, "soft", false, "End the set at the current rep instead of dropping tension")
	stopCmd.Flags().BoolVar(&stopReset, "reset", false, "Clear the programmed workout after stopping")
}

func runStop(cmd *cobra.Command, args []string) {
	seq := []veeproto.Command{veeproto.Stop{Soft: stopSoft}}
	if stopReset {
		seq = append(seq, veeproto.Reset{})
	}
	runCommandSequence("Stop", seq)
}
