// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openvee/veelink/pkg/veeproto"
)

var probeTimeout int

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connectivity by waiting for one valid telemetry frame",
	Long: `Connect to a trainer and wait for a single decodable telemetry frame.

Useful for smoke-testing a link before a workout: it proves the trainer
is advertising, connectable, and speaking a protocol this tool
understands.

Exit codes:
  0 - Valid frame received before the timeout
  1 - Timeout reached without a valid frame
  2 - Connection or transport error`,
	Run: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVarP(&probeTimeout, "timeout", "t", 30, "Timeout in seconds")
}

func runProbe(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(probeTimeout)*time.Second)
	defer cancel()

	t, connInfo, cleanup, err := OpenTransport(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer cleanup()

	fmt.Printf("Veelink - Link Probe\n")
	fmt.Printf("Transport: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n\n", probeTimeout)

	m := NewMachine(t)
	defer m.Close()

	// Subscribed before connecting so the first notification cannot slip
	// past.
	frames := m.Frames(32)
	defer frames.Close()

	if err := m.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	info := m.Info()
	fmt.Printf("Connected: %s [%s]\n", info.Device.Name, info.Device.ID)
	fmt.Printf("Waiting for telemetry...\n")

	undecodable := 0
	for {
		select {
		case fr, ok := <-frames.C():
			if !ok {
				fmt.Fprintf(os.Stderr, "Link closed before a valid frame arrived\n")
				os.Exit(2)
			}
			if fr.Err != nil {
				undecodable++
				continue
			}
			fmt.Printf("\nSUCCESS: valid frame on %s\n", fr.Char)
			fmt.Printf("  %s\n", veeproto.FormatEvent(fr.Event))
			if undecodable > 0 {
				fmt.Printf("  (%d undecodable frames before it)\n", undecodable)
			}
			os.Exit(0)
		case <-ctx.Done():
			fmt.Printf("\nTIMEOUT: no valid frame in %d seconds", probeTimeout)
			if undecodable > 0 {
				fmt.Printf(" (%d undecodable frames seen)", undecodable)
			}
			fmt.Println()
			os.Exit(1)
		}
	}
}
