// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openvee/veelink/internal/link"
	"github.com/openvee/veelink/pkg/veeproto"
)

var scanAll bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for advertising trainers",
	Long: `Scan for advertising trainers and list what was found.

Results are filtered to names starting with the configured device prefix
("Vee" by default); --all lists every advertising device instead. The
scan runs for the configured scan timeout (override with --scan-timeout).

Exit codes:
  0 - At least one device found
  1 - No devices found
  2 - Scan could not run`,
	Run: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every advertising device, not just trainers")
}

func runScan(cmd *cobra.Command, args []string) {
	timeout := cfg.Link.ScanTimeout
	if timeout <= 0 {
		timeout = veeproto.ScanTimeout
	}

	t, connInfo, cleanup, err := OpenTransport(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan error: %v\n", err)
		os.Exit(2)
	}
	defer cleanup()

	fmt.Printf("Veelink - Device Scan\n")
	fmt.Printf("Transport: %s\n", connInfo)
	fmt.Printf("Scanning for %s...\n\n", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	prefix := cfg.Device.Prefix
	if scanAll {
		prefix = ""
	}

	advs, err := t.Scan(ctx, prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan error: %v\n", err)
		os.Exit(2)
	}

	type row struct {
		name string
		rssi int16
	}
	var order []link.DeviceID
	seen := make(map[link.DeviceID]*row)

	for adv := range advs {
		r, ok := seen[adv.ID]
		if !ok {
			r = &row{}
			seen[adv.ID] = r
			order = append(order, adv.ID)
		}
		r.rssi = adv.RSSI
		if adv.Name != "" {
			r.name = adv.Name
		}
	}

	if len(order) == 0 {
		fmt.Println("No devices found.")
		os.Exit(1)
	}

	fmt.Printf("%-24s %-20s %s\n", "NAME", "ADDRESS", "RSSI")
	for _, id := range order {
		r := seen[id]
		name := r.name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("%-24s %-20s %4d dBm\n", name, id, r.rssi)
	}
	fmt.Printf("\nDevices found: %d\n", len(order))
}
