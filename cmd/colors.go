// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openvee/veelink/pkg/veeproto"
)

var colorsBrightness float64

var colorsCmd = &cobra.Command{
	Use:   "colors <rrggbb> [rrggbb] [rrggbb]",
	Short: "Set the trainer's light bar",
	Long: `Set the trainer's light bar colors and brightness.

Takes one to three hex colors for the three slots (platform left,
platform right, logo). Slots without a color repeat the last one given,
so a single color paints the whole bar.

Exit codes:
  0 - Color scheme acknowledged
  1 - A command was rejected or timed out
  2 - Connection error`,
	Args: cobra.RangeArgs(1, 3),
	Run:  runColors,
}

func init() {
	rootCmd.AddCommand(colorsCmd)
	colorsCmd.Flags().Float64Var(&colorsBrightness, "brightness", 1.0, "Master brightness, 0..1")
}

func parseHexColor(s string) (veeproto.RGBColor, error) {
	raw := strings.TrimPrefix(strings.ToLower(s), "#")
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != 3 {
		return veeproto.RGBColor{}, fmt.Errorf("invalid color %q (want rrggbb)", s)
	}
	return veeproto.RGBColor{R: b[0], G: b[1], B: b[2]}, nil
}

func runColors(cmd *cobra.Command, args []string) {
	if colorsBrightness < 0 || colorsBrightness > 1 {
		fmt.Fprintf(os.Stderr, "Error: --brightness must be 0..1\n")
		os.Exit(1)
	}

	scheme := veeproto.ColorScheme{Brightness: colorsBrightness}
	for i := 0; i < 3; i++ {
		arg := args[len(args)-1]
		if i < len(args) {
			arg = args[i]
		}
		c, err := parseHexColor(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		scheme.Colors[i] = c
	}

	runCommandSequence("Light Bar", []veeproto.Command{scheme})
}
