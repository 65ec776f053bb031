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

var (
	programMode        string
	programWeight      float64
	programReps        int
	programWarmup      int
	programJustLift    bool
	programAMRAP       bool
	programEcho        bool
	programEchoLevel   int
	programEccentric   int
	programProgression float64
	programStart       bool
)

var programCmd = &cobra.Command{
	Use:   "program",
	Short: "Program a workout and start it",
	Long: `Connect to a trainer, program a workout and start it.

The trainer is woken with INIT, receives the workout parameters, and is
started unless --start=false. Regular workouts take a training mode, a
rep target and a weight per cable; --just-lift and --amrap make the set
open-ended. --echo programs the adaptive echo mode instead, driven by
--echo-level and --eccentric.

Resistance curve overrides from the configuration file's profiles
section are applied automatically for the selected mode.

Exit codes:
  0 - Workout programmed (and started)
  1 - A command was rejected or timed out
  2 - Connection error`,
	Run: runProgram,
}

func init() {
	rootCmd.AddCommand(programCmd)
	programCmd.Flags().StringVarP(&programMode, "mode", "m", "old_school", "Training mode: old_school, pump, tut, eccentric, chains")
	programCmd.Flags().Float64VarP(&programWeight, "weight", "w", 0, "Weight per cable in kg")
	programCmd.Flags().IntVarP(&programReps, "reps", "r", veeproto.DefaultROMReps, "Working rep target")
	programCmd.Flags().IntVar(&programWarmup, "warmup", 0, "Warmup rep count")
	programCmd.Flags().BoolVar(&programJustLift, "just-lift", false, "Open-ended set, no rep target")
	programCmd.Flags().BoolVar(&programAMRAP, "amrap", false, "As many reps as possible")
	programCmd.Flags().BoolVar(&programEcho, "echo", false, "Program the adaptive echo mode")
	programCmd.Flags().IntVar(&programEchoLevel, "echo-level", 0, fmt.Sprintf("Echo intensity, 0..%d", veeproto.EchoLevelMax))
	programCmd.Flags().IntVar(&programEccentric, "eccentric", 0, "Echo eccentric load, percent of concentric (0 = default)")
	programCmd.Flags().Float64Var(&programProgression, "progression", 0, "Weight delta in kg applied after each set (negative regresses)")
	programCmd.Flags().BoolVar(&programStart, "start", true, "Start the workout after programming")
}

func buildProgram() (veeproto.ProgramParams, error) {
	if programWeight <= 0 {
		return veeproto.ProgramParams{}, fmt.Errorf("--weight must be positive")
	}

	if programEcho {
		if programEchoLevel < 0 || programEchoLevel > veeproto.EchoLevelMax {
			return veeproto.ProgramParams{}, fmt.Errorf("--echo-level must be 0..%d", veeproto.EchoLevelMax)
		}
		pp := veeproto.NewEchoProgram(uint8(programEchoLevel), programEccentric, programWarmup, programWeight)
		pp.Params.Progression = float32(programProgression)
		return pp, nil
	}

	mode, ok := veeproto.ParseTrainingMode(programMode)
	if !ok {
		return veeproto.ProgramParams{}, fmt.Errorf("unknown training mode %q", programMode)
	}

	var pp veeproto.ProgramParams
	if programJustLift {
		pp = veeproto.NewJustLift(mode, programWeight)
	} else {
		pp = veeproto.NewProgram(mode, programReps, programWarmup, programWeight)
		pp.Params.AMRAP = programAMRAP
	}
	pp.Params.Progression = float32(programProgression)

	overrides, err := cfg.ProfileOverrides()
	if err != nil {
		return veeproto.ProgramParams{}, fmt.Errorf("profile overrides: %w", err)
	}
	if prof, ok := overrides[mode]; ok {
		pp.Params.Profile = &prof
	}
	return pp, nil
}

func runProgram(cmd *cobra.Command, args []string) {
	pp, err := buildProgram()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	seq := []veeproto.Command{veeproto.Init{}, pp}
	if programStart {
		seq = append(seq, veeproto.Start{})
	}

	runCommandSequence("Program Workout", seq)
}

// runCommandSequence connects, runs the commands in order and
// disconnects, with the shared one-shot output and exit codes.
func runCommandSequence(title string, seq []veeproto.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout())
	defer cancel()

	t, connInfo, cleanup, err := OpenTransport(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer cleanup()

	fmt.Printf("Veelink - %s\n", title)
	fmt.Printf("Transport: %s\n\n", connInfo)

	m := NewMachine(t)
	defer m.Close()

	if err := m.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	info := m.Info()
	fmt.Printf("Connected: %s [%s]\n", info.Device.Name, info.Device.ID)

	for _, c := range seq {
		if err := m.Do(ctx, c); err != nil {
			fmt.Fprintf(os.Stderr, "%s failed: %v\n", c.Name(), err)
			os.Exit(1)
		}
		fmt.Printf("  %s acknowledged\n", veeproto.FormatCommand(c))
	}

	discCtx, discCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer discCancel()
	if err := m.Disconnect(discCtx); err != nil {
		logger.Debug("disconnect", "err", err)
	}
	fmt.Println("\nDone.")
}

// oneShotTimeout bounds a whole scripted run: acquisition plus a few
// acknowledged writes.
func oneShotTimeout() time.Duration {
	scan := cfg.Link.ScanTimeout
	if scan <= 0 {
		scan = veeproto.ScanTimeout
	}
	connect := cfg.Link.ConnectTimeout
	if connect <= 0 {
		connect = veeproto.ConnectTimeout
	}
	op := cfg.Link.OpTimeout
	if op <= 0 {
		op = veeproto.OpTimeout
	}
	return scan + connect + 4*op
}
