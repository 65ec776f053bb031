// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openvee/veelink/internal/history"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect recorded workout history",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions, newest first",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session>",
	Short: "Show one session and its sets",
	Long: `Show one recorded session in detail.

The session may be named by its full id or any unique prefix of it, as
printed by "veelink sessions list".`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsShow,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)

	sessionsListCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Maximum number of sessions to list")
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	list, err := store.ListSessions(ctx, sessionsLimit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No recorded sessions.")
		return nil
	}

	fmt.Printf("%-10s %-17s %-9s %-20s %5s %9s\n", "ID", "STARTED", "DURATION", "DEVICE", "REPS", "WORK")
	for _, s := range list {
		fmt.Printf("%-10s %-17s %-9s %-20s %5d %9s\n",
			shortID(s.ID),
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			formatSpan(s.StartedAt, s.EndedAt),
			s.Device,
			s.TotalReps,
			formatWork(s.WorkJoules))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := store.GetSession(ctx, args[0])
	if err != nil {
		return err
	}
	sets, err := store.SessionSets(ctx, sess.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Session %s\n", sess.ID)
	fmt.Printf("Device:   %s", sess.Device)
	if sess.Firmware != "" {
		fmt.Printf(" (firmware %s)", sess.Firmware)
	}
	fmt.Println()
	fmt.Printf("Started:  %s\n", sess.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if sess.EndedAt != nil {
		fmt.Printf("Ended:    %s (%s)\n", sess.EndedAt.Local().Format("2006-01-02 15:04:05"), formatSpan(sess.StartedAt, sess.EndedAt))
	} else {
		fmt.Printf("Ended:    still open\n")
	}
	fmt.Printf("Totals:   %d reps, %s\n", sess.TotalReps, formatWork(sess.WorkJoules))

	if len(sets) == 0 {
		fmt.Println("\nNo sets recorded.")
		return nil
	}

	fmt.Printf("\n%-4s %-9s %-9s %5s %9s %10s %10s\n", "SET", "STARTED", "DURATION", "REPS", "WORK", "PEAK LOAD", "MEAN LOAD")
	for _, set := range sets {
		fmt.Printf("%-4d %-9s %-9s %5d %9s %8.1fkg %8.1fkg\n",
			set.Number,
			set.StartedAt.Local().Format("15:04:05"),
			formatSpan(set.StartedAt, set.EndedAt),
			set.Reps,
			formatWork(set.WorkJoules),
			set.PeakLoadKg,
			set.MeanLoadKg)
	}
	return nil
}

func formatSpan(start time.Time, end *time.Time) string {
	if end == nil {
		return "open"
	}
	return end.Sub(start).Round(time.Second).String()
}

func formatWork(joules int64) string {
	if joules >= 1000 {
		return fmt.Sprintf("%.1f kJ", float64(joules)/1000)
	}
	return fmt.Sprintf("%d J", joules)
}
