// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openvee/veelink/internal/history"
	"github.com/openvee/veelink/internal/link"
	"github.com/openvee/veelink/pkg/veeproto"
)

var (
	monitorRaw        bool
	monitorErrorsOnly bool
	monitorStats      int
	monitorRecord     bool
	monitorDuration   time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Stream decoded telemetry to stdout",
	Long: `Continuously decode and display trainer telemetry as it arrives.

Each frame is printed with a timestamp and its decoded payload. Frames
are validated as they arrive: decode failures and anomalous values
(implausible loads, velocities, sequence gaps) are highlighted, and a
statistics summary is printed at a configurable interval.

The link reconnects automatically if the trainer drops. --record writes
the session to the workout history database as it streams.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorRaw, "raw", false, "Also print each frame as a hexdump")
	monitorCmd.Flags().BoolVar(&monitorErrorsOnly, "errors-only", false, "Only print decode failures and validation errors")
	monitorCmd.Flags().IntVar(&monitorStats, "stats-interval", 10, "Statistics summary interval in seconds (0 disables)")
	monitorCmd.Flags().BoolVar(&monitorRecord, "record", false, "Record the session to the workout history")
	monitorCmd.Flags().DurationVar(&monitorDuration, "duration", 0, "Stop after this long (0 = until interrupted)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	t, connInfo, cleanup, err := OpenTransport(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var rec *history.Recorder
	if monitorRecord {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		defer store.Close()
		rec = history.NewRecorder(store, logger)
	}

	m := NewMachine(t)
	defer m.Close()

	fmt.Printf("Veelink - Telemetry Monitor\n")
	fmt.Printf("Transport: %s\n", connInfo)
	if monitorStats > 0 {
		fmt.Printf("Statistics interval: %d seconds\n", monitorStats)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	frames := m.Frames(256)
	defer frames.Close()
	states := m.States(16)
	defer states.Close()

	// The supervisor owns connecting and reconnecting; the loop below
	// only consumes.
	sup := link.NewSupervisor(m, cfg.Link.Reconnect, logger)
	supDone := make(chan error, 1)
	go func() { supDone <- sup.Run(ctx) }()

	stats := veeproto.NewStatistics()
	var tickC <-chan time.Time
	if monitorStats > 0 {
		ticker := time.NewTicker(time.Duration(monitorStats) * time.Second)
		defer ticker.Stop()
		tickC = ticker.C
	}

	var runErr error
loop:
	for {
		select {
		case sc, ok := <-states.C():
			if !ok {
				break loop
			}
			printStateChange(sc)
			handleRecording(ctx, rec, m, sc)
		case fr, ok := <-frames.C():
			if !ok {
				break loop
			}
			printFrame(ctx, fr, stats, rec)
		case <-tickC:
			stats.CalculateRates()
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		case err := <-supDone:
			supDone = nil
			if ctx.Err() == nil && err != nil && !errors.Is(err, link.ErrClosed) {
				runErr = err
			}
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	stop()
	if supDone != nil {
		<-supDone
	}

	if rec != nil && rec.Active() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		id := rec.SessionID()
		if err := rec.Stop(flushCtx, time.Now()); err != nil {
			logger.Warn("closing recorded session", "err", err)
		} else {
			fmt.Printf("\nSession %s saved.\n", shortID(id))
		}
	}

	stats.CalculateRates()
	fmt.Println("\n--- Final statistics ---")
	fmt.Print(stats.String())
	return runErr
}

func printStateChange(sc link.StateChange) {
	ts := time.Now().Format("15:04:05.000")
	if sc.Reason != nil {
		fmt.Printf("[%s] [link] %s -> %s: %v\n", ts, sc.From, sc.To, sc.Reason)
		return
	}
	fmt.Printf("[%s] [link] %s -> %s\n", ts, sc.From, sc.To)
}

// handleRecording opens a history session when the link comes up and
// closes it when the link goes down, so one monitor run can span several
// radio sessions.
func handleRecording(ctx context.Context, rec *history.Recorder, m *link.Machine, sc link.StateChange) {
	if rec == nil {
		return
	}
	switch sc.To {
	case link.StateReady:
		info := m.Info()
		if err := rec.Start(ctx, info.Device.Name, info.Firmware, time.Now()); err != nil {
			logger.Warn("session recording failed to start", "err", err)
			return
		}
		fmt.Printf("[%s] [rec] session %s started\n", time.Now().Format("15:04:05.000"), shortID(rec.SessionID()))
	case link.StateDisconnected:
		if !rec.Active() {
			return
		}
		id := rec.SessionID()
		if err := rec.Stop(ctx, time.Now()); err != nil {
			logger.Warn("closing recorded session", "err", err)
			return
		}
		fmt.Printf("[%s] [rec] session %s saved\n", time.Now().Format("15:04:05.000"), shortID(id))
	}
}

func printFrame(ctx context.Context, fr link.Frame, stats *veeproto.Statistics, rec *history.Recorder) {
	ts := fr.At.Format("15:04:05.000")

	if fr.Err != nil {
		stats.Update(nil, fr.Err, nil)
		fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", ts, fr.Err)
		if monitorRaw {
			fmt.Printf("  %s\n", veeproto.FormatFrame(fr.Char, fr.Raw))
		}
		return
	}

	issues := veeproto.ValidateEvent(fr.Event)
	stats.Update(fr.Event, nil, issues)
	if rec != nil && rec.Active() {
		rec.Observe(ctx, fr.Event, fr.At)
	}

	switch {
	case len(issues) > 0:
		fmt.Printf("[%s] \033[1;33mVALIDATION:\033[0m %s\n", ts, veeproto.FormatEvent(fr.Event))
		for i, issue := range issues {
			fmt.Printf("  Issue %d: %s\n", i+1, issue.Message)
		}
	case !monitorErrorsOnly:
		fmt.Printf("[%s] %s\n", ts, veeproto.FormatEvent(fr.Event))
	default:
		return
	}

	if monitorRaw {
		fmt.Printf("  %s\n", veeproto.FormatFrame(fr.Char, fr.Raw))
	}
}

// shortID truncates a session UUID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
