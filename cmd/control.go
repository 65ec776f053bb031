// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/openvee/veelink/internal/history"
	"github.com/openvee/veelink/internal/link"
	"github.com/openvee/veelink/pkg/veeproto"
)

var controlNoHistory bool

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for driving a Vee trainer",
	Long: `Drive a Vee trainer from an interactive terminal UI.

The TUI scans for trainers first, then connects to the one you pick.
From the control screen you can program weight, reps and training mode,
start and stop sets, and watch telemetry and rep summaries live.

The link is supervised while the interface runs: if the trainer drops
the connection mid-set, the control screen stays up and shows reconnect
progress. A deliberate disconnect returns to the device list.

Recording is toggled from inside the interface and writes to the same
history store as 'monitor --record', so 'sessions list' sees both.

Works over Bluetooth, a relay, or a bench tunnel.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().BoolVar(&controlNoHistory, "no-history", false, "Run without opening the session history store")
}

// controlBridge owns everything that outlives a single TUI frame: the
// transport, the machine, the pick-list scan, the reconnect supervisor and
// the session recorder. The model never touches these directly; it issues
// bridge commands and consumes the messages the bridge sends back through
// the running tea.Program.
type controlBridge struct {
	t   link.Transport
	m   *link.Machine
	rec *history.Recorder
	p   *tea.Program

	mu         sync.Mutex
	scanCancel context.CancelFunc
	scanDone   chan struct{}
	supCancel  context.CancelFunc
}

// opWait bounds one command round trip, with headroom for a command already
// in flight ahead of it.
func (b *controlBridge) opWait() time.Duration {
	op := cfg.Link.OpTimeout
	if op <= 0 {
		op = veeproto.OpTimeout
	}
	return 3 * op
}

func (b *controlBridge) scanWait() time.Duration {
	if cfg.Link.ScanTimeout > 0 {
		return cfg.Link.ScanTimeout
	}
	return veeproto.ScanTimeout
}

// startScan runs a discovery scan on the raw transport and forwards every
// advertisement to the TUI. The machine is not involved; it gets pinned to
// whichever device the user picks.
func (b *controlBridge) startScan() {
	b.stopScan()

	ctx, cancel := context.WithTimeout(context.Background(), b.scanWait())
	advs, err := b.t.Scan(ctx, cfg.Device.Prefix)
	if err != nil {
		cancel()
		b.p.Send(scanDoneMsg{err: err})
		return
	}

	done := make(chan struct{})
	b.mu.Lock()
	b.scanCancel = cancel
	b.scanDone = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		for adv := range advs {
			b.p.Send(deviceFoundMsg{adv: adv})
		}
		// A cancelled scan ends silently; only a scan that ran its
		// course tells the TUI it finished.
		if ctx.Err() != context.Canceled {
			b.p.Send(scanDoneMsg{})
		}
	}()
}

// stopScan cancels the pick-list scan and waits for its forwarder to drain,
// leaving the transport free for the machine's own acquisition scan.
func (b *controlBridge) stopScan() {
	b.mu.Lock()
	cancel, done := b.scanCancel, b.scanDone
	b.scanCancel, b.scanDone = nil, nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// connect pins the machine to the picked device and hands the link to a
// supervisor, which keeps reconnecting until cancelled or until the trainer
// is released on purpose.
func (b *controlBridge) connect(adv link.Advertisement) {
	b.stopScan()
	b.m.SetTarget(string(adv.ID))

	b.mu.Lock()
	if b.supCancel != nil {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.supCancel = cancel
	b.mu.Unlock()

	sup := link.NewSupervisor(b.m, cfg.Link.Reconnect, logger)
	go func() {
		err := sup.Run(ctx)
		b.mu.Lock()
		b.supCancel = nil
		b.mu.Unlock()
		b.p.Send(supervisorStoppedMsg{err: err})
	}()
}

// disconnect stops the supervisor and releases the trainer. The TUI flips
// back to discovery when the supervisor's exit message arrives.
func (b *controlBridge) disconnect() {
	b.mu.Lock()
	cancel := b.supCancel
	b.supCancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// A connect attempt keeps running in the machine after the supervisor
	// stops waiting on it; make the release explicit.
	ctx, cancelT := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelT()
	_ = b.m.Disconnect(ctx)
}

func (b *controlBridge) toggleRecording() tea.Msg {
	if b.rec == nil {
		return recordingMsg{err: fmt.Errorf("history store not open")}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if b.rec.Active() {
		id := b.rec.SessionID()
		if err := b.rec.Stop(ctx, time.Now()); err != nil {
			return recordingMsg{active: true, sessionID: id, err: err}
		}
		return recordingMsg{sessionID: id}
	}

	info := b.m.Info()
	if info.State != link.StateReady {
		return recordingMsg{err: fmt.Errorf("not connected")}
	}
	if err := b.rec.Start(ctx, info.Device.Name, info.Firmware, time.Now()); err != nil {
		return recordingMsg{err: err}
	}
	return recordingMsg{active: true, sessionID: b.rec.SessionID()}
}

// shutdown tears the bridge down in dependency order: scan, supervisor,
// open recording, link.
func (b *controlBridge) shutdown() {
	b.stopScan()

	b.mu.Lock()
	cancel := b.supCancel
	b.supCancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if b.rec != nil && b.rec.Active() {
		ctx, cancelT := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.rec.Stop(ctx, time.Now()); err != nil {
			logger.Warn("closing recorded session", "err", err)
		}
		cancelT()
	}

	ctx, cancelT := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelT()
	_ = b.m.Disconnect(ctx)
}

func (b *controlBridge) startScanCmd() tea.Cmd {
	return func() tea.Msg {
		b.startScan()
		return nil
	}
}

func (b *controlBridge) connectCmd(adv link.Advertisement) tea.Cmd {
	return func() tea.Msg {
		b.connect(adv)
		return nil
	}
}

func (b *controlBridge) disconnectCmd() tea.Cmd {
	return func() tea.Msg {
		b.disconnect()
		return nil
	}
}

func (b *controlBridge) submitCmd(c veeproto.Command) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), b.opWait())
		defer cancel()
		return cmdResultMsg{cmd: c, err: b.m.Do(ctx, c)}
	}
}

// programCmd sends the Init/ProgramParams pair the firmware expects before
// a set can start.
func (b *controlBridge) programCmd(pp veeproto.ProgramParams) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*b.opWait())
		defer cancel()
		if err := b.m.Do(ctx, veeproto.Init{}); err != nil {
			return cmdResultMsg{cmd: veeproto.Init{}, err: err}
		}
		return cmdResultMsg{cmd: pp, err: b.m.Do(ctx, pp)}
	}
}

func (b *controlBridge) toggleRecordingCmd() tea.Cmd {
	return func() tea.Msg {
		return b.toggleRecording()
	}
}

func runControl(cmd *cobra.Command, args []string) error {
	t, desc, cleanup, err := OpenTransport(context.Background())
	if err != nil {
		return err
	}
	defer cleanup()

	var rec *history.Recorder
	if !controlNoHistory {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		defer func() { _ = store.Close() }()
		rec = history.NewRecorder(store, logger)
	}

	m := NewMachine(t)
	defer func() { _ = m.Close() }()

	bridge := &controlBridge{t: t, m: m, rec: rec}

	frames := m.Frames(256)
	states := m.States(16)

	model := initialControlModel(bridge, desc)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	bridge.p = p

	// Pump the machine streams into the TUI. Both channels close when the
	// machine closes, after p.Run has returned.
	go func() {
		for fr := range frames.C() {
			if rec != nil && fr.Err == nil && rec.Active() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				rec.Observe(ctx, fr.Event, fr.At)
				cancel()
			}
			p.Send(frameMsg{frame: fr})
		}
	}()
	go func() {
		for sc := range states.C() {
			p.Send(linkStateMsg{change: sc})
		}
	}()

	_, runErr := p.Run()
	bridge.shutdown()
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", runErr)
		return runErr
	}
	return nil
}
