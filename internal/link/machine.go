// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

// Package link drives one Bluetooth connection to a Vee trainer: device
// acquisition, characteristic subscription, command dispatch and
// telemetry fan-out. A single goroutine owns the session and the command
// queue; everything else talks to it through messages.
package link

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openvee/veelink/pkg/veeproto"
)

// Config tunes one connection machine. The zero value takes every
// default, including the protocol timeouts.
type Config struct {
	// NamePrefix filters advertisements; defaults to the trainer prefix.
	NamePrefix string
	// Target pins scanning to one device, matched against the
	// advertisement name or ID. Empty accepts the first prefix match.
	Target string

	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	OpTimeout      time.Duration

	// WriteRetries is the number of extra write attempts granted to an
	// idempotent command after a failed acknowledgment. Zero means the
	// default of one retry; negative disables retries.
	WriteRetries int

	// FrameBuffer sizes the inbound notification queue; StreamBuffer is
	// the default per-subscriber buffer.
	FrameBuffer  int
	StreamBuffer int
}

func (c Config) withDefaults() Config {
	if c.NamePrefix == "" {
		c.NamePrefix = veeproto.DeviceNamePrefix
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = veeproto.ScanTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = veeproto.ConnectTimeout
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = veeproto.OpTimeout
	}
	switch {
	case c.WriteRetries == 0:
		c.WriteRetries = 1
	case c.WriteRetries < 0:
		c.WriteRetries = 0
	}
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = 256
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = 64
	}
	return c
}

// Machine owns the lifecycle of one trainer connection. All state
// transitions and queue operations happen on its run goroutine; public
// methods hand it messages and never touch session state directly.
type Machine struct {
	transport Transport
	cfg       Config
	log       *slog.Logger

	msgs      chan any
	frames    chan frameMsg
	quit      chan struct{}
	ended     chan struct{}
	closeOnce sync.Once

	subs *subscribers

	mu   sync.RWMutex
	info Info

	c counters

	// run-loop state; never touched outside the loop
	state        State
	gen          uint64
	attempt      *attempt
	disp         *dispatcher
	lastReason   error
	cleaning     bool
	pendingScan  []chan error
	readyWaiters []chan error
	downWaiters  []chan error
	discWaiters  []chan error
	lost         <-chan error
}

type counters struct {
	framesIn      atomic.Uint64
	framesDropped atomic.Uint64
	decodeErrors  atomic.Uint64
	eventsDropped atomic.Uint64
	writesIssued  atomic.Uint64
	writesRetried atomic.Uint64
	writesFailed  atomic.Uint64
	linkLosses    atomic.Uint64
}

// attempt is one scan-to-ready acquisition and the session it produces.
// The ctx cancels every goroutine working for it.
type attempt struct {
	gen        uint64
	ctx        context.Context
	cancel     context.CancelFunc
	scanCancel context.CancelFunc
	device     Advertisement
	chars      []veeproto.Characteristic
}

// Messages handled by the run loop.
type (
	scanMsg       struct{ reply chan error }
	disconnectMsg struct{ reply chan error }
	submitMsg     struct {
		p     *Pending
		reply chan error
	}
	cancelMsg    struct{ p *Pending }
	readyWaitMsg struct{ ch chan error }
	downWaitMsg  struct{ ch chan error }

	targetMsg struct {
		target string
		reply  chan struct{}
	}

	advFoundMsg struct {
		gen uint64
		adv Advertisement
	}
	scanEndedMsg struct {
		gen uint64
		err error
	}
	connectDoneMsg struct {
		gen uint64
		err error
	}
	attachDoneMsg struct {
		gen     uint64
		chars   []veeproto.Characteristic
		missing []veeproto.Characteristic
		err     error
	}
	writeDoneMsg struct {
		gen uint64
		seq uint64
		err error
	}
	cleanupDoneMsg struct{}
)

type frameMsg struct {
	gen  uint64
	char veeproto.Characteristic
	data []byte
	at   time.Time
}

// New starts a connection machine over t. Close must be called to release
// it. A nil logger falls back to slog.Default.
func New(t Transport, cfg Config, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	m := &Machine{
		transport: t,
		cfg:       cfg,
		log:       log.With("component", "link"),
		msgs:      make(chan any, 64),
		frames:    make(chan frameMsg, cfg.FrameBuffer),
		quit:      make(chan struct{}),
		ended:     make(chan struct{}),
		subs:      newSubscribers(),
		disp:      newDispatcher(cfg.WriteRetries),
	}
	go m.run()
	return m
}

// StartScan begins device acquisition: scan, connect to the first match,
// discover the trainer service and arm every notification characteristic.
// Progress is observable through States and AwaitReady. Returns ErrBusy
// when an attempt or session is already active.
func (m *Machine) StartScan() error {
	ch := make(chan error, 1)
	if !m.post(scanMsg{reply: ch}) {
		return ErrClosed
	}
	select {
	case err := <-ch:
		return err
	case <-m.ended:
		return ErrClosed
	}
}

// SetTarget repins scanning to one device name or ID, replacing the
// configured target. It applies to the next acquisition; a scan already
// in progress keeps its old target.
func (m *Machine) SetTarget(target string) {
	ch := make(chan struct{})
	if !m.post(targetMsg{target: target, reply: ch}) {
		return
	}
	select {
	case <-ch:
	case <-m.ended:
	}
}

// Connect ensures a session: it starts an acquisition unless one is
// already running, then waits until the link is Ready or the attempt
// fails. On ctx expiry the attempt keeps running in the background; call
// Disconnect to abort it.
func (m *Machine) Connect(ctx context.Context) error {
	if err := m.StartScan(); err != nil && !errors.Is(err, ErrBusy) {
		return err
	}
	return m.AwaitReady(ctx)
}

// AwaitReady blocks until the machine reaches Ready, or returns the
// failure reason of the attempt.
func (m *Machine) AwaitReady(ctx context.Context) error {
	ch := make(chan error, 1)
	if !m.post(readyWaitMsg{ch: ch}) {
		return ErrClosed
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ended:
		return ErrClosed
	}
}

// AwaitDown blocks while a session or attempt is live and returns when it
// ends: the failure reason, or nil for a local disconnect. Returns the
// last failure immediately when nothing is active.
func (m *Machine) AwaitDown(ctx context.Context) error {
	ch := make(chan error, 1)
	if !m.post(downWaitMsg{ch: ch}) {
		return ErrClosed
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ended:
		return ErrClosed
	}
}

// Disconnect ends the current session or attempt and waits until the
// transport has been released. ctx bounds the wait only; the teardown
// itself proceeds regardless.
func (m *Machine) Disconnect(ctx context.Context) error {
	ch := make(chan error, 1)
	if !m.post(disconnectMsg{reply: ch}) {
		return nil
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ended:
		return nil
	}
}

// Submit encodes cmd and queues it for the control characteristic. The
// returned Pending resolves on acknowledgment, timeout, cancellation or
// link loss. Encoding failures surface synchronously; commands are only
// accepted while the link is Ready.
func (m *Machine) Submit(cmd veeproto.Command) (*Pending, error) {
	frame, err := veeproto.Encode(cmd)
	if err != nil {
		return nil, err
	}
	p := newPending(m, cmd, frame)
	ch := make(chan error, 1)
	if !m.post(submitMsg{p: p, reply: ch}) {
		return nil, ErrClosed
	}
	select {
	case err := <-ch:
		if err != nil {
			return nil, err
		}
		return p, nil
	case <-m.ended:
		return nil, ErrClosed
	}
}

// Do submits cmd and waits for it to resolve.
func (m *Machine) Do(ctx context.Context, cmd veeproto.Command) error {
	p, err := m.Submit(cmd)
	if err != nil {
		return err
	}
	return p.Wait(ctx)
}

// Frames subscribes to the notification stream. buffer <= 0 takes the
// configured default. Slow subscribers lose frames rather than stalling
// the link; the channel is closed on unsubscribe or machine close.
func (m *Machine) Frames(buffer int) *FrameStream {
	if buffer <= 0 {
		buffer = m.cfg.StreamBuffer
	}
	id, ch := m.subs.addFrames(buffer)
	return &FrameStream{m: m, id: id, ch: ch}
}

// States subscribes to state transitions. Same delivery contract as
// Frames.
func (m *Machine) States(buffer int) *StateStream {
	if buffer <= 0 {
		buffer = m.cfg.StreamBuffer
	}
	id, ch := m.subs.addStates(buffer)
	return &StateStream{m: m, id: id, ch: ch}
}

// State returns the current lifecycle position.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info.State
}

// Info returns a snapshot of the session.
func (m *Machine) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info
}

// Counters returns cumulative statistics.
func (m *Machine) Counters() Counters {
	return Counters{
		FramesIn:      m.c.framesIn.Load(),
		FramesDropped: m.c.framesDropped.Load(),
		DecodeErrors:  m.c.decodeErrors.Load(),
		EventsDropped: m.c.eventsDropped.Load(),
		WritesIssued:  m.c.writesIssued.Load(),
		WritesRetried: m.c.writesRetried.Load(),
		WritesFailed:  m.c.writesFailed.Load(),
		LinkLosses:    m.c.linkLosses.Load(),
	}
}

// Close shuts the machine down, failing pending commands with ErrClosed
// and releasing the transport. Safe to call more than once.
func (m *Machine) Close() error {
	m.closeOnce.Do(func() { close(m.quit) })
	<-m.ended
	return nil
}

func (m *Machine) post(msg any) bool {
	select {
	case <-m.quit:
		return false
	default:
	}
	select {
	case m.msgs <- msg:
		return true
	case <-m.quit:
		return false
	}
}

func (m *Machine) run() {
	defer close(m.ended)
	for {
		select {
		case <-m.quit:
			m.shutdown()
			return
		case msg := <-m.msgs:
			m.dispatchMsg(msg)
		case fr := <-m.frames:
			m.handleFrame(fr)
		case err := <-m.lost:
			m.handleLinkLost(err)
		}
	}
}

func (m *Machine) dispatchMsg(msg any) {
	switch v := msg.(type) {
	case scanMsg:
		m.handleScan(v)
	case disconnectMsg:
		m.handleDisconnect(v)
	case submitMsg:
		m.handleSubmit(v)
	case cancelMsg:
		m.disp.cancel(v.p)
	case targetMsg:
		m.cfg.Target = v.target
		close(v.reply)
	case readyWaitMsg:
		m.handleReadyWait(v)
	case downWaitMsg:
		m.handleDownWait(v)
	case advFoundMsg:
		m.handleAdvFound(v)
	case scanEndedMsg:
		m.handleScanEnded(v)
	case connectDoneMsg:
		m.handleConnectDone(v)
	case attachDoneMsg:
		m.handleAttachDone(v)
	case writeDoneMsg:
		m.handleWriteDone(v)
	case cleanupDoneMsg:
		m.handleCleanupDone()
	}
}

func (m *Machine) handleScan(v scanMsg) {
	if m.cleaning {
		// The previous session is still releasing the transport; start
		// once it is done.
		m.pendingScan = append(m.pendingScan, v.reply)
		return
	}
	if m.state != StateDisconnected {
		v.reply <- ErrBusy
		return
	}
	m.startAttempt()
	v.reply <- nil
}

func (m *Machine) startAttempt() {
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{gen: m.gen, ctx: ctx, cancel: cancel}
	m.attempt = a
	m.lastReason = nil
	m.setDevice(Advertisement{})
	m.transition(StateScanning, nil)

	scanCtx, scanCancel := context.WithTimeout(ctx, m.cfg.ScanTimeout)
	a.scanCancel = scanCancel
	go m.runScan(scanCtx, a.gen)
}

func (m *Machine) runScan(ctx context.Context, gen uint64) {
	adv, err := m.transport.Scan(ctx, m.cfg.NamePrefix)
	if err != nil {
		m.post(scanEndedMsg{gen: gen, err: &TransportError{Op: "scan", Err: err}})
		return
	}
	for a := range adv {
		m.post(advFoundMsg{gen: gen, adv: a})
	}
	// Stream closed: timeout, teardown, or the transport quit on its own.
	var endErr error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		endErr = ErrScanTimeout
	case ctx.Err() == nil:
		endErr = &TransportError{Op: "scan", Err: errors.New("advertisement stream closed")}
	}
	m.post(scanEndedMsg{gen: gen, err: endErr})
}

func (m *Machine) matches(adv Advertisement) bool {
	if !strings.HasPrefix(adv.Name, m.cfg.NamePrefix) {
		return false
	}
	if m.cfg.Target == "" {
		return true
	}
	return adv.Name == m.cfg.Target || string(adv.ID) == m.cfg.Target
}

func (m *Machine) handleAdvFound(v advFoundMsg) {
	if m.attempt == nil || v.gen != m.gen || m.state != StateScanning {
		return
	}
	if !m.matches(v.adv) {
		return
	}
	m.attempt.device = v.adv
	m.attempt.scanCancel()
	m.setDevice(v.adv)
	m.transition(StateConnecting, nil)
	m.log.Info("device found", "name", v.adv.Name, "id", string(v.adv.ID), "rssi", v.adv.RSSI)
	go m.runConnect(m.attempt.ctx, v.gen, v.adv.ID)
}

func (m *Machine) handleScanEnded(v scanEndedMsg) {
	if v.gen != m.gen || m.state != StateScanning || v.err == nil {
		return
	}
	m.failAttempt(v.err)
}

func (m *Machine) runConnect(ctx context.Context, gen uint64, id DeviceID) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	err := m.transport.Connect(cctx, id)
	m.post(connectDoneMsg{gen: gen, err: err})
}

func (m *Machine) handleConnectDone(v connectDoneMsg) {
	if m.attempt == nil || v.gen != m.gen || m.state != StateConnecting {
		return
	}
	if v.err != nil {
		reason := v.err
		if errors.Is(reason, context.DeadlineExceeded) {
			reason = ErrConnectTimeout
		}
		m.failAttempt(&TransportError{Op: "connect", Err: reason})
		return
	}
	m.lost = m.transport.LinkLost()
	go m.runAttach(m.attempt.ctx, v.gen)
}

// runAttach discovers the trainer service and arms every notification
// characteristic. Each GATT operation gets its own timeout.
func (m *Machine) runAttach(ctx context.Context, gen uint64) {
	dctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	chars, err := m.transport.DiscoverServices(dctx)
	cancel()
	if err != nil {
		m.post(attachDoneMsg{gen: gen, err: &TransportError{Op: "discover", Err: err}})
		return
	}

	found := make(map[veeproto.Characteristic]bool, len(chars))
	for _, c := range chars {
		found[c] = true
	}
	var missing []veeproto.Characteristic
	if !found[veeproto.CharControl] {
		missing = append(missing, veeproto.CharControl)
	}
	required := veeproto.NotificationCharacteristics()
	for _, c := range required {
		if !found[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		m.post(attachDoneMsg{gen: gen, missing: missing})
		return
	}

	subscribed := make([]veeproto.Characteristic, 0, len(required))
	for _, c := range required {
		char := c
		sctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
		err := m.transport.Subscribe(sctx, char, func(data []byte) {
			m.deliverFrame(gen, char, data)
		})
		cancel()
		if err != nil {
			m.post(attachDoneMsg{gen: gen, err: &TransportError{Op: "subscribe", Err: err}})
			return
		}
		subscribed = append(subscribed, char)
	}
	m.post(attachDoneMsg{gen: gen, chars: subscribed})
}

func (m *Machine) handleAttachDone(v attachDoneMsg) {
	if m.attempt == nil || v.gen != m.gen || m.state != StateConnecting {
		return
	}
	if v.err != nil {
		m.failAttempt(v.err)
		return
	}
	if len(v.missing) > 0 {
		m.failAttempt(&ProtocolMismatchError{Missing: v.missing})
		return
	}
	m.attempt.chars = v.chars
	m.transition(StateReady, nil)
	m.log.Info("link ready", "device", m.attempt.device.Name, "characteristics", len(v.chars))
	for _, ch := range m.readyWaiters {
		ch <- nil
	}
	m.readyWaiters = nil
	m.pump()
}

// deliverFrame runs on the transport's notification goroutine. It copies
// the payload and must never block the radio: on overflow the frame is
// counted and dropped.
func (m *Machine) deliverFrame(gen uint64, char veeproto.Characteristic, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	m.c.framesIn.Add(1)
	select {
	case m.frames <- frameMsg{gen: gen, char: char, data: buf, at: time.Now()}:
	default:
		m.c.framesDropped.Add(1)
	}
}

func (m *Machine) handleFrame(fr frameMsg) {
	if fr.gen != m.gen || (m.state != StateReady && m.state != StateConnecting) {
		return
	}
	ev, err := veeproto.Decode(fr.char, fr.data)
	if err != nil {
		m.c.decodeErrors.Add(1)
		m.log.Warn("frame dropped", "characteristic", fr.char.String(), "len", len(fr.data), "err", err)
	} else {
		m.noteEvent(ev, fr.at)
	}
	dropped := m.subs.broadcastFrame(Frame{At: fr.at, Char: fr.char, Raw: fr.data, Event: ev, Err: err})
	if dropped > 0 {
		m.c.eventsDropped.Add(uint64(dropped))
	}
}

// noteEvent folds events the session itself tracks into the snapshot.
func (m *Machine) noteEvent(ev veeproto.Event, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info.LastSeen = at
	if v, ok := ev.(veeproto.VersionInfo); ok {
		m.info.Firmware = v.Firmware
	}
}

func (m *Machine) handleSubmit(v submitMsg) {
	if m.state != StateReady {
		v.reply <- ErrNotReady
		return
	}
	m.disp.enqueue(v.p)
	v.reply <- nil
	m.log.Debug("command queued", "command", v.p.cmd.Name(), "seq", v.p.seq)
	m.pump()
}

// pump issues the next queued write when the in-flight slot is free.
func (m *Machine) pump() {
	if m.state != StateReady || m.attempt == nil {
		return
	}
	p := m.disp.next()
	if p == nil {
		return
	}
	m.c.writesIssued.Add(1)
	m.log.Debug("write issued", "command", p.cmd.Name(), "seq", p.seq, "attempt", p.attempts)
	go m.runWrite(m.attempt.ctx, m.gen, p.seq, p.frame)
}

func (m *Machine) runWrite(ctx context.Context, gen, seq uint64, frame []byte) {
	wctx, cancel := context.WithTimeout(ctx, m.cfg.OpTimeout)
	defer cancel()
	err := m.transport.WriteCharacteristic(wctx, veeproto.CharControl, frame)
	m.post(writeDoneMsg{gen: gen, seq: seq, err: err})
}

func (m *Machine) handleWriteDone(v writeDoneMsg) {
	if v.gen != m.gen {
		return
	}
	reissue, late := m.disp.completeWrite(v.seq, v.err)
	if late {
		m.log.Debug("late acknowledgment discarded", "seq", v.seq)
		m.pump()
		return
	}
	if reissue != nil {
		m.c.writesRetried.Add(1)
		m.log.Warn("write retry", "command", reissue.cmd.Name(), "seq", reissue.seq,
			"attempt", reissue.attempts, "err", v.err)
		go m.runWrite(m.attempt.ctx, m.gen, reissue.seq, reissue.frame)
		return
	}
	if v.err != nil {
		m.c.writesFailed.Add(1)
		m.log.Warn("write failed", "seq", v.seq, "err", v.err)
	}
	m.pump()
}

func (m *Machine) handleLinkLost(err error) {
	m.lost = nil
	switch m.state {
	case StateReady:
		m.c.linkLosses.Add(1)
		m.log.Warn("link lost", "err", err)
		m.teardown(&LinkLostError{Cause: err}, false)
	case StateConnecting:
		m.failAttempt(&TransportError{Op: "connect", Err: err})
	}
}

func (m *Machine) handleDisconnect(v disconnectMsg) {
	m.discWaiters = append(m.discWaiters, v.reply)
	switch m.state {
	case StateDisconnected:
		m.flushDiscWaiters()
	case StateScanning, StateConnecting:
		m.teardown(nil, false)
	case StateReady:
		m.teardown(nil, true)
	case StateDisconnecting:
		// already draining; resolved when cleanup finishes
	}
}

func (m *Machine) handleReadyWait(v readyWaitMsg) {
	switch m.state {
	case StateReady:
		v.ch <- nil
	case StateDisconnected, StateDisconnecting:
		err := m.lastReason
		if err == nil {
			err = ErrNotReady
		}
		v.ch <- err
	default:
		m.readyWaiters = append(m.readyWaiters, v.ch)
	}
}

func (m *Machine) handleDownWait(v downWaitMsg) {
	if m.state == StateDisconnected {
		v.ch <- m.lastReason
		return
	}
	m.downWaiters = append(m.downWaiters, v.ch)
}

func (m *Machine) failAttempt(reason error) {
	m.log.Warn("connection attempt failed", "state", m.state.String(), "err", reason)
	m.teardown(reason, false)
}

// teardown ends the current attempt or session: it cancels the attempt's
// goroutines, fails pending commands, and schedules the transport
// cleanup. Cleanup always runs once the transport was touched, whatever
// the exit path. A graceful teardown passes through Disconnecting and
// reaches Disconnected only after cleanup; every other path lands in
// Disconnected immediately.
func (m *Machine) teardown(reason error, graceful bool) {
	a := m.attempt
	if a == nil {
		return
	}
	m.gen++
	a.cancel()
	if a.scanCancel != nil {
		a.scanCancel()
	}
	m.lost = nil

	cmdErr := reason
	if cmdErr == nil {
		cmdErr = ErrDisconnected
	}
	m.disp.failAll(cmdErr)

	touched := m.state != StateScanning
	chars := a.chars
	m.attempt = nil
	m.lastReason = reason

	if touched {
		m.cleaning = true
		go m.runCleanup(chars)
	}

	if graceful && touched {
		m.transition(StateDisconnecting, nil)
		return
	}
	m.becomeDisconnected(reason)
}

func (m *Machine) becomeDisconnected(reason error) {
	m.transition(StateDisconnected, reason)
	werr := reason
	if werr == nil {
		werr = ErrDisconnected
	}
	for _, ch := range m.readyWaiters {
		ch <- werr
	}
	m.readyWaiters = nil
	for _, ch := range m.downWaiters {
		ch <- reason
	}
	m.downWaiters = nil
	m.flushDiscWaiters()
}

func (m *Machine) flushDiscWaiters() {
	if m.cleaning || m.state != StateDisconnected {
		return
	}
	for _, ch := range m.discWaiters {
		ch <- nil
	}
	m.discWaiters = nil
}

// runCleanup releases the transport: unsubscribe whatever was armed, then
// drop the connection. Errors are logged only; the link is going away
// regardless.
func (m *Machine) runCleanup(chars []veeproto.Characteristic) {
	for _, c := range chars {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpTimeout)
		if err := m.transport.Unsubscribe(ctx, c); err != nil {
			m.log.Debug("cleanup unsubscribe failed", "characteristic", c.String(), "err", err)
		}
		cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpTimeout)
	if err := m.transport.Disconnect(ctx); err != nil {
		m.log.Debug("cleanup disconnect failed", "err", err)
	}
	cancel()
	m.post(cleanupDoneMsg{})
}

func (m *Machine) handleCleanupDone() {
	m.cleaning = false
	if m.state == StateDisconnecting {
		m.becomeDisconnected(nil)
	}
	m.flushDiscWaiters()
	if len(m.pendingScan) > 0 && m.state == StateDisconnected {
		replies := m.pendingScan
		m.pendingScan = nil
		m.startAttempt()
		for _, ch := range replies {
			ch <- nil
		}
	}
}

func (m *Machine) transition(to State, reason error) {
	from := m.state
	m.state = to
	m.mu.Lock()
	m.info.State = to
	m.mu.Unlock()
	if reason != nil {
		m.log.Warn("state", "from", from.String(), "to", to.String(), "reason", reason)
	} else {
		m.log.Info("state", "from", from.String(), "to", to.String())
	}
	dropped := m.subs.broadcastState(StateChange{From: from, To: to, Reason: reason})
	if dropped > 0 {
		m.c.eventsDropped.Add(uint64(dropped))
	}
}

func (m *Machine) setDevice(adv Advertisement) {
	m.mu.Lock()
	m.info.Device = adv
	m.info.Firmware = ""
	m.mu.Unlock()
}

// shutdown runs on the loop goroutine after Close. It aborts any live
// attempt, fails everything pending and detaches all subscribers.
func (m *Machine) shutdown() {
	if m.attempt != nil {
		m.attempt.cancel()
		if m.attempt.scanCancel != nil {
			m.attempt.scanCancel()
		}
		if m.state != StateScanning {
			go m.releaseQuietly(m.attempt.chars)
		}
		m.attempt = nil
	}
	m.disp.failAll(ErrClosed)
	for _, ch := range m.readyWaiters {
		ch <- ErrClosed
	}
	for _, ch := range m.downWaiters {
		ch <- ErrClosed
	}
	for _, ch := range m.discWaiters {
		ch <- nil
	}
	for _, ch := range m.pendingScan {
		ch <- ErrClosed
	}
	m.readyWaiters, m.downWaiters, m.discWaiters, m.pendingScan = nil, nil, nil, nil

	// Answer whatever was posted before quit won the race.
drain:
	for {
		select {
		case msg := <-m.msgs:
			m.rejectMsg(msg)
		default:
			break drain
		}
	}

	m.state = StateDisconnected
	m.mu.Lock()
	m.info.State = StateDisconnected
	m.mu.Unlock()
	m.subs.closeAll()
}

// releaseQuietly is the shutdown variant of runCleanup: no message back,
// nobody is listening anymore.
func (m *Machine) releaseQuietly(chars []veeproto.Characteristic) {
	for _, c := range chars {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpTimeout)
		_ = m.transport.Unsubscribe(ctx, c)
		cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpTimeout)
	_ = m.transport.Disconnect(ctx)
	cancel()
}

func (m *Machine) rejectMsg(msg any) {
	switch v := msg.(type) {
	case scanMsg:
		v.reply <- ErrClosed
	case disconnectMsg:
		v.reply <- nil
	case submitMsg:
		v.reply <- ErrClosed
	case readyWaitMsg:
		v.ch <- ErrClosed
	case downWaitMsg:
		v.ch <- ErrClosed
	}
}
