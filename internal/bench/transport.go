// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

// Package bench tunnels the trainer protocol over the controller board's
// debug UART, for development benches without a radio. Notification
// payloads arrive framed by characteristic tag; control frames go out the
// same way tagged 0x00.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/openvee/veelink/internal/link"
	"github.com/openvee/veelink/pkg/veeproto"
)

// DefaultBaud matches the controller board's debug UART.
const DefaultBaud = 115200

// Config selects the serial port.
type Config struct {
	Port string
	Baud int
}

// Transport implements the link transport over a UART tunnel.
type Transport struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	port      serial.Port
	connected bool
	handlers  map[veeproto.Characteristic]link.NotificationFunc
	lost      chan error
}

var _ link.Transport = (*Transport)(nil)

// New builds a bench transport for the given port.
func New(cfg Config, log *slog.Logger) *Transport {
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	return &Transport{
		cfg:      cfg,
		log:      log.With("component", "bench"),
		handlers: make(map[veeproto.Characteristic]link.NotificationFunc),
	}
}

// Scan synthesizes the single device behind the port. There is nothing
// to discover on a wire.
func (t *Transport) Scan(ctx context.Context, namePrefix string) (<-chan link.Advertisement, error) {
	name := veeproto.DeviceNamePrefix + " Bench"
	ch := make(chan link.Advertisement, 1)
	if namePrefix == "" || strings.HasPrefix(name, namePrefix) {
		ch <- link.Advertisement{ID: link.DeviceID(t.cfg.Port), Name: name}
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

// Connect opens the serial port and starts the tunnel demultiplexer.
func (t *Transport) Connect(ctx context.Context, id link.DeviceID) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return errors.New("bench: already connected")
	}
	t.mu.Unlock()

	mode := &serial.Mode{
		BaudRate: t.cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(t.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("bench: open %s: %w", t.cfg.Port, err)
	}

	t.mu.Lock()
	t.port = port
	t.connected = true
	t.lost = make(chan error, 1)
	t.mu.Unlock()

	go t.readLoop(port)
	return nil
}

func (t *Transport) readLoop(port serial.Port) {
	d := newDemux()
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if err != nil {
			t.mu.Lock()
			active := t.connected && t.port == port
			if active {
				t.connected = false
			}
			lost := t.lost
			t.mu.Unlock()
			if active {
				select {
				case lost <- fmt.Errorf("bench: read: %w", err):
				default:
				}
			}
			return
		}
		for _, b := range buf[:n] {
			fr, err := d.feed(b)
			if err != nil {
				t.log.Warn("tunnel frame dropped", "error", err, "resyncs", d.resyncs)
				continue
			}
			if fr == nil {
				continue
			}
			t.dispatch(fr)
		}
	}
}

func (t *Transport) dispatch(fr *frame) {
	char := veeproto.Characteristic(fr.tag)
	t.mu.Lock()
	fn := t.handlers[char]
	t.mu.Unlock()
	if fn == nil {
		return
	}
	fn(fr.payload)
}

// DiscoverServices reports the full characteristic set; the tunnel
// always carries the whole protocol.
func (t *Transport) DiscoverServices(_ context.Context) ([]veeproto.Characteristic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return nil, errors.New("bench: not connected")
	}
	return append([]veeproto.Characteristic{veeproto.CharControl},
		veeproto.NotificationCharacteristics()...), nil
}

// Subscribe arms the handler for one characteristic tag.
func (t *Transport) Subscribe(_ context.Context, char veeproto.Characteristic, fn link.NotificationFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return errors.New("bench: not connected")
	}
	t.handlers[char] = fn
	return nil
}

// Unsubscribe disarms the handler.
func (t *Transport) Unsubscribe(_ context.Context, char veeproto.Characteristic) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, char)
	return nil
}

// WriteCharacteristic frames and sends one control payload.
func (t *Transport) WriteCharacteristic(_ context.Context, char veeproto.Characteristic, data []byte) error {
	frame, err := encodeFrame(byte(char), data)
	if err != nil {
		return err
	}
	t.mu.Lock()
	port := t.port
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return errors.New("bench: not connected")
	}
	n, err := port.Write(frame)
	if err != nil {
		return fmt.Errorf("bench: write: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("bench: short write: %d of %d bytes", n, len(frame))
	}
	return nil
}

// Disconnect closes the port; the read loop exits on the closed port
// without flagging a link loss.
func (t *Transport) Disconnect(_ context.Context) error {
	t.mu.Lock()
	port := t.port
	connected := t.connected
	t.connected = false
	t.handlers = make(map[veeproto.Characteristic]link.NotificationFunc)
	t.mu.Unlock()
	if !connected {
		return nil
	}
	if err := port.Close(); err != nil {
		return fmt.Errorf("bench: close: %w", err)
	}
	return nil
}

// LinkLost reports read failures on an open tunnel. Valid after Connect.
func (t *Transport) LinkLost() <-chan error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lost
}
