// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

// Package ble drives a local Bluetooth adapter as the trainer transport.
package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/openvee/veelink/internal/link"
	"github.com/openvee/veelink/pkg/veeproto"
)

// Transport is the tinygo-bluetooth implementation of the link transport.
// One Transport owns the adapter; the connection machine serializes calls,
// so the locking here only guards against the adapter's own callbacks.
type Transport struct {
	log *slog.Logger

	adapter    *bluetooth.Adapter
	enableOnce sync.Once
	enableErr  error

	mu        sync.Mutex
	scanning  bool
	known     map[link.DeviceID]bluetooth.Address
	device    bluetooth.Device
	addr      bluetooth.Address
	connected bool
	chars     map[veeproto.Characteristic]bluetooth.DeviceCharacteristic
	lost      chan error
}

var _ link.Transport = (*Transport)(nil)

// New wraps the default adapter. The adapter is enabled lazily on first
// use; enabling requires a running Bluetooth stack.
func New(log *slog.Logger) *Transport {
	return &Transport{
		log:     log.With("component", "ble"),
		adapter: bluetooth.DefaultAdapter,
		known:   make(map[link.DeviceID]bluetooth.Address),
		chars:   make(map[veeproto.Characteristic]bluetooth.DeviceCharacteristic),
	}
}

func (t *Transport) enable() error {
	t.enableOnce.Do(func() {
		if err := t.adapter.Enable(); err != nil {
			t.enableErr = fmt.Errorf("ble: enable adapter: %w", err)
			return
		}
		t.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
			if connected {
				return
			}
			t.mu.Lock()
			if !t.connected || dev.Address != t.addr {
				t.mu.Unlock()
				return
			}
			t.connected = false
			lost := t.lost
			t.mu.Unlock()
			t.log.Warn("connection terminated by peer")
			select {
			case lost <- errors.New("ble: connection terminated"):
			default:
			}
		})
	})
	return t.enableErr
}

// Scan streams advertisements until ctx ends. Results are name-filtered
// here; BlueZ offers no native prefix filter.
func (t *Transport) Scan(ctx context.Context, namePrefix string) (<-chan link.Advertisement, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	if t.scanning {
		t.mu.Unlock()
		return nil, errors.New("ble: scan already running")
	}
	t.scanning = true
	t.mu.Unlock()

	ch := make(chan link.Advertisement, 16)

	go func() {
		// adapter.Scan blocks until StopScan; the callback runs on the
		// adapter's goroutine.
		err := t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if namePrefix != "" && !strings.HasPrefix(name, namePrefix) {
				return
			}
			id := link.DeviceID(result.Address.String())
			t.mu.Lock()
			t.known[id] = result.Address
			t.mu.Unlock()
			select {
			case ch <- link.Advertisement{ID: id, Name: name, RSSI: result.RSSI}:
			default:
			}
		})
		if err != nil {
			t.log.Debug("scan ended", "error", err)
		}
		// Flag first: a consumer that sees the channel close may start a
		// new scan right away.
		t.mu.Lock()
		t.scanning = false
		t.mu.Unlock()
		close(ch)
	}()

	go func() {
		<-ctx.Done()
		t.adapter.StopScan()
	}()

	return ch, nil
}

// Connect attaches to a device previously seen in a scan.
func (t *Transport) Connect(ctx context.Context, id link.DeviceID) error {
	if err := t.enable(); err != nil {
		return err
	}
	t.mu.Lock()
	addr, ok := t.known[id]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: device %s was not seen in a scan", id)
	}

	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}
	dev, err := t.adapter.Connect(addr, params)
	if err != nil {
		return fmt.Errorf("ble: connect %s: %w", id, err)
	}

	t.mu.Lock()
	t.device = dev
	t.addr = addr
	t.connected = true
	t.chars = make(map[veeproto.Characteristic]bluetooth.DeviceCharacteristic)
	t.lost = make(chan error, 1)
	t.mu.Unlock()
	return nil
}

// DiscoverServices resolves the control service and maps its
// characteristics to protocol identities.
func (t *Transport) DiscoverServices(_ context.Context) ([]veeproto.Characteristic, error) {
	t.mu.Lock()
	dev := t.device
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return nil, errors.New("ble: not connected")
	}

	svcUUID, err := bluetooth.ParseUUID(veeproto.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: service uuid: %w", err)
	}
	svcs, err := dev.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, errors.New("ble: control service not present")
	}

	chars, err := svcs[0].DiscoverCharacteristics(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}

	var found []veeproto.Characteristic
	t.mu.Lock()
	for _, c := range chars {
		id, ok := veeproto.CharacteristicFromUUID(strings.ToLower(c.UUID().String()))
		if !ok {
			continue
		}
		t.chars[id] = c
		found = append(found, id)
	}
	t.mu.Unlock()
	return found, nil
}

// Subscribe arms GATT notifications for one characteristic.
func (t *Transport) Subscribe(_ context.Context, char veeproto.Characteristic, fn link.NotificationFunc) error {
	t.mu.Lock()
	c, ok := t.chars[char]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: characteristic %s not discovered", char)
	}
	if err := c.EnableNotifications(fn); err != nil {
		return fmt.Errorf("ble: subscribe %s: %w", char, err)
	}
	return nil
}

// Unsubscribe disarms notifications for one characteristic.
func (t *Transport) Unsubscribe(_ context.Context, char veeproto.Characteristic) error {
	t.mu.Lock()
	c, ok := t.chars[char]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.EnableNotifications(nil); err != nil {
		return fmt.Errorf("ble: unsubscribe %s: %w", char, err)
	}
	return nil
}

// WriteCharacteristic issues a GATT write command. The trainer's control
// characteristic takes write-without-response; success means the frame
// was handed to the host stack.
func (t *Transport) WriteCharacteristic(_ context.Context, char veeproto.Characteristic, data []byte) error {
	t.mu.Lock()
	c, ok := t.chars[char]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: characteristic %s not discovered", char)
	}
	if _, err := c.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("ble: write %s: %w", char, err)
	}
	return nil
}

// Disconnect drops the GATT connection.
func (t *Transport) Disconnect(_ context.Context) error {
	t.mu.Lock()
	dev := t.device
	connected := t.connected
	// Cleared first so the connect handler treats the drop as local.
	t.connected = false
	t.chars = make(map[veeproto.Characteristic]bluetooth.DeviceCharacteristic)
	t.mu.Unlock()
	if !connected {
		return nil
	}
	if err := dev.Disconnect(); err != nil {
		return fmt.Errorf("ble: disconnect: %w", err)
	}
	return nil
}

// LinkLost reports unexpected connection drops. Valid after Connect.
func (t *Transport) LinkLost() <-chan error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lost
}
