// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package link

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openvee/veelink/pkg/veeproto"
)

// fakeTransport scripts the radio for tests. Knobs and recordings are
// guarded by mu.
type fakeTransport struct {
	mu sync.Mutex

	advs    []Advertisement
	scanErr error

	connectErr   error
	connectDelay time.Duration
	connects     int
	connectedID  DeviceID

	chars       []veeproto.Characteristic
	discoverErr error

	subscribeErr error
	handlers     map[veeproto.Characteristic]NotificationFunc

	// writeErrs is consumed one entry per write; a nil entry succeeds.
	// writeGate, when set, makes each write wait for one token.
	writeErrs   []error
	writeGate   chan struct{}
	writeStarts int
	writes      [][]byte

	unsubs      []veeproto.Characteristic
	disconnects int

	lost chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		chars: append([]veeproto.Characteristic{veeproto.CharControl},
			veeproto.NotificationCharacteristics()...),
		handlers: make(map[veeproto.Characteristic]NotificationFunc),
		lost:     make(chan error, 1),
	}
}

func (f *fakeTransport) Scan(ctx context.Context, namePrefix string) (<-chan Advertisement, error) {
	f.mu.Lock()
	err := f.scanErr
	advs := append([]Advertisement(nil), f.advs...)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ch := make(chan Advertisement)
	go func() {
		defer close(ch)
		for _, a := range advs {
			select {
			case ch <- a:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return ch, nil
}

func (f *fakeTransport) Connect(ctx context.Context, id DeviceID) error {
	f.mu.Lock()
	f.connects++
	f.connectedID = id
	err := f.connectErr
	delay := f.connectDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeTransport) DiscoverServices(ctx context.Context) ([]veeproto.Characteristic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	return append([]veeproto.Characteristic(nil), f.chars...), nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, char veeproto.Characteristic, fn NotificationFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.handlers[char] = fn
	return nil
}

func (f *fakeTransport) Unsubscribe(ctx context.Context, char veeproto.Characteristic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, char)
	delete(f.handlers, char)
	return nil
}

func (f *fakeTransport) WriteCharacteristic(ctx context.Context, char veeproto.Characteristic, data []byte) error {
	f.mu.Lock()
	f.writeStarts++
	gate := f.writeGate
	var err error
	if len(f.writeErrs) > 0 {
		err = f.writeErrs[0]
		f.writeErrs = f.writeErrs[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.writes = append(f.writes, append([]byte(nil), data...))
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) LinkLost() <-chan error { return f.lost }

// dropLink simulates an unexpected radio drop.
func (f *fakeTransport) dropLink(err error) { f.lost <- err }

// notify pushes a notification through the handler armed for char.
func (f *fakeTransport) notify(char veeproto.Characteristic, data []byte) {
	f.mu.Lock()
	fn := f.handlers[char]
	f.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (f *fakeTransport) removeChar(char veeproto.Characteristic) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.chars[:0]
	for _, c := range f.chars {
		if c != char {
			kept = append(kept, c)
		}
	}
	f.chars = kept
}

// gateWrites makes every write wait for one token on the returned channel.
func (f *fakeTransport) gateWrites() chan struct{} {
	gate := make(chan struct{})
	f.mu.Lock()
	f.writeGate = gate
	f.mu.Unlock()
	return gate
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) connectedDevice() DeviceID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectedID
}

func (f *fakeTransport) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeTransport) writeStartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeStarts
}

func (f *fakeTransport) writtenFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *fakeTransport) unsubCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unsubs)
}

func (f *fakeTransport) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func veeAdv() Advertisement {
	return Advertisement{ID: "AA:BB:CC:DD:EE:FF", Name: "Vee Trainer 042", RSSI: -60}
}

// sampleFrame builds a valid 28-byte monitor frame.
func sampleFrame(seq uint32) []byte {
	b := make([]byte, veeproto.SampleFrameSize)
	velocity := int16(-875)
	binary.LittleEndian.PutUint32(b[0x00:], 120050)
	binary.LittleEndian.PutUint16(b[0x04:], 1234)
	binary.LittleEndian.PutUint16(b[0x06:], uint16(velocity))
	binary.LittleEndian.PutUint16(b[0x08:], 2550)
	binary.LittleEndian.PutUint16(b[0x0A:], uint16(int16(321)))
	binary.LittleEndian.PutUint32(b[0x18:], seq)
	return b
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMachine(t *testing.T, f *fakeTransport, cfg Config) *Machine {
	t.Helper()
	if cfg.ScanTimeout == 0 {
		cfg.ScanTimeout = 500 * time.Millisecond
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 500 * time.Millisecond
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = 500 * time.Millisecond
	}
	m := New(f, cfg, testLogger())
	t.Cleanup(func() { m.Close() })
	return m
}

func connectTestMachine(t *testing.T, f *fakeTransport, cfg Config) *Machine {
	t.Helper()
	m := newTestMachine(t, f, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))
	return m
}
