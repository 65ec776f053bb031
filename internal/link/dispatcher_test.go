// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package link

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvee/veelink/pkg/veeproto"
)

func TestDispatcherWritesCommandBytes(t *testing.T) {
	f := newFakeTransport()
	f.advs = []Advertisement{veeAdv()}
	m := connectTestMachine(t, f, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Do(ctx, veeproto.Stop{}))

	want, err := veeproto.Encode(veeproto.Stop{})
	require.NoError(t, err)
	frames := f.writtenFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, want, frames[0])
}

func TestDispatcherSingleFlightFIFO(t *testing.T) {
	f := newFakeTransport()
	f.advs = []Advertisement{veeAdv()}
	m := connectTestMachine(t, f, Config{})
	gate := f.gateWrites()

	a, err := m.Submit(veeproto.Init{})
	require.NoError(t, err)
	b, err := m.Submit(veeproto.Start{})
	require.NoError(t, err)
	c, err := m.Submit(veeproto.Stop{Soft: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.writeStartCount() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.writeStartCount(), "only one write may be in flight")

	gate <- struct{}{}
	require.Eventually(t, func() bool { return f.writeStartCount() == 2 }, time.Second, time.Millisecond)
	gate <- struct{}{}
	require.Eventually(t, func() bool { return f.writeStartCount() == 3 }, time.Second, time.Millisecond)
	gate <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Wait(ctx))
	require.NoError(t, b.Wait(ctx))
	require.NoError(t, c.Wait(ctx))

	frames := f.writtenFrames()
	require.Len(t, frames, 3)
	wantA, _ := veeproto.Encode(veeproto.Init{})
	wantB, _ := veeproto.Encode(veeproto.Start{})
	wantC, _ := veeproto.Encode(veeproto.Stop{Soft: true})
	assert.Equal(t, wantA, frames[0])
	assert.Equal(t, wantB, frames[1])
	assert.Equal(t, wantC, frames[2])
}

func TestDispatcherStopBarriersProgram(t *testing.T) {
	f := newFakeTransport()
	f.advs = []Advertisement{veeAdv()}
	m := connectTestMachine(t, f, Config{})
	gate := f.gateWrites()

	stop, err := m.Submit(veeproto.Stop{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.writeStartCount() == 1 }, time.Second, time.Millisecond)

	program, err := m.Submit(veeproto.NewProgram(veeproto.ModeOldSchool, 12, 3, 20.0))
	require.NoError(t, err)

	// The program frame must not touch the transport while the stop is
	// unresolved.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, f.writeStartCount())

	gate <- struct{}{} // stop acknowledges
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, stop.Wait(ctx))

	require.Eventually(t, func() bool { return f.writeStartCount() == 2 }, time.Second, time.Millisecond)
	gate <- struct{}{}
	require.NoError(t, program.Wait(ctx))

	frames := f.writtenFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, byte(veeproto.CmdStopHard), frames[0][0])
	assert.Equal(t, byte(veeproto.CmdActivation), frames[1][0])
	assert.Len(t, frames[1], veeproto.ProgramFrameSize)
}

func TestDispatcherRetriesIdempotent(t *testing.T) {
	f := newFakeTransport()
	f.advs = []Advertisement{veeAdv()}
	m := connectTestMachine(t, f, Config{})
	f.writeErrs = []error{errors.New("att write rejected")}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Do(ctx, veeproto.Reset{}))

	assert.Equal(t, 2, f.writeStartCount())
	assert.Equal(t, uint64(1), m.Counters().WritesRetried)
	assert.Equal(t, uint64(0), m.Counters().WritesFailed)
}

func TestDispatcherNoRetryForNonIdempotent(t *testing.T) {
	f := newFakeTransport()
	f.advs = []Advertisement{veeAdv()}
	m := connectTestMachine(t, f, Config{})
	f.writeErrs = []error{errors.New("att write rejected")}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := m.Do(ctx, veeproto.Start{})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "write", te.Op)

	assert.Equal(t, 1, f.writeStartCount(), "non-idempotent commands are never retried")
	assert.Equal(t, uint64(0), m.Counters().WritesRetried)
	assert.Equal(t, uint64(1), m.Counters().WritesFailed)
}

func TestDispatcherWriteTimeout(t *testing.T) {
	f := newFakeTransport()
	f.advs = []Advertisement{veeAdv()}
	m := connectTestMachine(t, f, Config{OpTimeout: 50 * time.Millisecond})
	f.gateWrites() // never release: every write runs into its deadline

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := m.Do(ctx, veeproto.Start{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var te *TransportError
	require.ErrorAs(t, err, &te)
}

func TestDispatcherRetriesDisabled(t *testing.T) {
	f := newFakeTransport()
	f.advs = []Advertisement{veeAdv()}
	m := connectTestMachine(t, f, Config{WriteRetries: -1})
	f.writeErrs = []error{errors.New("att write rejected")}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := m.Do(ctx, veeproto.Reset{})
	require.Error(t, err)
	assert.Equal(t, 1, f.writeStartCount())
}

func TestDispatcherCancelQueued(t *testing.T) {
	f := newFakeTransport()
	f.advs = []Advertisement{veeAdv()}
	m := connectTestMachine(t, f, Config{})
	gate := f.gateWrites()

	a, err := m.Submit(veeproto.Init{})
	require.NoError(t, err)
	b, err := m.Submit(veeproto.Start{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.writeStartCount() == 1 }, time.Second, time.Millisecond)

	b.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.ErrorIs(t, b.Wait(ctx), ErrCancelled)

	gate <- struct{}{}
	require.NoError(t, a.Wait(ctx))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.writeStartCount(), "cancelled queued command must never be written")
}

func TestDispatcherCancelInflightDiscardsLateAck(t *testing.T) {
	f := newFakeTransport()
	f.advs = []Advertisement{veeAdv()}
	m := connectTestMachine(t, f, Config{})
	gate := f.gateWrites()

	a, err := m.Submit(veeproto.Init{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.writeStartCount() == 1 }, time.Second, time.Millisecond)

	a.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.ErrorIs(t, a.Wait(ctx), ErrCancelled, "cancellation resolves without waiting for the radio")

	// The slot stays occupied until the radio answers.
	c, err := m.Submit(veeproto.Stop{})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.writeStartCount())

	gate <- struct{}{} // the cancelled write completes; its ack is discarded
	require.Eventually(t, func() bool { return f.writeStartCount() == 2 }, time.Second, time.Millisecond)
	gate <- struct{}{}
	require.NoError(t, c.Wait(ctx))

	assert.Equal(t, uint64(0), m.Counters().WritesFailed)
}

func TestDispatcherLinkLostFailsEverything(t *testing.T) {
	f := newFakeTransport()
	f.advs = []Advertisement{veeAdv()}
	m := connectTestMachine(t, f, Config{})
	f.gateWrites() // keep the first command in flight

	a, err := m.Submit(veeproto.Stop{})
	require.NoError(t, err)
	b, err := m.Submit(veeproto.Start{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.writeStartCount() == 1 }, time.Second, time.Millisecond)

	f.dropLink(errors.New("radio fell over"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var ll *LinkLostError
	require.ErrorAs(t, a.Wait(ctx), &ll)
	require.ErrorAs(t, b.Wait(ctx), &ll)

	_, err = m.Submit(veeproto.Stop{})
	assert.ErrorIs(t, err, ErrNotReady)
}
