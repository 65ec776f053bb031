// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package link

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSupervisor(t *testing.T, m *Machine, cfg SupervisorConfig) (context.CancelFunc, <-chan error) {
	t.Helper()
	s := NewSupervisor(m, cfg, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestSupervisorReconnectsAfterLinkLoss(t *testing.T) {
	f := newFakeTransport()
	f.advs = []Advertisement{veeAdv()}
	m := newTestMachine(t, f, Config{})

	cancel, done := startSupervisor(t, m, SupervisorConfig{
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})

	require.Eventually(t, func() bool { return m.State() == StateReady }, 2*time.Second, time.Millisecond)
	f.dropLink(errors.New("supervision lost"))
	require.Eventually(t, func() bool {
		return f.connectCount() == 2 && m.State() == StateReady
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
}

func TestSupervisorReturnsOnLocalDisconnect(t *testing.T) {
	f := newFakeTransport()
	f.advs = []Advertisement{veeAdv()}
	m := newTestMachine(t, f, Config{})

	_, done := startSupervisor(t, m, SupervisorConfig{
		InitialBackoff: 5 * time.Millisecond,
	})

	require.Eventually(t, func() bool { return m.State() == StateReady }, 2*time.Second, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Disconnect(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err, "a deliberate disconnect ends supervision cleanly")
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor kept running after local disconnect")
	}
}

func TestSupervisorBreakerOpensAfterRepeatedFailures(t *testing.T) {
	f := newFakeTransport()
	f.advs = []Advertisement{veeAdv()}
	f.connectErr = errors.New("gatt connect refused")
	m := newTestMachine(t, f, Config{})

	s := NewSupervisor(m, SupervisorConfig{
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      2 * time.Millisecond,
		BreakerFailures: 3,
		BreakerCooldown: time.Minute,
	}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return s.BreakerState() == gobreaker.StateOpen
	}, 2*time.Second, time.Millisecond)

	attempts := f.connectCount()
	assert.Equal(t, 3, attempts)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, attempts, f.connectCount(), "open breaker must suppress further attempts")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
}

func TestSupervisorStopsWhenMachineClosed(t *testing.T) {
	f := newFakeTransport()
	f.advs = []Advertisement{veeAdv()}
	m := newTestMachine(t, f, Config{})

	_, done := startSupervisor(t, m, SupervisorConfig{
		InitialBackoff: 5 * time.Millisecond,
	})

	require.Eventually(t, func() bool { return m.State() == StateReady }, 2*time.Second, time.Millisecond)
	m.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor kept running after machine close")
	}
}
