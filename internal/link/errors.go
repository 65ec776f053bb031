// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package link

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openvee/veelink/pkg/veeproto"
)

// Failure reasons surfaced through StateChange.Reason and command results.
var (
	// ErrScanTimeout ends a scan that saw no matching advertisement.
	ErrScanTimeout = errors.New("link: scan timed out without a matching device")

	// ErrConnectTimeout marks a connection attempt that exceeded the
	// establishment deadline. Always wrapped in a TransportError.
	ErrConnectTimeout = errors.New("link: connect timed out")

	// ErrNotReady rejects a command submitted while no connection is up.
	ErrNotReady = errors.New("link: not connected")

	// ErrCancelled resolves a pending command withdrawn by its caller.
	ErrCancelled = errors.New("link: command cancelled")

	// ErrDisconnected resolves pending commands dropped by a local
	// disconnect, and AwaitReady calls that outlast their attempt.
	ErrDisconnected = errors.New("link: disconnected")

	// ErrClosed rejects operations on a machine that has been closed.
	ErrClosed = errors.New("link: machine closed")

	// ErrBusy rejects StartScan while an attempt or session is active.
	ErrBusy = errors.New("link: connection attempt already active")
)

// TransportError classifies a scan, connect, discover, subscribe or write
// failure from the radio layer.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("link: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolMismatchError reports a device that connected but does not carry
// the full trainer service surface. Fatal for the attempt: retrying the
// same device will not help.
type ProtocolMismatchError struct {
	Missing []veeproto.Characteristic
}

func (e *ProtocolMismatchError) Error() string {
	if len(e.Missing) == 0 {
		return "link: protocol mismatch: trainer service not found"
	}
	names := make([]string, len(e.Missing))
	for i, c := range e.Missing {
		names[i] = c.String()
	}
	return fmt.Sprintf("link: protocol mismatch: missing characteristics %s",
		strings.Join(names, ", "))
}

// LinkLostError reports an unexpected drop of an established connection.
// In-flight and queued commands resolve with it.
type LinkLostError struct {
	Cause error
}

func (e *LinkLostError) Error() string {
	if e.Cause == nil {
		return "link: connection lost"
	}
	return fmt.Sprintf("link: connection lost: %v", e.Cause)
}

func (e *LinkLostError) Unwrap() error { return e.Cause }
