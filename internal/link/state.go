// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The OpenVee Authors

package link

import (
	"fmt"
	"time"

	"github.com/openvee/veelink/pkg/veeproto"
)

// State is the connection lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateScanning
	StateConnecting
	StateReady
	StateDisconnecting
)

var stateNames = [...]string{
	"DISCONNECTED",
	"SCANNING",
	"CONNECTING",
	"READY",
	"DISCONNECTING",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("STATE(%d)", int(s))
	}
	return stateNames[s]
}

// StateChange is broadcast to state subscribers on every transition.
// Reason is non-nil when the transition was forced by a failure: scan or
// connect timeout, protocol mismatch, link loss.
type StateChange struct {
	From   State
	To     State
	Reason error
}

// Frame is broadcast to telemetry subscribers for every notification
// received while a session is up. Event is nil when decoding failed, Err
// is nil when it succeeded. Raw is shared between subscribers and must be
// treated as read-only.
type Frame struct {
	At    time.Time
	Char  veeproto.Characteristic
	Raw   []byte
	Event veeproto.Event
	Err   error
}

// Info is a point-in-time snapshot of the session.
type Info struct {
	State    State
	Device   Advertisement
	Firmware string
	LastSeen time.Time
}

// Counters are cumulative machine statistics, cheap enough to sample once
// per render frame.
type Counters struct {
	FramesIn      uint64
	FramesDropped uint64
	DecodeErrors  uint64
	EventsDropped uint64
	WritesIssued  uint64
	WritesRetried uint64
	WritesFailed  uint64
	LinkLosses    uint64
}
