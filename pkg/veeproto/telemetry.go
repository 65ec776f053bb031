// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The OpenVee Authors

package veeproto

// Event is one decoded notification from the trainer. The concrete types
// form a closed set; switch on the type to handle them exhaustively.
type Event interface {
	// Source identifies the characteristic the frame arrived on.
	Source() Characteristic

	event()
}

// CableSample is the per-cable sub-record inside a Sample, descaled to
// engineering units.
type CableSample struct {
	Position float64 // mm of cable extension
	Velocity float64 // mm/s, negative on the lowering phase
	Load     float64 // kg
}

// Sample is the combined motion frame from the monitor characteristic,
// streamed at up to 50 Hz while a workout runs.
type Sample struct {
	Millis   uint32 // device uptime of the measurement
	Position float64
	Velocity float64
	Load     float64
	Power    float64 // W
	CableA   CableSample
	CableB   CableSample
	Sequence uint32 // increments per frame; gaps mean dropped notifications
}

func (Sample) Source() Characteristic { return CharMonitor }
func (Sample) event()                 {}

// RepEvent summarizes a completed repetition.
type RepEvent struct {
	Millis        uint32
	SetReps       int // reps in the current set
	SessionReps   int // reps since the last Init/Reset
	WorkJoules    uint32
	PeakLoad      float64
	MeanLoad      float64
	PeakVelocity  float64
	MeanVelocity  float64
	RangeOfMotion float64 // mm
}

func (RepEvent) Source() Characteristic { return CharReps }
func (RepEvent) event()                 {}

// ModeChange reports a machine state transition. Raw preserves the wire
// value when the state is newer than this package.
type ModeChange struct {
	State MachineState
	Raw   uint32
}

func (ModeChange) Source() Characteristic { return CharMode }
func (ModeChange) event()                 {}

// VersionInfo carries the firmware version string, sent once after
// subscription.
type VersionInfo struct {
	Firmware string
}

func (VersionInfo) Source() Characteristic { return CharVersion }
func (VersionInfo) event()                 {}

// Heuristic is the machine's coaching hint: a suggested weight change and
// a 0-100 movement quality score for the last rep.
type Heuristic struct {
	LoadDeltaKg float64
	FormScore   int
}

func (Heuristic) Source() Characteristic { return CharHeuristic }
func (Heuristic) event()                 {}

// Diagnostic is a free-form log line from the firmware.
type Diagnostic struct {
	Line string
}

func (Diagnostic) Source() Characteristic { return CharDiagnostics }
func (Diagnostic) event()                 {}

// Fault reports a protection trip. The machine drops resistance on its own
// before sending one; Detail is code-specific.
type Fault struct {
	Code   FaultCode
	Detail uint16
}

func (Fault) Source() Characteristic { return CharFault }
func (Fault) event()                 {}
