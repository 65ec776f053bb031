// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The OpenVee Authors

// Package veeproto provides a reference Go implementation of the Vee trainer
// control protocol.
//
// Vee trainers expose a UART-style BLE GATT service: one write characteristic
// accepts fixed-layout binary command frames, and seven notification
// characteristics stream telemetry back at up to 50 Hz. This package provides
// command encoding, telemetry decoding, anomaly validation, and payload
// formatting. It performs no I/O.
//
// All multi-byte fields are little-endian. Byte values and offsets are a
// compatibility contract with deployed firmware and must not drift; the
// package tests pin them.
package veeproto

import "time"

// GATT service and characteristic UUIDs.
//
// The layout follows the Nordic UART convention: the 16-bit block of the
// base UUID enumerates the characteristics within the service.
const (
	ServiceUUID       = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	ControlCharUUID   = "6e400002-b5a3-f393-e0a9-e50e24dcca9e" // write, command frames
	MonitorCharUUID   = "6e400003-b5a3-f393-e0a9-e50e24dcca9e" // notify, 28-byte samples
	ModeCharUUID      = "6e400004-b5a3-f393-e0a9-e50e24dcca9e" // notify, machine state
	RepsCharUUID      = "6e400005-b5a3-f393-e0a9-e50e24dcca9e" // notify, 24-byte rep summaries
	VersionCharUUID   = "6e400006-b5a3-f393-e0a9-e50e24dcca9e" // notify, firmware version string
	HeuristicCharUUID = "6e400007-b5a3-f393-e0a9-e50e24dcca9e" // notify, coaching hints
	DiagCharUUID      = "6e400008-b5a3-f393-e0a9-e50e24dcca9e" // notify, diagnostic text
	FaultCharUUID     = "6e400009-b5a3-f393-e0a9-e50e24dcca9e" // notify, fault reports
)

// Advertised device names start with this prefix ("Vee ABC123" and similar).
const DeviceNamePrefix = "Vee"

// Command opcodes. Four-byte commands place the opcode in a little-endian
// u32 header; the soft stop is a bare two-byte frame.
const (
	CmdStart      = 0x03 // begin the programmed workout
	CmdActivation = 0x04 // ProgramParams frame header
	CmdStopHard   = 0x05 // immediate resistance drop
	CmdReset      = 0x0A // Init and Reset share this opcode
	CmdColor      = 0x11 // ColorScheme and InitPreset frame header
	CmdEcho       = 0x4E // EchoControl header, echo workout tag
	CmdRegular    = 0x4F // regular workout tag
	CmdStopSoft   = 0x50 // controlled ramp-down
)

// Outbound frame lengths. Every command encodes to exactly one of these.
const (
	HeaderFrameSize   = 4  // Init, Reset, Start, hard Stop
	StopSoftFrameSize = 2  // soft Stop
	EchoFrameSize     = 32 // EchoControl
	ColorFrameSize    = 34 // ColorScheme, InitPreset
	ProgramFrameSize  = 96 // ProgramParams
)

// Inbound frame lengths for the fixed-size notification characteristics.
// Version and diagnostic payloads are variable up to MaxFrameSize.
const (
	SampleFrameSize    = 28
	RepFrameSize       = 24
	CableRecordSize    = 6
	ModeFrameSize      = 4
	HeuristicFrameSize = 8
	FaultFrameSize     = 4
	MaxFrameSize       = 244 // negotiated ATT MTU 247 minus the 3-byte header
)

// Fixed-point scales. Telemetry integers divide by these on decode;
// command weights multiply on encode.
const (
	ScalePosition = 10.0  // tenths of a millimetre
	ScaleVelocity = 10.0  // tenths of a millimetre per second
	ScaleForce    = 100.0 // hundredths of a kilogram
	ScalePower    = 10.0  // tenths of a watt
)

// Link timing. The connect budget covers the full attempt including service
// discovery; the op timeout bounds each GATT write or subscribe.
const (
	ConnectTimeout = 15 * time.Second
	OpTimeout      = 5 * time.Second
	ScanTimeout    = 30 * time.Second
)

// Rep count sentinel for open-ended sets (just-lift and AMRAP). The rep
// byte saturates at 0xFE for counted sets; 0xFF always means open-ended.
const OpenEndedReps = 0xFF

// Firmware applies this range-of-motion calibration rep count when a
// program does not override it.
const DefaultROMReps = 3

// Echo eccentric-load limits, in percent of the concentric weight.
// Legacy apps sent 125; current firmware caps at 120 and the encoder
// maps the legacy value down silently.
const (
	DefaultEccentricLoad = 100
	MaxEccentricLoad     = 120
	LegacyEccentricLoad  = 125
)

// EchoLevelMax bounds the echo intensity byte.
const EchoLevelMax = 5

// Characteristic identifies one characteristic of the control service.
type Characteristic int

// Characteristic identities. CharControl is the single writable
// characteristic; the rest are notification sources.
const (
	CharControl Characteristic = iota
	CharMonitor
	CharMode
	CharReps
	CharVersion
	CharHeuristic
	CharDiagnostics
	CharFault
)

// charUUIDs maps characteristic identities to their GATT UUIDs.
var charUUIDs = map[Characteristic]string{
	CharControl:     ControlCharUUID,
	CharMonitor:     MonitorCharUUID,
	CharMode:        ModeCharUUID,
	CharReps:        RepsCharUUID,
	CharVersion:     VersionCharUUID,
	CharHeuristic:   HeuristicCharUUID,
	CharDiagnostics: DiagCharUUID,
	CharFault:       FaultCharUUID,
}

// UUID returns the GATT UUID for the characteristic, or an empty string
// for an unknown identity.
func (c Characteristic) UUID() string {
	return charUUIDs[c]
}

// String returns the short wire name used in logs and formatted output.
func (c Characteristic) String() string {
	switch c {
	case CharControl:
		return "CONTROL"
	case CharMonitor:
		return "MONITOR"
	case CharMode:
		return "MODE"
	case CharReps:
		return "REPS"
	case CharVersion:
		return "VERSION"
	case CharHeuristic:
		return "HEURISTIC"
	case CharDiagnostics:
		return "DIAG"
	case CharFault:
		return "FAULT"
	default:
		return "UNKNOWN"
	}
}

// CharacteristicFromUUID resolves a GATT UUID (lowercase hyphenated form)
// back to its identity.
func CharacteristicFromUUID(uuid string) (Characteristic, bool) {
	for c, u := range charUUIDs {
		if u == uuid {
			return c, true
		}
	}
	return 0, false
}

// NotificationCharacteristics returns the seven characteristics a client
// must subscribe to before the link counts as ready. Order is stable.
func NotificationCharacteristics() []Characteristic {
	return []Characteristic{
		CharMonitor,
		CharMode,
		CharReps,
		CharVersion,
		CharHeuristic,
		CharDiagnostics,
		CharFault,
	}
}

// ExpectedFrameSize returns the exact payload length for fixed-size
// notification characteristics. ok is false for the variable-length
// text characteristics.
func ExpectedFrameSize(c Characteristic) (size int, ok bool) {
	switch c {
	case CharMonitor:
		return SampleFrameSize, true
	case CharMode:
		return ModeFrameSize, true
	case CharReps:
		return RepFrameSize, true
	case CharHeuristic:
		return HeuristicFrameSize, true
	case CharFault:
		return FaultFrameSize, true
	default:
		return 0, false
	}
}

// MachineState represents the trainer state reported on the mode
// characteristic.
type MachineState int

// Machine state values
const (
	StateIdle MachineState = iota
	StateInitializing
	StateReady
	StateActive
	StatePaused
	StateStopping
	StateFaulted
)

// TrainingMode selects the resistance curve family for a regular workout.
type TrainingMode int

// Training mode values. The byte value rides at offset 0x09 of the
// ProgramParams frame.
const (
	ModeOldSchool TrainingMode = iota // constant load, flat curve
	ModePump                          // extra load at the top of the stroke
	ModeTimeUnderTension              // slow-rep bias
	ModeEccentricOnly                 // load only on the lowering phase
	ModeChains                        // load grows through the stroke
)

// WorkoutType distinguishes curve-driven workouts from the adaptive echo
// engine. Values are the wire tag bytes at offset 0x08 of ProgramParams.
type WorkoutType int

// Workout type values
const (
	WorkoutRegular WorkoutType = CmdRegular
	WorkoutEcho    WorkoutType = CmdEcho
)

// FaultCode values reported on the fault characteristic.
type FaultCode int

// Fault code values
const (
	FaultNone          FaultCode = 0x00
	FaultOvercurrent   FaultCode = 0x01
	FaultOvertemp      FaultCode = 0x02
	FaultEncoderStall  FaultCode = 0x03
	FaultCableSlack    FaultCode = 0x04
	FaultCableOverrun  FaultCode = 0x05
	FaultMotorDesync   FaultCode = 0x06
	FaultCommandReject FaultCode = 0x07
	FaultWatchdog      FaultCode = 0x08
)
