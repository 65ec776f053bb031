// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The OpenVee Authors

package veeproto

import (
	"encoding/binary"
	"strings"
)

// Sample frame offsets.
const (
	sampleOffMillis   = 0x00
	sampleOffPosition = 0x04
	sampleOffVelocity = 0x06
	sampleOffLoad     = 0x08
	sampleOffPower    = 0x0A
	sampleOffCableA   = 0x0C
	sampleOffCableB   = 0x12
	sampleOffSequence = 0x18
)

// Rep frame offsets.
const (
	repOffMillis   = 0x00
	repOffSetReps  = 0x04
	repOffSession  = 0x06
	repOffWork     = 0x08
	repOffPeakLoad = 0x0C
	repOffMeanLoad = 0x0E
	repOffPeakVel  = 0x10
	repOffMeanVel  = 0x12
	repOffROM      = 0x14
)

// Decode translates one notification payload into a telemetry event.
//
// Decode never panics and never blocks, whatever the input: a frame that
// does not match its characteristic's contract comes back as a DecodeError
// for the caller to log and drop. The stream stays usable after any error.
func Decode(char Characteristic, data []byte) (Event, error) {
	switch char {
	case CharMonitor:
		return decodeSample(data)
	case CharReps:
		return decodeRep(data)
	case CharMode:
		return decodeMode(data)
	case CharVersion:
		return decodeText(CharVersion, data)
	case CharHeuristic:
		return decodeHeuristic(data)
	case CharDiagnostics:
		return decodeText(CharDiagnostics, data)
	case CharFault:
		return decodeFault(data)
	default:
		return nil, &DecodeError{
			Kind:           DecodeUnknownCharacteristic,
			Characteristic: char,
			Length:         len(data),
		}
	}
}

// decodeSample parses the 28-byte monitor frame.
func decodeSample(data []byte) (Event, error) {
	if len(data) != SampleFrameSize {
		return nil, lengthErr(CharMonitor, len(data), SampleFrameSize)
	}
	return Sample{
		Millis:   binary.LittleEndian.Uint32(data[sampleOffMillis:]),
		Position: float64(binary.LittleEndian.Uint16(data[sampleOffPosition:])) / ScalePosition,
		Velocity: float64(int16(binary.LittleEndian.Uint16(data[sampleOffVelocity:]))) / ScaleVelocity,
		Load:     float64(binary.LittleEndian.Uint16(data[sampleOffLoad:])) / ScaleForce,
		Power:    float64(int16(binary.LittleEndian.Uint16(data[sampleOffPower:]))) / ScalePower,
		CableA:   decodeCable(data[sampleOffCableA : sampleOffCableA+CableRecordSize]),
		CableB:   decodeCable(data[sampleOffCableB : sampleOffCableB+CableRecordSize]),
		Sequence: binary.LittleEndian.Uint32(data[sampleOffSequence:]),
	}, nil
}

// decodeCable parses one 6-byte cable sub-record.
func decodeCable(rec []byte) CableSample {
	return CableSample{
		Position: float64(binary.LittleEndian.Uint16(rec[0:])) / ScalePosition,
		Velocity: float64(int16(binary.LittleEndian.Uint16(rec[2:]))) / ScaleVelocity,
		Load:     float64(binary.LittleEndian.Uint16(rec[4:])) / ScaleForce,
	}
}

// decodeRep parses the 24-byte rep summary frame.
func decodeRep(data []byte) (Event, error) {
	if len(data) != RepFrameSize {
		return nil, lengthErr(CharReps, len(data), RepFrameSize)
	}
	return RepEvent{
		Millis:        binary.LittleEndian.Uint32(data[repOffMillis:]),
		SetReps:       int(binary.LittleEndian.Uint16(data[repOffSetReps:])),
		SessionReps:   int(binary.LittleEndian.Uint16(data[repOffSession:])),
		WorkJoules:    binary.LittleEndian.Uint32(data[repOffWork:]),
		PeakLoad:      float64(binary.LittleEndian.Uint16(data[repOffPeakLoad:])) / ScaleForce,
		MeanLoad:      float64(binary.LittleEndian.Uint16(data[repOffMeanLoad:])) / ScaleForce,
		PeakVelocity:  float64(binary.LittleEndian.Uint16(data[repOffPeakVel:])) / ScaleVelocity,
		MeanVelocity:  float64(binary.LittleEndian.Uint16(data[repOffMeanVel:])) / ScaleVelocity,
		RangeOfMotion: float64(binary.LittleEndian.Uint16(data[repOffROM:])) / ScalePosition,
	}, nil
}

// decodeMode parses the 4-byte machine state frame. States newer than this
// package decode with the raw value preserved; the validator flags them.
func decodeMode(data []byte) (Event, error) {
	if len(data) != ModeFrameSize {
		return nil, lengthErr(CharMode, len(data), ModeFrameSize)
	}
	raw := binary.LittleEndian.Uint32(data)
	return ModeChange{State: MachineState(raw), Raw: raw}, nil
}

// decodeHeuristic parses the 8-byte coaching frame.
func decodeHeuristic(data []byte) (Event, error) {
	if len(data) != HeuristicFrameSize {
		return nil, lengthErr(CharHeuristic, len(data), HeuristicFrameSize)
	}
	return Heuristic{
		LoadDeltaKg: float64(int16(binary.LittleEndian.Uint16(data[0:]))) / ScaleForce,
		FormScore:   int(binary.LittleEndian.Uint16(data[2:])),
	}, nil
}

// decodeFault parses the 4-byte fault frame.
func decodeFault(data []byte) (Event, error) {
	if len(data) != FaultFrameSize {
		return nil, lengthErr(CharFault, len(data), FaultFrameSize)
	}
	return Fault{
		Code:   FaultCode(binary.LittleEndian.Uint16(data[0:])),
		Detail: binary.LittleEndian.Uint16(data[2:]),
	}, nil
}

// decodeText parses the variable-length text characteristics. Firmware
// pads with NULs up to the MTU on some releases; trim them.
func decodeText(char Characteristic, data []byte) (Event, error) {
	if len(data) == 0 || len(data) > MaxFrameSize {
		return nil, lengthErr(char, len(data), 0)
	}
	text := strings.TrimRight(string(data), "\x00 \r\n")
	if char == CharVersion {
		return VersionInfo{Firmware: text}, nil
	}
	return Diagnostic{Line: text}, nil
}
