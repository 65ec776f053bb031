// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The OpenVee Authors

package veeproto

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// buildSampleFrame assembles a 28-byte monitor frame from raw scaled
// integers.
func buildSampleFrame(millis uint32, pos uint16, vel int16, load uint16, power int16, cableA, cableB [3]int, seq uint32) []byte {
	frame := make([]byte, SampleFrameSize)
	binary.LittleEndian.PutUint32(frame[sampleOffMillis:], millis)
	binary.LittleEndian.PutUint16(frame[sampleOffPosition:], pos)
	binary.LittleEndian.PutUint16(frame[sampleOffVelocity:], uint16(vel))
	binary.LittleEndian.PutUint16(frame[sampleOffLoad:], load)
	binary.LittleEndian.PutUint16(frame[sampleOffPower:], uint16(power))
	putCable(frame[sampleOffCableA:], cableA)
	putCable(frame[sampleOffCableB:], cableB)
	binary.LittleEndian.PutUint32(frame[sampleOffSequence:], seq)
	return frame
}

func putCable(rec []byte, v [3]int) {
	binary.LittleEndian.PutUint16(rec[0:], uint16(v[0]))
	binary.LittleEndian.PutUint16(rec[2:], uint16(int16(v[1])))
	binary.LittleEndian.PutUint16(rec[4:], uint16(v[2]))
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestDecodeSample(t *testing.T) {
	frame := buildSampleFrame(
		120050,       // ms
		1234,         // 123.4 mm
		-875,         // -87.5 mm/s
		2550,         // 25.50 kg
		-321,         // -32.1 W
		[3]int{600, 440, 1275},  // 60.0 mm, 44.0 mm/s, 12.75 kg
		[3]int{634, -440, 1275}, // 63.4 mm, -44.0 mm/s, 12.75 kg
		42,
	)

	ev, err := Decode(CharMonitor, frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	s, ok := ev.(Sample)
	if !ok {
		t.Fatalf("event type = %T, want Sample", ev)
	}

	if s.Millis != 120050 {
		t.Errorf("Millis = %d, want 120050", s.Millis)
	}
	if !almostEqual(s.Position, 123.4) {
		t.Errorf("Position = %v, want 123.4", s.Position)
	}
	if !almostEqual(s.Velocity, -87.5) {
		t.Errorf("Velocity = %v, want -87.5", s.Velocity)
	}
	if !almostEqual(s.Load, 25.5) {
		t.Errorf("Load = %v, want 25.5", s.Load)
	}
	if !almostEqual(s.Power, -32.1) {
		t.Errorf("Power = %v, want -32.1", s.Power)
	}
	if !almostEqual(s.CableA.Position, 60.0) || !almostEqual(s.CableA.Velocity, 44.0) || !almostEqual(s.CableA.Load, 12.75) {
		t.Errorf("CableA = %+v, want {60 44 12.75}", s.CableA)
	}
	if !almostEqual(s.CableB.Position, 63.4) || !almostEqual(s.CableB.Velocity, -44.0) || !almostEqual(s.CableB.Load, 12.75) {
		t.Errorf("CableB = %+v, want {63.4 -44 12.75}", s.CableB)
	}
	if s.Sequence != 42 {
		t.Errorf("Sequence = %d, want 42", s.Sequence)
	}
}

func TestDecodeRep(t *testing.T) {
	frame := make([]byte, RepFrameSize)
	binary.LittleEndian.PutUint32(frame[repOffMillis:], 95000)
	binary.LittleEndian.PutUint16(frame[repOffSetReps:], 7)
	binary.LittleEndian.PutUint16(frame[repOffSession:], 31)
	binary.LittleEndian.PutUint32(frame[repOffWork:], 412)
	binary.LittleEndian.PutUint16(frame[repOffPeakLoad:], 3050) // 30.50 kg
	binary.LittleEndian.PutUint16(frame[repOffMeanLoad:], 2875) // 28.75 kg
	binary.LittleEndian.PutUint16(frame[repOffPeakVel:], 9500)  // 950.0 mm/s
	binary.LittleEndian.PutUint16(frame[repOffMeanVel:], 4210)  // 421.0 mm/s
	binary.LittleEndian.PutUint16(frame[repOffROM:], 5230)      // 523.0 mm

	ev, err := Decode(CharReps, frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	r, ok := ev.(RepEvent)
	if !ok {
		t.Fatalf("event type = %T, want RepEvent", ev)
	}

	if r.SetReps != 7 || r.SessionReps != 31 {
		t.Errorf("reps = %d/%d, want 7/31", r.SetReps, r.SessionReps)
	}
	if r.WorkJoules != 412 {
		t.Errorf("WorkJoules = %d, want 412", r.WorkJoules)
	}
	if !almostEqual(r.PeakLoad, 30.5) || !almostEqual(r.MeanLoad, 28.75) {
		t.Errorf("loads = %v/%v, want 30.5/28.75", r.PeakLoad, r.MeanLoad)
	}
	if !almostEqual(r.PeakVelocity, 950) || !almostEqual(r.MeanVelocity, 421) {
		t.Errorf("velocities = %v/%v, want 950/421", r.PeakVelocity, r.MeanVelocity)
	}
	if !almostEqual(r.RangeOfMotion, 523) {
		t.Errorf("RangeOfMotion = %v, want 523", r.RangeOfMotion)
	}
}

func TestDecodeMode(t *testing.T) {
	frame := make([]byte, ModeFrameSize)
	binary.LittleEndian.PutUint32(frame, uint32(StateActive))

	ev, err := Decode(CharMode, frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	m, ok := ev.(ModeChange)
	if !ok {
		t.Fatalf("event type = %T, want ModeChange", ev)
	}
	if m.State != StateActive {
		t.Errorf("State = %v, want StateActive", m.State)
	}

	// States newer than this package still decode; Raw keeps the value.
	binary.LittleEndian.PutUint32(frame, 99)
	ev, err = Decode(CharMode, frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	m = ev.(ModeChange)
	if m.Raw != 99 {
		t.Errorf("Raw = %d, want 99", m.Raw)
	}
}

func TestDecodeVersionTrimsPadding(t *testing.T) {
	data := append([]byte("2.7.0+4521"), 0x00, 0x00, 0x00)
	ev, err := Decode(CharVersion, data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	v, ok := ev.(VersionInfo)
	if !ok {
		t.Fatalf("event type = %T, want VersionInfo", ev)
	}
	if v.Firmware != "2.7.0+4521" {
		t.Errorf("Firmware = %q, want 2.7.0+4521", v.Firmware)
	}
}

func TestDecodeHeuristic(t *testing.T) {
	frame := make([]byte, HeuristicFrameSize)
	loadDelta := int16(-250) // -2.50 kg
	binary.LittleEndian.PutUint16(frame[0:], uint16(loadDelta))
	binary.LittleEndian.PutUint16(frame[2:], 87)

	ev, err := Decode(CharHeuristic, frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	h, ok := ev.(Heuristic)
	if !ok {
		t.Fatalf("event type = %T, want Heuristic", ev)
	}
	if !almostEqual(h.LoadDeltaKg, -2.5) {
		t.Errorf("LoadDeltaKg = %v, want -2.5", h.LoadDeltaKg)
	}
	if h.FormScore != 87 {
		t.Errorf("FormScore = %d, want 87", h.FormScore)
	}
}

func TestDecodeFault(t *testing.T) {
	frame := make([]byte, FaultFrameSize)
	binary.LittleEndian.PutUint16(frame[0:], uint16(FaultCableSlack))
	binary.LittleEndian.PutUint16(frame[2:], 0x0002)

	ev, err := Decode(CharFault, frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	f, ok := ev.(Fault)
	if !ok {
		t.Fatalf("event type = %T, want Fault", ev)
	}
	if f.Code != FaultCableSlack {
		t.Errorf("Code = %v, want FaultCableSlack", f.Code)
	}
	if f.Detail != 2 {
		t.Errorf("Detail = %d, want 2", f.Detail)
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	tests := []struct {
		name string
		char Characteristic
		size int
	}{
		{name: "monitor short", char: CharMonitor, size: SampleFrameSize - 1},
		{name: "monitor long", char: CharMonitor, size: SampleFrameSize + 1},
		{name: "monitor empty", char: CharMonitor, size: 0},
		{name: "reps short", char: CharReps, size: RepFrameSize - 4},
		{name: "mode long", char: CharMode, size: 5},
		{name: "heuristic short", char: CharHeuristic, size: 7},
		{name: "fault long", char: CharFault, size: 6},
		{name: "version empty", char: CharVersion, size: 0},
		{name: "diag oversized", char: CharDiagnostics, size: MaxFrameSize + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode(tt.char, make([]byte, tt.size))
			if err == nil {
				t.Fatalf("Decode succeeded with event %v, want length error", ev)
			}
			if ev != nil {
				t.Errorf("event = %v, want nil on error", ev)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("error %v is not a DecodeError", err)
			}
			if de.Kind != DecodeUnexpectedLength {
				t.Errorf("kind = %v, want DecodeUnexpectedLength", de.Kind)
			}
			if de.Characteristic != tt.char {
				t.Errorf("characteristic = %v, want %v", de.Characteristic, tt.char)
			}
			if de.Length != tt.size {
				t.Errorf("reported length = %d, want %d", de.Length, tt.size)
			}
		})
	}
}

func TestDecodeUnknownCharacteristic(t *testing.T) {
	ev, err := Decode(Characteristic(99), []byte{0x01, 0x02})
	if err == nil {
		t.Fatalf("Decode succeeded with event %v, want error", ev)
	}
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error %v is not a DecodeError", err)
	}
	if de.Kind != DecodeUnknownCharacteristic {
		t.Errorf("kind = %v, want DecodeUnknownCharacteristic", de.Kind)
	}
}

func TestDecodeControlCharacteristicRejected(t *testing.T) {
	// The write characteristic never notifies; a frame attributed to it is
	// a routing bug upstream.
	_, err := Decode(CharControl, make([]byte, 4))
	var de *DecodeError
	if !errors.As(err, &de) || de.Kind != DecodeUnknownCharacteristic {
		t.Errorf("Decode(CharControl) error = %v, want unknown characteristic", err)
	}
}

func TestExpectedFrameSize(t *testing.T) {
	tests := []struct {
		char Characteristic
		size int
		ok   bool
	}{
		{char: CharMonitor, size: SampleFrameSize, ok: true},
		{char: CharReps, size: RepFrameSize, ok: true},
		{char: CharMode, size: ModeFrameSize, ok: true},
		{char: CharHeuristic, size: HeuristicFrameSize, ok: true},
		{char: CharFault, size: FaultFrameSize, ok: true},
		{char: CharVersion, ok: false},
		{char: CharDiagnostics, ok: false},
		{char: CharControl, ok: false},
	}

	for _, tt := range tests {
		size, ok := ExpectedFrameSize(tt.char)
		if ok != tt.ok || size != tt.size {
			t.Errorf("ExpectedFrameSize(%v) = %d, %v; want %d, %v", tt.char, size, ok, tt.size, tt.ok)
		}
	}
}

func TestCharacteristicUUIDRoundTrip(t *testing.T) {
	for _, char := range NotificationCharacteristics() {
		uuid := char.UUID()
		if uuid == "" {
			t.Errorf("%v has no UUID", char)
			continue
		}
		back, ok := CharacteristicFromUUID(uuid)
		if !ok || back != char {
			t.Errorf("CharacteristicFromUUID(%q) = %v, %v; want %v", uuid, back, ok, char)
		}
	}
	if _, ok := CharacteristicFromUUID("00000000-0000-0000-0000-000000000000"); ok {
		t.Error("CharacteristicFromUUID accepted an unknown UUID")
	}

	if n := len(NotificationCharacteristics()); n != 7 {
		t.Errorf("notification characteristic count = %d, want 7", n)
	}
}
