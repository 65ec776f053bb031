// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The OpenVee Authors

package veeproto

import "testing"

func hasAnomaly(errs []ValidationError, want AnomalyType) bool {
	for _, e := range errs {
		if e.Type == want {
			return true
		}
	}
	return false
}

func TestValidateSample(t *testing.T) {
	good := Sample{
		Position: 420.5,
		Velocity: -350,
		Load:     48.2,
		Power:    220,
		CableA:   CableSample{Position: 210, Velocity: -350, Load: 24.1},
		CableB:   CableSample{Position: 210.5, Velocity: -350, Load: 24.1},
	}

	if errs := ValidateEvent(good); len(errs) != 0 {
		t.Errorf("plausible sample flagged: %v", errs)
	}

	tests := []struct {
		name   string
		mutate func(*Sample)
		want   AnomalyType
	}{
		{name: "load too high", mutate: func(s *Sample) { s.Load = 400 }, want: AnomalyLoadRange},
		{name: "cable load too high", mutate: func(s *Sample) { s.CableB.Load = 260 }, want: AnomalyLoadRange},
		{name: "velocity too high", mutate: func(s *Sample) { s.Velocity = 3200 }, want: AnomalyVelocityRange},
		{name: "velocity too low", mutate: func(s *Sample) { s.CableA.Velocity = -3200 }, want: AnomalyVelocityRange},
		{name: "power too high", mutate: func(s *Sample) { s.Power = 5400 }, want: AnomalyPowerRange},
		{name: "position too far", mutate: func(s *Sample) { s.Position = 2400 }, want: AnomalyPositionRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := good
			tt.mutate(&s)
			errs := ValidateEvent(s)
			if !hasAnomaly(errs, tt.want) {
				t.Errorf("anomaly %d not reported, got %v", tt.want, errs)
			}
		})
	}
}

func TestValidateRep(t *testing.T) {
	good := RepEvent{
		SetReps:       5,
		SessionReps:   17,
		PeakLoad:      42.5,
		MeanLoad:      39.0,
		PeakVelocity:  980,
		MeanVelocity:  410,
		RangeOfMotion: 540,
	}

	if errs := ValidateEvent(good); len(errs) != 0 {
		t.Errorf("plausible rep flagged: %v", errs)
	}

	tests := []struct {
		name   string
		mutate func(*RepEvent)
		want   AnomalyType
	}{
		{name: "set exceeds session", mutate: func(r *RepEvent) { r.SetReps = 18 }, want: AnomalyRepCount},
		{name: "peak load too high", mutate: func(r *RepEvent) { r.PeakLoad = 300 }, want: AnomalyLoadRange},
		{name: "mean above peak", mutate: func(r *RepEvent) { r.MeanLoad = 50 }, want: AnomalyLoadRange},
		{name: "velocity too high", mutate: func(r *RepEvent) { r.PeakVelocity = 3300 }, want: AnomalyVelocityRange},
		{name: "rom too long", mutate: func(r *RepEvent) { r.RangeOfMotion = 2200 }, want: AnomalyPositionRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := good
			tt.mutate(&r)
			errs := ValidateEvent(r)
			if !hasAnomaly(errs, tt.want) {
				t.Errorf("anomaly %d not reported, got %v", tt.want, errs)
			}
		})
	}
}

func TestValidateMode(t *testing.T) {
	if errs := ValidateEvent(ModeChange{State: StateReady, Raw: uint32(StateReady)}); len(errs) != 0 {
		t.Errorf("known state flagged: %v", errs)
	}

	errs := ValidateEvent(ModeChange{State: MachineState(42), Raw: 42})
	if !hasAnomaly(errs, AnomalyUnknownState) {
		t.Errorf("unknown state not reported, got %v", errs)
	}
}

func TestValidateHeuristic(t *testing.T) {
	if errs := ValidateEvent(Heuristic{LoadDeltaKg: -2.5, FormScore: 92}); len(errs) != 0 {
		t.Errorf("plausible heuristic flagged: %v", errs)
	}

	if errs := ValidateEvent(Heuristic{FormScore: 150}); !hasAnomaly(errs, AnomalyFormScore) {
		t.Errorf("form score anomaly not reported, got %v", errs)
	}
}

func TestValidateFault(t *testing.T) {
	if errs := ValidateEvent(Fault{Code: FaultOvertemp}); len(errs) != 0 {
		t.Errorf("known fault flagged: %v", errs)
	}

	if errs := ValidateEvent(Fault{Code: FaultCode(0x7777)}); !hasAnomaly(errs, AnomalyUnknownFault) {
		t.Errorf("unknown fault not reported, got %v", errs)
	}
}

func TestValidateTextEvents(t *testing.T) {
	// Text events carry no ranges to check; the validator must still
	// return a non-nil empty slice.
	for _, ev := range []Event{VersionInfo{Firmware: "2.7.0"}, Diagnostic{Line: "boot ok"}} {
		errs := ValidateEvent(ev)
		if errs == nil {
			t.Errorf("ValidateEvent(%T) returned nil slice", ev)
		}
		if len(errs) != 0 {
			t.Errorf("ValidateEvent(%T) = %v, want empty", ev, errs)
		}
	}
}
