// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The OpenVee Authors

package veeproto

import "fmt"

// AnomalyType represents different types of telemetry anomalies
type AnomalyType int

const (
	AnomalyLoadRange AnomalyType = iota
	AnomalyVelocityRange
	AnomalyPowerRange
	AnomalyPositionRange
	AnomalyRepCount
	AnomalyUnknownState
	AnomalyUnknownFault
	AnomalyFormScore
)

// Plausibility limits for a machine with two 100 kg cables. Values beyond
// these decode fine but indicate sensor trouble or a firmware bug.
const (
	MaxPlausibleLoadKg     = 250.0
	MaxPlausibleVelocity   = 3000.0 // mm/s
	MaxPlausiblePowerW     = 5000.0
	MaxPlausiblePositionMM = 2000.0
)

// ValidationError represents a telemetry validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateEvent checks a decoded event for anomalous values.
// Returns a slice of validation errors (empty if the event is plausible).
// Validation is stateless: cross-frame checks such as sequence gaps belong
// to the statistics layer.
func ValidateEvent(ev Event) []ValidationError {
	switch e := ev.(type) {
	case Sample:
		return validateSample(e)
	case RepEvent:
		return validateRep(e)
	case ModeChange:
		return validateMode(e)
	case Heuristic:
		return validateHeuristic(e)
	case Fault:
		return validateFault(e)
	}
	return []ValidationError{}
}

// validateSample checks the combined frame and both cable sub-records.
func validateSample(s Sample) []ValidationError {
	errors := []ValidationError{}

	errors = append(errors, checkMotion("combined", s.Position, s.Velocity, s.Load)...)
	errors = append(errors, checkMotion("cable_a", s.CableA.Position, s.CableA.Velocity, s.CableA.Load)...)
	errors = append(errors, checkMotion("cable_b", s.CableB.Position, s.CableB.Velocity, s.CableB.Load)...)

	if s.Power > MaxPlausiblePowerW || s.Power < -MaxPlausiblePowerW {
		errors = append(errors, ValidationError{
			Type:    AnomalyPowerRange,
			Message: fmt.Sprintf("Power out of range (%.1f W, max %.0f)", s.Power, MaxPlausiblePowerW),
			Details: map[string]interface{}{"power": s.Power, "max": MaxPlausiblePowerW},
		})
	}

	return errors
}

// checkMotion validates one position/velocity/load triple.
func checkMotion(source string, position, velocity, load float64) []ValidationError {
	errors := []ValidationError{}

	if position > MaxPlausiblePositionMM {
		errors = append(errors, ValidationError{
			Type:    AnomalyPositionRange,
			Message: fmt.Sprintf("Position out of range (%s: %.1f mm, max %.0f)", source, position, MaxPlausiblePositionMM),
			Details: map[string]interface{}{"source": source, "position": position, "max": MaxPlausiblePositionMM},
		})
	}

	if velocity > MaxPlausibleVelocity || velocity < -MaxPlausibleVelocity {
		errors = append(errors, ValidationError{
			Type:    AnomalyVelocityRange,
			Message: fmt.Sprintf("Velocity out of range (%s: %.1f mm/s, max %.0f)", source, velocity, MaxPlausibleVelocity),
			Details: map[string]interface{}{"source": source, "velocity": velocity, "max": MaxPlausibleVelocity},
		})
	}

	if load > MaxPlausibleLoadKg {
		errors = append(errors, ValidationError{
			Type:    AnomalyLoadRange,
			Message: fmt.Sprintf("Load out of range (%s: %.2f kg, max %.0f)", source, load, MaxPlausibleLoadKg),
			Details: map[string]interface{}{"source": source, "load": load, "max": MaxPlausibleLoadKg},
		})
	}

	return errors
}

// validateRep checks rep counter consistency and summary plausibility.
func validateRep(r RepEvent) []ValidationError {
	errors := []ValidationError{}

	if r.SetReps > r.SessionReps {
		errors = append(errors, ValidationError{
			Type:    AnomalyRepCount,
			Message: fmt.Sprintf("Set rep count %d exceeds session count %d", r.SetReps, r.SessionReps),
			Details: map[string]interface{}{"set_reps": r.SetReps, "session_reps": r.SessionReps},
		})
	}

	if r.PeakLoad > MaxPlausibleLoadKg || r.MeanLoad > MaxPlausibleLoadKg {
		errors = append(errors, ValidationError{
			Type:    AnomalyLoadRange,
			Message: fmt.Sprintf("Rep load out of range (peak %.2f kg, mean %.2f kg, max %.0f)", r.PeakLoad, r.MeanLoad, MaxPlausibleLoadKg),
			Details: map[string]interface{}{"peak_load": r.PeakLoad, "mean_load": r.MeanLoad, "max": MaxPlausibleLoadKg},
		})
	}

	if r.MeanLoad > 0 && r.PeakLoad > 0 && r.MeanLoad > r.PeakLoad {
		errors = append(errors, ValidationError{
			Type:    AnomalyLoadRange,
			Message: fmt.Sprintf("Mean load %.2f kg exceeds peak %.2f kg", r.MeanLoad, r.PeakLoad),
			Details: map[string]interface{}{"peak_load": r.PeakLoad, "mean_load": r.MeanLoad},
		})
	}

	if r.PeakVelocity > MaxPlausibleVelocity || r.MeanVelocity > MaxPlausibleVelocity {
		errors = append(errors, ValidationError{
			Type:    AnomalyVelocityRange,
			Message: fmt.Sprintf("Rep velocity out of range (peak %.1f mm/s, mean %.1f mm/s, max %.0f)", r.PeakVelocity, r.MeanVelocity, MaxPlausibleVelocity),
			Details: map[string]interface{}{"peak_velocity": r.PeakVelocity, "mean_velocity": r.MeanVelocity, "max": MaxPlausibleVelocity},
		})
	}

	if r.RangeOfMotion > MaxPlausiblePositionMM {
		errors = append(errors, ValidationError{
			Type:    AnomalyPositionRange,
			Message: fmt.Sprintf("Range of motion out of range (%.1f mm, max %.0f)", r.RangeOfMotion, MaxPlausiblePositionMM),
			Details: map[string]interface{}{"range_of_motion": r.RangeOfMotion, "max": MaxPlausiblePositionMM},
		})
	}

	return errors
}

// validateMode flags state values this package does not know.
func validateMode(m ModeChange) []ValidationError {
	errors := []ValidationError{}

	if m.State < StateIdle || m.State > StateFaulted {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownState,
			Message: fmt.Sprintf("Unknown machine state %d (max %d)", m.Raw, int(StateFaulted)),
			Details: map[string]interface{}{"state": m.Raw, "max": int(StateFaulted)},
		})
	}

	return errors
}

// validateHeuristic checks the coaching hint ranges.
func validateHeuristic(h Heuristic) []ValidationError {
	errors := []ValidationError{}

	if h.FormScore > 100 {
		errors = append(errors, ValidationError{
			Type:    AnomalyFormScore,
			Message: fmt.Sprintf("Form score %d out of range (0-100)", h.FormScore),
			Details: map[string]interface{}{"form_score": h.FormScore, "max": 100},
		})
	}

	if h.LoadDeltaKg > MaxPlausibleLoadKg || h.LoadDeltaKg < -MaxPlausibleLoadKg {
		errors = append(errors, ValidationError{
			Type:    AnomalyLoadRange,
			Message: fmt.Sprintf("Suggested load delta out of range (%.2f kg)", h.LoadDeltaKg),
			Details: map[string]interface{}{"load_delta": h.LoadDeltaKg, "max": MaxPlausibleLoadKg},
		})
	}

	return errors
}

// validateFault flags fault codes this package does not know.
func validateFault(f Fault) []ValidationError {
	errors := []ValidationError{}

	if f.Code < FaultNone || f.Code > FaultWatchdog {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownFault,
			Message: fmt.Sprintf("Unknown fault code 0x%04X (max 0x%04X)", int(f.Code), int(FaultWatchdog)),
			Details: map[string]interface{}{"code": int(f.Code), "max": int(FaultWatchdog)},
		})
	}

	return errors
}
