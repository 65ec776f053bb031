// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The OpenVee Authors

package veeproto

// Command is one control-plane instruction for the trainer. The concrete
// types form the closed set of frames the firmware accepts; Encode rejects
// anything else. Switch on the type to handle commands exhaustively.
type Command interface {
	// Name returns the command's wire name for logs and formatted output.
	Name() string
	// Idempotent reports whether resending the frame after a lost ack is
	// safe. Non-idempotent commands are never retried by dispatchers.
	Idempotent() bool

	command()
}

// Init wakes the machine and clears any previous workout program. Its frame
// is byte-identical to Reset; the distinct type preserves caller intent.
type Init struct{}

func (Init) Name() string     { return "INIT" }
func (Init) Idempotent() bool { return true }
func (Init) command()         {}

// InitPreset wakes the machine and restores the factory light preset in the
// same frame. Sent instead of Init by clients that do not manage colors.
type InitPreset struct{}

func (InitPreset) Name() string     { return "INIT_PRESET" }
func (InitPreset) Idempotent() bool { return true }
func (InitPreset) command()         {}

// Start begins the workout most recently programmed with ProgramParams.
// Starting twice is a firmware-side no-op but the command itself is not
// retried: a duplicate arriving after a rep has begun shifts rep boundaries.
type Start struct{}

func (Start) Name() string     { return "START" }
func (Start) Idempotent() bool { return false }
func (Start) command()         {}

// Stop ends the active workout. The soft form ramps resistance down over the
// machine's deload profile; the hard form drops it immediately.
type Stop struct {
	Soft bool
}

func (s Stop) Name() string {
	if s.Soft {
		return "STOP_SOFT"
	}
	return "STOP_HARD"
}
func (Stop) Idempotent() bool { return true }
func (Stop) command()         {}

// Reset returns the machine to its idle state, discarding the programmed
// workout. Byte-identical to Init on the wire.
type Reset struct{}

func (Reset) Name() string     { return "RESET" }
func (Reset) Idempotent() bool { return true }
func (Reset) command()         {}

// ProgramParams loads a complete workout program. The machine applies it on
// the next Start. Not idempotent: firmware treats each arrival as a fresh
// program and resets per-set progression state.
type ProgramParams struct {
	Params WorkoutParams
}

func (ProgramParams) Name() string     { return "PROGRAM_PARAMS" }
func (ProgramParams) Idempotent() bool { return false }
func (ProgramParams) command()         {}

// EchoControl retunes a running echo workout without reprogramming it.
type EchoControl struct {
	Level      uint8 // echo intensity, 0..EchoLevelMax
	WarmupReps int
	TargetReps int  // ignored when open-ended
	JustLift   bool // no rep target, machine follows the user
	AMRAP      bool // as many reps as possible
}

func (EchoControl) Name() string     { return "ECHO_CONTROL" }
func (EchoControl) Idempotent() bool { return false }
func (EchoControl) command()         {}

// ColorScheme sets the machine's light bar: a master brightness and three
// RGB slots (platform left, platform right, logo).
type ColorScheme struct {
	Brightness float64 // 0..1
	Colors     [3]RGBColor
}

func (ColorScheme) Name() string     { return "COLOR_SCHEME" }
func (ColorScheme) Idempotent() bool { return true }
func (ColorScheme) command()         {}

// RGBColor is one 3-byte color slot.
type RGBColor struct {
	R, G, B uint8
}

// WorkoutParams describes a full workout program for ProgramParams.
type WorkoutParams struct {
	Mode        TrainingMode
	Type        WorkoutType // zero value encodes as WorkoutRegular
	WorkingReps int
	WarmupReps  int
	WeightKg    float64
	JustLift    bool // open-ended set, no rep target
	AMRAP       bool // open-ended set, count to failure

	// Echo workouts only.
	EchoLevel     uint8
	EccentricLoad int // percent of concentric weight; 0 selects the default

	// Weight delta in kg applied by firmware after each completed set.
	// Negative values regress.
	Progression float32

	// Profile overrides the built-in resistance curve for Mode when
	// non-nil. Most callers leave it nil.
	Profile *ModeProfile
}

// NewProgram builds the ProgramParams for a counted regular workout.
func NewProgram(mode TrainingMode, workingReps, warmupReps int, weightKg float64) ProgramParams {
	return ProgramParams{Params: WorkoutParams{
		Mode:        mode,
		Type:        WorkoutRegular,
		WorkingReps: workingReps,
		WarmupReps:  warmupReps,
		WeightKg:    weightKg,
	}}
}

// NewJustLift builds the ProgramParams for an open-ended regular workout:
// the machine loads the weight and follows the user with no rep target.
func NewJustLift(mode TrainingMode, weightKg float64) ProgramParams {
	return ProgramParams{Params: WorkoutParams{
		Mode:     mode,
		Type:     WorkoutRegular,
		WeightKg: weightKg,
		JustLift: true,
	}}
}

// NewEchoProgram builds the ProgramParams for an adaptive echo workout.
// eccentricLoad is a percent of the concentric weight; pass 0 for the
// firmware default.
func NewEchoProgram(level uint8, eccentricLoad, warmupReps int, weightKg float64) ProgramParams {
	return ProgramParams{Params: WorkoutParams{
		Type:          WorkoutEcho,
		EchoLevel:     level,
		EccentricLoad: eccentricLoad,
		WarmupReps:    warmupReps,
		WeightKg:      weightKg,
		JustLift:      true,
	}}
}
