package veeproto

import (
	"encoding/binary"
	"math"
)

// ProgramParams frame offsets. The gaps are reserved bytes the firmware
// requires to be zero.
const (
	progOffReps        = 0x04
	progOffWarmup      = 0x05
	progOffWeight      = 0x06
	progOffWorkoutType = 0x08
	progOffModeOrLevel = 0x09
	progOffEccentric   = 0x0A
	progOffFlags       = 0x0B
	progOffCurve       = 0x30
	progOffProgression = 0x5C
)

// EchoControl frame offsets.
const (
	echoOffWarmup = 0x04
	echoOffTarget = 0x05
	echoOffLevel  = 0x06
)

// ColorScheme frame offsets.
const (
	colorOffBrightness = 0x04
	colorOffSlots      = 0x10
)

// Program flags byte (0x0B).
const (
	progFlagJustLift = 1 << 0
	progFlagAMRAP    = 1 << 1
)

// Encode renders a command into its wire frame. The result is a fresh
// slice the caller owns. Encoding is pure and deterministic: equal
// commands produce identical frames, and a command that encodes once
// encodes forever.
func Encode(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case Init:
		return headerFrame(CmdReset), nil
	case Reset:
		return headerFrame(CmdReset), nil
	case Start:
		return headerFrame(CmdStart), nil
	case Stop:
		if c.Soft {
			return []byte{CmdStopSoft, 0x00}, nil
		}
		return headerFrame(CmdStopHard), nil
	case InitPreset:
		return encodeColorFrame(PresetBrightness, PresetPalette())
	case ColorScheme:
		if err := checkBrightness(c, c.Brightness); err != nil {
			return nil, err
		}
		return encodeColorFrame(c.Brightness, c.Colors)
	case ProgramParams:
		return encodeProgram(c)
	case EchoControl:
		return encodeEcho(c)
	default:
		return nil, &EncodeError{Command: cmd.Name(), Reason: "command type not part of the wire contract"}
	}
}

// headerFrame builds the four-byte frame shared by Init, Reset, Start and
// the hard Stop: the opcode as a little-endian u32.
func headerFrame(op byte) []byte {
	frame := make([]byte, HeaderFrameSize)
	binary.LittleEndian.PutUint32(frame, uint32(op))
	return frame
}

// encodeProgram renders the 96-byte ProgramParams frame.
func encodeProgram(cmd ProgramParams) ([]byte, error) {
	p := cmd.Params

	weight, err := scaleWeight(cmd, p.WeightKg)
	if err != nil {
		return nil, err
	}
	repsByte, err := repCountByte(cmd, p.WorkingReps, p.WarmupReps, p.JustLift || p.AMRAP)
	if err != nil {
		return nil, err
	}

	var typeTag byte
	switch p.Type {
	case WorkoutRegular, 0:
		typeTag = CmdRegular
	case WorkoutEcho:
		typeTag = CmdEcho
	default:
		return nil, encodeErr(cmd, "Type", "unknown workout type 0x%02X", int(p.Type))
	}

	var modeOrLevel byte
	eccentric := DefaultEccentricLoad
	if typeTag == CmdEcho {
		if p.EchoLevel > EchoLevelMax {
			return nil, encodeErr(cmd, "EchoLevel", "level %d out of range (max %d)", p.EchoLevel, EchoLevelMax)
		}
		modeOrLevel = p.EchoLevel
		eccentric, err = eccentricLoadPercent(cmd, p.EccentricLoad)
		if err != nil {
			return nil, err
		}
	} else {
		if p.Mode < ModeOldSchool || p.Mode > ModeChains {
			return nil, encodeErr(cmd, "Mode", "unknown training mode %d", p.Mode)
		}
		modeOrLevel = byte(p.Mode)
	}

	if math.IsNaN(float64(p.Progression)) || math.IsInf(float64(p.Progression), 0) {
		return nil, encodeErr(cmd, "Progression", "must be finite")
	}

	curve := p.Profile
	if curve == nil {
		c := DefaultProfile(p.Mode)
		curve = &c
	}

	frame := make([]byte, ProgramFrameSize)
	binary.LittleEndian.PutUint32(frame[0:4], CmdActivation)
	frame[progOffReps] = repsByte
	frame[progOffWarmup] = byte(p.WarmupReps)
	binary.LittleEndian.PutUint16(frame[progOffWeight:], weight)
	frame[progOffWorkoutType] = typeTag
	frame[progOffModeOrLevel] = modeOrLevel
	frame[progOffEccentric] = byte(eccentric)
	frame[progOffFlags] = flagsByte(p.JustLift, p.AMRAP)
	copy(frame[progOffCurve:progOffCurve+len(curve)], curve[:])
	binary.LittleEndian.PutUint32(frame[progOffProgression:], math.Float32bits(p.Progression))

	return frame, nil
}

// encodeEcho renders the 32-byte EchoControl frame.
func encodeEcho(cmd EchoControl) ([]byte, error) {
	if cmd.Level > EchoLevelMax {
		return nil, encodeErr(cmd, "Level", "level %d out of range (max %d)", cmd.Level, EchoLevelMax)
	}
	targetByte := byte(OpenEndedReps)
	if !cmd.JustLift && !cmd.AMRAP {
		if cmd.TargetReps < 0 || cmd.TargetReps > 0xFE {
			return nil, encodeErr(cmd, "TargetReps", "count %d out of range (0-254)", cmd.TargetReps)
		}
		targetByte = byte(cmd.TargetReps)
	}
	if cmd.WarmupReps < 0 || cmd.WarmupReps > 0xFE {
		return nil, encodeErr(cmd, "WarmupReps", "count %d out of range (0-254)", cmd.WarmupReps)
	}

	frame := make([]byte, EchoFrameSize)
	binary.LittleEndian.PutUint32(frame[0:4], CmdEcho)
	frame[echoOffWarmup] = byte(cmd.WarmupReps)
	frame[echoOffTarget] = targetByte
	frame[echoOffLevel] = cmd.Level
	return frame, nil
}

// encodeColorFrame renders the 34-byte light frame shared by ColorScheme
// and InitPreset.
func encodeColorFrame(brightness float64, colors [3]RGBColor) ([]byte, error) {
	frame := make([]byte, ColorFrameSize)
	binary.LittleEndian.PutUint32(frame[0:4], CmdColor)
	binary.LittleEndian.PutUint32(frame[colorOffBrightness:], math.Float32bits(float32(brightness)))
	for i, c := range colors {
		off := colorOffSlots + i*3
		frame[off] = c.R
		frame[off+1] = c.G
		frame[off+2] = c.B
	}
	return frame, nil
}

// scaleWeight converts kilograms into the wire's little-endian u16
// hundredths field. 25.5 kg scales to 2550.
func scaleWeight(cmd Command, kg float64) (uint16, error) {
	if math.IsNaN(kg) || math.IsInf(kg, 0) {
		return 0, encodeErr(cmd, "WeightKg", "must be finite")
	}
	if kg <= 0 {
		return 0, encodeErr(cmd, "WeightKg", "%.2f kg not positive", kg)
	}
	scaled := math.Round(kg * ScaleForce)
	if scaled > math.MaxUint16 {
		return 0, encodeErr(cmd, "WeightKg", "%.2f kg exceeds the encodable range", kg)
	}
	return uint16(scaled), nil
}

// repCountByte computes the rep byte: 0xFF for open-ended sets, otherwise
// working plus warmup reps modulo 256. The individual counts must fit a
// byte with the sentinel excluded.
func repCountByte(cmd Command, working, warmup int, openEnded bool) (byte, error) {
	if openEnded {
		return OpenEndedReps, nil
	}
	if working < 0 || working > 0xFE {
		return 0, encodeErr(cmd, "WorkingReps", "count %d out of range (0-254)", working)
	}
	if warmup < 0 || warmup > 0xFE {
		return 0, encodeErr(cmd, "WarmupReps", "count %d out of range (0-254)", warmup)
	}
	return byte((working + warmup) % 256), nil
}

// eccentricLoadPercent validates the echo eccentric percentage. Anything
// above the current maximum maps down to it: legacy clients sent 125 before
// firmware capped the overload at 120, and rejecting them would brick old
// saved workouts.
func eccentricLoadPercent(cmd Command, pct int) (int, error) {
	if pct == 0 {
		return DefaultEccentricLoad, nil
	}
	if pct < DefaultEccentricLoad {
		return 0, encodeErr(cmd, "EccentricLoad", "%d%% below the %d%% floor", pct, DefaultEccentricLoad)
	}
	if pct > MaxEccentricLoad {
		return MaxEccentricLoad, nil
	}
	return pct, nil
}

// flagsByte packs the open-ended set flags.
func flagsByte(justLift, amrap bool) byte {
	var b byte
	if justLift {
		b |= progFlagJustLift
	}
	if amrap {
		b |= progFlagAMRAP
	}
	return b
}

// checkBrightness validates the 0..1 master brightness.
func checkBrightness(cmd Command, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return encodeErr(cmd, "Brightness", "%v out of range (0-1)", v)
	}
	return nil
}
