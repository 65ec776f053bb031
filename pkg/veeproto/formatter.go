// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The OpenVee Authors

package veeproto

import (
	"fmt"
	"strings"
)

// FormatEvent renders a decoded event as a single human-readable line.
func FormatEvent(ev Event) string {
	switch e := ev.(type) {
	case Sample:
		return fmt.Sprintf("SAMPLE seq=%d t=%dms pos=%.1fmm vel=%.1fmm/s load=%.2fkg power=%.1fW A[%.1f/%.1f/%.2f] B[%.1f/%.1f/%.2f]",
			e.Sequence, e.Millis, e.Position, e.Velocity, e.Load, e.Power,
			e.CableA.Position, e.CableA.Velocity, e.CableA.Load,
			e.CableB.Position, e.CableB.Velocity, e.CableB.Load)

	case RepEvent:
		return fmt.Sprintf("REP set=%d session=%d work=%dJ peak=%.2fkg mean=%.2fkg vel=%.1f/%.1fmm/s rom=%.1fmm",
			e.SetReps, e.SessionReps, e.WorkJoules, e.PeakLoad, e.MeanLoad,
			e.PeakVelocity, e.MeanVelocity, e.RangeOfMotion)

	case ModeChange:
		return fmt.Sprintf("MODE %s (%d)", FormatMachineState(e.State), e.Raw)

	case VersionInfo:
		return fmt.Sprintf("VERSION %s", e.Firmware)

	case Heuristic:
		return fmt.Sprintf("HEURISTIC delta=%+.2fkg form=%d", e.LoadDeltaKg, e.FormScore)

	case Diagnostic:
		return fmt.Sprintf("DIAG %s", e.Line)

	case Fault:
		return fmt.Sprintf("FAULT %s (0x%04X) detail=0x%04X", FormatFaultCode(e.Code), int(e.Code), e.Detail)

	default:
		return fmt.Sprintf("EVENT %s", ev.Source())
	}
}

// FormatCommand renders a command and its salient fields for logs.
func FormatCommand(cmd Command) string {
	switch c := cmd.(type) {
	case ProgramParams:
		p := c.Params
		reps := fmt.Sprintf("reps=%d+%d", p.WorkingReps, p.WarmupReps)
		if p.JustLift {
			reps = "just-lift"
		} else if p.AMRAP {
			reps = "amrap"
		}
		if p.Type == WorkoutEcho {
			return fmt.Sprintf("PROGRAM_PARAMS echo level=%d ecc=%d%% %s weight=%.2fkg", p.EchoLevel, p.EccentricLoad, reps, p.WeightKg)
		}
		return fmt.Sprintf("PROGRAM_PARAMS %s %s weight=%.2fkg prog=%+.2f", FormatTrainingMode(p.Mode), reps, p.WeightKg, p.Progression)

	case EchoControl:
		target := fmt.Sprintf("target=%d", c.TargetReps)
		if c.JustLift || c.AMRAP {
			target = "open-ended"
		}
		return fmt.Sprintf("ECHO_CONTROL level=%d warmup=%d %s", c.Level, c.WarmupReps, target)

	case ColorScheme:
		return fmt.Sprintf("COLOR_SCHEME brightness=%.2f colors=%02X%02X%02X/%02X%02X%02X/%02X%02X%02X",
			c.Brightness,
			c.Colors[0].R, c.Colors[0].G, c.Colors[0].B,
			c.Colors[1].R, c.Colors[1].G, c.Colors[1].B,
			c.Colors[2].R, c.Colors[2].G, c.Colors[2].B)

	default:
		return cmd.Name()
	}
}

// FormatFrame renders a raw frame as a hexdump line tagged with its
// characteristic, for wire-level debugging.
func FormatFrame(char Characteristic, data []byte) string {
	return fmt.Sprintf("%s len=%d | %s", char, len(data), HexDump(data))
}

// HexDump renders bytes as space-separated hex pairs.
func HexDump(data []byte) string {
	var b strings.Builder
	for i, v := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}

// FormatMachineState returns a human-readable state name
func FormatMachineState(s MachineState) string {
	names := []string{"IDLE", "INITIALIZING", "READY", "ACTIVE", "PAUSED", "STOPPING", "FAULTED"}
	if s >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "UNKNOWN"
}

// FormatTrainingMode returns a human-readable mode name
func FormatTrainingMode(m TrainingMode) string {
	switch m {
	case ModeOldSchool:
		return "OLD_SCHOOL"
	case ModePump:
		return "PUMP"
	case ModeTimeUnderTension:
		return "TIME_UNDER_TENSION"
	case ModeEccentricOnly:
		return "ECCENTRIC_ONLY"
	case ModeChains:
		return "CHAINS"
	default:
		return "UNKNOWN"
	}
}

// ParseTrainingMode resolves the CLI spelling of a mode name.
func ParseTrainingMode(s string) (TrainingMode, bool) {
	switch strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(s, "-", ""), "_", "")) {
	case "oldschool":
		return ModeOldSchool, true
	case "pump":
		return ModePump, true
	case "timeundertension", "tut":
		return ModeTimeUnderTension, true
	case "eccentric", "eccentriconly":
		return ModeEccentricOnly, true
	case "chains":
		return ModeChains, true
	default:
		return 0, false
	}
}

// FormatFaultCode returns a human-readable fault name
func FormatFaultCode(c FaultCode) string {
	names := []string{"NONE", "OVERCURRENT", "OVERTEMP", "ENCODER_STALL", "CABLE_SLACK", "CABLE_OVERRUN", "MOTOR_DESYNC", "COMMAND_REJECT", "WATCHDOG"}
	if c >= 0 && int(c) < len(names) {
		return names[c]
	}
	return "UNKNOWN"
}
