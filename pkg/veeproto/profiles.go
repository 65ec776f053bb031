// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The OpenVee Authors

package veeproto

import (
	"encoding/hex"
	"fmt"
)

// ModeProfile is the 32-byte resistance curve a ProgramParams frame carries
// at offset 0x30. Each byte is the percent boost the firmware adds to the
// base load at that position of the stroke, bottom to top. The tables below
// reproduce the values published in the firmware release notes; the zero
// profile means constant load.
type ModeProfile [32]byte

// DefaultProfile returns the built-in curve for a training mode. Unknown
// modes get the flat profile.
func DefaultProfile(mode TrainingMode) ModeProfile {
	switch mode {
	case ModePump:
		return pumpCurve
	case ModeTimeUnderTension:
		return tutCurve
	case ModeChains:
		return chainsCurve
	default:
		// OldSchool and EccentricOnly run flat; direction handling for
		// eccentric work lives in the mode byte, not the curve.
		return ModeProfile{}
	}
}

// ParseProfile decodes a 64-character hex string into a curve. This is the
// format profile overrides use in configuration files.
func ParseProfile(s string) (ModeProfile, error) {
	var p ModeProfile
	raw, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("profile not valid hex: %w", err)
	}
	if len(raw) != len(p) {
		return p, fmt.Errorf("profile is %d bytes, want %d", len(raw), len(p))
	}
	copy(p[:], raw)
	return p, nil
}

// String renders the curve in the ParseProfile hex format.
func (p ModeProfile) String() string {
	return hex.EncodeToString(p[:])
}

// Pump adds load through the concentric and holds it at the top.
var pumpCurve = ModeProfile{
	0, 0, 1, 2, 4, 6, 8, 11, 14, 17, 20, 23, 26, 29, 32, 34,
	36, 38, 39, 40, 40, 40, 40, 40, 40, 40, 40, 40, 40, 40, 40, 40,
}

// Time under tension runs a steady overload across the whole stroke.
var tutCurve = ModeProfile{
	15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15,
	15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15, 15,
}

// Chains mimics lifting against chain links: load grows linearly as the
// stroke lengthens.
var chainsCurve = ModeProfile{
	0, 2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 22, 24, 26, 28, 30,
	32, 34, 36, 38, 40, 42, 44, 46, 48, 50, 52, 54, 56, 58, 60, 62,
}

// Factory light preset. InitPreset writes exactly these values; color
// pickers use them as the starting point.
const PresetBrightness = 0.8

// PresetPalette returns the factory color slots (platform left, platform
// right, logo).
func PresetPalette() [3]RGBColor {
	return [3]RGBColor{
		{R: 0x00, G: 0xC8, B: 0xB4},
		{R: 0x00, G: 0x50, B: 0x46},
		{R: 0xFF, G: 0xFF, B: 0xFF},
	}
}
