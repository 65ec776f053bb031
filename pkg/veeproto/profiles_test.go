// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The OpenVee Authors

package veeproto

import (
	"strings"
	"testing"
)

func TestDefaultProfiles(t *testing.T) {
	flat := DefaultProfile(ModeOldSchool)
	for i, v := range flat {
		if v != 0 {
			t.Errorf("old school curve[%d] = %d, want 0", i, v)
		}
	}

	if DefaultProfile(ModeEccentricOnly) != (ModeProfile{}) {
		t.Error("eccentric-only curve is not flat")
	}

	for _, mode := range []TrainingMode{ModePump, ModeTimeUnderTension, ModeChains} {
		if DefaultProfile(mode) == (ModeProfile{}) {
			t.Errorf("%s curve is flat, want a shaped table", FormatTrainingMode(mode))
		}
	}

	// Chains must be monotonically non-decreasing: that is the point of
	// the mode.
	chains := DefaultProfile(ModeChains)
	for i := 1; i < len(chains); i++ {
		if chains[i] < chains[i-1] {
			t.Errorf("chains curve decreases at %d: %d < %d", i, chains[i], chains[i-1])
		}
	}
}

func TestParseProfile(t *testing.T) {
	original := DefaultProfile(ModePump)
	parsed, err := ParseProfile(original.String())
	if err != nil {
		t.Fatalf("ParseProfile failed: %v", err)
	}
	if parsed != original {
		t.Errorf("round trip mismatch: %s != %s", parsed, original)
	}

	if _, err := ParseProfile("zz"); err == nil {
		t.Error("ParseProfile accepted non-hex input")
	}
	if _, err := ParseProfile(strings.Repeat("00", 31)); err == nil {
		t.Error("ParseProfile accepted a short profile")
	}
	if _, err := ParseProfile(strings.Repeat("00", 33)); err == nil {
		t.Error("ParseProfile accepted a long profile")
	}
}
