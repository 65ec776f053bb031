package veeproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestEncodeInitResetIdentical(t *testing.T) {
	initFrame, err := Encode(Init{})
	if err != nil {
		t.Fatalf("Encode(Init) failed: %v", err)
	}
	resetFrame, err := Encode(Reset{})
	if err != nil {
		t.Fatalf("Encode(Reset) failed: %v", err)
	}

	if !bytes.Equal(initFrame, resetFrame) {
		t.Errorf("Init and Reset frames differ: % X vs % X", initFrame, resetFrame)
	}
	want := []byte{0x0A, 0x00, 0x00, 0x00}
	if !bytes.Equal(initFrame, want) {
		t.Errorf("Init frame = % X, want % X", initFrame, want)
	}
}

func TestEncodeHeaderFrames(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want []byte
	}{
		{name: "start", cmd: Start{}, want: []byte{0x03, 0x00, 0x00, 0x00}},
		{name: "stop hard", cmd: Stop{}, want: []byte{0x05, 0x00, 0x00, 0x00}},
		{name: "stop soft", cmd: Stop{Soft: true}, want: []byte{0x50, 0x00}},
		{name: "reset", cmd: Reset{}, want: []byte{0x0A, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.cmd)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if !bytes.Equal(frame, tt.want) {
				t.Errorf("frame = % X, want % X", frame, tt.want)
			}
		})
	}
}

func TestEncodeProgramLayout(t *testing.T) {
	frame, err := Encode(NewProgram(ModeOldSchool, 12, 3, 20.0))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if len(frame) != ProgramFrameSize {
		t.Fatalf("frame length = %d, want %d", len(frame), ProgramFrameSize)
	}
	if frame[0] != CmdActivation {
		t.Errorf("frame[0] = 0x%02X, want 0x%02X", frame[0], CmdActivation)
	}
	if frame[1] != 0 || frame[2] != 0 || frame[3] != 0 {
		t.Errorf("header bytes 1-3 = % X, want zeros", frame[1:4])
	}
	if frame[progOffReps] != 15 {
		t.Errorf("rep byte = %d, want 15 (12 working + 3 warmup)", frame[progOffReps])
	}
	if frame[progOffWarmup] != 3 {
		t.Errorf("warmup byte = %d, want 3", frame[progOffWarmup])
	}
	if got := binary.LittleEndian.Uint16(frame[progOffWeight:]); got != 2000 {
		t.Errorf("weight field = %d, want 2000", got)
	}
	if frame[progOffWorkoutType] != CmdRegular {
		t.Errorf("workout type = 0x%02X, want 0x%02X", frame[progOffWorkoutType], CmdRegular)
	}
	if frame[progOffModeOrLevel] != byte(ModeOldSchool) {
		t.Errorf("mode byte = %d, want %d", frame[progOffModeOrLevel], byte(ModeOldSchool))
	}
	if frame[progOffEccentric] != DefaultEccentricLoad {
		t.Errorf("eccentric byte = %d, want %d", frame[progOffEccentric], DefaultEccentricLoad)
	}
	if frame[progOffFlags] != 0 {
		t.Errorf("flags byte = 0x%02X, want 0", frame[progOffFlags])
	}

	// OldSchool runs the flat curve and zero progression; the reserved
	// regions must also be zero.
	for i := progOffCurve; i < progOffCurve+32; i++ {
		if frame[i] != 0 {
			t.Errorf("curve byte [0x%02X] = %d, want 0", i, frame[i])
		}
	}
	if got := binary.LittleEndian.Uint32(frame[progOffProgression:]); got != 0 {
		t.Errorf("progression bits = 0x%08X, want 0", got)
	}
}

func TestEncodeProgramRepByte(t *testing.T) {
	tests := []struct {
		name     string
		working  int
		warmup   int
		justLift bool
		amrap    bool
		want     byte
	}{
		{name: "counted set", working: 12, warmup: 3, want: 15},
		{name: "no warmup", working: 8, want: 8},
		{name: "wraps modulo 256", working: 200, warmup: 100, want: 44},
		{name: "just lift sentinel", working: 12, warmup: 3, justLift: true, want: OpenEndedReps},
		{name: "amrap sentinel", working: 12, warmup: 3, amrap: true, want: OpenEndedReps},
		{name: "both flags sentinel", justLift: true, amrap: true, want: OpenEndedReps},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := ProgramParams{Params: WorkoutParams{
				Mode:        ModeOldSchool,
				WorkingReps: tt.working,
				WarmupReps:  tt.warmup,
				WeightKg:    20,
				JustLift:    tt.justLift,
				AMRAP:       tt.amrap,
			}}
			frame, err := Encode(cmd)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if frame[progOffReps] != tt.want {
				t.Errorf("rep byte = 0x%02X, want 0x%02X", frame[progOffReps], tt.want)
			}
		})
	}
}

func TestEncodeWeightScaling(t *testing.T) {
	frame, err := Encode(NewProgram(ModeOldSchool, 5, 0, 25.5))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if frame[progOffWeight] != 0xF6 || frame[progOffWeight+1] != 0x09 {
		t.Errorf("weight bytes = %02X %02X, want F6 09", frame[progOffWeight], frame[progOffWeight+1])
	}
}

func TestEncodeProgramCurve(t *testing.T) {
	frame, err := Encode(NewProgram(ModePump, 10, 0, 30))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(frame[progOffCurve:progOffCurve+32], pumpCurve[:]) {
		t.Errorf("curve bytes = % X, want pump curve", frame[progOffCurve:progOffCurve+32])
	}

	// A caller-supplied profile overrides the built-in table.
	custom := ModeProfile{}
	for i := range custom {
		custom[i] = byte(i * 3)
	}
	cmd := NewProgram(ModePump, 10, 0, 30)
	cmd.Params.Profile = &custom
	frame, err = Encode(cmd)
	if err != nil {
		t.Fatalf("Encode with profile failed: %v", err)
	}
	if !bytes.Equal(frame[progOffCurve:progOffCurve+32], custom[:]) {
		t.Errorf("override curve not applied: % X", frame[progOffCurve:progOffCurve+32])
	}
}

func TestEncodeProgramProgression(t *testing.T) {
	cmd := NewProgram(ModeOldSchool, 10, 0, 40)
	cmd.Params.Progression = 2.5
	frame, err := Encode(cmd)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	bits := binary.LittleEndian.Uint32(frame[progOffProgression:])
	if got := math.Float32frombits(bits); got != 2.5 {
		t.Errorf("progression = %v, want 2.5", got)
	}

	cmd.Params.Progression = -1.25
	frame, err = Encode(cmd)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	bits = binary.LittleEndian.Uint32(frame[progOffProgression:])
	if got := math.Float32frombits(bits); got != -1.25 {
		t.Errorf("progression = %v, want -1.25", got)
	}
}

func TestEncodeEchoProgram(t *testing.T) {
	frame, err := Encode(NewEchoProgram(2, LegacyEccentricLoad, 3, 30))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if frame[progOffWorkoutType] != CmdEcho {
		t.Errorf("workout type = 0x%02X, want 0x%02X", frame[progOffWorkoutType], CmdEcho)
	}
	if frame[progOffModeOrLevel] != 2 {
		t.Errorf("level byte = %d, want 2", frame[progOffModeOrLevel])
	}
	// The legacy 125% overload maps down to the current 120% limit
	// instead of failing; everything else out of range is an error.
	if frame[progOffEccentric] != MaxEccentricLoad {
		t.Errorf("eccentric byte = %d, want %d", frame[progOffEccentric], MaxEccentricLoad)
	}
	if frame[progOffReps] != OpenEndedReps {
		t.Errorf("rep byte = 0x%02X, want open-ended sentinel", frame[progOffReps])
	}
	if frame[progOffWarmup] != 3 {
		t.Errorf("warmup byte = %d, want 3", frame[progOffWarmup])
	}
}

func TestEncodeProgramErrors(t *testing.T) {
	base := func() WorkoutParams {
		return WorkoutParams{Mode: ModeOldSchool, WorkingReps: 10, WarmupReps: 2, WeightKg: 20}
	}

	tests := []struct {
		name      string
		mutate    func(*WorkoutParams)
		wantField string
	}{
		{name: "zero weight", mutate: func(p *WorkoutParams) { p.WeightKg = 0 }, wantField: "WeightKg"},
		{name: "negative weight", mutate: func(p *WorkoutParams) { p.WeightKg = -4 }, wantField: "WeightKg"},
		{name: "weight overflows u16", mutate: func(p *WorkoutParams) { p.WeightKg = 700 }, wantField: "WeightKg"},
		{name: "weight NaN", mutate: func(p *WorkoutParams) { p.WeightKg = math.NaN() }, wantField: "WeightKg"},
		{name: "reps above sentinel", mutate: func(p *WorkoutParams) { p.WorkingReps = 0xFF }, wantField: "WorkingReps"},
		{name: "negative reps", mutate: func(p *WorkoutParams) { p.WorkingReps = -1 }, wantField: "WorkingReps"},
		{name: "warmup above sentinel", mutate: func(p *WorkoutParams) { p.WarmupReps = 0xFF }, wantField: "WarmupReps"},
		{name: "unknown mode", mutate: func(p *WorkoutParams) { p.Mode = TrainingMode(9) }, wantField: "Mode"},
		{name: "unknown workout type", mutate: func(p *WorkoutParams) { p.Type = WorkoutType(0x33) }, wantField: "Type"},
		{name: "progression NaN", mutate: func(p *WorkoutParams) { p.Progression = float32(math.NaN()) }, wantField: "Progression"},
		{
			name: "echo level out of range",
			mutate: func(p *WorkoutParams) {
				p.Type = WorkoutEcho
				p.EchoLevel = EchoLevelMax + 1
			},
			wantField: "EchoLevel",
		},
		{
			name: "eccentric below floor",
			mutate: func(p *WorkoutParams) {
				p.Type = WorkoutEcho
				p.EccentricLoad = 90
			},
			wantField: "EccentricLoad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := base()
			tt.mutate(&params)
			frame, err := Encode(ProgramParams{Params: params})
			if err == nil {
				t.Fatalf("Encode succeeded (% X), want error", frame)
			}
			var ee *EncodeError
			if !errors.As(err, &ee) {
				t.Fatalf("error %v is not an EncodeError", err)
			}
			if ee.Field != tt.wantField {
				t.Errorf("error field = %q, want %q", ee.Field, tt.wantField)
			}
		})
	}
}

func TestEncodeEchoControl(t *testing.T) {
	frame, err := Encode(EchoControl{Level: 3, WarmupReps: 2, TargetReps: 10})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if len(frame) != EchoFrameSize {
		t.Fatalf("frame length = %d, want %d", len(frame), EchoFrameSize)
	}
	want := []byte{CmdEcho, 0x00, 0x00, 0x00}
	if !bytes.Equal(frame[0:4], want) {
		t.Errorf("header = % X, want % X", frame[0:4], want)
	}
	if frame[echoOffWarmup] != 2 {
		t.Errorf("warmup byte = %d, want 2", frame[echoOffWarmup])
	}
	if frame[echoOffTarget] != 10 {
		t.Errorf("target byte = %d, want 10", frame[echoOffTarget])
	}
	if frame[echoOffLevel] != 3 {
		t.Errorf("level byte = %d, want 3", frame[echoOffLevel])
	}
}

func TestEncodeEchoControlOpenEnded(t *testing.T) {
	for _, cmd := range []EchoControl{
		{Level: 1, TargetReps: 10, JustLift: true},
		{Level: 1, TargetReps: 10, AMRAP: true},
	} {
		frame, err := Encode(cmd)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if frame[echoOffTarget] != OpenEndedReps {
			t.Errorf("target byte = 0x%02X, want open-ended sentinel", frame[echoOffTarget])
		}
	}
}

func TestEncodeColorScheme(t *testing.T) {
	frame, err := Encode(ColorScheme{
		Brightness: 0.4,
		Colors: [3]RGBColor{
			{R: 0xAA, G: 0xBB, B: 0xCC},
			{R: 0x11, G: 0x22, B: 0x33},
			{R: 0x44, G: 0x55, B: 0x66},
		},
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if len(frame) != ColorFrameSize {
		t.Fatalf("frame length = %d, want %d", len(frame), ColorFrameSize)
	}
	if frame[0] != CmdColor {
		t.Errorf("frame[0] = 0x%02X, want 0x%02X", frame[0], CmdColor)
	}

	wantSlots := []byte{0xAA, 0xBB, 0xCC, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	if !bytes.Equal(frame[colorOffSlots:colorOffSlots+9], wantSlots) {
		t.Errorf("color slots = % X, want % X", frame[colorOffSlots:colorOffSlots+9], wantSlots)
	}

	bits := binary.LittleEndian.Uint32(frame[colorOffBrightness:])
	if got := math.Float32frombits(bits); got != float32(0.4) {
		t.Errorf("brightness = %v, want 0.4", got)
	}
}

func TestEncodeColorSchemeErrors(t *testing.T) {
	for _, brightness := range []float64{-0.1, 1.5, math.NaN()} {
		_, err := Encode(ColorScheme{Brightness: brightness})
		if err == nil {
			t.Errorf("Encode with brightness %v succeeded, want error", brightness)
			continue
		}
		var ee *EncodeError
		if !errors.As(err, &ee) {
			t.Errorf("error %v is not an EncodeError", err)
		}
	}
}

func TestEncodeInitPreset(t *testing.T) {
	frame, err := Encode(InitPreset{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if len(frame) != ColorFrameSize {
		t.Fatalf("frame length = %d, want %d", len(frame), ColorFrameSize)
	}
	if frame[0] != CmdColor {
		t.Errorf("frame[0] = 0x%02X, want 0x%02X", frame[0], CmdColor)
	}

	palette := PresetPalette()
	for i, c := range palette {
		off := colorOffSlots + i*3
		if frame[off] != c.R || frame[off+1] != c.G || frame[off+2] != c.B {
			t.Errorf("slot %d = %02X %02X %02X, want %02X %02X %02X",
				i, frame[off], frame[off+1], frame[off+2], c.R, c.G, c.B)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	cmds := []Command{
		Init{},
		InitPreset{},
		Start{},
		Stop{Soft: true},
		Stop{},
		Reset{},
		NewProgram(ModeChains, 12, 3, 42.5),
		EchoControl{Level: 2, WarmupReps: 1, TargetReps: 8},
		ColorScheme{Brightness: 1, Colors: [3]RGBColor{{R: 1}, {G: 2}, {B: 3}}},
	}

	for _, cmd := range cmds {
		first, err := Encode(cmd)
		if err != nil {
			t.Fatalf("Encode(%s) failed: %v", cmd.Name(), err)
		}
		second, err := Encode(cmd)
		if err != nil {
			t.Fatalf("Encode(%s) failed on second pass: %v", cmd.Name(), err)
		}
		if !bytes.Equal(first, second) {
			t.Errorf("%s not deterministic: % X vs % X", cmd.Name(), first, second)
		}
	}
}

func TestCommandIdempotence(t *testing.T) {
	tests := []struct {
		cmd  Command
		want bool
	}{
		{cmd: Init{}, want: true},
		{cmd: InitPreset{}, want: true},
		{cmd: Reset{}, want: true},
		{cmd: Stop{}, want: true},
		{cmd: Stop{Soft: true}, want: true},
		{cmd: ColorScheme{}, want: true},
		{cmd: Start{}, want: false},
		{cmd: ProgramParams{}, want: false},
		{cmd: EchoControl{}, want: false},
	}

	for _, tt := range tests {
		if got := tt.cmd.Idempotent(); got != tt.want {
			t.Errorf("%s.Idempotent() = %v, want %v", tt.cmd.Name(), got, tt.want)
		}
	}
}
