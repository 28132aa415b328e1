package assemble_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/notescribe/pkg/assemble"
	"github.com/MrWong99/notescribe/pkg/types"
)

func newAssembler(t *testing.T, mutate func(*assemble.Config)) *assemble.Assembler {
	t.Helper()
	cfg := assemble.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := assemble.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func note(pitch uint8, start, dur float64) types.NoteEvent {
	return types.NoteEvent{Pitch: pitch, Start: start, Duration: dur, Velocity: 64}
}

func ptr(v float64) *float64 { return &v }

func TestAssemble_SingleTrack(t *testing.T) {
	t.Parallel()
	a := newAssembler(t, nil)

	in := []types.NoteEvent{note(72, 1, 0.5), note(60, 0, 0.5), note(64, 0, 0.5)}
	seq, err := a.Assemble(in, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if seq.TempoBPM != 120 || seq.TicksPerQuarter != 480 {
		t.Errorf("tempo/division = %v/%d, want 120/480", seq.TempoBPM, seq.TicksPerQuarter)
	}
	if len(seq.Tracks) != 1 {
		t.Fatalf("got %d tracks, want 1", len(seq.Tracks))
	}
	tr := seq.Tracks[0]
	if tr.Name != "Transcription" || tr.Channel != 0 || tr.Program != 0 {
		t.Errorf("track header = %q ch %d prog %d", tr.Name, tr.Channel, tr.Program)
	}
	wantPitches := []uint8{60, 64, 72}
	for i, p := range wantPitches {
		if tr.Notes[i].Pitch != p {
			t.Errorf("note %d pitch = %d, want %d", i, tr.Notes[i].Pitch, p)
		}
	}
	if in[0].Pitch != 72 {
		t.Error("input slice was reordered")
	}
}

func TestAssemble_Empty(t *testing.T) {
	t.Parallel()
	seq, err := newAssembler(t, nil).Assemble(nil, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(seq.Tracks) != 1 || seq.NoteCount() != 0 {
		t.Fatalf("got %d tracks with %d notes, want one empty track", len(seq.Tracks), seq.NoteCount())
	}
}

func TestAssemble_Tempo(t *testing.T) {
	t.Parallel()
	a := newAssembler(t, nil)

	tests := []struct {
		name  string
		tempo *float64
		want  float64
	}{
		{name: "absent", tempo: nil, want: 120},
		{name: "detected", tempo: ptr(90), want: 90},
		{name: "zero", tempo: ptr(0), want: 120},
		{name: "negative", tempo: ptr(-60), want: 120},
		{name: "nan", tempo: ptr(math.NaN()), want: 120},
		{name: "inf", tempo: ptr(math.Inf(1)), want: 120},
	}
	for _, tt := range tests {
		seq, err := a.Assemble(nil, tt.tempo)
		if err != nil {
			t.Fatalf("%s: Assemble: %v", tt.name, err)
		}
		if seq.TempoBPM != tt.want {
			t.Errorf("%s: tempo = %v, want %v", tt.name, seq.TempoBPM, tt.want)
		}
	}
}

func TestAssemble_Voices(t *testing.T) {
	t.Parallel()
	a := newAssembler(t, func(c *assemble.Config) { c.Channel = 8 })

	in := []types.NoteEvent{
		{Pitch: 60, Start: 0, Duration: 1, Velocity: 64, Voice: 2},
		{Pitch: 67, Start: 0, Duration: 1, Velocity: 64, Voice: 1},
		{Pitch: 48, Start: 0.5, Duration: 1, Velocity: 64, Voice: 3},
	}
	seq, err := a.Assemble(in, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(seq.Tracks) != 3 {
		t.Fatalf("got %d tracks, want 3", len(seq.Tracks))
	}
	want := []struct {
		name    string
		channel uint8
		pitch   uint8
	}{
		{name: "Transcription voice 1", channel: 8, pitch: 67},
		{name: "Transcription voice 2", channel: 10, pitch: 60},
		{name: "Transcription voice 3", channel: 11, pitch: 48},
	}
	for i, w := range want {
		tr := seq.Tracks[i]
		if tr.Name != w.name || tr.Channel != w.channel || tr.Notes[0].Pitch != w.pitch {
			t.Errorf("track %d = %q ch %d pitch %d, want %q ch %d pitch %d",
				i, tr.Name, tr.Channel, tr.Notes[0].Pitch, w.name, w.channel, w.pitch)
		}
	}
}

func TestAssemble_TooManyVoices(t *testing.T) {
	t.Parallel()
	var in []types.NoteEvent
	for v := 1; v <= 16; v++ {
		in = append(in, types.NoteEvent{Pitch: 60, Start: 0, Duration: 1, Velocity: 64, Voice: v})
	}
	if _, err := newAssembler(t, nil).Assemble(in, nil); !errors.Is(err, types.ErrInternalConsistency) {
		t.Fatalf("error = %v, want ErrInternalConsistency", err)
	}
}

func TestAssemble_RejectsInvariantViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		notes []types.NoteEvent
	}{
		{name: "negative start", notes: []types.NoteEvent{note(60, -0.1, 1)}},
		{name: "zero duration", notes: []types.NoteEvent{note(60, 0, 0)}},
		{name: "nan duration", notes: []types.NoteEvent{note(60, 0, math.NaN())}},
		{name: "pitch above range", notes: []types.NoteEvent{note(128, 0, 1)}},
		{name: "zero velocity", notes: []types.NoteEvent{{Pitch: 60, Start: 0, Duration: 1}}},
		{name: "overlapping same pitch", notes: []types.NoteEvent{note(60, 0, 1), note(60, 0.5, 1)}},
		{name: "negative voice", notes: []types.NoteEvent{{Pitch: 60, Duration: 1, Velocity: 64, Voice: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			seq, err := newAssembler(t, nil).Assemble(tt.notes, nil)
			if !errors.Is(err, types.ErrInternalConsistency) {
				t.Fatalf("error = %v, want ErrInternalConsistency", err)
			}
			if seq != nil {
				t.Fatal("partial sequence returned with error")
			}
		})
	}
}

func TestAssemble_OverlapAcrossPitchesIsValid(t *testing.T) {
	t.Parallel()
	in := []types.NoteEvent{note(60, 0, 1), note(64, 0.5, 1), note(60, 1, 0.5)}
	if _, err := newAssembler(t, nil).Assemble(in, nil); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
}

func TestAssemble_Quantize(t *testing.T) {
	t.Parallel()
	// Sixteenth notes at 120 BPM are 0.125 s long.
	a := newAssembler(t, func(c *assemble.Config) { c.QuantizeDivision = 16 })

	in := []types.NoteEvent{
		note(60, 0.01, 0.48), // -> 0 .. 0.5
		note(62, 0.51, 0.02), // collapses, gets one step: 0.5 .. 0.625
		note(64, 1.0, 0.3),   // -> 1.0 .. 1.25
		note(64, 1.31, 0.2),  // -> 1.25 .. 1.5
		note(67, 2.0, 0.3),   // -> 2.0 .. 2.25
	}
	seq, err := a.Assemble(in, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	got := seq.Tracks[0].Notes
	want := []struct {
		pitch      uint8
		start, end float64
	}{
		{60, 0, 0.5},
		{62, 0.5, 0.625},
		{64, 1.0, 1.25},
		{64, 1.25, 1.5},
		{67, 2.0, 2.25},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d notes %+v, want %d", len(got), got, len(want))
	}
	for i, w := range want {
		n := got[i]
		if n.Pitch != w.pitch || math.Abs(n.Start-w.start) > 1e-9 || math.Abs(n.End()-w.end) > 1e-9 {
			t.Errorf("note %d = pitch %d [%v, %v], want pitch %d [%v, %v]", i, n.Pitch, n.Start, n.End(), w.pitch, w.start, w.end)
		}
	}
}

func TestAssemble_QuantizeDropsSwallowedNote(t *testing.T) {
	t.Parallel()
	a := newAssembler(t, func(c *assemble.Config) { c.QuantizeDivision = 4 })
	// Both snap to start 0 with the same pitch; only the later one survives.
	in := []types.NoteEvent{note(60, 0, 0.2), note(60, 0.21, 0.5)}
	seq, err := a.Assemble(in, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if n := seq.NoteCount(); n != 1 {
		t.Fatalf("got %d notes, want 1", n)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	mutations := []func(*assemble.Config){
		func(c *assemble.Config) { c.DefaultTempo = 0 },
		func(c *assemble.Config) { c.TicksPerQuarter = 0 },
		func(c *assemble.Config) { c.TicksPerQuarter = 0x8000 },
		func(c *assemble.Config) { c.Program = 200 },
		func(c *assemble.Config) { c.Channel = 16 },
		func(c *assemble.Config) { c.QuantizeDivision = -4 },
	}
	for i, m := range mutations {
		cfg := assemble.DefaultConfig()
		m(&cfg)
		if _, err := assemble.New(cfg); !errors.Is(err, types.ErrConfiguration) {
			t.Errorf("mutation %d: error = %v, want ErrConfiguration", i, err)
		}
	}
}
