// Package assemble groups note events into named tracks, applies tempo and
// optional grid quantisation, and validates the result before it is handed
// to the MIDI encoder.
//
// Notes are placed in a single track unless the detector tagged voices, in
// which case every voice gets its own track and channel. A note set that
// violates the note invariants (non-negative start, positive duration, valid
// pitch and velocity, no overlapping notes of the same pitch within a track)
// is rejected with [types.ErrInternalConsistency]; it is never repaired.
package assemble

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/MrWong99/notescribe/pkg/types"
)

const (
	defaultTempo           = 120.0
	defaultTicksPerQuarter = 480
	defaultTrackName       = "Transcription"

	// drumChannel is the General MIDI percussion channel, which voice
	// allocation never assigns.
	drumChannel = 9
)

// Config controls track layout and timing metadata.
type Config struct {
	// DefaultTempo is used when no tempo was detected.
	DefaultTempo float64

	// TicksPerQuarter is the MIDI time division.
	TicksPerQuarter uint16

	// TrackName names the single track, and prefixes per-voice track names.
	TrackName string

	// Program is the General MIDI program of every track.
	Program uint8

	// Channel is the channel of the single track and the first voice.
	Channel uint8

	// QuantizeDivision snaps note boundaries to a grid of 1/N whole notes.
	// Zero disables quantisation.
	QuantizeDivision int
}

// DefaultConfig returns 120 BPM, 480 ticks per quarter, one unquantised
// track on channel 0 with program 0.
func DefaultConfig() Config {
	return Config{
		DefaultTempo:    defaultTempo,
		TicksPerQuarter: defaultTicksPerQuarter,
		TrackName:       defaultTrackName,
	}
}

// Validate returns a joined error wrapping [types.ErrConfiguration] for every
// invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.DefaultTempo <= 0 || math.IsInf(c.DefaultTempo, 0) || math.IsNaN(c.DefaultTempo) {
		errs = append(errs, fmt.Errorf("assemble: default tempo %g must be positive: %w", c.DefaultTempo, types.ErrConfiguration))
	}
	if c.TicksPerQuarter == 0 || c.TicksPerQuarter > 0x7FFF {
		errs = append(errs, fmt.Errorf("assemble: ticks per quarter %d outside [1, 32767]: %w", c.TicksPerQuarter, types.ErrConfiguration))
	}
	if c.Program > 127 {
		errs = append(errs, fmt.Errorf("assemble: program %d exceeds 127: %w", c.Program, types.ErrConfiguration))
	}
	if c.Channel > 15 {
		errs = append(errs, fmt.Errorf("assemble: channel %d exceeds 15: %w", c.Channel, types.ErrConfiguration))
	}
	if c.QuantizeDivision < 0 {
		errs = append(errs, fmt.Errorf("assemble: quantize division %d must not be negative: %w", c.QuantizeDivision, types.ErrConfiguration))
	}
	return errors.Join(errs...)
}

// Assembler builds note sequences. It is stateless and safe for concurrent
// use.
type Assembler struct {
	cfg Config
}

// New validates cfg and returns an Assembler.
func New(cfg Config) (*Assembler, error) {
	if cfg.TrackName == "" {
		cfg.TrackName = defaultTrackName
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Assembler{cfg: cfg}, nil
}

// Config returns the assembler's effective configuration.
func (a *Assembler) Config() Config {
	return a.cfg
}

// Assemble returns a sequence holding notes. tempoBPM may be nil when no tempo
// was detected; nil, non-positive and non-finite tempos fall back to
// DefaultTempo. The input slice is not modified.
func (a *Assembler) Assemble(notes []types.NoteEvent, tempoBPM *float64) (*types.NoteSequence, error) {
	tempo := a.cfg.DefaultTempo
	if tempoBPM != nil && *tempoBPM > 0 && !math.IsInf(*tempoBPM, 0) {
		tempo = *tempoBPM
	}

	groups, err := a.group(notes)
	if err != nil {
		return nil, err
	}

	seq := &types.NoteSequence{
		TempoBPM:        tempo,
		TicksPerQuarter: a.cfg.TicksPerQuarter,
	}
	for _, g := range groups {
		if err := validate(g.notes); err != nil {
			return nil, fmt.Errorf("assemble: track %q: %w", g.name, err)
		}
		if a.cfg.QuantizeDivision > 0 {
			g.notes = quantize(g.notes, gridSeconds(a.cfg.QuantizeDivision, tempo))
			if err := validate(g.notes); err != nil {
				return nil, fmt.Errorf("assemble: quantized track %q: %w", g.name, err)
			}
		}
		seq.Tracks = append(seq.Tracks, types.Track{
			Name:    g.name,
			Channel: g.channel,
			Program: a.cfg.Program,
			Notes:   g.notes,
		})
	}
	return seq, nil
}

type group struct {
	name    string
	channel uint8
	notes   []types.NoteEvent
}

// group splits notes by voice. Untagged input yields exactly one group, even
// when there are no notes at all.
func (a *Assembler) group(notes []types.NoteEvent) ([]group, error) {
	voices := map[int][]types.NoteEvent{}
	tagged := false
	for _, n := range notes {
		if n.Voice < 0 {
			return nil, fmt.Errorf("assemble: note at %gs has negative voice %d: %w", n.Start, n.Voice, types.ErrInternalConsistency)
		}
		if n.Voice > 0 {
			tagged = true
		}
		voices[n.Voice] = append(voices[n.Voice], n)
	}

	if !tagged {
		single := slices.Clone(notes)
		types.SortNotes(single)
		return []group{{name: a.cfg.TrackName, channel: a.cfg.Channel, notes: single}}, nil
	}

	ids := make([]int, 0, len(voices))
	for v := range voices {
		ids = append(ids, v)
	}
	slices.Sort(ids)

	out := make([]group, 0, len(ids))
	ch := int(a.cfg.Channel)
	for _, v := range ids {
		if ch == drumChannel {
			ch++
		}
		if ch > 15 {
			return nil, fmt.Errorf("assemble: %d voices exceed the available MIDI channels: %w", len(ids), types.ErrInternalConsistency)
		}
		vn := voices[v]
		types.SortNotes(vn)
		out = append(out, group{
			name:    fmt.Sprintf("%s voice %d", a.cfg.TrackName, v),
			channel: uint8(ch),
			notes:   vn,
		})
		ch++
	}
	return out, nil
}

// validate checks the note invariants of one sorted track.
func validate(notes []types.NoteEvent) error {
	lastEnd := map[uint8]float64{}
	for i, n := range notes {
		switch {
		case n.Pitch > 127:
			return fmt.Errorf("note %d: pitch %d exceeds 127: %w", i, n.Pitch, types.ErrInternalConsistency)
		case n.Velocity < 1 || n.Velocity > 127:
			return fmt.Errorf("note %d: velocity %d outside [1, 127]: %w", i, n.Velocity, types.ErrInternalConsistency)
		case !(n.Start >= 0) || math.IsInf(n.Start, 0):
			return fmt.Errorf("note %d: start %g is negative or not finite: %w", i, n.Start, types.ErrInternalConsistency)
		case !(n.Duration > 0) || math.IsInf(n.Duration, 0):
			return fmt.Errorf("note %d: duration %g is not positive: %w", i, n.Duration, types.ErrInternalConsistency)
		}
		if end, ok := lastEnd[n.Pitch]; ok && n.Start < end {
			return fmt.Errorf("note %d: pitch %d starts at %gs before the previous one ends at %gs: %w",
				i, n.Pitch, n.Start, end, types.ErrInternalConsistency)
		}
		lastEnd[n.Pitch] = n.End()
	}
	return nil
}

// gridSeconds is the length of one 1/division whole note at tempo.
func gridSeconds(division int, tempo float64) float64 {
	return 4.0 / float64(division) * 60.0 / tempo
}

// quantize snaps note boundaries to the grid. Notes collapsing to zero length
// get one grid step, and a note running into the next note of the same pitch
// is cut at that note's start; if that leaves nothing the earlier note is
// dropped.
func quantize(notes []types.NoteEvent, step float64) []types.NoteEvent {
	snapped := make([]types.NoteEvent, 0, len(notes))
	for _, n := range notes {
		start := math.Round(n.Start/step) * step
		end := math.Round(n.End()/step) * step
		if end <= start {
			end = start + step
		}
		n.Start = start
		n.Duration = end - start
		snapped = append(snapped, n)
	}
	types.SortNotes(snapped)

	keep := make([]bool, len(snapped))
	next := map[uint8]int{}
	for i := len(snapped) - 1; i >= 0; i-- {
		n := &snapped[i]
		if j, ok := next[n.Pitch]; ok && n.End() > snapped[j].Start {
			n.Duration = snapped[j].Start - n.Start
		}
		if n.Duration <= 0 {
			continue
		}
		keep[i] = true
		next[n.Pitch] = i
	}

	out := make([]types.NoteEvent, 0, len(snapped))
	for i, n := range snapped {
		if keep[i] {
			out = append(out, n)
		}
	}
	return out
}
