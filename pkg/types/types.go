// Package types defines the shared data model used across all notescribe
// pipeline stages.
//
// These types form the lingua franca between the frame analyzer, the
// pitch/onset detector, the note segmenter, the track assembler and the MIDI
// encoder. Each stage package owns its configuration and algorithms; the
// values that cross stage boundaries live here to avoid circular imports.
package types

import "sort"

// FeatureVector is the per-frame result of spectral analysis. It is produced by
// the frame analyzer and consumed by a detector; it never outlives a single
// transcription call.
type FeatureVector struct {
	// FrameIndex is the zero-based index of the analysis frame.
	FrameIndex int

	// Timestamp is the frame start time in seconds.
	Timestamp float64

	// Magnitude holds the normalised magnitude spectrum for bins
	// 0..FrameSize/2. A full-scale sine peaks close to its amplitude.
	Magnitude []float64

	// F0 is the estimated fundamental frequency in Hz. Only meaningful when
	// HasF0 is true; an absent estimate must never be read as 0 Hz.
	F0 float64

	// HasF0 reports whether the frame carried enough pitched energy for an
	// F0 estimate.
	HasF0 bool

	// F0Confidence is the clarity of the F0 estimate (0.0–1.0).
	F0Confidence float64

	// Energy is the windowed energy of the frame.
	Energy float64

	// OnsetStrength is the energy-gated spectral flux relative to the
	// previous frame. Always >= 0.
	OnsetStrength float64
}

// OnsetCandidate marks a detected note start.
type OnsetCandidate struct {
	// Timestamp is the onset time in seconds.
	Timestamp float64

	// Strength is the onset strength at the picked frame.
	Strength float64
}

// PitchSample is a single point of a PitchTrack.
type PitchSample struct {
	Timestamp  float64
	Frequency  float64
	Confidence float64
}

// PitchTrack is a continuous pitched region built from consecutive F0
// estimates. Samples are ordered by Timestamp.
type PitchTrack struct {
	// Voice tags the polyphonic voice this track belongs to. Zero means
	// untagged; the assembler then places all notes in a single track.
	Voice int

	// Samples holds the linked F0 estimates in time order.
	Samples []PitchSample

	// End is the time in seconds at which the track's last frame hop ends.
	End float64
}

// Start returns the timestamp of the first sample, or 0 for an empty track.
func (t PitchTrack) Start() float64 {
	if len(t.Samples) == 0 {
		return 0
	}
	return t.Samples[0].Timestamp
}

// NoteEvent is one discrete note. Values are immutable once created by the
// segmenter.
//
// Invariants: Pitch in [0,127], Velocity in [1,127], Start >= 0, Duration > 0.
type NoteEvent struct {
	Pitch    uint8
	Start    float64
	Duration float64
	Velocity uint8

	// Voice carries the voice tag of the pitch track the note came from.
	Voice int
}

// End returns Start + Duration.
func (n NoteEvent) End() float64 {
	return n.Start + n.Duration
}

// Track is a named, ordered list of notes played on one MIDI channel.
type Track struct {
	Name    string
	Channel uint8
	Program uint8
	Notes   []NoteEvent
}

// NoteSequence is the terminal in-memory artifact of a transcription.
type NoteSequence struct {
	Tracks []Track

	// TempoBPM is the tempo used to convert seconds to ticks.
	TempoBPM float64

	// TicksPerQuarter is the MIDI time division.
	TicksPerQuarter uint16
}

// NoteCount returns the number of notes across all tracks.
func (s *NoteSequence) NoteCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, t := range s.Tracks {
		n += len(t.Notes)
	}
	return n
}

// Notes returns every note across all tracks ordered by start time, then by
// ascending pitch. The returned slice is a copy.
func (s *NoteSequence) Notes() []NoteEvent {
	if s == nil {
		return nil
	}
	out := make([]NoteEvent, 0, s.NoteCount())
	for _, t := range s.Tracks {
		out = append(out, t.Notes...)
	}
	SortNotes(out)
	return out
}

// SortNotes orders notes by start time and breaks ties by ascending pitch.
func SortNotes(notes []NoteEvent) {
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Start != notes[j].Start {
			return notes[i].Start < notes[j].Start
		}
		return notes[i].Pitch < notes[j].Pitch
	})
}
