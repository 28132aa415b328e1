// Package segment pairs onset candidates with pitch tracks and emits discrete
// note events.
//
// Every onset is matched to at most one pitch track. A note starts at the
// onset, ends at the end of its track or at the next onset that falls inside
// the track (a re-articulation), whichever comes first, and takes the median
// pitch of the track over that span. Onsets without a track and tracks
// without an onset produce no notes.
package segment

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/notescribe/pkg/types"
)

// Config tunes onset/track matching and note emission.
type Config struct {
	// MatchTolerance is the largest distance in seconds between an onset and
	// the start of a track for the two to be paired directly.
	MatchTolerance float64

	// VelocityScale maps onset strength to MIDI velocity.
	VelocityScale float64

	// MinNoteDuration drops notes shorter than this many seconds.
	MinNoteDuration float64
}

// DefaultConfig returns the default segmenter tuning.
func DefaultConfig() Config {
	return Config{
		MatchTolerance:  0.1,
		VelocityScale:   64,
		MinNoteDuration: 0.03,
	}
}

// Validate returns a joined error wrapping [types.ErrConfiguration] for every
// invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.MatchTolerance < 0 {
		errs = append(errs, fmt.Errorf("segment: match tolerance %g must not be negative: %w", c.MatchTolerance, types.ErrConfiguration))
	}
	if c.VelocityScale <= 0 {
		errs = append(errs, fmt.Errorf("segment: velocity scale %g must be positive: %w", c.VelocityScale, types.ErrConfiguration))
	}
	if c.MinNoteDuration < 0 {
		errs = append(errs, fmt.Errorf("segment: min note duration %g must not be negative: %w", c.MinNoteDuration, types.ErrConfiguration))
	}
	return errors.Join(errs...)
}

// Segmenter turns onsets and pitch tracks into notes. It is stateless and
// safe for concurrent use.
type Segmenter struct {
	cfg Config
}

// New validates cfg and returns a Segmenter.
func New(cfg Config) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{cfg: cfg}, nil
}

// Segment returns the notes implied by onsets and tracks, ordered by start
// time and then ascending pitch. Inputs are not modified.
func (s *Segmenter) Segment(onsets []types.OnsetCandidate, tracks []types.PitchTrack) []types.NoteEvent {
	if len(onsets) == 0 || len(tracks) == 0 {
		return nil
	}

	sorted := mergeOnsets(onsets)

	var notes []types.NoteEvent
	for i, onset := range sorted {
		tr, ok := s.match(onset.Timestamp, tracks)
		if !ok {
			continue
		}

		start := onset.Timestamp
		end := tr.End
		for _, next := range sorted[i+1:] {
			if next.Timestamp > start && next.Timestamp < end {
				end = next.Timestamp
				break
			}
		}
		if end-start < s.cfg.MinNoteDuration || end <= start {
			continue
		}

		// start+dur may round past end; the next note starts exactly at end.
		dur := end - start
		for dur > 0 && start+dur > end {
			dur = math.Nextafter(dur, 0)
		}

		notes = append(notes, types.NoteEvent{
			Pitch:    FrequencyToMIDI(medianFrequency(tr, start, end)),
			Start:    start,
			Duration: dur,
			Velocity: VelocityFromStrength(onset.Strength, s.cfg.VelocityScale),
			Voice:    tr.Voice,
		})
	}

	types.SortNotes(notes)
	return notes
}

// mergeOnsets returns a copy of onsets clamped to t >= 0 and sorted by time.
// Onsets sharing a timestamp collapse into the strongest of them.
func mergeOnsets(onsets []types.OnsetCandidate) []types.OnsetCandidate {
	sorted := make([]types.OnsetCandidate, len(onsets))
	for i, o := range onsets {
		o.Timestamp = math.Max(o.Timestamp, 0)
		sorted[i] = o
	}
	slices.SortStableFunc(sorted, func(a, b types.OnsetCandidate) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})

	merged := sorted[:0]
	for _, o := range sorted {
		if n := len(merged); n > 0 && merged[n-1].Timestamp == o.Timestamp {
			if o.Strength > merged[n-1].Strength {
				merged[n-1] = o
			}
			continue
		}
		merged = append(merged, o)
	}
	return merged
}

// match picks the track an onset belongs to. A track starting within
// MatchTolerance of the onset wins (earliest start first); otherwise the
// latest-starting track that contains the onset is used.
func (s *Segmenter) match(onset float64, tracks []types.PitchTrack) (types.PitchTrack, bool) {
	near, containing := -1, -1
	for i, tr := range tracks {
		if len(tr.Samples) == 0 || tr.End <= onset {
			continue
		}
		start := tr.Start()
		if math.Abs(start-onset) <= s.cfg.MatchTolerance {
			if near < 0 || start < tracks[near].Start() {
				near = i
			}
			continue
		}
		if start <= onset && (containing < 0 || start > tracks[containing].Start()) {
			containing = i
		}
	}
	switch {
	case near >= 0:
		return tracks[near], true
	case containing >= 0:
		return tracks[containing], true
	}
	return types.PitchTrack{}, false
}

// medianFrequency returns the lower median of the track frequencies sampled in
// [start, end), falling back to the whole track when the span holds none.
func medianFrequency(tr types.PitchTrack, start, end float64) float64 {
	var freqs []float64
	for _, smp := range tr.Samples {
		if smp.Timestamp >= start && smp.Timestamp < end {
			freqs = append(freqs, smp.Frequency)
		}
	}
	if len(freqs) == 0 {
		for _, smp := range tr.Samples {
			freqs = append(freqs, smp.Frequency)
		}
	}
	slices.Sort(freqs)
	return stat.Quantile(0.5, stat.Empirical, freqs, nil)
}

// FrequencyToMIDI maps a frequency in Hz to the nearest MIDI note number using
// 69 + 12·log2(f/440). Exact half-semitone ties round down. The result is
// clamped to [0, 127]; non-positive frequencies map to 0.
func FrequencyToMIDI(freq float64) uint8 {
	if freq <= 0 || math.IsNaN(freq) {
		return 0
	}
	n := math.Ceil(69 + 12*math.Log2(freq/440) - 0.5)
	return uint8(math.Min(math.Max(n, 0), 127))
}

// MIDIToFrequency returns the equal-tempered frequency of a MIDI note number.
func MIDIToFrequency(note uint8) float64 {
	return 440 * math.Pow(2, (float64(note)-69)/12)
}

// VelocityFromStrength scales an onset strength to a MIDI velocity in
// [1, 127].
func VelocityFromStrength(strength, scale float64) uint8 {
	v := math.Round(strength * scale)
	if math.IsNaN(v) || v < 1 {
		return 1
	}
	return uint8(math.Min(v, 127))
}
