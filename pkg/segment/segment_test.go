package segment_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/notescribe/pkg/segment"
	"github.com/MrWong99/notescribe/pkg/types"
)

// track builds a pitch track sampled every 10 ms over [start, end).
func track(freq, start, end float64) types.PitchTrack {
	var tr types.PitchTrack
	for i := 0; ; i++ {
		ts := start + float64(i)*0.01
		if ts >= end-1e-9 {
			break
		}
		tr.Samples = append(tr.Samples, types.PitchSample{Timestamp: ts, Frequency: freq, Confidence: 0.9})
	}
	tr.End = end
	return tr
}

func newSegmenter(t *testing.T) *segment.Segmenter {
	t.Helper()
	s, err := segment.New(segment.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestFrequencyToMIDI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		freq float64
		want uint8
	}{
		{freq: 440, want: 69},
		{freq: 880, want: 81},
		{freq: 220, want: 57},
		{freq: 261.63, want: 60},
		{freq: 27.5, want: 21},
		{freq: 452, want: 69},
		{freq: 460, want: 70},
		{freq: 1, want: 0},
		{freq: 0, want: 0},
		{freq: -10, want: 0},
		{freq: 1e6, want: 127},
	}
	for _, tt := range tests {
		if got := segment.FrequencyToMIDI(tt.freq); got != tt.want {
			t.Errorf("FrequencyToMIDI(%v) = %d, want %d", tt.freq, got, tt.want)
		}
	}
}

func TestMIDIToFrequency(t *testing.T) {
	t.Parallel()
	if got := segment.MIDIToFrequency(69); got != 440 {
		t.Errorf("MIDIToFrequency(69) = %v, want 440", got)
	}
	if got := segment.MIDIToFrequency(81); math.Abs(got-880) > 1e-9 {
		t.Errorf("MIDIToFrequency(81) = %v, want 880", got)
	}
	for n := range uint8(128) {
		if got := segment.FrequencyToMIDI(segment.MIDIToFrequency(n)); got != n {
			t.Errorf("round trip of note %d gave %d", n, got)
		}
	}
}

func TestVelocityFromStrength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		strength float64
		want     uint8
	}{
		{strength: 1, want: 64},
		{strength: 0.5, want: 32},
		{strength: 0, want: 1},
		{strength: -1, want: 1},
		{strength: 10, want: 127},
		{strength: math.NaN(), want: 1},
	}
	for _, tt := range tests {
		if got := segment.VelocityFromStrength(tt.strength, 64); got != tt.want {
			t.Errorf("VelocityFromStrength(%v) = %d, want %d", tt.strength, got, tt.want)
		}
	}
}

func TestSegment(t *testing.T) {
	t.Parallel()

	type note struct {
		pitch    uint8
		start    float64
		duration float64
	}

	tests := []struct {
		name   string
		onsets []types.OnsetCandidate
		tracks []types.PitchTrack
		want   []note
	}{
		{
			name:   "single note",
			onsets: []types.OnsetCandidate{{Timestamp: 0, Strength: 1}},
			tracks: []types.PitchTrack{track(440, 0, 1)},
			want:   []note{{pitch: 69, start: 0, duration: 1}},
		},
		{
			name:   "onset slightly before track",
			onsets: []types.OnsetCandidate{{Timestamp: 0.45, Strength: 1}},
			tracks: []types.PitchTrack{track(440, 0.5, 1)},
			want:   []note{{pitch: 69, start: 0.45, duration: 0.55}},
		},
		{
			name:   "re-articulation splits track",
			onsets: []types.OnsetCandidate{{Timestamp: 0, Strength: 1}, {Timestamp: 0.5, Strength: 1}},
			tracks: []types.PitchTrack{track(440, 0, 1)},
			want:   []note{{pitch: 69, start: 0, duration: 0.5}, {pitch: 69, start: 0.5, duration: 0.5}},
		},
		{
			name:   "onset inside track",
			onsets: []types.OnsetCandidate{{Timestamp: 0.5, Strength: 1}},
			tracks: []types.PitchTrack{track(440, 0, 1)},
			want:   []note{{pitch: 69, start: 0.5, duration: 0.5}},
		},
		{
			name:   "nearby track start beats containing track",
			onsets: []types.OnsetCandidate{{Timestamp: 0.5, Strength: 1}},
			tracks: []types.PitchTrack{track(440, 0, 1), track(880, 0.52, 1)},
			want:   []note{{pitch: 81, start: 0.5, duration: 0.5}},
		},
		{
			name: "two tones",
			onsets: []types.OnsetCandidate{
				{Timestamp: 0.6, Strength: 0.8},
				{Timestamp: 0, Strength: 1},
			},
			tracks: []types.PitchTrack{track(440, 0, 0.5), track(880, 0.58, 1.1)},
			want:   []note{{pitch: 69, start: 0, duration: 0.5}, {pitch: 81, start: 0.6, duration: 0.5}},
		},
		{
			name:   "equal timestamps collapse",
			onsets: []types.OnsetCandidate{{Timestamp: 0.016, Strength: 1}, {Timestamp: 0.016, Strength: 0.5}},
			tracks: []types.PitchTrack{track(440, 0, 0.64)},
			want:   []note{{pitch: 69, start: 0.016, duration: 0.624}},
		},
		{
			name:   "negative onsets clamp and collapse",
			onsets: []types.OnsetCandidate{{Timestamp: -0.02, Strength: 1}, {Timestamp: -0.01, Strength: 1}},
			tracks: []types.PitchTrack{track(440, 0, 1)},
			want:   []note{{pitch: 69, start: 0, duration: 1}},
		},
		{
			name:   "onset without track",
			onsets: []types.OnsetCandidate{{Timestamp: 2, Strength: 1}},
			tracks: []types.PitchTrack{track(440, 0, 1)},
		},
		{
			name:   "track without onset",
			tracks: []types.PitchTrack{track(440, 0, 1)},
		},
		{
			name:   "too short",
			onsets: []types.OnsetCandidate{{Timestamp: 0.99, Strength: 1}},
			tracks: []types.PitchTrack{track(440, 0, 1)},
		},
		{
			name:   "pitch taken from note span",
			onsets: []types.OnsetCandidate{{Timestamp: 0, Strength: 1}, {Timestamp: 0.5, Strength: 1}},
			tracks: []types.PitchTrack{func() types.PitchTrack {
				a, b := track(440, 0, 0.5), track(466.16, 0.5, 1)
				return types.PitchTrack{Samples: append(a.Samples, b.Samples...), End: 1}
			}()},
			want: []note{{pitch: 69, start: 0, duration: 0.5}, {pitch: 70, start: 0.5, duration: 0.5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := newSegmenter(t).Segment(tt.onsets, tt.tracks)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d notes %+v, want %d", len(got), got, len(tt.want))
			}
			for i, w := range tt.want {
				n := got[i]
				if n.Pitch != w.pitch || !approx(n.Start, w.start) || !approx(n.Duration, w.duration) {
					t.Errorf("note %d = %+v, want pitch %d start %v duration %v", i, n, w.pitch, w.start, w.duration)
				}
				if n.Velocity < 1 || n.Velocity > 127 {
					t.Errorf("note %d velocity %d out of range", i, n.Velocity)
				}
			}
		})
	}
}

func TestSegment_NotesNeverOverlap(t *testing.T) {
	t.Parallel()
	onsets := []types.OnsetCandidate{
		{Timestamp: 0, Strength: 1},
		{Timestamp: 0.3, Strength: 1},
		{Timestamp: 0.35, Strength: 1},
		{Timestamp: 0.8, Strength: 1},
	}
	tracks := []types.PitchTrack{track(440, 0, 0.6), track(660, 0.33, 1.2)}
	got := newSegmenter(t).Segment(onsets, tracks)
	for i := 1; i < len(got); i++ {
		if got[i].Start < got[i-1].End()-1e-9 {
			t.Errorf("note %d (%+v) overlaps note %d (%+v)", i, got[i], i-1, got[i-1])
		}
	}
}

func TestSegment_CarriesVoiceAndVelocity(t *testing.T) {
	t.Parallel()
	tr := track(440, 0, 1)
	tr.Voice = 2
	got := newSegmenter(t).Segment([]types.OnsetCandidate{{Timestamp: 0, Strength: 0.5}}, []types.PitchTrack{tr})
	if len(got) != 1 {
		t.Fatalf("got %d notes, want 1", len(got))
	}
	if got[0].Voice != 2 {
		t.Errorf("Voice = %d, want 2", got[0].Voice)
	}
	if got[0].Velocity != 32 {
		t.Errorf("Velocity = %d, want 32", got[0].Velocity)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	bad := []segment.Config{
		{MatchTolerance: -1, VelocityScale: 64},
		{MatchTolerance: 0.1, VelocityScale: 0},
		{MatchTolerance: 0.1, VelocityScale: 64, MinNoteDuration: -0.1},
	}
	for _, cfg := range bad {
		if _, err := segment.New(cfg); !errors.Is(err, types.ErrConfiguration) {
			t.Errorf("New(%+v) error = %v, want ErrConfiguration", cfg, err)
		}
	}
}

// hopTrack builds a track sampled at analyzer frame times i*256/16000 for
// frames [first, last].
func hopTrack(freq float64, first, last int) types.PitchTrack {
	var tr types.PitchTrack
	for i := first; i <= last; i++ {
		tr.Samples = append(tr.Samples, types.PitchSample{Timestamp: float64(i*256) / 16000, Frequency: freq, Confidence: 0.9})
	}
	tr.End = float64((last+1)*256) / 16000
	return tr
}

func TestSegment_RepeatedNoteEndsAtNextOnset(t *testing.T) {
	t.Parallel()

	for second := 3; second < 40; second++ {
		onsets := []types.OnsetCandidate{
			{Timestamp: float64(1*256) / 16000, Strength: 1},
			{Timestamp: float64(second*256) / 16000, Strength: 1},
		}
		got := newSegmenter(t).Segment(onsets, []types.PitchTrack{hopTrack(440, 1, 40)})
		if len(got) != 2 {
			t.Fatalf("second onset at frame %d: got %d notes, want 2", second, len(got))
		}
		if got[0].End() > got[1].Start {
			t.Errorf("second onset at frame %d: first note ends at %v after the second starts at %v",
				second, got[0].End(), got[1].Start)
		}
	}
}

func TestSegment_EqualTimestampsKeepStrongest(t *testing.T) {
	t.Parallel()
	onsets := []types.OnsetCandidate{
		{Timestamp: 0.016, Strength: 0.25},
		{Timestamp: 0.016, Strength: 1},
		{Timestamp: 0.016, Strength: 0.5},
	}
	got := newSegmenter(t).Segment(onsets, []types.PitchTrack{track(440, 0, 0.64)})
	if len(got) != 1 {
		t.Fatalf("got %d notes %+v, want 1", len(got), got)
	}
	if got[0].Velocity != 64 {
		t.Errorf("Velocity = %d, want 64 from the strongest onset", got[0].Velocity)
	}
}
