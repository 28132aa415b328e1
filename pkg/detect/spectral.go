package detect

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"sync/atomic"

	"github.com/MrWong99/notescribe/pkg/types"
)

// SpectralConfig tunes the onset picker and the pitch tracker.
type SpectralConfig struct {
	// HopSeconds is the frame hop duration. It is only used when the hop
	// cannot be inferred from the timestamps of the first two frames, i.e. for
	// single-frame inputs.
	HopSeconds float64

	// SmoothingFrames is the width of the moving average applied to the onset
	// strength envelope. 1 disables smoothing.
	SmoothingFrames int

	// AbsoluteThreshold is the minimum smoothed onset strength for a peak.
	AbsoluteThreshold float64

	// RelativeRatio is the factor by which a peak must exceed the mean of the
	// preceding TrailingFrames smoothed values.
	RelativeRatio float64

	// TrailingFrames is the length of the adaptive threshold window.
	TrailingFrames int

	// MinOnsetSpacing is the minimum distance in seconds between two onsets.
	// Of two closer candidates the stronger survives.
	MinOnsetSpacing float64

	// SemitoneTolerance is the largest pitch jump between consecutive frames
	// that still continues a track.
	SemitoneTolerance float64

	// MinConfidence is the F0 confidence required to extend a track.
	MinConfidence float64

	// MaxGapFrames is the number of consecutive unpitched frames a track may
	// bridge.
	MaxGapFrames int

	// MinTrackFrames is the minimum number of samples a track needs to be
	// reported.
	MinTrackFrames int
}

// DefaultSpectralConfig returns the default detector tuning.
func DefaultSpectralConfig() SpectralConfig {
	return SpectralConfig{
		HopSeconds:        256.0 / 16000.0,
		SmoothingFrames:   3,
		AbsoluteThreshold: 0.05,
		RelativeRatio:     1.5,
		TrailingFrames:    10,
		MinOnsetSpacing:   0.05,
		SemitoneTolerance: 1.0,
		MinConfidence:     0.5,
		MaxGapFrames:      2,
		MinTrackFrames:    3,
	}
}

// Validate returns a joined error wrapping [types.ErrConfiguration] for every
// invalid field.
func (c SpectralConfig) Validate() error {
	var errs []error
	if c.HopSeconds <= 0 {
		errs = append(errs, fmt.Errorf("detect: hop seconds %g must be positive: %w", c.HopSeconds, types.ErrConfiguration))
	}
	if c.SmoothingFrames < 1 {
		errs = append(errs, fmt.Errorf("detect: smoothing frames %d must be at least 1: %w", c.SmoothingFrames, types.ErrConfiguration))
	}
	if c.AbsoluteThreshold < 0 {
		errs = append(errs, fmt.Errorf("detect: absolute threshold %g must not be negative: %w", c.AbsoluteThreshold, types.ErrConfiguration))
	}
	if c.RelativeRatio < 0 {
		errs = append(errs, fmt.Errorf("detect: relative ratio %g must not be negative: %w", c.RelativeRatio, types.ErrConfiguration))
	}
	if c.TrailingFrames < 0 {
		errs = append(errs, fmt.Errorf("detect: trailing frames %d must not be negative: %w", c.TrailingFrames, types.ErrConfiguration))
	}
	if c.MinOnsetSpacing < 0 {
		errs = append(errs, fmt.Errorf("detect: min onset spacing %g must not be negative: %w", c.MinOnsetSpacing, types.ErrConfiguration))
	}
	if c.SemitoneTolerance <= 0 {
		errs = append(errs, fmt.Errorf("detect: semitone tolerance %g must be positive: %w", c.SemitoneTolerance, types.ErrConfiguration))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("detect: min confidence %g outside [0, 1]: %w", c.MinConfidence, types.ErrConfiguration))
	}
	if c.MaxGapFrames < 0 {
		errs = append(errs, fmt.Errorf("detect: max gap frames %d must not be negative: %w", c.MaxGapFrames, types.ErrConfiguration))
	}
	if c.MinTrackFrames < 1 {
		errs = append(errs, fmt.Errorf("detect: min track frames %d must be at least 1: %w", c.MinTrackFrames, types.ErrConfiguration))
	}
	return errors.Join(errs...)
}

// Spectral is the built-in Detector. It picks onsets from the analyzer's
// spectral flux and links frame-level F0 estimates into monophonic pitch
// tracks. It keeps no state between Detect calls.
type Spectral struct {
	cfg    SpectralConfig
	closed atomic.Bool
}

// NewSpectral validates cfg and returns a ready detector.
func NewSpectral(cfg SpectralConfig) (*Spectral, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Spectral{cfg: cfg}, nil
}

// Config returns the detector's configuration.
func (s *Spectral) Config() SpectralConfig {
	return s.cfg
}

// Close marks the detector closed.
func (s *Spectral) Close() error {
	s.closed.Store(true)
	return nil
}

// Detect implements [Detector].
func (s *Spectral) Detect(features iter.Seq[types.FeatureVector]) (Result, error) {
	if s.closed.Load() {
		return Result{}, ErrClosed
	}

	var (
		times     []float64
		strengths []float64
		tracker   = newTracker(s.cfg)
		hop       = s.cfg.HopSeconds
		first     types.FeatureVector
		n         int
	)
	for fv := range features {
		if fv.OnsetStrength < 0 || math.IsNaN(fv.OnsetStrength) {
			return Result{}, fmt.Errorf("detect: frame %d: onset strength %g: %w", fv.FrameIndex, fv.OnsetStrength, types.ErrInternalConsistency)
		}
		switch n {
		case 0:
			first = fv
		case 1:
			if d := fv.FrameIndex - first.FrameIndex; d > 0 && fv.Timestamp > first.Timestamp {
				hop = (fv.Timestamp - first.Timestamp) / float64(d)
			}
		}
		n++
		times = append(times, fv.Timestamp)
		strengths = append(strengths, fv.OnsetStrength)
		tracker.add(fv)
	}

	return Result{
		Onsets: pickOnsets(s.cfg, times, strengths),
		Tracks: tracker.finish(hop),
	}, nil
}

// pickOnsets returns the peaks of the smoothed onset envelope that pass both
// the absolute and the adaptive threshold, thinned to MinOnsetSpacing.
func pickOnsets(cfg SpectralConfig, times, raw []float64) []types.OnsetCandidate {
	smoothed := movingAverage(raw, cfg.SmoothingFrames)
	left, right := windowHalves(cfg.SmoothingFrames)

	var out []types.OnsetCandidate
	for i, v := range smoothed {
		if v <= cfg.AbsoluteThreshold {
			continue
		}
		if i > 0 && v < smoothed[i-1] {
			continue
		}
		if i+1 < len(smoothed) && v <= smoothed[i+1] {
			continue
		}
		if v < cfg.RelativeRatio*trailingMean(smoothed, i, cfg.TrailingFrames) {
			continue
		}

		// The box filter flattens isolated spikes into plateaus; report the
		// strongest raw frame under the window instead of the plateau edge.
		lo, hi := max(0, i-left), min(len(raw)-1, i+right)
		j := lo
		for k := lo + 1; k <= hi; k++ {
			if raw[k] > raw[j] {
				j = k
			}
		}

		cand := types.OnsetCandidate{Timestamp: times[j], Strength: raw[j]}
		if last := len(out) - 1; last >= 0 &&
			(cand.Timestamp <= out[last].Timestamp || cand.Timestamp-out[last].Timestamp < cfg.MinOnsetSpacing) {
			if cand.Strength > out[last].Strength {
				out[last] = cand
			}
			continue
		}
		out = append(out, cand)
	}
	return out
}

// movingAverage smooths xs with a centred window of width. At the edges only
// the available neighbours are averaged.
func movingAverage(xs []float64, width int) []float64 {
	out := make([]float64, len(xs))
	left, right := windowHalves(width)
	for i := range xs {
		lo := max(0, i-left)
		hi := min(len(xs)-1, i+right)
		sum := 0.0
		for _, v := range xs[lo : hi+1] {
			sum += v
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// windowHalves splits a window width into the neighbours taken before and
// after the centre frame.
func windowHalves(width int) (left, right int) {
	return (width - 1) / 2, width / 2
}

// trailingMean is the mean of up to n values before index i, or 0 when there
// are none.
func trailingMean(xs []float64, i, n int) float64 {
	lo := max(0, i-n)
	if lo == i {
		return 0
	}
	sum := 0.0
	for _, v := range xs[lo:i] {
		sum += v
	}
	return sum / float64(i-lo)
}

// tracker links consecutive F0 estimates into pitch tracks.
type tracker struct {
	cfg      SpectralConfig
	cur      []types.PitchSample
	gap      int
	finished [][]types.PitchSample
}

func newTracker(cfg SpectralConfig) *tracker {
	return &tracker{cfg: cfg}
}

func (t *tracker) add(fv types.FeatureVector) {
	if !fv.HasF0 || fv.F0 <= 0 {
		if t.cur != nil {
			t.gap++
			if t.gap > t.cfg.MaxGapFrames {
				t.end()
			}
		}
		return
	}
	if fv.F0Confidence < t.cfg.MinConfidence {
		t.end()
		return
	}
	if t.cur != nil {
		last := t.cur[len(t.cur)-1]
		if math.Abs(semitones(fv.F0)-semitones(last.Frequency)) > t.cfg.SemitoneTolerance {
			t.end()
		}
	}
	t.cur = append(t.cur, types.PitchSample{
		Timestamp:  fv.Timestamp,
		Frequency:  fv.F0,
		Confidence: fv.F0Confidence,
	})
	t.gap = 0
}

func (t *tracker) end() {
	if len(t.cur) >= t.cfg.MinTrackFrames {
		t.finished = append(t.finished, t.cur)
	}
	t.cur = nil
	t.gap = 0
}

func (t *tracker) finish(hop float64) []types.PitchTrack {
	t.end()
	tracks := make([]types.PitchTrack, 0, len(t.finished))
	for _, samples := range t.finished {
		tracks = append(tracks, types.PitchTrack{
			Samples: samples,
			End:     samples[len(samples)-1].Timestamp + hop,
		})
	}
	return tracks
}

// semitones maps a frequency to a fractional MIDI note number.
func semitones(freq float64) float64 {
	return 69 + 12*math.Log2(freq/440)
}

var _ Detector = (*Spectral)(nil)
