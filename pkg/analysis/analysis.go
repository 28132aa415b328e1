// Package analysis implements the frame analyzer: it slices a mono audio
// buffer into overlapping frames and computes one [types.FeatureVector] per
// frame.
//
// Each frame is Hann-windowed and transformed with a real FFT to obtain a
// normalised magnitude spectrum. The fundamental frequency is estimated with
// the McLeod normalised square difference function (NSDF), computed through
// an FFT autocorrelation, and reported as absent for frames whose RMS falls
// below [Config.EnergyFloor]. Onset strength is the half-wave rectified
// spectral flux against the previous frame, gated on rising frame energy so
// that note releases never register as onsets.
//
// Spectra and pitch estimates for a batch of frames are computed in parallel;
// flux is derived sequentially while frames are emitted, so the output never
// depends on goroutine scheduling.
//
// Usage:
//
//	a, err := analysis.New(analysis.DefaultConfig())
//	stream, err := a.Analyze(buf)
//	for fv := range stream.All() {
//	    ...
//	}
//	if err := stream.Err(); err != nil { ... }
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/floats"

	"github.com/MrWong99/notescribe/pkg/audio"
	"github.com/MrWong99/notescribe/pkg/types"
)

const (
	defaultFrameSize    = 1024
	defaultHopSize      = 256
	defaultMinFrequency = 50.0
	defaultMaxFrequency = 2000.0
	defaultEnergyFloor  = 0.01
	defaultBatchFrames  = 64

	// keyMaximumThreshold is the fraction of the highest NSDF key maximum a
	// candidate must reach to be chosen as the pitch period.
	keyMaximumThreshold = 0.9
)

// Config controls frame slicing and per-frame feature extraction.
type Config struct {
	// FrameSize is the analysis window length in samples. Must be positive.
	FrameSize int

	// HopSize is the distance between consecutive frame starts in samples.
	// Must be positive and <= FrameSize.
	HopSize int

	// MinFrequency and MaxFrequency bound the F0 search range in Hz.
	MinFrequency float64
	MaxFrequency float64

	// EnergyFloor is the frame RMS below which F0 is reported absent.
	EnergyFloor float64

	// Workers bounds the goroutines computing spectra in parallel.
	// Zero or negative means GOMAXPROCS.
	Workers int

	// BatchFrames is the number of frames computed per parallel batch.
	// Zero means the default of 64.
	BatchFrames int
}

// DefaultConfig returns the analyzer defaults: 1024-sample frames with a
// 256-sample hop, a 50–2000 Hz pitch range and an RMS floor of 0.01.
func DefaultConfig() Config {
	return Config{
		FrameSize:    defaultFrameSize,
		HopSize:      defaultHopSize,
		MinFrequency: defaultMinFrequency,
		MaxFrequency: defaultMaxFrequency,
		EnergyFloor:  defaultEnergyFloor,
		BatchFrames:  defaultBatchFrames,
	}
}

// Validate checks c and returns a joined error wrapping
// [types.ErrConfiguration] for every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("analysis: frame size %d must be positive: %w", c.FrameSize, types.ErrConfiguration))
	}
	if c.HopSize <= 0 {
		errs = append(errs, fmt.Errorf("analysis: hop size %d must be positive: %w", c.HopSize, types.ErrConfiguration))
	} else if c.FrameSize > 0 && c.HopSize > c.FrameSize {
		errs = append(errs, fmt.Errorf("analysis: hop size %d exceeds frame size %d: %w", c.HopSize, c.FrameSize, types.ErrConfiguration))
	}
	if c.MinFrequency <= 0 || c.MaxFrequency <= c.MinFrequency {
		errs = append(errs, fmt.Errorf("analysis: frequency range [%g, %g] is invalid: %w", c.MinFrequency, c.MaxFrequency, types.ErrConfiguration))
	}
	if c.EnergyFloor < 0 {
		errs = append(errs, fmt.Errorf("analysis: energy floor %g must not be negative: %w", c.EnergyFloor, types.ErrConfiguration))
	}
	if c.BatchFrames < 0 {
		errs = append(errs, fmt.Errorf("analysis: batch frames %d must not be negative: %w", c.BatchFrames, types.ErrConfiguration))
	}
	return errors.Join(errs...)
}

// Analyzer computes feature vectors. It holds only immutable state and is
// safe for concurrent use by multiple Analyze calls.
type Analyzer struct {
	cfg  Config
	win  []float64
	norm float64
}

// New validates cfg and precomputes the analysis window.
func New(cfg Config) (*Analyzer, error) {
	if cfg.BatchFrames == 0 {
		cfg.BatchFrames = defaultBatchFrames
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	win := window.Hann(cfg.FrameSize)
	sum := floats.Sum(win)
	norm := 0.0
	if sum > 0 {
		norm = 2 / sum
	}
	return &Analyzer{cfg: cfg, win: win, norm: norm}, nil
}

// Config returns the analyzer's effective configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// HopSeconds returns the frame hop duration at sampleRate.
func (a *Analyzer) HopSeconds(sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(a.cfg.HopSize) / float64(sampleRate)
}

// Analyze returns a lazy, single-use [Stream] over buf's frames. An empty
// buffer yields an empty stream. A non-positive sample rate, or a sample rate
// for which the configured pitch range leaves no usable lag, fails with
// [types.ErrInvalidInput] or [types.ErrConfiguration] respectively.
func (a *Analyzer) Analyze(buf audio.Buffer) (*Stream, error) {
	if buf.SampleRate <= 0 {
		return nil, fmt.Errorf("analysis: sample rate %d must be positive: %w", buf.SampleRate, types.ErrInvalidInput)
	}
	lagMin := int(math.Floor(float64(buf.SampleRate) / a.cfg.MaxFrequency))
	lagMin = max(lagMin, 2)
	lagMax := int(math.Ceil(float64(buf.SampleRate) / a.cfg.MinFrequency))
	lagMax = min(lagMax, a.cfg.FrameSize/2)
	if lagMin+1 >= lagMax {
		return nil, fmt.Errorf("analysis: pitch range [%g, %g] Hz unusable at %d Hz with frame size %d: %w",
			a.cfg.MinFrequency, a.cfg.MaxFrequency, buf.SampleRate, a.cfg.FrameSize, types.ErrConfiguration)
	}

	numFrames := 0
	if n := len(buf.Samples); n > 0 {
		numFrames = (n + a.cfg.HopSize - 1) / a.cfg.HopSize
	}
	return &Stream{
		a:          a,
		samples:    buf.Samples,
		sampleRate: buf.SampleRate,
		numFrames:  numFrames,
		lagMin:     lagMin,
		lagMax:     lagMax,
	}, nil
}

// frameResult holds the order-independent part of a frame's features.
type frameResult struct {
	magnitude  []float64
	energy     float64
	f0         float64
	confidence float64
	hasF0      bool
}

// analyzeFrame computes spectrum, energy and F0 for the frame starting at
// start. Samples past the end of the buffer are zero.
func (a *Analyzer) analyzeFrame(samples []float64, start, sampleRate, lagMin, lagMax int) frameResult {
	n := a.cfg.FrameSize
	frame := make([]float64, n)
	copy(frame, samples[start:min(start+n, len(samples))])

	var sumSq, energy float64
	windowed := make([]float64, n)
	for i, v := range frame {
		sumSq += v * v
		w := v * a.win[i]
		windowed[i] = w
		energy += w * w
	}

	spec := fft.FFTReal(windowed)
	mag := make([]float64, n/2+1)
	for k := range mag {
		mag[k] = cmplx.Abs(spec[k]) * a.norm
	}

	res := frameResult{magnitude: mag, energy: energy}
	if math.Sqrt(sumSq/float64(n)) < a.cfg.EnergyFloor {
		return res
	}
	if tau, clarity, ok := nsdfPeak(frame, lagMin, lagMax); ok {
		res.f0 = float64(sampleRate) / tau
		res.confidence = clarity
		res.hasF0 = true
	}
	return res
}

// nsdfPeak returns the refined pitch period (in samples) and its clarity using
// the McLeod pitch method. ok is false when no key maximum lies within
// (lagMin, lagMax).
func nsdfPeak(frame []float64, lagMin, lagMax int) (tau, clarity float64, ok bool) {
	n := len(frame)

	// Autocorrelation via FFT with zero padding to avoid circular wrap.
	padded := make([]float64, 2*n)
	copy(padded, frame)
	spec := fft.FFTReal(padded)
	for i, c := range spec {
		spec[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	acf := fft.IFFT(spec)

	limit := min(lagMax+2, n)
	nsdf := make([]float64, limit)
	m := 0.0
	for _, v := range frame {
		m += 2 * v * v
	}
	for t := 0; t < limit; t++ {
		if t > 0 {
			m -= frame[t-1]*frame[t-1] + frame[n-t]*frame[n-t]
		}
		if m > 1e-12 {
			nsdf[t] = 2 * real(acf[t]) / m
		}
	}

	// Key maxima: the highest point of each positive region after the first
	// negative-going zero crossing.
	type keyMax struct {
		pos int
		val float64
	}
	var peaks []keyMax
	t := 1
	for t < limit && nsdf[t] > 0 {
		t++
	}
	for t < limit-1 {
		for t < limit-1 && nsdf[t] <= 0 {
			t++
		}
		best := -1
		for t < limit-1 && nsdf[t] > 0 {
			if best < 0 || nsdf[t] > nsdf[best] {
				best = t
			}
			t++
		}
		if best >= lagMin && best < lagMax && nsdf[best] >= nsdf[best-1] && nsdf[best] >= nsdf[best+1] {
			peaks = append(peaks, keyMax{pos: best, val: nsdf[best]})
		}
	}
	if len(peaks) == 0 {
		return 0, 0, false
	}

	highest := 0.0
	for _, p := range peaks {
		highest = max(highest, p.val)
	}
	chosen := peaks[0]
	for _, p := range peaks {
		if p.val >= keyMaximumThreshold*highest {
			chosen = p
			break
		}
	}

	// Parabolic refinement around the chosen lag.
	y0, y1, y2 := nsdf[chosen.pos-1], nsdf[chosen.pos], nsdf[chosen.pos+1]
	denom := y0 - 2*y1 + y2
	delta := 0.0
	if denom != 0 {
		delta = 0.5 * (y0 - y2) / denom
	}
	clarity = y1 - 0.25*(y0-y2)*delta
	clarity = math.Min(math.Max(clarity, 0), 1)
	return float64(chosen.pos) + delta, clarity, true
}
