package analysis_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/notescribe/pkg/analysis"
	"github.com/MrWong99/notescribe/pkg/audio"
	"github.com/MrWong99/notescribe/pkg/types"
)

const testRate = 16000

func mustAnalyzer(t *testing.T, cfg analysis.Config) *analysis.Analyzer {
	t.Helper()
	a, err := analysis.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func collect(t *testing.T, a *analysis.Analyzer, buf audio.Buffer) []types.FeatureVector {
	t.Helper()
	s, err := a.Analyze(buf)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	out, err := analysis.Collect(s)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*analysis.Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*analysis.Config) {}},
		{name: "zero frame size", mutate: func(c *analysis.Config) { c.FrameSize = 0 }, wantErr: true},
		{name: "zero hop", mutate: func(c *analysis.Config) { c.HopSize = 0 }, wantErr: true},
		{name: "hop exceeds frame", mutate: func(c *analysis.Config) { c.HopSize = c.FrameSize + 1 }, wantErr: true},
		{name: "inverted range", mutate: func(c *analysis.Config) { c.MinFrequency = 3000 }, wantErr: true},
		{name: "negative floor", mutate: func(c *analysis.Config) { c.EnergyFloor = -1 }, wantErr: true},
		{name: "negative batch", mutate: func(c *analysis.Config) { c.BatchFrames = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := analysis.DefaultConfig()
			tt.mutate(&cfg)
			_, err := analysis.New(cfg)
			if tt.wantErr {
				if !errors.Is(err, types.ErrConfiguration) {
					t.Fatalf("New error = %v, want ErrConfiguration", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
		})
	}
}

func TestAnalyze_InvalidSampleRate(t *testing.T) {
	t.Parallel()
	a := mustAnalyzer(t, analysis.DefaultConfig())
	_, err := a.Analyze(audio.Buffer{Samples: []float64{0, 0}, SampleRate: 0})
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
}

func TestAnalyze_UnusablePitchRange(t *testing.T) {
	t.Parallel()
	a := mustAnalyzer(t, analysis.DefaultConfig())
	// At 100 Hz the shortest lag already exceeds half the frame.
	_, err := a.Analyze(audio.Buffer{Samples: []float64{0}, SampleRate: 100})
	if !errors.Is(err, types.ErrConfiguration) {
		t.Fatalf("error = %v, want ErrConfiguration", err)
	}
}

func TestAnalyze_Empty(t *testing.T) {
	t.Parallel()
	a := mustAnalyzer(t, analysis.DefaultConfig())
	got := collect(t, a, audio.Buffer{Samples: []float64{}, SampleRate: testRate})
	if len(got) != 0 {
		t.Fatalf("got %d frames, want 0", len(got))
	}
}

func TestAnalyze_FrameCountAndTimestamps(t *testing.T) {
	t.Parallel()
	a := mustAnalyzer(t, analysis.DefaultConfig())

	tests := []struct {
		samples int
		want    int
	}{
		{samples: 1, want: 1},
		{samples: 256, want: 1},
		{samples: 257, want: 2},
		{samples: 16000, want: 63},
	}
	for _, tt := range tests {
		got := collect(t, a, audio.Buffer{Samples: make([]float64, tt.samples), SampleRate: testRate})
		if len(got) != tt.want {
			t.Errorf("%d samples: got %d frames, want %d", tt.samples, len(got), tt.want)
			continue
		}
		for i, fv := range got {
			if fv.FrameIndex != i {
				t.Errorf("frame %d: FrameIndex = %d", i, fv.FrameIndex)
			}
			if want := float64(i*256) / testRate; fv.Timestamp != want {
				t.Errorf("frame %d: Timestamp = %v, want %v", i, fv.Timestamp, want)
			}
			if len(fv.Magnitude) != 513 {
				t.Errorf("frame %d: %d bins, want 513", i, len(fv.Magnitude))
			}
		}
	}
}

func TestAnalyze_SinePitch(t *testing.T) {
	t.Parallel()
	a := mustAnalyzer(t, analysis.DefaultConfig())

	for _, freq := range []float64{110, 220, 440, 880} {
		buf := audio.Buffer{Samples: audio.Sine(freq, 0.5, 0.5, testRate), SampleRate: testRate}
		got := collect(t, a, buf)
		fv := got[5]
		if !fv.HasF0 {
			t.Errorf("%v Hz: frame 5 has no F0", freq)
			continue
		}
		if math.Abs(fv.F0-freq)/freq > 0.01 {
			t.Errorf("%v Hz: F0 = %v", freq, fv.F0)
		}
		if fv.F0Confidence < 0.9 {
			t.Errorf("%v Hz: confidence = %v, want >= 0.9", freq, fv.F0Confidence)
		}
	}
}

func TestAnalyze_SilenceHasNoPitch(t *testing.T) {
	t.Parallel()
	a := mustAnalyzer(t, analysis.DefaultConfig())
	got := collect(t, a, audio.Buffer{Samples: audio.Silence(0.25, testRate), SampleRate: testRate})
	for _, fv := range got {
		if fv.HasF0 {
			t.Errorf("frame %d: unexpected F0 %v", fv.FrameIndex, fv.F0)
		}
		if fv.OnsetStrength != 0 {
			t.Errorf("frame %d: onset strength %v, want 0", fv.FrameIndex, fv.OnsetStrength)
		}
	}
}

func TestAnalyze_OnsetStrengthPeaksAtAttack(t *testing.T) {
	t.Parallel()
	a := mustAnalyzer(t, analysis.DefaultConfig())
	samples := audio.Concat(
		audio.Sine(440, 1, 0.5, testRate),
		audio.Silence(0.5, testRate),
	)
	got := collect(t, a, audio.Buffer{Samples: samples, SampleRate: testRate})

	first := got[0].OnsetStrength
	if first < 0.5 {
		t.Fatalf("attack onset strength = %v, want >= 0.5", first)
	}
	for _, fv := range got[5:] {
		if fv.OnsetStrength > first/4 {
			t.Errorf("frame %d: onset strength %v too close to attack %v", fv.FrameIndex, fv.OnsetStrength, first)
		}
	}
}

func TestAnalyze_DeterministicAcrossWorkers(t *testing.T) {
	t.Parallel()
	samples := audio.Concat(
		audio.Sine(330, 0.3, 0.4, testRate),
		audio.Silence(0.05, testRate),
		audio.Sine(660, 0.3, 0.4, testRate),
	)
	buf := audio.Buffer{Samples: samples, SampleRate: testRate}

	serialCfg := analysis.DefaultConfig()
	serialCfg.Workers = 1
	serialCfg.BatchFrames = 7
	parallelCfg := analysis.DefaultConfig()
	parallelCfg.Workers = 8

	serial := collect(t, mustAnalyzer(t, serialCfg), buf)
	parallel := collect(t, mustAnalyzer(t, parallelCfg), buf)
	if len(serial) != len(parallel) {
		t.Fatalf("frame counts differ: %d vs %d", len(serial), len(parallel))
	}
	for i := range serial {
		s, p := serial[i], parallel[i]
		if s.F0 != p.F0 || s.HasF0 != p.HasF0 || s.Energy != p.Energy || s.OnsetStrength != p.OnsetStrength {
			t.Fatalf("frame %d differs: %+v vs %+v", i, s, p)
		}
	}
}

func TestStream_SingleUse(t *testing.T) {
	t.Parallel()
	a := mustAnalyzer(t, analysis.DefaultConfig())
	s, err := a.Analyze(audio.Buffer{Samples: make([]float64, 1024), SampleRate: testRate})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if s.Len() != 4 {
		t.Fatalf("Len = %d, want 4", s.Len())
	}
	n := 0
	for range s.All() {
		n++
	}
	if n != 4 {
		t.Fatalf("first pass yielded %d frames, want 4", n)
	}
	for range s.All() {
		t.Fatal("second pass yielded a frame")
	}
	if _, ok := s.Next(); ok {
		t.Fatal("Next after exhaustion returned ok")
	}
}

func TestHopSeconds(t *testing.T) {
	t.Parallel()
	a := mustAnalyzer(t, analysis.DefaultConfig())
	if got := a.HopSeconds(16000); got != 0.016 {
		t.Errorf("HopSeconds(16000) = %v, want 0.016", got)
	}
	if got := a.HopSeconds(0); got != 0 {
		t.Errorf("HopSeconds(0) = %v, want 0", got)
	}
}
