package analysis

import (
	"fmt"
	"iter"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/notescribe/pkg/types"
)

// Stream is a finite, non-restartable sequence of feature vectors in
// increasing frame order. Each vector is emitted exactly once. A Stream must
// not be shared between goroutines.
type Stream struct {
	a          *Analyzer
	samples    []float64
	sampleRate int
	numFrames  int
	lagMin     int
	lagMax     int

	next       int
	batch      []frameResult
	batchStart int

	prevMag    []float64
	prevEnergy float64

	err error
}

// Len returns the total number of frames the stream will emit.
func (s *Stream) Len() int {
	return s.numFrames
}

// Next returns the next feature vector. ok is false once the stream is
// exhausted or an error occurred; check [Stream.Err] afterwards.
func (s *Stream) Next() (fv types.FeatureVector, ok bool) {
	if s.err != nil || s.next >= s.numFrames {
		return types.FeatureVector{}, false
	}
	if s.batch == nil || s.next >= s.batchStart+len(s.batch) {
		if err := s.computeBatch(s.next); err != nil {
			s.err = err
			return types.FeatureVector{}, false
		}
	}

	i := s.next
	r := s.batch[i-s.batchStart]
	s.batch[i-s.batchStart] = frameResult{}

	flux := 0.0
	if r.energy > s.prevEnergy {
		for k, m := range r.magnitude {
			prev := 0.0
			if s.prevMag != nil {
				prev = s.prevMag[k]
			}
			if d := m - prev; d > 0 {
				flux += d
			}
		}
	}
	s.prevMag = r.magnitude
	s.prevEnergy = r.energy
	s.next++

	return types.FeatureVector{
		FrameIndex:    i,
		Timestamp:     float64(i*s.a.cfg.HopSize) / float64(s.sampleRate),
		Magnitude:     r.magnitude,
		F0:            r.f0,
		HasF0:         r.hasF0,
		F0Confidence:  r.confidence,
		Energy:        r.energy,
		OnsetStrength: flux,
	}, true
}

// All returns an iterator over the remaining feature vectors. Because the
// stream is single-use, ranging over it a second time yields nothing.
func (s *Stream) All() iter.Seq[types.FeatureVector] {
	return func(yield func(types.FeatureVector) bool) {
		for {
			fv, ok := s.Next()
			if !ok || !yield(fv) {
				return
			}
		}
	}
}

// Err returns the first error encountered while computing frames.
func (s *Stream) Err() error {
	return s.err
}

// Collect drains s into a slice.
func Collect(s *Stream) ([]types.FeatureVector, error) {
	out := make([]types.FeatureVector, 0, s.Len())
	for fv := range s.All() {
		out = append(out, fv)
	}
	return out, s.Err()
}

// computeBatch fills s.batch with the frames starting at first. Every worker
// writes only its own slot, so the batch order equals frame order regardless
// of completion order.
func (s *Stream) computeBatch(first int) error {
	size := min(s.a.cfg.BatchFrames, s.numFrames-first)
	results := make([]frameResult, size)

	workers := s.a.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for j := range size {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("analysis: frame %d: %v: %w", first+j, r, types.ErrInternalConsistency)
				}
			}()
			start := (first + j) * s.a.cfg.HopSize
			results[j] = s.a.analyzeFrame(s.samples, start, s.sampleRate, s.lagMin, s.lagMax)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.batch = results
	s.batchStart = first
	return nil
}
