package resilience

import (
	"errors"
	"iter"
	"slices"
	"sync/atomic"

	"github.com/MrWong99/notescribe/pkg/detect"
	"github.com/MrWong99/notescribe/pkg/types"
)

// DetectorFallback implements [detect.Detector] by failing over across several
// detectors, each behind its own circuit breaker.
//
// The feature stream is single-use, so Detect buffers it once and replays the
// same frames to every detector it tries.
type DetectorFallback struct {
	group  *FallbackGroup[detect.Detector]
	closed atomic.Bool
}

// Compile-time interface assertion.
var _ detect.Detector = (*DetectorFallback)(nil)

// NewDetectorFallback creates a [DetectorFallback] preferring primary. It
// takes ownership of every detector added to it.
func NewDetectorFallback(primaryName string, primary detect.Detector, cfg CircuitBreakerConfig) *DetectorFallback {
	return &DetectorFallback{group: NewFallbackGroup(primaryName, primary, cfg)}
}

// AddFallback registers d to be tried after the detectors added before it.
func (f *DetectorFallback) AddFallback(name string, d detect.Detector) {
	f.group.AddFallback(name, d)
}

// States returns the breaker state of every detector keyed by name.
func (f *DetectorFallback) States() map[string]State {
	return f.group.States()
}

// Detect runs the first healthy detector over features.
func (f *DetectorFallback) Detect(features iter.Seq[types.FeatureVector]) (detect.Result, error) {
	if f.closed.Load() {
		return detect.Result{}, detect.ErrClosed
	}
	frames := slices.Collect(features)
	return ExecuteWithResult(f.group, func(d detect.Detector) (detect.Result, error) {
		return d.Detect(slices.Values(frames))
	})
}

// Close closes every detector. It is idempotent.
func (f *DetectorFallback) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	var errs []error
	f.group.Each(func(_ string, d detect.Detector) {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}
