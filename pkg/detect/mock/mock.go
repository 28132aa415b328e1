// Package mock provides a test double for the detect.Detector interface.
//
// Use Detector to feed fixed onsets and pitch tracks into the later pipeline
// stages and to verify which features the pipeline produced.
//
// Example:
//
//	d := &mock.Detector{
//	    DetectResult: detect.Result{Onsets: []types.OnsetCandidate{{Timestamp: 0, Strength: 1}}},
//	}
//	res, _ := d.Detect(stream.All())
package mock

import (
	"iter"
	"sync"

	"github.com/MrWong99/notescribe/pkg/detect"
	"github.com/MrWong99/notescribe/pkg/types"
)

// DetectCall records a single invocation of Detect.
type DetectCall struct {
	// Features holds every feature vector drained from the sequence passed to
	// Detect.
	Features []types.FeatureVector
}

// Detector is a mock implementation of detect.Detector.
type Detector struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// DetectResult is returned by Detect.
	DetectResult detect.Result

	// DetectErr, if non-nil, is returned as the error from Detect.
	DetectErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// DetectPanic, if non-nil, makes Detect panic with this value after
	// recording the call.
	DetectPanic any

	// Block, if non-nil, makes Detect wait until it is closed after draining
	// the features.
	Block <-chan struct{}

	// --- Call records ---

	// DetectCalls records every call to Detect in order.
	DetectCalls []DetectCall

	// CloseCalls counts calls to Close.
	CloseCalls int
}

// Detect drains features, records the call and returns DetectResult,
// DetectErr.
func (d *Detector) Detect(features iter.Seq[types.FeatureVector]) (detect.Result, error) {
	var drained []types.FeatureVector
	for fv := range features {
		drained = append(drained, fv)
	}
	if d.Block != nil {
		<-d.Block
	}

	d.mu.Lock()
	d.DetectCalls = append(d.DetectCalls, DetectCall{Features: drained})
	res, err, p := d.DetectResult, d.DetectErr, d.DetectPanic
	d.mu.Unlock()
	if p != nil {
		panic(p)
	}
	return res, err
}

// Close records the call and returns CloseErr.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCalls++
	return d.CloseErr
}

// CallCount returns the number of Detect calls so far. Thread-safe.
func (d *Detector) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DetectCalls)
}

// CloseCount returns the number of Close calls so far. Thread-safe.
func (d *Detector) CloseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CloseCalls
}

// Reset clears all recorded calls. Thread-safe.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectCalls = nil
	d.CloseCalls = 0
}

// Ensure Detector implements detect.Detector at compile time.
var _ detect.Detector = (*Detector)(nil)
