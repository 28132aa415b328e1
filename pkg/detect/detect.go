// Package detect defines the Detector interface that turns a stream of
// per-frame features into onset candidates and pitch tracks.
//
// A Detector has an explicit lifecycle: it is loaded by its constructor (for
// the built-in spectral detector, [NewSpectral]) and released with Close. The
// interface exists so that the transcription pipeline can swap the signal
// processing heuristics for a model-backed implementation without touching the
// stages that follow. Test code uses the mock subpackage.
//
// Implementations must be safe for concurrent Detect calls; each call consumes
// its own feature sequence exactly once.
package detect

import (
	"errors"
	"iter"

	"github.com/MrWong99/notescribe/pkg/types"
)

// ErrClosed is returned by Detect after Close has been called.
var ErrClosed = errors.New("detect: detector is closed")

// Result holds everything a detector found in one feature stream.
type Result struct {
	// Onsets are note start candidates in increasing time order.
	Onsets []types.OnsetCandidate

	// Tracks are continuous pitched regions in order of their start time.
	Tracks []types.PitchTrack
}

// Detector converts frame features into onsets and pitch tracks.
type Detector interface {
	// Detect consumes features exactly once, in order. An empty sequence yields
	// an empty Result and a nil error.
	Detect(features iter.Seq[types.FeatureVector]) (Result, error)

	// Close releases any resources held by the detector. Detect calls made
	// after Close fail with ErrClosed. Close is idempotent.
	Close() error
}
