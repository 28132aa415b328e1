// Package audio holds the decoded audio buffer handed to the transcription
// pipeline plus the PCM conversion and tone synthesis helpers used by the
// decoding collaborators and tests.
package audio

import (
	"fmt"
	"time"
)

// Buffer is a mono sequence of floating-point samples at a known sample rate.
// Once handed to the pipeline it is treated as immutable; the caller owns it
// and the core only borrows it read-only.
type Buffer struct {
	// Samples holds mono samples, nominally in [-1, 1].
	Samples []float64

	// SampleRate in Hz (e.g., 16000 for the default analysis path).
	SampleRate int
}

// Duration returns the playback length of the buffer. A buffer with a
// non-positive sample rate reports zero.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// Seconds returns the playback length in seconds.
func (b Buffer) Seconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// String returns a human-readable description, e.g. "16000Hz mono 1.50s".
func (b Buffer) String() string {
	return fmt.Sprintf("%s %.2fs", formatString(b.SampleRate, 1), b.Seconds())
}
