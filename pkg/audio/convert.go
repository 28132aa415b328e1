package audio

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrOddByteCount is returned when 16-bit PCM data is not aligned to whole
// samples.
var ErrOddByteCount = errors.New("audio: odd byte count in 16-bit PCM data")

// int16Scale maps int16 PCM onto [-1, 1).
const int16Scale = 32768.0

// FromPCM16 decodes interleaved little-endian int16 PCM into a mono [Buffer],
// averaging channels when channels > 1. Trailing bytes that do not form a
// whole frame are dropped with a warning.
func FromPCM16(pcm []byte, sampleRate, channels int) (Buffer, error) {
	if len(pcm)%2 != 0 {
		return Buffer{}, fmt.Errorf("%w: %d bytes", ErrOddByteCount, len(pcm))
	}
	if channels <= 0 {
		return Buffer{}, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	if rest := len(pcm) % frameBytes; rest != 0 {
		slog.Warn("audio: dropping partial PCM frame",
			"bytes", rest,
			"channels", channels,
		)
	}

	out := make([]float64, frames)
	for i := range frames {
		var sum float64
		for c := range channels {
			off := i*frameBytes + c*2
			s := int16(pcm[off]) | int16(pcm[off+1])<<8
			sum += float64(s) / int16Scale
		}
		out[i] = sum / float64(channels)
	}
	return Buffer{Samples: out, SampleRate: sampleRate}, nil
}

// ToPCM16 encodes mono float samples as little-endian int16 PCM, clamping to
// the int16 range.
func ToPCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		s := v * int16Scale
		// Clamp to int16 range.
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		iv := int16(s)
		out[i*2] = byte(iv)
		out[i*2+1] = byte(iv >> 8)
	}
	return out
}

// StereoToMono averages L+R per stereo frame. Decoders that yield [2]float64
// frames (e.g. beep streamers) use it to produce the pipeline's mono input.
func StereoToMono(frames [][2]float64) []float64 {
	out := make([]float64, len(frames))
	for i, f := range frames {
		out[i] = (f[0] + f[1]) / 2
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, or either rate is non-positive, the
// input is returned unchanged.
func Resample(samples []float64, srcRate, dstRate int) []float64 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstSamples := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return []float64{}
	}

	out := make([]float64, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// ResampleBuffer returns b converted to dstRate. The input is not modified.
func ResampleBuffer(b Buffer, dstRate int) Buffer {
	if b.SampleRate == dstRate {
		return b
	}
	if b.SampleRate > 0 && dstRate > 0 {
		slog.Debug("audio: resampling",
			"from", formatString(b.SampleRate, 1),
			"to", formatString(dstRate, 1),
		)
	}
	return Buffer{Samples: Resample(b.Samples, b.SampleRate, dstRate), SampleRate: dstRate}
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
