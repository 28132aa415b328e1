// Package decode turns audio container files into the mono [audio.Buffer] the
// transcription pipeline consumes.
//
// WAV, MP3, FLAC and OGG Vorbis are decoded with the gopxl/beep codecs.
// Multi-channel audio is downmixed to mono by averaging; [WithSampleRate]
// additionally resamples the result.
package decode

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"
	"gonum.org/v1/gonum/floats"

	"github.com/MrWong99/notescribe/pkg/audio"
)

var (
	// ErrUnsupportedFormat is returned for file extensions no codec handles.
	ErrUnsupportedFormat = errors.New("decode: unsupported audio format")

	// ErrCorrupt wraps codec failures on data that claims a supported format.
	ErrCorrupt = errors.New("decode: audio data could not be decoded")
)

// chunkFrames is the number of stereo frames pulled from a streamer at once.
const chunkFrames = 4096

type decoderFunc func(io.Reader) (beep.StreamSeekCloser, beep.Format, error)

var decoders = map[string]decoderFunc{
	"wav":  func(r io.Reader) (beep.StreamSeekCloser, beep.Format, error) { return wav.Decode(r) },
	"flac": func(r io.Reader) (beep.StreamSeekCloser, beep.Format, error) { return flac.Decode(r) },
	"mp3":  func(r io.Reader) (beep.StreamSeekCloser, beep.Format, error) { return mp3.Decode(io.NopCloser(r)) },
	"ogg":  func(r io.Reader) (beep.StreamSeekCloser, beep.Format, error) { return vorbis.Decode(io.NopCloser(r)) },
}

// Extensions returns the decodable file extensions, without dots, sorted.
func Extensions() []string {
	exts := make([]string, 0, len(decoders))
	for ext := range decoders {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Supported reports whether ext (with or without a leading dot, any case) can
// be decoded.
func Supported(ext string) bool {
	_, ok := decoders[normalize(ext)]
	return ok
}

// Ext returns the normalised extension of a file name, e.g. "wav" for
// "Take 1.WAV".
func Ext(name string) string {
	return normalize(filepath.Ext(name))
}

func normalize(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

type options struct {
	sampleRate int
}

// Option is a functional option for [File] and [Reader].
type Option func(*options)

// WithSampleRate resamples decoded audio to rate. A non-positive rate keeps
// the native rate.
func WithSampleRate(rate int) Option {
	return func(o *options) {
		o.sampleRate = rate
	}
}

// File decodes the audio file at path, choosing the codec by extension.
func File(path string, opts ...Option) (audio.Buffer, error) {
	ext := Ext(path)
	if !Supported(ext) {
		return audio.Buffer{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("decode: open %q: %w", path, err)
	}
	defer f.Close()
	return Reader(f, ext, opts...)
}

// Reader decodes audio of the format named by ext from r.
func Reader(r io.Reader, ext string, opts ...Option) (audio.Buffer, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	dec, ok := decoders[normalize(ext)]
	if !ok {
		return audio.Buffer{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	s, format, err := dec(r)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, normalize(ext), err)
	}
	defer s.Close()

	if format.SampleRate <= 0 {
		return audio.Buffer{}, fmt.Errorf("%w: %s: sample rate %d", ErrCorrupt, normalize(ext), format.SampleRate)
	}

	var samples []float64
	if n := s.Len(); n > 0 {
		samples = make([]float64, 0, n)
	}
	chunk := make([][2]float64, chunkFrames)
	for {
		n, ok := s.Stream(chunk)
		samples = append(samples, audio.StereoToMono(chunk[:n])...)
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, normalize(ext), err)
	}
	if samples == nil {
		samples = []float64{}
	}
	if normalize(ext) == "wav" {
		if g := wavGain(format.Precision); g != 1 {
			floats.Scale(g, samples)
		}
	}

	buf := audio.Buffer{Samples: samples, SampleRate: int(format.SampleRate)}
	if o.sampleRate > 0 {
		buf = audio.ResampleBuffer(buf, o.sampleRate)
	}
	return buf, nil
}

// wavGain restores full scale for beep's wav decoder, which divides 16- and
// 24-bit PCM by 2^n-1 rather than 2^(n-1). 8-bit data is already full scale.
func wavGain(precision int) float64 {
	switch precision {
	case 2:
		return float64(1<<16-1) / (1 << 15)
	case 3:
		return float64(1<<24-1) / (1 << 23)
	default:
		return 1
	}
}

// WriteWAV encodes buf as a 16-bit mono WAV file.
func WriteWAV(w io.WriteSeeker, buf audio.Buffer) error {
	if buf.SampleRate <= 0 {
		return fmt.Errorf("decode: write wav: sample rate %d must be positive", buf.SampleRate)
	}
	format := beep.Format{
		SampleRate:  beep.SampleRate(buf.SampleRate),
		NumChannels: 1,
		Precision:   2,
	}
	pos := 0
	stream := beep.StreamerFunc(func(frames [][2]float64) (int, bool) {
		if pos >= len(buf.Samples) {
			return 0, false
		}
		n := copyMono(frames, buf.Samples[pos:])
		pos += n
		return n, true
	})
	if err := wav.Encode(w, stream, format); err != nil {
		return fmt.Errorf("decode: write wav: %w", err)
	}
	return nil
}

// copyMono fills frames with samples on both channels and returns the number
// of frames written.
func copyMono(frames [][2]float64, samples []float64) int {
	n := min(len(frames), len(samples))
	for i := range n {
		frames[i] = [2]float64{samples[i], samples[i]}
	}
	return n
}
