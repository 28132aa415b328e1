package decode

import (
	"fmt"
	"io"

	"github.com/MrWong99/notescribe/pkg/audio"
)

// PCMExt is the extension of headerless little-endian 16-bit PCM files. Raw
// PCM carries no sample rate, so it is only read through [PCM] and never
// listed by [Extensions].
const PCMExt = "pcm"

// PCM reads headerless interleaved little-endian int16 PCM from r and
// downmixes it to mono. Odd-length input is reported as [ErrCorrupt].
func PCM(r io.Reader, sampleRate, channels int, opts ...Option) (audio.Buffer, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if sampleRate <= 0 {
		return audio.Buffer{}, fmt.Errorf("decode: pcm sample rate %d must be positive", sampleRate)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("decode: read pcm: %w", err)
	}
	buf, err := audio.FromPCM16(data, sampleRate, channels)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, PCMExt, err)
	}
	if o.sampleRate > 0 {
		buf = audio.ResampleBuffer(buf, o.sampleRate)
	}
	return buf, nil
}

// WritePCM writes buf as headerless mono little-endian int16 PCM.
func WritePCM(w io.Writer, buf audio.Buffer) error {
	if _, err := w.Write(audio.ToPCM16(buf.Samples)); err != nil {
		return fmt.Errorf("decode: write pcm: %w", err)
	}
	return nil
}
