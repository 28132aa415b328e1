package decode_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/MrWong99/notescribe/internal/decode"
	"github.com/MrWong99/notescribe/pkg/audio"
)

func writeTone(t *testing.T, name string, rate int) (string, audio.Buffer) {
	t.Helper()
	buf := audio.Buffer{Samples: audio.Sine(440, 0.25, 0.5, rate), SampleRate: rate}
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := decode.WriteWAV(f, buf); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	return path, buf
}

func TestFile_WAVRoundTrip(t *testing.T) {
	t.Parallel()

	path, want := writeTone(t, "tone.wav", 16000)
	got, err := decode.File(path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if got.SampleRate != want.SampleRate {
		t.Errorf("SampleRate = %d, want %d", got.SampleRate, want.SampleRate)
	}
	if len(got.Samples) != len(want.Samples) {
		t.Fatalf("len(Samples) = %d, want %d", len(got.Samples), len(want.Samples))
	}
	// 16-bit quantisation error is bounded by one LSB.
	for i := range got.Samples {
		if d := math.Abs(got.Samples[i] - want.Samples[i]); d > 1.0/16384 {
			t.Fatalf("sample %d = %f, want %f", i, got.Samples[i], want.Samples[i])
		}
	}
}

// pcmWAV builds a mono PCM WAV file holding data at the given bit depth.
func pcmWAV(bits int, data []byte) []byte {
	var b bytes.Buffer
	le := func(v any) { _ = binary.Write(&b, binary.LittleEndian, v) }
	b.WriteString("RIFF")
	le(uint32(36 + len(data)))
	b.WriteString("WAVEfmt ")
	le(uint32(16))
	le(uint16(1)) // PCM
	le(uint16(1)) // mono
	le(uint32(8000))
	le(uint32(8000 * bits / 8))
	le(uint16(bits / 8))
	le(uint16(bits))
	b.WriteString("data")
	le(uint32(len(data)))
	b.Write(data)
	return b.Bytes()
}

func TestReader_WAVFullScale(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		bits int
		data []byte
	}{
		// 0.5, -1, 0
		{"16-bit", 16, []byte{0x00, 0x40, 0x00, 0x80, 0x00, 0x00}},
		{"24-bit", 24, []byte{0x00, 0x00, 0x40, 0x00, 0x00, 0x80, 0x00, 0x00, 0x00}},
	}
	want := []float64{0.5, -1, 0}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := decode.Reader(bytes.NewReader(pcmWAV(tt.bits, tt.data)), "wav")
			if err != nil {
				t.Fatalf("Reader: %v", err)
			}
			if len(got.Samples) != len(want) {
				t.Fatalf("len(Samples) = %d, want %d", len(got.Samples), len(want))
			}
			for i := range want {
				if d := math.Abs(got.Samples[i] - want[i]); d > 1e-9 {
					t.Errorf("sample %d = %g, want %g", i, got.Samples[i], want[i])
				}
			}
		})
	}
}

func TestFile_UppercaseExtension(t *testing.T) {
	t.Parallel()

	path, want := writeTone(t, "Take 1.WAV", 8000)
	got, err := decode.File(path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if len(got.Samples) != len(want.Samples) {
		t.Errorf("len(Samples) = %d, want %d", len(got.Samples), len(want.Samples))
	}
}

func TestFile_WithSampleRate(t *testing.T) {
	t.Parallel()

	path, want := writeTone(t, "tone.wav", 32000)
	got, err := decode.File(path, decode.WithSampleRate(16000))
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if got.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", got.SampleRate)
	}
	if d := got.Duration() - want.Duration(); d < -1e6 || d > 1e6 {
		t.Errorf("Duration = %s, want ~%s", got.Duration(), want.Duration())
	}
}

func TestFile_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := decode.File(filepath.Join(t.TempDir(), "notes.txt"))
	if !errors.Is(err, decode.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := decode.File(filepath.Join(t.TempDir(), "missing.wav"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}

func TestReader_Garbage(t *testing.T) {
	t.Parallel()

	for _, ext := range []string{"wav", "flac"} {
		t.Run(ext, func(t *testing.T) {
			t.Parallel()
			_, err := decode.Reader(bytes.NewReader([]byte("definitely not audio data")), ext)
			if !errors.Is(err, decode.ErrCorrupt) {
				t.Errorf("err = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestReader_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	_, err := decode.Reader(bytes.NewReader(nil), "aiff")
	if !errors.Is(err, decode.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestWriteWAV_InvalidRate(t *testing.T) {
	t.Parallel()

	f, err := os.Create(filepath.Join(t.TempDir(), "bad.wav"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := decode.WriteWAV(f, audio.Buffer{Samples: []float64{0}}); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestSupported(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ext  string
		want bool
	}{
		{"wav", true},
		{".wav", true},
		{"WAV", true},
		{"mp3", true},
		{".FLAC", true},
		{"ogg", true},
		{"aiff", false},
		{"", false},
		{"mid", false},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			t.Parallel()
			if got := decode.Supported(tt.ext); got != tt.want {
				t.Errorf("Supported(%q) = %v, want %v", tt.ext, got, tt.want)
			}
		})
	}
}

func TestExtensions(t *testing.T) {
	t.Parallel()

	want := []string{"flac", "mp3", "ogg", "wav"}
	if got := decode.Extensions(); !slices.Equal(got, want) {
		t.Errorf("Extensions() = %v, want %v", got, want)
	}
}

func TestExt(t *testing.T) {
	t.Parallel()

	if got := decode.Ext("/tmp/Take 1.MP3"); got != "mp3" {
		t.Errorf("Ext = %q, want mp3", got)
	}
	if got := decode.Ext("noext"); got != "" {
		t.Errorf("Ext = %q, want empty", got)
	}
}
