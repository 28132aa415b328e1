package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/notescribe/internal/decode"
	"github.com/MrWong99/notescribe/pkg/audio"
)

var (
	toneFreqs     []float64
	toneDuration  float64
	toneGap       float64
	toneAmplitude float64
	toneRate      int
	toneOut       string
)

func newToneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tone",
		Short: "Synthesize a test tone as a WAV file",
		Long: `Write a mono 16-bit WAV file of pure sine tones, one after another,
separated by silence. Useful for trying out the transcription pipeline.
An --out name ending in .pcm writes headerless 16-bit PCM instead.

Examples:
  notescribe tone --freq 440 --duration 1 --out a4.wav
  notescribe tone --freq 261.63,329.63,392 --duration 0.5 --gap 0.1 --out arpeggio.wav`,
		Args: cobra.NoArgs,
		RunE: runTone,
	}
	cmd.Flags().Float64SliceVarP(&toneFreqs, "freq", "f", []float64{440}, "Tone frequencies in Hz, played in order")
	cmd.Flags().Float64VarP(&toneDuration, "duration", "d", 1, "Duration of each tone in seconds")
	cmd.Flags().Float64Var(&toneGap, "gap", 0.1, "Silence between tones in seconds")
	cmd.Flags().Float64Var(&toneAmplitude, "amplitude", 0.5, "Peak amplitude (0, 1]")
	cmd.Flags().IntVar(&toneRate, "rate", 16000, "Sample rate in Hz")
	cmd.Flags().StringVarP(&toneOut, "out", "o", "tone.wav", "Output WAV file")
	return cmd
}

func runTone(cmd *cobra.Command, _ []string) error {
	switch {
	case len(toneFreqs) == 0:
		return errors.New("at least one --freq is required")
	case toneDuration <= 0:
		return fmt.Errorf("--duration %g must be positive", toneDuration)
	case toneGap < 0:
		return fmt.Errorf("--gap %g must not be negative", toneGap)
	case toneAmplitude <= 0 || toneAmplitude > 1:
		return fmt.Errorf("--amplitude %g must be in (0, 1]", toneAmplitude)
	case toneRate <= 0:
		return fmt.Errorf("--rate %d must be positive", toneRate)
	}

	var parts [][]float64
	for i, f := range toneFreqs {
		if f <= 0 || f >= float64(toneRate)/2 {
			return fmt.Errorf("--freq %g must be between 0 and the Nyquist frequency %d Hz", f, toneRate/2)
		}
		if i > 0 && toneGap > 0 {
			parts = append(parts, audio.Silence(toneGap, toneRate))
		}
		parts = append(parts, audio.Sine(f, toneDuration, toneAmplitude, toneRate))
	}
	buf := audio.Buffer{Samples: audio.Concat(parts...), SampleRate: toneRate}

	f, err := os.Create(toneOut)
	if err != nil {
		return err
	}
	write := decode.WriteWAV
	if decode.Ext(toneOut) == decode.PCMExt {
		write = func(w io.WriteSeeker, b audio.Buffer) error { return decode.WritePCM(w, b) }
	}
	if err := write(f, buf); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d tone(s), %s\n", toneOut, len(toneFreqs), buf)
	return nil
}
