package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/notescribe/internal/config"
	"github.com/MrWong99/notescribe/internal/decode"
	"github.com/MrWong99/notescribe/pkg/audio"
	"github.com/MrWong99/notescribe/pkg/segment"
	"github.com/MrWong99/notescribe/pkg/types"
)

var (
	tempoOverride float64
	verbose       bool
	pcmRate       int
	pcmChannels   int
)

func newTranscribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <input> <output.mid>",
		Short: "Transcribe an audio file into a MIDI file",
		Long: `Decode an audio file, run the transcription pipeline and write the result
as a Standard MIDI File. Headerless 16-bit PCM input (*.pcm) needs its
format given with --pcm-rate and --pcm-channels.

Examples:
  notescribe transcribe melody.wav melody.mid
  notescribe transcribe -c config.yaml take.flac take.mid --tempo 96
  notescribe transcribe --pcm-rate 48000 --pcm-channels 2 capture.pcm capture.mid`,
		Args: cobra.ExactArgs(2),
		RunE: runTranscribe,
	}
	cmd.Flags().Float64Var(&tempoOverride, "tempo", 0, "Tempo in BPM written to the file (default: output.default_tempo)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline stage timings")
	cmd.Flags().IntVar(&pcmRate, "pcm-rate", 16000, "Sample rate of raw .pcm input")
	cmd.Flags().IntVar(&pcmChannels, "pcm-channels", 1, "Channel count of raw .pcm input")
	return cmd
}

// decodeInput decodes path by extension; raw PCM uses the --pcm-* flags.
func decodeInput(path string, sampleRate int) (audio.Buffer, error) {
	if decode.Ext(path) != decode.PCMExt {
		return decode.File(path, decode.WithSampleRate(sampleRate))
	}
	f, err := os.Open(path)
	if err != nil {
		return audio.Buffer{}, err
	}
	defer f.Close()
	return decode.PCM(f, pcmRate, pcmChannels, decode.WithSampleRate(sampleRate))
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	input, output := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level := cfg.Server.LogLevel
	if verbose {
		level = config.LogDebug
	}
	newLogger(new(slog.LevelVar), level)

	if tempoOverride > 0 {
		cfg.Output.DefaultTempo = tempoOverride
	}

	start := time.Now()
	buf, err := decodeInput(input, cfg.Analysis.SampleRate)
	if err != nil {
		return err
	}
	slog.Debug("decoded input", "file", input, "audio", buf.String(), "took", time.Since(start))

	t, err := cfg.NewTranscriber(config.DefaultRegistry())
	if err != nil {
		return err
	}
	defer t.Close()

	seq, data, err := t.TranscribeToMIDIContext(cmd.Context(), buf.Samples, buf.SampleRate)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", output, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s → %s: %d notes, %.3fs audio, %.0f BPM, %d bytes (took %s)\n",
		input, output, seq.NoteCount(), buf.Seconds(), seq.TempoBPM, len(data), time.Since(start).Round(time.Millisecond))
	printNotes(cmd.OutOrStdout(), seq)
	return nil
}

var noteNames = [...]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// noteName returns the scientific pitch name of a MIDI note, e.g. "A4" for 69.
func noteName(pitch uint8) string {
	return fmt.Sprintf("%s%d", noteNames[pitch%12], int(pitch)/12-1)
}

// printNotes writes one line per note of every track in seq.
func printNotes(w io.Writer, seq *types.NoteSequence) {
	for i, tr := range seq.Tracks {
		fmt.Fprintf(w, "track %d %q (channel %d, program %d): %d notes\n",
			i, tr.Name, tr.Channel, tr.Program, len(tr.Notes))
		for _, n := range tr.Notes {
			fmt.Fprintf(w, "  %8.3fs %7.3fs  %-4s %3d  %5.1f Hz  vel %3d\n",
				n.Start, n.Duration, noteName(n.Pitch), n.Pitch, segment.MIDIToFrequency(n.Pitch), n.Velocity)
		}
	}
	if seq.NoteCount() == 0 {
		fmt.Fprintln(w, "  (no notes detected)")
	}
}
