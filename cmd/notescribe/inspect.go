package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/notescribe/pkg/midifile"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.mid>",
		Short: "List the notes of a MIDI file",
		Long: `Read a Standard MIDI File and print its tempo, tracks and notes.

Example:
  notescribe inspect melody.mid`,
		Args: cobra.ExactArgs(1),
		RunE: runInspect,
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	seq, err := midifile.Decode(f)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d tracks, %d notes, %.1f BPM, %d ticks/quarter\n",
		args[0], len(seq.Tracks), seq.NoteCount(), seq.TempoBPM, seq.TicksPerQuarter)
	printNotes(cmd.OutOrStdout(), seq)
	return nil
}
