package midifile

import (
	"errors"
	"fmt"
	"io"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/MrWong99/notescribe/pkg/types"
)

// ErrUnsupportedTiming is returned by [Decode] for files using SMPTE time
// division.
var ErrUnsupportedTiming = errors.New("midifile: only metric (ticks per quarter) time division is supported")

const defaultTempo = 120.0

// Decode reads a Standard MIDI File with the gomidi reference reader and
// rebuilds the note sequence. Only the first tempo event is honoured; files
// without one are read at 120 BPM. Notes still sounding at the end of a track
// are dropped.
func Decode(r io.Reader) (*types.NoteSequence, error) {
	file, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("midifile: read: %w", err)
	}
	mt, ok := file.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, ErrUnsupportedTiming
	}

	seq := &types.NoteSequence{
		TempoBPM:        tempoOf(file),
		TicksPerQuarter: mt.Resolution(),
	}
	for _, trk := range file.Tracks {
		seq.Tracks = append(seq.Tracks, decodeTrack(trk, seq.TempoBPM, seq.TicksPerQuarter))
	}
	return seq, nil
}

// tempoOf returns the first tempo found in any track.
func tempoOf(file *smf.SMF) float64 {
	for _, trk := range file.Tracks {
		for _, ev := range trk {
			var bpm float64
			if ev.Message.GetMetaTempo(&bpm) && bpm > 0 {
				return bpm
			}
		}
	}
	return defaultTempo
}

type sounding struct {
	tick     uint32
	velocity uint8
}

func decodeTrack(trk smf.Track, bpm float64, tpq uint16) types.Track {
	var (
		out         types.Track
		tick        uint32
		seenChannel bool
		open        = map[[2]uint8][]sounding{}
	)
	for _, ev := range trk {
		tick += ev.Delta
		msg := ev.Message

		var (
			name               string
			ch, key, vel, prog uint8
		)
		switch {
		case msg.GetMetaTrackName(&name):
			out.Name = name
		case msg.GetProgramChange(&ch, &prog):
			out.Program = prog
			if !seenChannel {
				out.Channel, seenChannel = ch, true
			}
		case msg.GetNoteStart(&ch, &key, &vel):
			if !seenChannel {
				out.Channel, seenChannel = ch, true
			}
			id := [2]uint8{ch, key}
			open[id] = append(open[id], sounding{tick: tick, velocity: vel})
		case msg.GetNoteEnd(&ch, &key):
			id := [2]uint8{ch, key}
			starts := open[id]
			if len(starts) == 0 {
				continue
			}
			s := starts[0]
			open[id] = starts[1:]
			start := TicksToSeconds(s.tick, bpm, tpq)
			out.Notes = append(out.Notes, types.NoteEvent{
				Pitch:    key,
				Start:    start,
				Duration: TicksToSeconds(tick, bpm, tpq) - start,
				Velocity: s.velocity,
			})
		}
	}
	types.SortNotes(out.Notes)
	return out
}
