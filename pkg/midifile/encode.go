// Package midifile serialises a [types.NoteSequence] as a Standard MIDI File
// and reads such files back.
//
// The encoder writes format 0 for a single track and format 1 otherwise, with
// the sequence's ticks-per-quarter as time division. The first track carries
// the tempo; every track carries its name and a program change. Notes become
// note-on/note-off pairs without running status. Encoding is a pure function
// of its input: the same sequence always yields the same bytes.
package midifile

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/MrWong99/notescribe/pkg/types"
)

const (
	statusNoteOff       = 0x80
	statusNoteOn        = 0x90
	statusProgramChange = 0xC0

	metaPrefix     = 0xFF
	metaTrackName  = 0x03
	metaSetTempo   = 0x51
	metaEndOfTrack = 0x2F

	maxVarLen    = 0x0FFFFFFF
	maxTempoUSPQ = 0xFFFFFF
)

// Encode returns the Standard MIDI File bytes for seq.
func Encode(seq *types.NoteSequence) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, seq); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write encodes seq to w. Nothing is written when seq is invalid.
func Write(w io.Writer, seq *types.NoteSequence) error {
	if err := check(seq); err != nil {
		return err
	}

	chunks := make([][]byte, 0, len(seq.Tracks))
	for i, tr := range seq.Tracks {
		data, err := encodeTrack(tr, seq, i == 0)
		if err != nil {
			return fmt.Errorf("midifile: track %d (%q): %w", i, tr.Name, err)
		}
		chunks = append(chunks, data)
	}

	format := uint16(0)
	if len(chunks) > 1 {
		format = 1
	}
	var out bytes.Buffer
	out.WriteString("MThd")
	_ = binary.Write(&out, binary.BigEndian, uint32(6))
	_ = binary.Write(&out, binary.BigEndian, format)
	_ = binary.Write(&out, binary.BigEndian, uint16(len(chunks)))
	_ = binary.Write(&out, binary.BigEndian, seq.TicksPerQuarter)
	for _, c := range chunks {
		out.WriteString("MTrk")
		_ = binary.Write(&out, binary.BigEndian, uint32(len(c)))
		out.Write(c)
	}

	if _, err := w.Write(out.Bytes()); err != nil {
		return fmt.Errorf("midifile: write: %w", err)
	}
	return nil
}

func check(seq *types.NoteSequence) error {
	switch {
	case seq == nil:
		return fmt.Errorf("midifile: nil sequence: %w", types.ErrInternalConsistency)
	case len(seq.Tracks) == 0:
		return fmt.Errorf("midifile: sequence has no tracks: %w", types.ErrInternalConsistency)
	case len(seq.Tracks) > math.MaxUint16:
		return fmt.Errorf("midifile: %d tracks exceed the format limit: %w", len(seq.Tracks), types.ErrInternalConsistency)
	case seq.TicksPerQuarter == 0 || seq.TicksPerQuarter > 0x7FFF:
		return fmt.Errorf("midifile: ticks per quarter %d outside [1, 32767]: %w", seq.TicksPerQuarter, types.ErrInternalConsistency)
	case !(seq.TempoBPM > 0) || math.IsInf(seq.TempoBPM, 0):
		return fmt.Errorf("midifile: tempo %g is not positive: %w", seq.TempoBPM, types.ErrInternalConsistency)
	}
	return nil
}

// event is one channel event at an absolute tick.
type event struct {
	tick     uint32
	on       bool
	pitch    uint8
	velocity uint8
}

func encodeTrack(tr types.Track, seq *types.NoteSequence, withTempo bool) ([]byte, error) {
	if tr.Channel > 15 {
		return nil, fmt.Errorf("channel %d exceeds 15: %w", tr.Channel, types.ErrInternalConsistency)
	}
	if tr.Program > 127 {
		return nil, fmt.Errorf("program %d exceeds 127: %w", tr.Program, types.ErrInternalConsistency)
	}

	events := make([]event, 0, 2*len(tr.Notes))
	for _, n := range tr.Notes {
		if n.Pitch > 127 || n.Velocity < 1 || n.Velocity > 127 {
			return nil, fmt.Errorf("note pitch %d velocity %d out of range: %w", n.Pitch, n.Velocity, types.ErrInternalConsistency)
		}
		start, err := SecondsToTicks(n.Start, seq.TempoBPM, seq.TicksPerQuarter)
		if err != nil {
			return nil, err
		}
		end, err := SecondsToTicks(n.End(), seq.TempoBPM, seq.TicksPerQuarter)
		if err != nil {
			return nil, err
		}
		if end <= start {
			end = start + 1
		}
		events = append(events,
			event{tick: start, on: true, pitch: n.Pitch, velocity: n.Velocity},
			event{tick: end, on: false, pitch: n.Pitch},
		)
	}
	slices.SortStableFunc(events, func(a, b event) int {
		if a.tick != b.tick {
			return cmp.Compare(a.tick, b.tick)
		}
		if a.on != b.on {
			if !a.on {
				return -1
			}
			return 1
		}
		return int(a.pitch) - int(b.pitch)
	})

	var buf bytes.Buffer
	name := []byte(tr.Name)
	writeVarLen(&buf, 0)
	buf.Write([]byte{metaPrefix, metaTrackName})
	writeVarLen(&buf, uint32(len(name)))
	buf.Write(name)

	if withTempo {
		uspq := uint32(min(max(math.Round(60e6/seq.TempoBPM), 1), maxTempoUSPQ))
		writeVarLen(&buf, 0)
		buf.Write([]byte{metaPrefix, metaSetTempo, 0x03, byte(uspq >> 16), byte(uspq >> 8), byte(uspq)})
	}

	writeVarLen(&buf, 0)
	buf.Write([]byte{statusProgramChange | tr.Channel, tr.Program})

	var last uint32
	for _, e := range events {
		writeVarLen(&buf, e.tick-last)
		last = e.tick
		if e.on {
			buf.Write([]byte{statusNoteOn | tr.Channel, e.pitch, e.velocity})
		} else {
			buf.Write([]byte{statusNoteOff | tr.Channel, e.pitch, 0})
		}
	}

	writeVarLen(&buf, 0)
	buf.Write([]byte{metaPrefix, metaEndOfTrack, 0x00})
	return buf.Bytes(), nil
}

// SecondsToTicks converts a time in seconds to MIDI ticks at tempo bpm and
// division tpq, rounding to the nearest tick.
func SecondsToTicks(seconds, bpm float64, tpq uint16) (uint32, error) {
	ticks := math.Round(seconds * bpm / 60 * float64(tpq))
	if !(ticks >= 0) || ticks > maxVarLen {
		return 0, fmt.Errorf("midifile: %gs is not representable in ticks: %w", seconds, types.ErrInternalConsistency)
	}
	return uint32(ticks), nil
}

// TicksToSeconds is the inverse of [SecondsToTicks].
func TicksToSeconds(ticks uint32, bpm float64, tpq uint16) float64 {
	if bpm <= 0 || tpq == 0 {
		return 0
	}
	return float64(ticks) / float64(tpq) * 60 / bpm
}

// writeVarLen appends v as a MIDI variable-length quantity: seven bits per
// byte, most significant group first, continuation bit set on all but the
// last byte. v must not exceed 0x0FFFFFFF.
func writeVarLen(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	i := len(tmp) - 1
	tmp[i] = byte(v & 0x7F)
	for v >>= 7; v > 0; v >>= 7 {
		i--
		tmp[i] = byte(v&0x7F) | 0x80
	}
	buf.Write(tmp[i:])
}
