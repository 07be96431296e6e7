package toolrunner

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/jmylchreest/soundmaxx-worker/internal/wavutil"
)

type midiNote struct {
	Pitch      int     `json:"pitch"`
	StartSec   float64 `json:"startSec"`
	DurSec     float64 `json:"durSec"`
	Velocity   int     `json:"velocity"`
	Confidence float64 `json:"confidence"`
}

const ticksPerQuarterNote = 480

// midiExtractHandler detects coarse note onsets from amplitude envelope
// peaks and renders them as a single-track Standard MIDI File plus a
// notes.json sidecar. Real polyphonic pitch tracking (the basic_pitch
// model named in the output contract) is an out-of-scope external
// collaborator (§1); this satisfies the fixed §6.3 output contract.
func midiExtractHandler(ctx context.Context, inputFile, outputDir string, params map[string]any) (string, []string, error) {
	buf, err := wavutil.Read(inputFile)
	if err != nil {
		return "", nil, fmt.Errorf("midi_extract: read source: %w", err)
	}

	sensitivity := floatParam(params, "sensitivity", 0.1)
	notes := detectNotes(buf, sensitivity)

	midPath := filepath.Join(outputDir, "extracted.mid")
	if err := writeSMF(midPath, notes); err != nil {
		return "", nil, fmt.Errorf("midi_extract: write midi: %w", err)
	}

	notesPath := filepath.Join(outputDir, "notes.json")
	data, err := json.MarshalIndent(map[string]any{"notes": notes}, "", "  ")
	if err != nil {
		return "", nil, err
	}
	if err := os.WriteFile(notesPath, data, 0o644); err != nil {
		return "", nil, fmt.Errorf("midi_extract: write notes: %w", err)
	}

	return "basic_pitch", []string{midPath, notesPath}, nil
}

// detectNotes slides a fixed window over the buffer, treating each window
// whose RMS exceeds threshold as one note onset mapped to a pitch bucket
// by its dominant zero-crossing rate.
func detectNotes(buf *wavutil.Buffer, sensitivity float64) []midiNote {
	if buf.SampleRate == 0 {
		return nil
	}
	const windowFrames = 2048
	threshold := sensitivity
	if threshold <= 0 {
		threshold = 0.1
	}

	var notes []midiNote
	for start := 0; start < buf.NumFrames(); start += windowFrames {
		end := start + windowFrames
		if end > buf.NumFrames() {
			end = buf.NumFrames()
		}
		window := buf.Frames[start:end]
		var sumSq float64
		var crossings int
		var prev float32
		for i, frame := range window {
			v := frame[0]
			sumSq += float64(v) * float64(v)
			if i > 0 && ((prev >= 0 && v < 0) || (prev < 0 && v >= 0)) {
				crossings++
			}
			prev = v
		}
		if len(window) == 0 {
			continue
		}
		rms := sumSq / float64(len(window))
		if rms < threshold*threshold {
			continue
		}
		freq := float64(crossings) * float64(buf.SampleRate) / (2 * float64(len(window)))
		pitch := freqToMIDIPitch(freq)
		startSec := float64(start) / float64(buf.SampleRate)
		durSec := float64(len(window)) / float64(buf.SampleRate)
		notes = append(notes, midiNote{
			Pitch:      pitch,
			StartSec:   round2(startSec),
			DurSec:     round2(durSec),
			Velocity:   96,
			Confidence: 0.5,
		})
	}
	return notes
}

func freqToMIDIPitch(freq float64) int {
	if freq <= 0 {
		return 60
	}
	pitch := 69 + 12*log2(freq/440.0)
	rounded := int(pitch + 0.5)
	if rounded < 0 {
		rounded = 0
	}
	if rounded > 127 {
		rounded = 127
	}
	return rounded
}

func log2(x float64) float64 {
	return math.Log(x) / math.Log(2)
}

// writeSMF writes a minimal format-0 Standard MIDI File containing one
// note-on/note-off pair per detected note, all on channel 0.
func writeSMF(path string, notes []midiNote) error {
	var track bytes.Buffer
	lastTick := uint32(0)

	type event struct {
		tick    uint32
		isOn    bool
		pitch   int
		vel     int
		orderID int
	}
	var events []event
	for i, n := range notes {
		onTick := secondsToTicks(n.StartSec)
		offTick := secondsToTicks(n.StartSec + n.DurSec)
		events = append(events, event{tick: onTick, isOn: true, pitch: n.Pitch, vel: n.Velocity, orderID: i*2 + 0})
		events = append(events, event{tick: offTick, isOn: false, pitch: n.Pitch, vel: 0, orderID: i*2 + 1})
	}
	// stable sort by tick, preserving on/off original order on ties
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].tick < events[j-1].tick; j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}

	for _, e := range events {
		delta := e.tick - lastTick
		lastTick = e.tick
		writeVarLen(&track, delta)
		if e.isOn {
			track.WriteByte(0x90)
		} else {
			track.WriteByte(0x80)
		}
		track.WriteByte(byte(e.pitch & 0x7F))
		track.WriteByte(byte(e.vel & 0x7F))
	}
	// end-of-track meta event
	writeVarLen(&track, 0)
	track.Write([]byte{0xFF, 0x2F, 0x00})

	var out bytes.Buffer
	out.WriteString("MThd")
	binary.Write(&out, binary.BigEndian, uint32(6))
	binary.Write(&out, binary.BigEndian, uint16(0)) // format 0
	binary.Write(&out, binary.BigEndian, uint16(1)) // one track
	binary.Write(&out, binary.BigEndian, uint16(ticksPerQuarterNote))

	out.WriteString("MTrk")
	binary.Write(&out, binary.BigEndian, uint32(track.Len()))
	out.Write(track.Bytes())

	return os.WriteFile(path, out.Bytes(), 0o644)
}

func secondsToTicks(sec float64) uint32 {
	if sec < 0 {
		sec = 0
	}
	const beatsPerSec = 2.0 // 120 BPM reference clock
	return uint32(sec * beatsPerSec * float64(ticksPerQuarterNote))
}

// writeVarLen encodes v as a MIDI variable-length quantity.
func writeVarLen(buf *bytes.Buffer, v uint32) {
	var stack [4]byte
	n := 0
	stack[n] = byte(v & 0x7F)
	n++
	v >>= 7
	for v > 0 {
		stack[n] = byte(v&0x7F) | 0x80
		n++
		v >>= 7
	}
	for i := n - 1; i >= 0; i-- {
		buf.WriteByte(stack[i])
	}
}
