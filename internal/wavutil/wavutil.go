// Package wavutil provides PCM WAV decode/encode on top of go-audio/wav,
// exposing audio as a normalized [-1,1] float32 frame buffer for the DSP
// and stem-canonicalization packages.
package wavutil

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Buffer holds de-interleaved PCM samples as Frames[frame][channel], each
// normalized to [-1, 1], alongside the source sample rate.
type Buffer struct {
	Frames     [][]float32
	SampleRate int
}

// NumFrames returns the number of sample frames in the buffer.
func (b *Buffer) NumFrames() int { return len(b.Frames) }

// NumChannels returns the channel count, or 0 for an empty buffer.
func (b *Buffer) NumChannels() int {
	if len(b.Frames) == 0 {
		return 0
	}
	return len(b.Frames[0])
}

// MaxAbs returns the maximum absolute sample magnitude in the buffer.
func (b *Buffer) MaxAbs() float32 {
	var max float32
	for _, frame := range b.Frames {
		for _, s := range frame {
			a := s
			if a < 0 {
				a = -a
			}
			if a > max {
				max = a
			}
		}
	}
	return max
}

// Read decodes a WAV file at path into a normalized float32 buffer.
func Read(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavutil: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wavutil: %s is not a valid WAV file", path)
	}

	ib, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavutil: decode %s: %w", path, err)
	}

	channels := ib.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	bitDepth := ib.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	numFrames := len(ib.Data) / channels
	frames := make([][]float32, numFrames)
	for i := 0; i < numFrames; i++ {
		frame := make([]float32, channels)
		for c := 0; c < channels; c++ {
			frame[c] = float32(ib.Data[i*channels+c]) / scale
		}
		frames[i] = frame
	}

	return &Buffer{Frames: frames, SampleRate: int(ib.Format.SampleRate)}, nil
}

// WritePCM24 encodes buf as a PCM 24-bit WAV file at path, creating parent
// directories as needed.
func WritePCM24(path string, buf *Buffer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("wavutil: create parent of %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavutil: create %s: %w", path, err)
	}
	defer f.Close()

	channels := buf.NumChannels()
	if channels == 0 {
		channels = 1
	}
	const bitDepth = 24
	scale := float64(int64(1)<<(bitDepth-1)) - 1

	enc := wav.NewEncoder(f, buf.SampleRate, bitDepth, channels, 1)

	data := make([]int, len(buf.Frames)*channels)
	for i, frame := range buf.Frames {
		for c := 0; c < channels; c++ {
			var v float32
			if c < len(frame) {
				v = frame[c]
			}
			clamped := math.Max(-1, math.Min(1, float64(v)))
			data[i*channels+c] = int(clamped * scale)
		}
	}

	ib := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: buf.SampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(ib); err != nil {
		return fmt.Errorf("wavutil: write %s: %w", path, err)
	}
	return enc.Close()
}
