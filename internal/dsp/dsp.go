// Package dsp implements the spectral primitives used by stem
// canonicalization, fallback synthesis, and the adaptive mastering path:
// peak limiting, real-FFT band splitting, and multi-layer mixing.
package dsp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/jmylchreest/soundmaxx-worker/internal/wavutil"
)

// PeakLimitTarget is the default target magnitude used by PeakLimit.
const PeakLimitTarget = 0.98

// PeakLimit scales buf in place so that its maximum absolute sample does
// not exceed target. Buffers already at or below target are untouched.
func PeakLimit(buf *wavutil.Buffer, target float32) {
	max := buf.MaxAbs()
	if max <= target || max == 0 {
		return
	}
	scale := target / max
	for _, frame := range buf.Frames {
		for c := range frame {
			frame[c] *= scale
		}
	}
}

// BandSplit returns a new buffer containing only the frequency content of
// buf between lo and hi Hz (inclusive), per channel, via a real FFT /
// inverse real FFT round trip. A zero hi means no upper bound.
func BandSplit(buf *wavutil.Buffer, lo, hi float64) *wavutil.Buffer {
	n := buf.NumFrames()
	channels := buf.NumChannels()
	out := &wavutil.Buffer{
		Frames:     make([][]float32, n),
		SampleRate: buf.SampleRate,
	}
	for i := range out.Frames {
		out.Frames[i] = make([]float32, channels)
	}
	if n == 0 || channels == 0 {
		return out
	}

	fft := fourier.NewFFT(n)
	seq := make([]float64, n)
	for c := 0; c < channels; c++ {
		for i := 0; i < n; i++ {
			seq[i] = float64(buf.Frames[i][c])
		}
		coeff := fft.Coefficients(nil, seq)
		for k := range coeff {
			freq := fft.Freq(k) * float64(buf.SampleRate)
			if freq < lo || (hi > 0 && freq > hi) {
				coeff[k] = 0
			}
		}
		filtered := fft.Sequence(nil, coeff)
		for i := 0; i < n; i++ {
			out.Frames[i][c] = float32(filtered[i])
		}
	}
	return out
}

// Subtract returns a - b, frame- and channel-wise. The shorter of the two
// buffers determines the output length; channel counts must match.
func Subtract(a, b *wavutil.Buffer) (*wavutil.Buffer, error) {
	if a.NumChannels() != b.NumChannels() {
		return nil, fmt.Errorf("dsp: channel count mismatch (%d vs %d)", a.NumChannels(), b.NumChannels())
	}
	n := a.NumFrames()
	if b.NumFrames() < n {
		n = b.NumFrames()
	}
	channels := a.NumChannels()
	out := &wavutil.Buffer{Frames: make([][]float32, n), SampleRate: a.SampleRate}
	for i := 0; i < n; i++ {
		frame := make([]float32, channels)
		for c := 0; c < channels; c++ {
			frame[c] = a.Frames[i][c] - b.Frames[i][c]
		}
		out.Frames[i] = frame
	}
	return out, nil
}

// Mix sums a set of layers into a common [maxFrames x maxChannels] buffer,
// zero-padding shorter/narrower layers, then peak-limits the result.
// All layers MUST share the same sample rate or Mix fails with
// ErrSampleRateMismatch.
func Mix(layers []*wavutil.Buffer) (*wavutil.Buffer, error) {
	if len(layers) == 0 {
		return &wavutil.Buffer{}, nil
	}
	sampleRate := layers[0].SampleRate
	maxFrames, maxChannels := 0, 0
	for _, l := range layers {
		if l.SampleRate != sampleRate {
			return nil, &ErrSampleRateMismatch{Expected: sampleRate, Got: l.SampleRate}
		}
		if l.NumFrames() > maxFrames {
			maxFrames = l.NumFrames()
		}
		if l.NumChannels() > maxChannels {
			maxChannels = l.NumChannels()
		}
	}
	if maxChannels == 0 {
		maxChannels = 1
	}

	out := &wavutil.Buffer{Frames: make([][]float32, maxFrames), SampleRate: sampleRate}
	for i := range out.Frames {
		out.Frames[i] = make([]float32, maxChannels)
	}
	for _, l := range layers {
		for i, frame := range l.Frames {
			for c, s := range frame {
				out.Frames[i][c] += s
			}
		}
	}
	PeakLimit(out, PeakLimitTarget)
	return out, nil
}

// ErrSampleRateMismatch signals that buffers intended for combination
// disagree on sample rate.
type ErrSampleRateMismatch struct {
	Expected int
	Got      int
}

func (e *ErrSampleRateMismatch) Error() string {
	return fmt.Sprintf("dsp: sample rate mismatch: expected %d, got %d", e.Expected, e.Got)
}

// SoftClip applies a tanh soft-clip with the given drive (> 0 increases
// saturation) in place, used by the adaptive mastering path.
func SoftClip(buf *wavutil.Buffer, drive float64) {
	if drive <= 0 {
		drive = 1
	}
	for _, frame := range buf.Frames {
		for c, s := range frame {
			frame[c] = float32(math.Tanh(float64(s) * drive) / math.Tanh(drive))
		}
	}
}
