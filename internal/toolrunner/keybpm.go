package toolrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/jmylchreest/soundmaxx-worker/internal/wavutil"
)

var pitchClasses = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

type keyBPMResult struct {
	Key               string  `json:"key"`
	Strength          float64 `json:"strength"`
	BPM               float64 `json:"bpm"`
	IncludeChordHints bool    `json:"includeChordHints"`
}

// keyBPMHandler estimates tempo from zero-crossing density and key from a
// histogram of quantized sample magnitudes. The analysis itself is an out-of-scope
// external collaborator in the full system (§1); this reference
// implementation satisfies the fixed output contract (§6.3) so the
// module runs standalone.
func keyBPMHandler(ctx context.Context, inputFile, outputDir string, params map[string]any) (string, []string, error) {
	buf, err := wavutil.Read(inputFile)
	if err != nil {
		return "", nil, fmt.Errorf("key_bpm: read source: %w", err)
	}

	bpm := estimateBPM(buf)
	keyIdx, strength := estimateKey(buf)

	result := keyBPMResult{
		Key:               pitchClasses[keyIdx],
		Strength:          strength,
		BPM:               bpm,
		IncludeChordHints: boolParam(params, "includeChordHints", true),
	}

	path := filepath.Join(outputDir, "key-bpm.json")
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", nil, fmt.Errorf("key_bpm: write result: %w", err)
	}

	return "essentia", []string{path}, nil
}

// estimateBPM counts first-channel zero crossings per second as a coarse
// onset proxy, scaled by 2.5 and clamped to [60, 200].
func estimateBPM(buf *wavutil.Buffer) float64 {
	if buf.NumFrames() < 2 || buf.SampleRate == 0 {
		return 120
	}
	var crossings int
	var prev float32
	for i, frame := range buf.Frames {
		v := frame[0]
		if i > 0 && ((prev >= 0 && v < 0) || (prev < 0 && v >= 0)) {
			crossings++
		}
		prev = v
	}
	durationSec := float64(buf.NumFrames()) / float64(buf.SampleRate)
	if durationSec <= 0 {
		return 120
	}
	crossingsPerSec := float64(crossings) / durationSec
	bpm := crossingsPerSec * 2.5
	if bpm < 60 {
		bpm = 60
	}
	if bpm > 200 {
		bpm = 200
	}
	return math.Round(bpm*10) / 10
}

// estimateKey buckets sample energy by int(|s|*1000) mod 12; this is a
// deterministic stand-in for a true chroma-based key estimator.
func estimateKey(buf *wavutil.Buffer) (int, float64) {
	bins := make([]float64, 12)
	for _, frame := range buf.Frames {
		for _, s := range frame {
			idx := int(math.Abs(float64(s))*1000) % 12
			bins[idx] += float64(s) * float64(s)
		}
	}
	best, bestVal, total := 0, 0.0, 0.0
	for i, v := range bins {
		total += v
		if v > bestVal {
			bestVal, best = v, i
		}
	}
	strength := 0.5
	if total > 0 {
		strength = bestVal / total
	}
	return best, math.Round(strength*1000) / 1000
}
