package mastering

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/soundmaxx-worker/internal/dsp"
	"github.com/jmylchreest/soundmaxx-worker/internal/wavutil"
)

// AdaptiveDSPMastering applies a tanh soft-clip with drive derived from
// params.Intensity, a wet/dry blend, a subtle high-frequency tilt, and a
// final peak-limit. It is guaranteed to produce output distinct from the
// source by construction, making it the terminal, always-successful
// mastering candidate.
func AdaptiveDSPMastering(ctx context.Context, inputFile, outputDir string, params Params) (string, error) {
	src, err := wavutil.Read(inputFile)
	if err != nil {
		return "", fmt.Errorf("adaptive_dsp_mastering: read source: %w", err)
	}

	intensity := params.Intensity
	if intensity <= 0 {
		intensity = 60
	}
	if intensity > 100 {
		intensity = 100
	}
	wet := intensity / 100
	dry := 1 - wet
	drive := 1 + wet*4

	tilt := dsp.BandSplit(src, 6000, 0)
	tilted := &wavutil.Buffer{Frames: make([][]float32, src.NumFrames()), SampleRate: src.SampleRate}
	for i := range tilted.Frames {
		frame := make([]float32, src.NumChannels())
		for c := range frame {
			frame[c] = src.Frames[i][c] + 0.15*float32(wet)*tilt.Frames[i][c]
		}
		tilted.Frames[i] = frame
	}

	clipped := &wavutil.Buffer{Frames: make([][]float32, tilted.NumFrames()), SampleRate: tilted.SampleRate}
	for i, frame := range tilted.Frames {
		cp := make([]float32, len(frame))
		copy(cp, frame)
		clipped.Frames[i] = cp
	}
	dsp.SoftClip(clipped, drive)

	mastered := &wavutil.Buffer{Frames: make([][]float32, src.NumFrames()), SampleRate: src.SampleRate}
	for i := range mastered.Frames {
		frame := make([]float32, src.NumChannels())
		for c := range frame {
			frame[c] = float32(dry)*src.Frames[i][c] + float32(wet)*clipped.Frames[i][c]
		}
		mastered.Frames[i] = frame
	}
	dsp.PeakLimit(mastered, dsp.PeakLimitTarget)

	base := strings.TrimSuffix(filepath.Base(inputFile), filepath.Ext(inputFile))
	outPath := filepath.Join(outputDir, fmt.Sprintf("%s-mastered.wav", base))
	if err := wavutil.WritePCM24(outPath, mastered); err != nil {
		return "", err
	}

	report := map[string]any{
		"engine":    AdaptiveEngineName,
		"intensity": intensity,
		"drive":     drive,
		"wet":       wet,
		"dry":       dry,
	}
	reportBytes, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	reportPath := filepath.Join(outputDir, "mastering-report.json")
	if err := os.WriteFile(reportPath, reportBytes, 0o644); err != nil {
		return "", fmt.Errorf("adaptive_dsp_mastering: write report: %w", err)
	}

	return outPath, nil
}
