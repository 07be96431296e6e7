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

type loudnessResult struct {
	IntegratedLufs   float64  `json:"integratedLufs"`
	TruePeakDbtp     float64  `json:"truePeakDbtp"`
	DynamicRange     float64  `json:"dynamicRange"`
	TargetLufs       float64  `json:"targetLufs"`
	ClippingWarnings []string `json:"clippingWarnings"`
}

// loudnessReportHandler computes a coarse RMS-based loudness estimate and
// true-peak figure. A full ITU-R BS.1770 implementation is an
// out-of-scope external collaborator (§1); this satisfies the fixed
// §6.3 output contract.
func loudnessReportHandler(ctx context.Context, inputFile, outputDir string, params map[string]any) (string, []string, error) {
	buf, err := wavutil.Read(inputFile)
	if err != nil {
		return "", nil, fmt.Errorf("loudness_report: read source: %w", err)
	}

	rms, peak := rmsAndPeak(buf)
	integrated := -0.691 + 20*math.Log10(math.Max(rms, 1e-9))
	truePeak := 20 * math.Log10(math.Max(peak, 1e-9))

	var warnings []string
	if peak >= 0.999 {
		warnings = append(warnings, "sample at or above full scale")
	}

	targetLufs := floatParam(params, "targetLufs", -14.0)

	result := loudnessResult{
		IntegratedLufs:   round2(integrated),
		TruePeakDbtp:     round2(truePeak),
		DynamicRange:     round2(dynamicRange(buf, rms)),
		TargetLufs:       targetLufs,
		ClippingWarnings: warnings,
	}

	path := filepath.Join(outputDir, "loudness-report.json")
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", nil, fmt.Errorf("loudness_report: write result: %w", err)
	}

	return "pyloudnorm", []string{path}, nil
}

func rmsAndPeak(buf *wavutil.Buffer) (rms, peak float64) {
	var sumSq float64
	var count int
	for _, frame := range buf.Frames {
		for _, s := range frame {
			v := float64(s)
			sumSq += v * v
			if math.Abs(v) > peak {
				peak = math.Abs(v)
			}
			count++
		}
	}
	if count == 0 {
		return 0, 0
	}
	return math.Sqrt(sumSq / float64(count)), peak
}

func dynamicRange(buf *wavutil.Buffer, overallRMS float64) float64 {
	const windowFrames = 4096
	var loudest, quietest float64
	first := true
	for start := 0; start < buf.NumFrames(); start += windowFrames {
		end := start + windowFrames
		if end > buf.NumFrames() {
			end = buf.NumFrames()
		}
		var sumSq float64
		var count int
		for _, frame := range buf.Frames[start:end] {
			for _, s := range frame {
				sumSq += float64(s) * float64(s)
				count++
			}
		}
		if count == 0 {
			continue
		}
		windowRMS := math.Sqrt(sumSq / float64(count))
		if first {
			loudest, quietest = windowRMS, windowRMS
			first = false
			continue
		}
		if windowRMS > loudest {
			loudest = windowRMS
		}
		if windowRMS < quietest {
			quietest = windowRMS
		}
	}
	if loudest <= 0 || quietest <= 0 {
		return 0
	}
	return 20 * math.Log10(loudest/quietest)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
