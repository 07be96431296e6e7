// Package mastering implements the execution-level mastering-engine
// selection and distinctness policy. The sonicmaster engine is an external
// collaborator invoked via the configured sonicmaster script; no script is
// wired for matchering_2_0 (or any other engine name), so those candidates
// always fail and fall through. adaptive_dsp_mastering is the
// always-available internal DSP fallback that guarantees distinctness by
// construction.
package mastering

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/soundmaxx-worker/internal/dsp"
	"github.com/jmylchreest/soundmaxx-worker/internal/wavutil"
)

// AdaptiveEngineName is the terminal, always-available candidate.
const AdaptiveEngineName = "adaptive_dsp_mastering"

const maxAggregatedErrorLen = 1200

// Params carries the tool-specific options relevant to mastering.
type Params struct {
	Intensity float64 // 0..100
	Preset    string
}

// EngineFunc runs one mastering engine against inputFile, writing its
// output into outputDir and returning the mastered audio path.
type EngineFunc func(ctx context.Context, inputFile, outputDir string, params Params) (outputPath string, err error)

// Candidate pairs an engine name with its runner.
type Candidate struct {
	Name string
	Run  EngineFunc
}

// BuildCandidateOrder returns the candidate order: requested first, then
// the other of {sonicmaster, matchering_2_0}, then the adaptive path.
func BuildCandidateOrder(requested string) []string {
	const sonicmaster = "sonicmaster"
	const matchering = "matchering_2_0"

	other := matchering
	if requested == matchering {
		other = sonicmaster
	}
	order := []string{requested}
	if requested != sonicmaster && requested != matchering {
		// unknown requested engine: still try it, then both standard ones.
		order = append(order, sonicmaster, matchering)
	} else {
		order = append(order, other)
	}
	order = append(order, AdaptiveEngineName)
	return order
}

// Candidates builds the runnable candidate list for the given order,
// wiring sonicmasterScript into the sonicmaster engine when set.
func Candidates(order []string, sonicmasterScript string) []Candidate {
	out := make([]Candidate, 0, len(order))
	for _, name := range order {
		switch name {
		case "sonicmaster":
			out = append(out, Candidate{Name: name, Run: scriptEngine(sonicmasterScript)})
		case "matchering_2_0":
			out = append(out, Candidate{Name: name, Run: scriptEngine("")})
		case AdaptiveEngineName:
			out = append(out, Candidate{Name: name, Run: AdaptiveDSPMastering})
		default:
			out = append(out, Candidate{Name: name, Run: scriptEngine("")})
		}
	}
	return out
}

// Run tries each candidate in order, rejecting any output that is not
// distinct from the source, and returns the first accepted engine's
// modelName and artifact paths (mastered audio + report, when produced).
func Run(ctx context.Context, candidates []Candidate, inputFile, outputDir string, params Params) (string, []string, error) {
	var errs []string
	for _, c := range candidates {
		outPath, err := c.Run(ctx, inputFile, outputDir, params)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", c.Name, err))
			continue
		}
		distinct, err := IsDistinct(inputFile, outPath)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: distinctness check: %v", c.Name, err))
			continue
		}
		if !distinct {
			errs = append(errs, fmt.Sprintf("%s: output not distinct from source", c.Name))
			continue
		}

		artifacts := []string{outPath}
		if report := filepath.Join(outputDir, "mastering-report.json"); fileExists(report) {
			artifacts = append(artifacts, report)
		}
		return c.Name, artifacts, nil
	}

	agg := strings.Join(errs, "; ")
	if len(agg) > maxAggregatedErrorLen {
		agg = agg[:maxAggregatedErrorLen]
	}
	return "", nil, fmt.Errorf("mastering: all candidates failed: %s", agg)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// scriptEngine wraps an external mastering script invoked as
// `<script> <inputFile> <outputDir>`, expected to write
// "<inputStem>-mastered.wav" into outputDir. An empty scriptPath means
// the engine is not configured, which always fails over to the next
// candidate.
func scriptEngine(scriptPath string) EngineFunc {
	return func(ctx context.Context, inputFile, outputDir string, params Params) (string, error) {
		if scriptPath == "" {
			return "", fmt.Errorf("not configured")
		}
		base := strings.TrimSuffix(filepath.Base(inputFile), filepath.Ext(inputFile))
		outPath := filepath.Join(outputDir, fmt.Sprintf("%s-mastered.wav", base))

		cmd := exec.CommandContext(ctx, scriptPath, inputFile, outputDir)
		if out, err := cmd.CombinedOutput(); err != nil {
			return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
		}
		if !fileExists(outPath) {
			return "", fmt.Errorf("script did not produce %s", outPath)
		}
		return outPath, nil
	}
}

// IsDistinct implements the §4.6 distinctness predicate between the
// source file and a mastered output.
func IsDistinct(inPath, outPath string) (bool, error) {
	inInfo, err := os.Stat(inPath)
	if err != nil {
		return false, err
	}
	outInfo, err := os.Stat(outPath)
	if err != nil {
		return false, err
	}
	if inInfo.Size() != outInfo.Size() {
		return true, nil
	}

	inBuf, err := wavutil.Read(inPath)
	if err != nil {
		return false, err
	}
	outBuf, err := wavutil.Read(outPath)
	if err != nil {
		return false, err
	}

	if inBuf.SampleRate != outBuf.SampleRate {
		return true, nil
	}
	if inBuf.NumFrames() != outBuf.NumFrames() || inBuf.NumChannels() != outBuf.NumChannels() {
		return true, nil
	}
	if inBuf.NumFrames() == 0 || outBuf.NumFrames() == 0 {
		return false, nil
	}

	diff := meanAbsDiff(inBuf, outBuf)
	if diff >= 1e-5 {
		return true, nil
	}
	inMean := meanAbs(inBuf)
	if diff/math.Max(inMean, 1e-8) >= 5e-4 {
		return true, nil
	}
	return false, nil
}

func meanAbs(buf *wavutil.Buffer) float64 {
	var sum float64
	var count int
	for _, frame := range buf.Frames {
		for _, s := range frame {
			if s < 0 {
				sum += float64(-s)
			} else {
				sum += float64(s)
			}
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func meanAbsDiff(a, b *wavutil.Buffer) float64 {
	var sum float64
	var count int
	for i := range a.Frames {
		for c := range a.Frames[i] {
			d := float64(a.Frames[i][c]) - float64(b.Frames[i][c])
			if d < 0 {
				d = -d
			}
			sum += d
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
