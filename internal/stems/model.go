package stems

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/soundmaxx-worker/internal/dsp"
	"github.com/jmylchreest/soundmaxx-worker/internal/wavutil"
)

// stableFallbackModels are the well-known checkpoint filenames tried after
// the requested and alternate preferred models, per the candidate-list
// contract of §4.5.
var stableFallbackModels = []string{
	"mel_band_roformer_v2_fallback.ckpt",
	"htdemucs_ft_fallback.ckpt",
	"spleeter_4stems_fallback",
}

// BuildCandidateNames returns the ordered, deduplicated model candidate
// list: the preferred model for fallbackModel, then the other of
// {roformer, demucs}, then the stable fallbacks. Empty names are skipped.
func BuildCandidateNames(fallbackModel, roformerName, demucsName string) []string {
	preferred, other := roformerName, demucsName
	if fallbackModel == "demucs_v4" {
		preferred, other = demucsName, roformerName
	}

	seen := make(map[string]bool)
	var out []string
	for _, n := range append([]string{preferred, other}, stableFallbackModels...) {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// AttemptFunc loads the named model and separates inputFile into stem
// files under outputDir, returning the produced file paths.
type AttemptFunc func(ctx context.Context, modelName, inputFile, outputDir string, stemsCount int) ([]string, error)

// Runner dispatches stem separation across the candidate model list.
type Runner struct {
	RoformerName  string
	DemucsName    string
	FallbackModel string
	// Attempt is the pluggable load-and-separate step. When nil,
	// DefaultAttempt (an always-available spectral approximation
	// standing in for the external ML separator) is used.
	Attempt AttemptFunc
}

// Separate tries each candidate model in order, returning the first one
// that successfully loads and separates. On total failure it returns
// ErrSeparationFailed wrapping the last inner error observed.
func (r *Runner) Separate(ctx context.Context, inputFile, outputDir string, stemsCount int) (string, []string, error) {
	attempt := r.Attempt
	if attempt == nil {
		attempt = DefaultAttempt
	}

	var lastErr error
	for _, name := range BuildCandidateNames(r.FallbackModel, r.RoformerName, r.DemucsName) {
		files, err := attempt(ctx, name, inputFile, outputDir, stemsCount)
		if err != nil {
			lastErr = err
			continue
		}
		if len(files) == 0 {
			lastErr = fmt.Errorf("model %s produced no files", name)
			continue
		}
		return name, files, nil
	}
	return "", nil, &ErrSeparationFailed{Last: lastErr}
}

// DefaultAttempt is the always-available internal separation path. The
// actual neural source-separation engine is an out-of-scope external
// collaborator (§1); this spectral approximation satisfies the same
// input/output contract so the module is runnable standalone, and is
// always expected to succeed, making it the de facto terminal candidate
// whenever no real separator backend is wired in via Attempt.
func DefaultAttempt(ctx context.Context, modelName, inputFile, outputDir string, stemsCount int) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("stems: create output dir: %w", err)
	}

	src, err := wavutil.Read(inputFile)
	if err != nil {
		return nil, fmt.Errorf("stems: read source: %w", err)
	}

	bass := dsp.BandSplit(src, 0, 200)
	vocals := dsp.BandSplit(src, 200, 4500)
	drums := dsp.BandSplit(src, 1200, 9000)

	other, err := dsp.Subtract(src, bass)
	if err != nil {
		return nil, err
	}
	if other, err = dsp.Subtract(other, vocals); err != nil {
		return nil, err
	}
	if other, err = dsp.Subtract(other, drums); err != nil {
		return nil, err
	}

	for _, b := range []*wavutil.Buffer{bass, vocals, drums, other} {
		dsp.PeakLimit(b, dsp.PeakLimitTarget)
	}

	base := strings.TrimSuffix(filepath.Base(inputFile), filepath.Ext(inputFile))
	files := make([]string, 0, 4)
	for name, buf := range map[string]*wavutil.Buffer{
		"vocals": vocals, "drums": drums, "bass": bass, "other": other,
	} {
		path := filepath.Join(outputDir, fmt.Sprintf("%s-%s.wav", base, name))
		if err := wavutil.WritePCM24(path, buf); err != nil {
			return nil, err
		}
		files = append(files, path)
	}
	return files, nil
}
