package stems

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/soundmaxx-worker/internal/dsp"
	"github.com/jmylchreest/soundmaxx-worker/internal/wavutil"
)

// FallbackModelName is the modelName reported for jobs completed via
// BuildStemTimeoutFallback.
const FallbackModelName = "fallback_band_split"

// BuildStemTimeoutFallback derives a degraded stem set directly from the
// raw source via spectral band splitting, per §4.5.3. It is invoked only
// after the Timeout Sandbox raises a timeout; any other separation error
// is a hard job failure.
func BuildStemTimeoutFallback(sourcePath, outputDir string, stemsCount int) ([]string, string, error) {
	src, err := wavutil.Read(sourcePath)
	if err != nil {
		return nil, "", fmt.Errorf("stems: read source for fallback: %w", err)
	}

	bass := dsp.BandSplit(src, 0, 180)
	vocals := dsp.BandSplit(src, 180, 4200)
	drums := dsp.BandSplit(src, 1200, 9500)

	other, err := dsp.Subtract(src, vocals)
	if err != nil {
		return nil, "", err
	}
	if other, err = dsp.Subtract(other, bass); err != nil {
		return nil, "", err
	}
	if other, err = dsp.Subtract(other, drums); err != nil {
		return nil, "", err
	}

	for _, b := range []*wavutil.Buffer{bass, vocals, drums, other} {
		dsp.PeakLimit(b, dsp.PeakLimitTarget)
	}

	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))

	var stemFiles []string
	if stemsCount >= 4 {
		for _, s := range []struct {
			name string
			buf  *wavutil.Buffer
		}{
			{"vocals", vocals}, {"drums", drums}, {"bass", bass}, {"other", other},
		} {
			path := filepath.Join(outputDir, fmt.Sprintf("%s-%s.wav", base, s.name))
			if err := wavutil.WritePCM24(path, s.buf); err != nil {
				return nil, "", err
			}
			stemFiles = append(stemFiles, path)
		}
	} else {
		accompaniment, err := dsp.Subtract(src, vocals)
		if err != nil {
			return nil, "", err
		}
		dsp.PeakLimit(accompaniment, dsp.PeakLimitTarget)

		vocalsPath := filepath.Join(outputDir, fmt.Sprintf("%s-vocals.wav", base))
		if err := wavutil.WritePCM24(vocalsPath, vocals); err != nil {
			return nil, "", err
		}
		accompPath := filepath.Join(outputDir, fmt.Sprintf("%s-accompaniment.wav", base))
		if err := wavutil.WritePCM24(accompPath, accompaniment); err != nil {
			return nil, "", err
		}
		stemFiles = []string{vocalsPath, accompPath}
	}

	return stemFiles, FallbackModelName, nil
}
