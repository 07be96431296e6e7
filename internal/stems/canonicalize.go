package stems

import (
	"fmt"
	"path/filepath"

	"github.com/jmylchreest/soundmaxx-worker/internal/dsp"
	"github.com/jmylchreest/soundmaxx-worker/internal/wavutil"
)

// Canonicalize normalizes the produced separator files into the required
// stem set for stemsCount (2 or 4), writing canonical
// "<inputBase>-<stem>.wav" files into outputDir and returning their paths
// in canonical order. Missing stems are synthesized from the
// vocals+accompaniment pair (4-stem) or from a peak-limited sum of the
// remaining files (2-stem) before failing.
func Canonicalize(produced []string, outputDir, inputBase string, stemsCount int) ([]string, error) {
	if stemsCount >= 4 {
		return canonicalizeFour(produced, outputDir, inputBase)
	}
	return canonicalizeTwo(produced, outputDir, inputBase)
}

func canonicalizeFour(produced []string, outputDir, inputBase string) ([]string, error) {
	pool := newCandidates(produced)
	selected := make(map[string]string)
	var missing []string

	for _, name := range canonicalOrder {
		if path, ok := findAndRemove(&pool, name); ok {
			selected[name] = path
		} else {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		all := newCandidates(produced)
		vocalsPath, vOK := find(all, "vocals")
		accompPath, aOK := find(all, "accompaniment")
		if vOK && aOK {
			synth, err := synthesizeFourFromAccompaniment(accompPath, outputDir, inputBase)
			if err == nil {
				var stillMissing []string
				for _, name := range missing {
					if name == "vocals" {
						selected["vocals"] = vocalsPath
						continue
					}
					if p, ok := synth[name]; ok {
						selected[name] = p
						continue
					}
					stillMissing = append(stillMissing, name)
				}
				missing = stillMissing
			}
		}
	}

	if len(missing) > 0 {
		return nil, &ErrMissingStems{Missing: missing}
	}

	out := make([]string, 0, len(canonicalOrder))
	for _, name := range canonicalOrder {
		target := filepath.Join(outputDir, fmt.Sprintf("%s-%s.wav", inputBase, name))
		if err := reencodeCopy(selected[name], target); err != nil {
			return nil, err
		}
		out = append(out, target)
	}
	return out, nil
}

func canonicalizeTwo(produced []string, outputDir, inputBase string) ([]string, error) {
	pool := newCandidates(produced)
	vocalsPath, ok := findAndRemove(&pool, "vocals")
	if !ok {
		return nil, &ErrMissingStems{Missing: []string{"vocals"}}
	}

	accompPath, ok := findAndRemove(&pool, "accompaniment")
	accompTarget := filepath.Join(outputDir, fmt.Sprintf("%s-accompaniment.wav", inputBase))
	if !ok {
		if len(pool) == 0 {
			return nil, &ErrMissingStems{Missing: []string{"accompaniment"}}
		}
		layers := make([]*wavutil.Buffer, 0, len(pool))
		for _, c := range pool {
			buf, err := wavutil.Read(c.path)
			if err != nil {
				return nil, fmt.Errorf("stems: read %s: %w", c.path, err)
			}
			layers = append(layers, buf)
		}
		mixed, err := dsp.Mix(layers)
		if err != nil {
			return nil, err
		}
		if err := wavutil.WritePCM24(accompTarget, mixed); err != nil {
			return nil, err
		}
	} else if err := reencodeCopy(accompPath, accompTarget); err != nil {
		return nil, err
	}

	vocalsTarget := filepath.Join(outputDir, fmt.Sprintf("%s-vocals.wav", inputBase))
	if err := reencodeCopy(vocalsPath, vocalsTarget); err != nil {
		return nil, err
	}

	return []string{vocalsTarget, accompTarget}, nil
}

// synthesizeFourFromAccompaniment derives bass/drums/other from an
// accompaniment buffer via spectral band splitting, per §4.5.2.
func synthesizeFourFromAccompaniment(accompPath, outputDir, inputBase string) (map[string]string, error) {
	accomp, err := wavutil.Read(accompPath)
	if err != nil {
		return nil, fmt.Errorf("stems: read accompaniment: %w", err)
	}

	bass := dsp.BandSplit(accomp, 0, 200)
	drums := dsp.BandSplit(accomp, 1500, 9000)
	other, err := dsp.Subtract(accomp, bass)
	if err != nil {
		return nil, err
	}
	if other, err = dsp.Subtract(other, drums); err != nil {
		return nil, err
	}

	for _, b := range []*wavutil.Buffer{bass, drums, other} {
		dsp.PeakLimit(b, dsp.PeakLimitTarget)
	}

	out := make(map[string]string, 3)
	for name, buf := range map[string]*wavutil.Buffer{"bass": bass, "drums": drums, "other": other} {
		path := filepath.Join(outputDir, fmt.Sprintf("%s-%s.wav", inputBase, name))
		if err := wavutil.WritePCM24(path, buf); err != nil {
			return nil, err
		}
		out[name] = path
	}
	return out, nil
}

// reencodeCopy decodes src and re-encodes it as PCM 24-bit at dst. If src
// and dst resolve to the same path, it is a no-op.
func reencodeCopy(src, dst string) error {
	srcAbs, err := filepath.Abs(src)
	if err != nil {
		srcAbs = src
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		dstAbs = dst
	}
	if srcAbs == dstAbs {
		return nil
	}
	buf, err := wavutil.Read(src)
	if err != nil {
		return fmt.Errorf("stems: read %s: %w", src, err)
	}
	return wavutil.WritePCM24(dst, buf)
}
