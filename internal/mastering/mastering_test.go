package mastering

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/jmylchreest/soundmaxx-worker/internal/wavutil"
)

func writeTone(t *testing.T, path string, freq float64, sampleRate, n int) {
	t.Helper()
	buf := &wavutil.Buffer{Frames: make([][]float32, n), SampleRate: sampleRate}
	for i := 0; i < n; i++ {
		v := float32(0.3 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		buf.Frames[i] = []float32{v}
	}
	if err := wavutil.WritePCM24(path, buf); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestBuildCandidateOrder(t *testing.T) {
	order := BuildCandidateOrder("matchering_2_0")
	want := []string{"matchering_2_0", "sonicmaster", AdaptiveEngineName}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order[%d] = %s, want %s (full: %v)", i, order[i], w, order)
		}
	}

	order = BuildCandidateOrder("sonicmaster")
	want = []string{"sonicmaster", "matchering_2_0", AdaptiveEngineName}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order[%d] = %s, want %s (full: %v)", i, order[i], w, order)
		}
	}
}

func TestIsDistinctDetectsIdenticalFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.wav")
	writeTone(t, src, 440, 44100, 2048)

	distinct, err := IsDistinct(src, src)
	if err != nil {
		t.Fatalf("IsDistinct: %v", err)
	}
	if distinct {
		t.Fatalf("expected identical files to be non-distinct")
	}
}

func TestAdaptiveDSPMasteringIsAlwaysDistinct(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.wav")
	writeTone(t, src, 440, 44100, 4096)

	outPath, err := AdaptiveDSPMastering(context.Background(), src, dir, Params{Intensity: 60})
	if err != nil {
		t.Fatalf("adaptive mastering: %v", err)
	}

	distinct, err := IsDistinct(src, outPath)
	if err != nil {
		t.Fatalf("IsDistinct: %v", err)
	}
	if !distinct {
		t.Fatalf("expected adaptive DSP mastering output to be distinct from source")
	}
}

func TestRunFallsThroughToAdaptiveWhenOthersUnconfigured(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.wav")
	writeTone(t, src, 440, 44100, 4096)

	candidates := Candidates(BuildCandidateOrder("matchering_2_0"), "")
	model, artifacts, err := Run(context.Background(), candidates, src, dir, Params{Intensity: 50})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if model != AdaptiveEngineName {
		t.Fatalf("expected fallthrough to %s, got %s", AdaptiveEngineName, model)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected mastered audio + report, got %v", artifacts)
	}
}
