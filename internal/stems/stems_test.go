package stems

import (
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

func TestBuildCandidateNamesDedupesAndOrders(t *testing.T) {
	names := BuildCandidateNames("mel_band_roformer", "roformer.ckpt", "demucs.ckpt")
	if names[0] != "roformer.ckpt" || names[1] != "demucs.ckpt" {
		t.Fatalf("unexpected candidate order: %v", names)
	}
	if len(names) != 2+len(stableFallbackModels) {
		t.Fatalf("expected dedup+stable fallbacks, got %v", names)
	}

	// demucs_v4 prefers the demucs name; the empty roformer name must not
	// appear as an empty string entry.
	names = BuildCandidateNames("demucs_v4", "", "demucs.ckpt")
	if names[0] != "demucs.ckpt" {
		t.Fatalf("expected demucs preferred first, got %v", names)
	}
	if len(names) != 1+len(stableFallbackModels) {
		t.Fatalf("expected the empty name to be skipped, got %v", names)
	}
}

func TestCanonicalizeFourDirectMatch(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		filepath.Join(dir, "track_vocals.wav"),
		filepath.Join(dir, "track_drums.wav"),
		filepath.Join(dir, "track_bass.wav"),
		filepath.Join(dir, "track_other.wav"),
	}
	for i, f := range files {
		writeTone(t, f, 220+float64(i)*50, 44100, 2048)
	}

	out, err := Canonicalize(files, dir, "track", 4)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 canonical files, got %d", len(out))
	}
	want := map[string]bool{
		"track-vocals.wav": true, "track-drums.wav": true,
		"track-bass.wav": true, "track-other.wav": true,
	}
	for _, f := range out {
		if !want[filepath.Base(f)] {
			t.Fatalf("unexpected canonical file name: %s", f)
		}
	}
}

func TestCanonicalizeFourSynthesizesFromAccompaniment(t *testing.T) {
	dir := t.TempDir()
	vocals := filepath.Join(dir, "track_vocals.wav")
	accompaniment := filepath.Join(dir, "track_accompaniment.wav")
	writeTone(t, vocals, 440, 44100, 4096)
	writeTone(t, accompaniment, 110, 44100, 4096)

	out, err := Canonicalize([]string{vocals, accompaniment}, dir, "track", 4)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 stems after synthesis, got %d: %v", len(out), out)
	}
}

func TestCanonicalizeFourFailsWithoutAccompanimentOrVocals(t *testing.T) {
	dir := t.TempDir()
	drums := filepath.Join(dir, "track_drums.wav")
	writeTone(t, drums, 300, 44100, 1024)

	_, err := Canonicalize([]string{drums}, dir, "track", 4)
	if err == nil {
		t.Fatalf("expected ErrMissingStems")
	}
	if _, ok := err.(*ErrMissingStems); !ok {
		t.Fatalf("expected *ErrMissingStems, got %T", err)
	}
}

func TestCanonicalizeTwoMixesRemainderWhenNoAccompanimentKeyword(t *testing.T) {
	dir := t.TempDir()
	vocals := filepath.Join(dir, "track_vocals.wav")
	drums := filepath.Join(dir, "track_drums.wav")
	bass := filepath.Join(dir, "track_bass.wav")
	writeTone(t, vocals, 440, 44100, 1024)
	writeTone(t, drums, 300, 44100, 1024)
	writeTone(t, bass, 80, 44100, 1024)

	out, err := Canonicalize([]string{vocals, drums, bass}, dir, "track", 2)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 canonical files, got %d", len(out))
	}
}

func TestBuildStemTimeoutFallbackFourStems(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.wav")
	writeTone(t, src, 440, 44100, 4096)

	files, model, err := BuildStemTimeoutFallback(src, dir, 4)
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if model != FallbackModelName {
		t.Fatalf("expected model %q, got %q", FallbackModelName, model)
	}
	if len(files) != 4 {
		t.Fatalf("expected 4 stem files, got %d", len(files))
	}
}

func TestBuildStemTimeoutFallbackTwoStems(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.wav")
	writeTone(t, src, 440, 44100, 2048)

	files, _, err := BuildStemTimeoutFallback(src, dir, 2)
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 stem files, got %d", len(files))
	}
}

func TestBundleZipStoredAndDeflate(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "track-vocals.wav")
	writeTone(t, f, 440, 44100, 512)

	zipPath, err := BundleZip(dir, "track", []string{f}, "stored")
	if err != nil {
		t.Fatalf("bundle stored: %v", err)
	}
	if filepath.Base(zipPath) != "track-stems.zip" {
		t.Fatalf("unexpected zip name: %s", zipPath)
	}

	if _, err := BundleZip(dir, "track2", []string{f}, "deflate"); err != nil {
		t.Fatalf("bundle deflate: %v", err)
	}
}
