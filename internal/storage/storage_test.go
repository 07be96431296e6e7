package storage

import (
	"context"
	"testing"

	"github.com/jmylchreest/soundmaxx-worker/internal/config"
)

func TestNewDisabledWhenNotConfigured(t *testing.T) {
	m, err := New(context.Background(), &config.Config{StorageS3Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Enabled() {
		t.Fatal("expected mirror to be disabled")
	}
}

func TestMirrorArtifactNoopWhenDisabled(t *testing.T) {
	m, err := New(context.Background(), &config.Config{StorageS3Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.MirrorArtifact(context.Background(), "job-1", "/does/not/exist.wav"); err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}
}

func TestBaseName(t *testing.T) {
	cases := map[string]string{
		"/a/b/c.wav":  "c.wav",
		"c.wav":       "c.wav",
		"a/b/c.json":  "c.json",
	}
	for in, want := range cases {
		if got := baseName(in); got != want {
			t.Fatalf("baseName(%q) = %q, want %q", in, got, want)
		}
	}
}
