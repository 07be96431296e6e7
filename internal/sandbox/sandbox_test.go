package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-worker.sh")
	content := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestParseResultEmptyFails(t *testing.T) {
	if _, err := parseResult(nil); err == nil {
		t.Fatal("expected error for empty result")
	}
}

func TestParseResultDecodesValidJSON(t *testing.T) {
	res, err := parseResult([]byte(`{"ok":true,"model":"m","files":["a.wav"]}`))
	if err != nil {
		t.Fatalf("parseResult: %v", err)
	}
	if !res.OK || res.Model != "m" || len(res.Files) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunWithHardTimeoutSuccess(t *testing.T) {
	script := writeScript(t, `cat >/dev/null; echo '{"ok":true,"model":"essentia","files":["key-bpm.json"]}'`)
	r := &Runner{selfPath: script}

	model, files, err := r.RunWithHardTimeout(context.Background(), "key_bpm", "in.wav", t.TempDir(), nil, 5)
	if err != nil {
		t.Fatalf("RunWithHardTimeout: %v", err)
	}
	if model != "essentia" {
		t.Fatalf("expected model essentia, got %s", model)
	}
	if len(files) != 1 || files[0] != "key-bpm.json" {
		t.Fatalf("unexpected files: %v", files)
	}
}

func TestRunWithHardTimeoutToolFailure(t *testing.T) {
	script := writeScript(t, `cat >/dev/null; echo '{"ok":false,"error":"boom"}'`)
	r := &Runner{selfPath: script}

	_, _, err := r.RunWithHardTimeout(context.Background(), "stem_isolation", "in.wav", t.TempDir(), nil, 5)
	if err == nil {
		t.Fatal("expected error")
	}
	toolErr, ok := err.(*ErrToolFailure)
	if !ok {
		t.Fatalf("expected *ErrToolFailure, got %T (%v)", err, err)
	}
	if toolErr.Message != "boom" {
		t.Fatalf("unexpected message: %s", toolErr.Message)
	}
}

func TestRunWithHardTimeoutKillsSlowChild(t *testing.T) {
	script := writeScript(t, `sleep 30`)
	r := &Runner{selfPath: script}

	start := time.Now()
	_, _, err := r.RunWithHardTimeout(context.Background(), "stem_isolation", "in.wav", t.TempDir(), nil, 1)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected timeout error")
	}
	if _, ok := err.(*ErrTimeout); !ok {
		t.Fatalf("expected *ErrTimeout, got %T (%v)", err, err)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("expected prompt termination, took %s", elapsed)
	}
}

func TestRunWithHardTimeoutWorkerExitedWithoutResult(t *testing.T) {
	script := writeScript(t, `cat >/dev/null; exit 0`)
	r := &Runner{selfPath: script}

	_, _, err := r.RunWithHardTimeout(context.Background(), "stem_isolation", "in.wav", t.TempDir(), nil, 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*ErrWorkerExited); !ok {
		t.Fatalf("expected *ErrWorkerExited, got %T (%v)", err, err)
	}
}
