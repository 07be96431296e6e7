package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/soundmaxx-worker/internal/config"
	"github.com/jmylchreest/soundmaxx-worker/internal/stems"
	"github.com/jmylchreest/soundmaxx-worker/internal/toolrunner"
)

// RunChild is the entrypoint for the hidden ChildSubcommand. It reads a
// single request from stdin, executes the tool invocation in this fresh
// process, and writes a single JSON result line to stdout. Callers
// should invoke this from main() when os.Args[1] == ChildSubcommand and
// os.Exit afterward; it never returns an error to the parent process,
// only a result payload, matching §4.4's "single result message"
// contract.
func RunChild() {
	reqBytes, err := io.ReadAll(os.Stdin)
	if err != nil {
		writeResult(result{OK: false, Error: fmt.Sprintf("read request: %v", err)})
		return
	}

	var req request
	if err := json.Unmarshal(reqBytes, &req); err != nil {
		writeResult(result{OK: false, Error: fmt.Sprintf("decode request: %v", err)})
		return
	}

	cfg, err := config.Load()
	if err != nil {
		writeResult(result{OK: false, Error: fmt.Sprintf("load config: %v", err)})
		return
	}

	// The child surfaces exactly one result over a bounded single-slot
	// channel before exiting, mirroring the spawn-context worker in the
	// reference implementation this sandbox replaces process isolation
	// for.
	resultCh := make(chan result, 1)
	go func() {
		model, files, err := execute(context.Background(), cfg, req)
		if err != nil {
			resultCh <- result{OK: false, Error: err.Error()}
			return
		}
		resultCh <- result{OK: true, Model: model, Files: files}
	}()

	writeResult(<-resultCh)
}

func execute(ctx context.Context, cfg *config.Config, req request) (string, []string, error) {
	if req.ToolType == "stem_isolation" {
		return executeStemIsolation(ctx, cfg, req)
	}
	runner := toolrunner.New(cfg)
	return runner.Run(ctx, req.ToolType, req.InputFile, req.OutputDir, req.Params)
}

func executeStemIsolation(ctx context.Context, cfg *config.Config, req request) (string, []string, error) {
	stemsCount := 4
	if v, ok := req.Params["stems"].(float64); ok {
		stemsCount = int(v)
	}
	fallbackModel := "mel_band_roformer"
	if v, ok := req.Params["fallbackModel"].(string); ok && v != "" {
		fallbackModel = v
	}

	sr := &stems.Runner{
		RoformerName:  cfg.StemModelRoformerName,
		DemucsName:    cfg.StemModelDemucsName,
		FallbackModel: fallbackModel,
	}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("stem_isolation: create output dir: %w", err)
	}

	model, produced, err := sr.Separate(ctx, req.InputFile, req.OutputDir, stemsCount)
	if err != nil {
		return "", nil, err
	}

	inputBase := strings.TrimSuffix(filepath.Base(req.InputFile), filepath.Ext(req.InputFile))
	canonical, err := stems.Canonicalize(produced, req.OutputDir, inputBase, stemsCount)
	if err != nil {
		return "", nil, err
	}

	zipPath, err := stems.BundleZip(req.OutputDir, inputBase, canonical, cfg.StemZipCompression)
	if err != nil {
		return "", nil, err
	}

	files := append(append([]string{}, canonical...), zipPath)
	return model, files, nil
}

func writeResult(res result) {
	data, err := json.Marshal(res)
	if err != nil {
		fmt.Fprintln(os.Stdout, `{"ok":false,"error":"encode result failed"}`)
		return
	}
	fmt.Fprintln(os.Stdout, string(data))
}
