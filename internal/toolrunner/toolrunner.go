// Package toolrunner dispatches tool_type to the handler that executes
// it, per §4.3. The stem_isolation handler is not registered here: it is
// internal and always routed through the Timeout Sandbox by the job
// engine (§4.4/§4.5).
package toolrunner

import (
	"context"
	"fmt"
	"os"

	"github.com/jmylchreest/soundmaxx-worker/internal/config"
	"github.com/jmylchreest/soundmaxx-worker/internal/mastering"
)

// ErrUnsupportedTool is returned for any toolType with no registered
// handler.
type ErrUnsupportedTool struct{ ToolType string }

func (e *ErrUnsupportedTool) Error() string {
	return fmt.Sprintf("unsupported tool type: %s", e.ToolType)
}

// Handler runs one tool invocation, creating outputDir if absent and
// returning a stable modelName plus the artifact paths it produced.
type Handler func(ctx context.Context, inputFile, outputDir string, params map[string]any) (modelName string, artifacts []string, err error)

// Runner holds the dispatch table for the four external-collaborator
// tool types.
type Runner struct {
	handlers map[string]Handler
}

// New builds a Runner wired against cfg (mastering engine selection and
// the optional sonicmaster script path).
func New(cfg *config.Config) *Runner {
	r := &Runner{handlers: make(map[string]Handler)}
	r.handlers["mastering"] = masteringHandler(cfg)
	r.handlers["key_bpm"] = keyBPMHandler
	r.handlers["loudness_report"] = loudnessReportHandler
	r.handlers["midi_extract"] = midiExtractHandler
	return r
}

// Run dispatches toolType to its handler.
func (r *Runner) Run(ctx context.Context, toolType, inputFile, outputDir string, params map[string]any) (string, []string, error) {
	handler, ok := r.handlers[toolType]
	if !ok {
		return "", nil, &ErrUnsupportedTool{ToolType: toolType}
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("toolrunner: create output dir: %w", err)
	}
	return handler(ctx, inputFile, outputDir, params)
}

func masteringHandler(cfg *config.Config) Handler {
	return func(ctx context.Context, inputFile, outputDir string, params map[string]any) (string, []string, error) {
		intensity := 60.0
		if v, ok := params["intensity"].(float64); ok {
			intensity = v
		}
		preset := "streaming_clean"
		if v, ok := params["preset"].(string); ok && v != "" {
			preset = v
		}

		order := mastering.BuildCandidateOrder(cfg.MasteringEngine)
		candidates := mastering.Candidates(order, cfg.SonicmasterScript)
		return mastering.Run(ctx, candidates, inputFile, outputDir, mastering.Params{Intensity: intensity, Preset: preset})
	}
}

func floatParam(params map[string]any, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

func boolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}
