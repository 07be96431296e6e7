// Package jobengine owns the async job lifecycle of §4.9: accepting a
// JobRequest, running its tool invocation off the HTTP path, and
// exposing the resulting JobStatus to subsequent polls.
package jobengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/soundmaxx-worker/internal/config"
	"github.com/jmylchreest/soundmaxx-worker/internal/dataset"
	"github.com/jmylchreest/soundmaxx-worker/internal/logging"
	"github.com/jmylchreest/soundmaxx-worker/internal/metrics"
	"github.com/jmylchreest/soundmaxx-worker/internal/sandbox"
	"github.com/jmylchreest/soundmaxx-worker/internal/sourcecache"
	"github.com/jmylchreest/soundmaxx-worker/internal/stems"
	"github.com/jmylchreest/soundmaxx-worker/internal/storage"
	"github.com/jmylchreest/soundmaxx-worker/internal/toolrunner"
	"github.com/jmylchreest/soundmaxx-worker/internal/webhook"
)

// Status is a job's lifecycle state; it only ever advances forward.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

const errorCodeMaxLen = 120

// SourceAsset identifies the audio to fetch before running a tool.
type SourceAsset struct {
	ID          string
	BlobURL     string
	DurationSec float64
}

// Callback holds the webhook delivery target for a job.
type Callback struct {
	WebhookURL    string
	WebhookSecret string
}

// DatasetOptions controls whether a completed job feeds the training
// ledger.
type DatasetOptions struct {
	CaptureMode     string
	PolicyVersion   string
	SourceSessionID string
}

// Request is the immutable JobRequest of §3.
type Request struct {
	JobID       string
	ToolType    string
	Params      map[string]any
	SourceAsset SourceAsset
	Callback    Callback
	Dataset     DatasetOptions
}

// JobStatus is the mutable WorkerJobStatus of §3; once terminal it is
// never mutated again.
type JobStatus struct {
	ExternalJobID string
	Status        Status
	Model         string
	EtaSec        int
	ProgressPct   int
	ErrorCode     string
	Artifacts     []webhook.ArtifactPayload
}

func (j JobStatus) clone() *JobStatus {
	out := j
	out.Artifacts = append([]webhook.ArtifactPayload{}, j.Artifacts...)
	return &out
}

// Engine owns the in-memory job registry and the wiring to every
// collaborator an execution needs.
type Engine struct {
	cfg      *config.Config
	cache    *sourcecache.Cache
	tools    *toolrunner.Runner
	sandbox  *sandbox.Runner
	ledger   *dataset.Ledger
	webhooks *webhook.Sender
	mirror   *storage.Mirror

	mu   sync.RWMutex
	jobs map[string]*JobStatus

	activeMu sync.Mutex
	active   int
	wg       sync.WaitGroup
}

// New wires an Engine against its collaborators.
func New(cfg *config.Config, cache *sourcecache.Cache, tools *toolrunner.Runner, sb *sandbox.Runner, ledger *dataset.Ledger, webhooks *webhook.Sender, mirror *storage.Mirror) *Engine {
	return &Engine{
		cfg:      cfg,
		cache:    cache,
		tools:    tools,
		sandbox:  sb,
		ledger:   ledger,
		webhooks: webhooks,
		mirror:   mirror,
		jobs:     make(map[string]*JobStatus),
	}
}

// Submit records the queued status for req and schedules its execution
// off the calling goroutine, returning the queued snapshot immediately.
func (e *Engine) Submit(ctx context.Context, req Request) *JobStatus {
	status := &JobStatus{
		ExternalJobID: req.JobID,
		Status:        StatusQueued,
		Model:         initialModel(req.ToolType, e.cfg),
		EtaSec:        180,
		ProgressPct:   5,
	}

	e.mu.Lock()
	e.jobs[req.JobID] = status
	e.mu.Unlock()

	metrics.JobsAcceptedTotal.WithLabelValues(req.ToolType).Inc()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(logging.WithJobID(context.Background(), req.JobID), req)
	}()

	return status.clone()
}

// Get returns a snapshot of a job's current status.
func (e *Engine) Get(jobID string) (*JobStatus, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	status, ok := e.jobs[jobID]
	if !ok {
		return nil, false
	}
	return status.clone(), true
}

// Drain waits up to timeout for in-flight executions to finish.
func (e *Engine) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

func initialModel(toolType string, cfg *config.Config) string {
	switch toolType {
	case "stem_isolation":
		return cfg.StemModelRoformerName
	case "mastering":
		return cfg.MasteringEngine
	case "key_bpm":
		return "essentia"
	case "loudness_report":
		return "pyloudnorm"
	case "midi_extract":
		return "basic_pitch"
	default:
		return ""
	}
}

func (e *Engine) setStatus(jobID string, mutate func(*JobStatus)) *JobStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	status := e.jobs[jobID]
	mutate(status)
	return status.clone()
}

func (e *Engine) execute(ctx context.Context, req Request) {
	e.activeMu.Lock()
	e.active++
	metrics.JobsInFlight.Set(float64(e.active))
	e.activeMu.Unlock()
	defer func() {
		e.activeMu.Lock()
		e.active--
		metrics.JobsInFlight.Set(float64(e.active))
		e.activeMu.Unlock()
	}()

	logger := logging.FromContext(ctx)
	start := time.Now()

	e.setStatus(req.JobID, func(s *JobStatus) {
		s.Status = StatusRunning
		s.ProgressPct = 20
	})
	e.webhooks.Send(ctx, req.Callback.WebhookURL, req.Callback.WebhookSecret, "running", webhook.RunningPayload{
		ExternalJobID: req.JobID,
		Status:        string(StatusRunning),
		ProgressPct:   20,
	})

	workspaceDir := filepath.Join(e.cfg.TmpRoot, req.JobID)
	outputDir := filepath.Join(e.cfg.OutputRoot, req.JobID)
	defer os.RemoveAll(workspaceDir)

	if err := recreateDir(workspaceDir); err != nil {
		e.fail(ctx, req, fmt.Sprintf("workspace setup: %v", err))
		return
	}
	if err := recreateDir(outputDir); err != nil {
		e.fail(ctx, req, fmt.Sprintf("output setup: %v", err))
		return
	}

	inputPath := filepath.Join(workspaceDir, "input"+sourceExt(req.SourceAsset.BlobURL))
	if err := e.cache.Stage(ctx, req.SourceAsset.BlobURL, inputPath); err != nil {
		e.fail(ctx, req, fmt.Sprintf("stage source: %v", err))
		return
	}
	e.setStatus(req.JobID, func(s *JobStatus) { s.ProgressPct = 40 })

	model, files, qualityFlags, err := e.runTool(ctx, req, inputPath, outputDir)
	if err != nil {
		e.fail(ctx, req, err.Error())
		return
	}

	artifacts := buildArtifacts(e.cfg, req.JobID, outputDir, files)

	e.setStatus(req.JobID, func(s *JobStatus) {
		s.Status = StatusSucceeded
		s.ProgressPct = 100
		s.EtaSec = 0
		s.Model = model
		s.Artifacts = artifacts
	})

	metrics.JobsCompletedTotal.WithLabelValues(req.ToolType, string(StatusSucceeded)).Inc()
	metrics.JobDuration.WithLabelValues(req.ToolType).Observe(time.Since(start).Seconds())
	if req.ToolType == "mastering" {
		metrics.MasteringEngineSelectedTotal.WithLabelValues(model).Inc()
	}

	if req.Dataset.CaptureMode == dataset.CaptureMode {
		e.captureSample(ctx, req, inputPath, outputDir, files)
	}

	if e.mirror.Enabled() {
		for _, path := range files {
			if err := e.mirror.MirrorArtifact(ctx, req.JobID, path); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("failed to mirror artifact")
			}
		}
	}

	e.webhooks.Send(ctx, req.Callback.WebhookURL, req.Callback.WebhookSecret, "succeeded", webhook.SucceededPayload{
		ExternalJobID: req.JobID,
		Status:        string(StatusSucceeded),
		ProgressPct:   100,
		Model:         model,
		QualityFlags:  qualityFlags,
		Artifacts:     artifacts,
	})
}

// runTool dispatches stem_isolation through the Timeout Sandbox (with
// fallback on Timeout) and every other tool type inline.
func (e *Engine) runTool(ctx context.Context, req Request, inputPath, outputDir string) (model string, files []string, qualityFlags []string, err error) {
	if req.ToolType != "stem_isolation" {
		model, files, err = e.tools.Run(ctx, req.ToolType, inputPath, outputDir, req.Params)
		return model, files, nil, err
	}

	timeoutSec := e.cfg.StemIsolationTimeoutSec
	if timeoutSec < 30 {
		timeoutSec = 30
	}
	model, files, err = e.sandbox.RunWithHardTimeout(ctx, "stem_isolation", inputPath, outputDir, req.Params, timeoutSec)
	if err == nil {
		return model, files, nil, nil
	}
	if _, ok := err.(*sandbox.ErrTimeout); !ok {
		return "", nil, nil, err
	}

	metrics.StemIsolationFallbacksTotal.Inc()
	stemsCount := 4
	if v, ok := req.Params["stems"].(float64); ok {
		stemsCount = int(v)
	}
	inputBase := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	fallbackFiles, fallbackModel, ferr := stems.BuildStemTimeoutFallback(inputPath, outputDir, stemsCount)
	if ferr != nil {
		return "", nil, nil, ferr
	}
	zipPath, zerr := stems.BundleZip(outputDir, inputBase, fallbackFiles, e.cfg.StemZipCompression)
	if zerr != nil {
		return "", nil, nil, zerr
	}
	return fallbackModel, append(fallbackFiles, zipPath), []string{"fallback_passthrough_output"}, nil
}

func (e *Engine) fail(ctx context.Context, req Request, message string) {
	errorCode := truncate(message, errorCodeMaxLen)
	e.setStatus(req.JobID, func(s *JobStatus) {
		s.Status = StatusFailed
		s.ProgressPct = 100
		s.ErrorCode = errorCode
	})
	metrics.JobsCompletedTotal.WithLabelValues(req.ToolType, string(StatusFailed)).Inc()
	e.webhooks.Send(ctx, req.Callback.WebhookURL, req.Callback.WebhookSecret, "failed", webhook.FailedPayload{
		ExternalJobID: req.JobID,
		Status:        string(StatusFailed),
		ProgressPct:   100,
		ErrorCode:     errorCode,
	})
}

func (e *Engine) captureSample(ctx context.Context, req Request, inputPath, outputDir string, files []string) {
	logger := logging.FromContext(ctx)
	sampleID, err := e.ledger.Capture(dataset.Request{
		DatasetRoot:          e.cfg.DatasetRoot,
		JobID:                req.JobID,
		ToolType:             req.ToolType,
		SourceSessionID:      req.Dataset.SourceSessionID,
		PolicyVersion:        req.Dataset.PolicyVersion,
		SessionSalt:          e.cfg.DatasetSessionSalt,
		RawRetentionDays:     e.cfg.DatasetRawRetentionDays,
		DerivedRetentionDays: e.cfg.DatasetDerivedRetentionDays,
		InputPath:            inputPath,
		OutputPaths:          files,
		Params:               req.Params,
	})
	if err != nil {
		metrics.DatasetCaptureFailuresTotal.Inc()
		logger.Warn().Err(err).Str("job_id", req.JobID).Msg("dataset capture failed")
		return
	}
	if e.mirror.Enabled() {
		sampleDir := filepath.Join(e.cfg.DatasetRoot, "samples", sampleID)
		entries, err := os.ReadDir(sampleDir)
		if err != nil {
			logger.Warn().Err(err).Str("sample_id", sampleID).Msg("failed to list dataset sample for mirroring")
			return
		}
		for _, entry := range entries {
			if err := e.mirror.MirrorSample(ctx, sampleID, filepath.Join(sampleDir, entry.Name())); err != nil {
				logger.Warn().Err(err).Str("sample_id", sampleID).Msg("failed to mirror dataset sample file")
			}
		}
	}
}

func recreateDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func sourceExt(sourceURL string) string {
	ext := filepath.Ext(sourceURL)
	if ext == "" {
		return ".wav"
	}
	return ext
}

func buildArtifacts(cfg *config.Config, jobID, outputDir string, files []string) []webhook.ArtifactPayload {
	artifacts := make([]webhook.ArtifactPayload, 0, len(files))
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		name := filepath.Base(path)
		format := strings.TrimPrefix(filepath.Ext(name), ".")
		if format == "" {
			format = "bin"
		}
		artifacts = append(artifacts, webhook.ArtifactPayload{
			BlobURL:   fmt.Sprintf("%s/outputs/%s/%s", strings.TrimSuffix(cfg.WorkerPublicBaseURL, "/"), jobID, name),
			BlobKey:   name,
			Format:    format,
			SizeBytes: info.Size(),
		})
	}
	return artifacts
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
