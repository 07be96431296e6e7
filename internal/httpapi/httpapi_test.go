package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmylchreest/soundmaxx-worker/internal/config"
	"github.com/jmylchreest/soundmaxx-worker/internal/dataset"
	"github.com/jmylchreest/soundmaxx-worker/internal/jobengine"
	"github.com/jmylchreest/soundmaxx-worker/internal/sandbox"
	"github.com/jmylchreest/soundmaxx-worker/internal/sourcecache"
	"github.com/jmylchreest/soundmaxx-worker/internal/storage"
	"github.com/jmylchreest/soundmaxx-worker/internal/toolrunner"
	"github.com/jmylchreest/soundmaxx-worker/internal/wavutil"
	"github.com/jmylchreest/soundmaxx-worker/internal/webhook"
)

func newTestRouter(t *testing.T) (http.Handler, *jobengine.Engine, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		Port:                        8000,
		WorkerAPIKey:                "test-worker-api-key",
		WorkerPublicBaseURL:         "http://worker.local",
		CORSAllowedOrigins:          []string{"*"},
		JobsRateLimitPerMinute:      60,
		OutputRoot:                  filepath.Join(root, "output"),
		TmpRoot:                     filepath.Join(root, "tmp"),
		DatasetRoot:                 filepath.Join(root, "dataset"),
		DatasetSessionSalt:          "test-salt",
		DatasetRawRetentionDays:     90,
		DatasetDerivedRetentionDays: 365,
		MasteringEngine:             "adaptive_dsp_mastering",
		StemIsolationTimeoutSec:     30,
		MetricsEnabled:              false,
	}

	cache := sourcecache.New(filepath.Join(root, "cache"), 0, 0)
	mirror, err := storage.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}

	engine := jobengine.New(cfg, cache, toolrunner.New(cfg), sandbox.New(), dataset.New(), webhook.NewSender(), mirror)
	return NewRouter(cfg, engine), engine, cfg
}

func writeTestWAV(t *testing.T, path string) {
	t.Helper()
	const sampleRate = 44100
	buf := &wavutil.Buffer{Frames: make([][]float32, sampleRate), SampleRate: sampleRate}
	for i := range buf.Frames {
		v := float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate)))
		buf.Frames[i] = []float32{v}
	}
	if err := wavutil.WritePCM24(path, buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
}

func TestHealthIsPublic(t *testing.T) {
	router, _, _ := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		OK     bool   `json:"ok"`
		Worker string `json:"worker"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || body.Worker != "soundmaxx" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestCreateJobRequiresBearerToken(t *testing.T) {
	router, _, _ := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/jobs", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("POST /jobs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCreateAndPollJob(t *testing.T) {
	router, _, cfg := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	sourceDir := t.TempDir()
	writeTestWAV(t, filepath.Join(sourceDir, "tone.wav"))
	fileSrv := httptest.NewServer(http.FileServer(http.Dir(sourceDir)))
	defer fileSrv.Close()

	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer hookSrv.Close()

	payload := map[string]any{
		"jobId":    "job-http-1",
		"toolType": "loudness_report",
		"sourceAsset": map[string]any{
			"id":      "asset-1",
			"blobUrl": fileSrv.URL + "/tone.wav",
		},
		"callback": map[string]any{
			"webhookUrl":    hookSrv.URL,
			"webhookSecret": "secret-value-long-enough",
		},
	}
	body, _ := json.Marshal(payload)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.WorkerAPIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /jobs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var created jobStatusBody
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != "queued" {
		t.Fatalf("expected queued, got %s", created.Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	var final jobStatusBody
	for time.Now().Before(deadline) {
		getReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/jobs/job-http-1", nil)
		getReq.Header.Set("Authorization", "Bearer "+cfg.WorkerAPIKey)
		getResp, err := http.DefaultClient.Do(getReq)
		if err != nil {
			t.Fatalf("GET /jobs/job-http-1: %v", err)
		}
		if err := json.NewDecoder(getResp.Body).Decode(&final); err != nil {
			t.Fatalf("decode: %v", err)
		}
		getResp.Body.Close()
		if final.Status == "succeeded" || final.Status == "failed" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if final.Status != "succeeded" {
		t.Fatalf("expected succeeded, got %s (error=%s)", final.Status, final.ErrorCode)
	}
}

func TestGetUnknownJobReturns404(t *testing.T) {
	router, _, cfg := newTestRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/jobs/does-not-exist", nil)
	req.Header.Set("Authorization", "Bearer "+cfg.WorkerAPIKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
