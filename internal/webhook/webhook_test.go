package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jmylchreest/soundmaxx-worker/internal/signer"
)

func TestSendDeliversSignedPayload(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte
	var gotSig string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = body
		gotSig = r.Header.Get(signatureHeader)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender()
	payload := RunningPayload{ExternalJobID: "job-1", Status: "running", ProgressPct: 20}
	s.Send(context.Background(), srv.URL, "secret-value-long-enough", "running", payload)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(gotBody) > 0
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotBody) == 0 {
		t.Fatal("expected webhook to be delivered")
	}
	var decoded RunningPayload
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if decoded.ExternalJobID != "job-1" {
		t.Fatalf("unexpected body: %+v", decoded)
	}
	want := signer.SignBody("secret-value-long-enough", gotBody)
	if gotSig != want {
		t.Fatalf("signature mismatch: got %s want %s", gotSig, want)
	}
}

func TestSendDoesNotBlockOnUnreachableURL(t *testing.T) {
	s := NewSender()
	start := time.Now()
	s.Send(context.Background(), "http://127.0.0.1:1", "secret-value-long-enough", "failed", FailedPayload{ExternalJobID: "job-2"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("expected Send to return immediately, took %s", time.Since(start))
	}
}
