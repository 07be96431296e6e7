// Package webhook delivers job-status callbacks, per §6.2. Delivery is
// at-most-once and fire-and-forget: failures are logged and never
// propagate back to the job execution path.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jmylchreest/soundmaxx-worker/internal/logging"
	"github.com/jmylchreest/soundmaxx-worker/internal/metrics"
	"github.com/jmylchreest/soundmaxx-worker/internal/signer"
)

const deliveryTimeout = 30 * time.Second

const signatureHeader = "X-SoundMaxx-Signature"

// ArtifactPayload mirrors the §3 wire shape of a produced output file.
type ArtifactPayload struct {
	BlobURL   string `json:"blobUrl"`
	BlobKey   string `json:"blobKey"`
	Format    string `json:"format"`
	SizeBytes int64  `json:"sizeBytes"`
}

// RunningPayload is the body sent when a job transitions to running.
type RunningPayload struct {
	ExternalJobID string `json:"externalJobId"`
	Status        string `json:"status"`
	ProgressPct   int    `json:"progressPct"`
}

// SucceededPayload is the body sent when a job completes successfully.
type SucceededPayload struct {
	ExternalJobID string            `json:"externalJobId"`
	Status        string            `json:"status"`
	ProgressPct   int               `json:"progressPct"`
	Model         string            `json:"model"`
	QualityFlags  []string          `json:"qualityFlags"`
	Artifacts     []ArtifactPayload `json:"artifacts"`
}

// FailedPayload is the body sent when a job fails.
type FailedPayload struct {
	ExternalJobID string `json:"externalJobId"`
	Status        string `json:"status"`
	ProgressPct   int    `json:"progressPct"`
	ErrorCode     string `json:"errorCode"`
}

// Sender POSTs signed JSON callbacks to a job's configured webhook URL.
type Sender struct {
	client *http.Client
}

// NewSender returns a Sender with the §5 30s delivery timeout.
func NewSender() *Sender {
	return &Sender{client: &http.Client{Timeout: deliveryTimeout}}
}

// Send fires a signed callback in the background. It never blocks the
// caller and never returns an error; delivery outcome is only observable
// via logging and metrics. event labels the status transition being
// reported (running, succeeded, failed) for metrics purposes.
func (s *Sender) Send(ctx context.Context, url, secret, event string, body any) {
	go func() {
		logger := logging.FromContext(ctx)
		if err := s.deliver(url, secret, body); err != nil {
			metrics.WebhookDeliveryFailuresTotal.WithLabelValues(event).Inc()
			logger.Warn().Err(err).Str("webhook_url", url).Msg("webhook delivery failed")
		}
	}()
}

func (s *Sender) deliver(url, secret string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, signer.SignBody(secret, payload))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ErrDeliveryFailed{StatusCode: resp.StatusCode}
	}
	return nil
}

// ErrDeliveryFailed reports a non-2xx callback response.
type ErrDeliveryFailed struct{ StatusCode int }

func (e *ErrDeliveryFailed) Error() string {
	return http.StatusText(e.StatusCode)
}
