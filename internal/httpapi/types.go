package httpapi

import "github.com/jmylchreest/soundmaxx-worker/internal/webhook"

// sourceAssetBody is the §3 SourceAsset wire shape.
type sourceAssetBody struct {
	ID          string  `json:"id" required:"true"`
	BlobURL     string  `json:"blobUrl" required:"true" format:"uri"`
	DurationSec float64 `json:"durationSec" minimum:"0"`
}

// callbackBody is the §3 Callback wire shape.
type callbackBody struct {
	WebhookURL    string `json:"webhookUrl" required:"true" format:"uri"`
	WebhookSecret string `json:"webhookSecret" required:"true" minLength:"16"`
}

// datasetBody is the §3 dataset-capture wire shape.
type datasetBody struct {
	CaptureMode     string `json:"captureMode" enum:"implied_use,none" default:"none"`
	PolicyVersion   string `json:"policyVersion" minLength:"1" maxLength:"64"`
	SourceSessionID string `json:"sourceSessionId"`
}

// jobRequestBody is the §3 JobRequest wire shape accepted by POST /jobs.
type jobRequestBody struct {
	JobID       string          `json:"jobId" required:"true"`
	ToolType    string          `json:"toolType" required:"true" enum:"stem_isolation,mastering,key_bpm,loudness_report,midi_extract"`
	Params      map[string]any  `json:"params,omitempty"`
	SourceAsset sourceAssetBody `json:"sourceAsset" required:"true"`
	Callback    callbackBody    `json:"callback" required:"true"`
	Dataset     datasetBody     `json:"dataset,omitempty"`
}

// jobStatusBody is the §3 WorkerJobStatus wire shape returned by both
// POST /jobs and GET /jobs/{externalJobId}.
type jobStatusBody struct {
	ExternalJobID string                    `json:"externalJobId"`
	Status        string                    `json:"status"`
	Model         string                    `json:"model"`
	EtaSec        int                       `json:"etaSec"`
	ProgressPct   int                       `json:"progressPct"`
	ErrorCode     string                    `json:"errorCode,omitempty"`
	Artifacts     []webhook.ArtifactPayload `json:"artifacts,omitempty"`
}

type createJobInput struct {
	Authorization string `header:"Authorization" required:"true"`
	Body          jobRequestBody
}

type createJobOutput struct {
	Body jobStatusBody
}

type getJobInput struct {
	Authorization string `header:"Authorization" required:"true"`
	ExternalJobID string `path:"externalJobId"`
}

type getJobOutput struct {
	Body jobStatusBody
}

type healthInput struct{}

type healthOutput struct {
	Body struct {
		OK     bool   `json:"ok"`
		Worker string `json:"worker"`
	}
}

type probeOutput struct {
	Body struct {
		OK bool `json:"ok"`
	}
}
