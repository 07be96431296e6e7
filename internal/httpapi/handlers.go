package httpapi

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/soundmaxx-worker/internal/jobengine"
)

// handlers closes over the job engine every operation dispatches to.
type handlers struct {
	engine *jobengine.Engine
}

func newHandlers(engine *jobengine.Engine) *handlers {
	return &handlers{engine: engine}
}

func (h *handlers) health(ctx context.Context, _ *healthInput) (*healthOutput, error) {
	out := &healthOutput{}
	out.Body.OK = true
	out.Body.Worker = "soundmaxx"
	return out, nil
}

func (h *handlers) livez(ctx context.Context, _ *healthInput) (*probeOutput, error) {
	out := &probeOutput{}
	out.Body.OK = true
	return out, nil
}

func (h *handlers) readyz(ctx context.Context, _ *healthInput) (*probeOutput, error) {
	out := &probeOutput{}
	out.Body.OK = true
	return out, nil
}

func (h *handlers) createJob(ctx context.Context, in *createJobInput) (*createJobOutput, error) {
	req := jobengine.Request{
		JobID:    in.Body.JobID,
		ToolType: in.Body.ToolType,
		Params:   in.Body.Params,
		SourceAsset: jobengine.SourceAsset{
			ID:          in.Body.SourceAsset.ID,
			BlobURL:     in.Body.SourceAsset.BlobURL,
			DurationSec: in.Body.SourceAsset.DurationSec,
		},
		Callback: jobengine.Callback{
			WebhookURL:    in.Body.Callback.WebhookURL,
			WebhookSecret: in.Body.Callback.WebhookSecret,
		},
		Dataset: jobengine.DatasetOptions{
			CaptureMode:     in.Body.Dataset.CaptureMode,
			PolicyVersion:   in.Body.Dataset.PolicyVersion,
			SourceSessionID: in.Body.Dataset.SourceSessionID,
		},
	}

	status := h.engine.Submit(ctx, req)

	out := &createJobOutput{}
	out.Body = toJobStatusBody(status)
	return out, nil
}

func (h *handlers) getJob(ctx context.Context, in *getJobInput) (*getJobOutput, error) {
	status, ok := h.engine.Get(in.ExternalJobID)
	if !ok {
		return nil, huma.Error404NotFound(fmt.Sprintf("unknown job %q", in.ExternalJobID))
	}

	out := &getJobOutput{}
	out.Body = toJobStatusBody(status)
	return out, nil
}

func toJobStatusBody(s *jobengine.JobStatus) jobStatusBody {
	return jobStatusBody{
		ExternalJobID: s.ExternalJobID,
		Status:        string(s.Status),
		Model:         s.Model,
		EtaSec:        s.EtaSec,
		ProgressPct:   s.ProgressPct,
		ErrorCode:     s.ErrorCode,
		Artifacts:     s.Artifacts,
	}
}
