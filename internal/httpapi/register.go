package httpapi

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

const securityScheme = "bearerAuth"

// operationOption mutates a huma.Operation at registration time.
type operationOption func(*huma.Operation)

func withTags(tags ...string) operationOption {
	return func(op *huma.Operation) { op.Tags = append(op.Tags, tags...) }
}

func withSummary(summary string) operationOption {
	return func(op *huma.Operation) { op.Summary = summary }
}

func withOperationID(id string) operationOption {
	return func(op *huma.Operation) { op.OperationID = id }
}

// publicGet registers a GET endpoint that needs no bearer auth.
func publicGet[I, O any](api huma.API, path string, handler func(ctx context.Context, input *I) (*O, error), opts ...operationOption) {
	op := huma.Operation{Method: http.MethodGet, Path: path}
	for _, opt := range opts {
		opt(&op)
	}
	huma.Register(api, op, handler)
}

// hiddenGet registers a GET endpoint that's kept out of the OpenAPI docs,
// for Kubernetes-style liveness/readiness probes.
func hiddenGet[I, O any](api huma.API, path string, handler func(ctx context.Context, input *I) (*O, error)) {
	huma.Register(api, huma.Operation{Method: http.MethodGet, Path: path, Hidden: true}, handler)
}

// protectedPost registers a POST endpoint documented as requiring bearer
// auth. Enforcement happens in the chi middleware chain wrapping the
// router this operation is registered against, not here.
func protectedPost[I, O any](api huma.API, path string, handler func(ctx context.Context, input *I) (*O, error), opts ...operationOption) {
	op := huma.Operation{
		Method:   http.MethodPost,
		Path:     path,
		Security: []map[string][]string{{securityScheme: {}}},
	}
	for _, opt := range opts {
		opt(&op)
	}
	huma.Register(api, op, handler)
}

// protectedGet registers a GET endpoint documented as requiring bearer auth.
func protectedGet[I, O any](api huma.API, path string, handler func(ctx context.Context, input *I) (*O, error), opts ...operationOption) {
	op := huma.Operation{
		Method:   http.MethodGet,
		Path:     path,
		Security: []map[string][]string{{securityScheme: {}}},
	}
	for _, opt := range opts {
		opt(&op)
	}
	huma.Register(api, op, handler)
}
