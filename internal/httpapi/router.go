// Package httpapi wires the worker's HTTP surface: job submission and
// polling over Huma-documented JSON endpoints, plus static output
// hosting and Prometheus scraping, per §7.
package httpapi

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmylchreest/soundmaxx-worker/internal/config"
	"github.com/jmylchreest/soundmaxx-worker/internal/jobengine"
	"github.com/jmylchreest/soundmaxx-worker/internal/metrics"
)

const defaultRequestTimeout = 15 * time.Second

// NewRouter assembles the full chi router for the worker process.
func NewRouter(cfg *config.Config, engine *jobengine.Engine) http.Handler {
	h := newHandlers(engine)

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(requestTimeout(defaultRequestTimeout))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Use(chimw.RequestSize(1 * 1024 * 1024))
	router.Use(httprate.LimitByIP(100, time.Minute))

	if cfg.MetricsEnabled {
		router.Use(recordMetrics)
		metrics.Register(prometheus.DefaultRegisterer)
		router.Handle("/metrics", promhttp.Handler())
	}

	humaConfig := huma.DefaultConfig("SoundMaxx Worker", "1.0.0")
	humaConfig.Info.Description = "Audio-processing worker: stem isolation, mastering, key/BPM detection, loudness reporting, and MIDI extraction."
	humaConfig.Servers = []*huma.Server{{URL: cfg.WorkerPublicBaseURL, Description: "Worker"}}
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		securityScheme: {
			Type:        "http",
			Scheme:      "bearer",
			Description: "Worker API key. Include as `Authorization: Bearer <WORKER_API_KEY>`.",
		},
	}
	api := humachi.New(router, humaConfig)

	probeConfig := huma.DefaultConfig("SoundMaxx Worker", "1.0.0")
	probeConfig.DocsPath = ""
	probeConfig.OpenAPIPath = ""
	probeConfig.SchemasPath = ""
	probeAPI := humachi.New(router, probeConfig)

	publicGet(api, "/health", h.health,
		withTags("Health"), withSummary("Health check"), withOperationID("health"))
	hiddenGet(probeAPI, "/livez", h.livez)
	hiddenGet(probeAPI, "/readyz", h.readyz)

	router.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.WorkerAPIKey))
		// the per-IP jobs limit applies to submissions (POST /jobs) only,
		// so status polls do not use up the submission budget.
		jobsLimiter := httprate.LimitByIP(cfg.JobsRateLimitPerMinute, time.Minute)
		r.Use(func(next http.Handler) http.Handler {
			limited := jobsLimiter(next)
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if req.Method == http.MethodPost {
					limited.ServeHTTP(w, req)
					return
				}
				next.ServeHTTP(w, req)
			})
		})

		protectedConfig := huma.DefaultConfig("SoundMaxx Worker", "1.0.0")
		protectedConfig.DocsPath = ""
		protectedConfig.OpenAPIPath = ""
		protectedConfig.SchemasPath = ""
		protectedAPI := humachi.New(r, protectedConfig)

		protectedPost(protectedAPI, "/jobs", h.createJob,
			withTags("Jobs"), withSummary("Submit a processing job"), withOperationID("createJob"))
		protectedGet(protectedAPI, "/jobs/{externalJobId}", h.getJob,
			withTags("Jobs"), withSummary("Get job status"), withOperationID("getJob"))
	})

	fileServer := http.StripPrefix("/outputs/", http.FileServer(http.Dir(cfg.OutputRoot)))
	router.Handle("/outputs/*", fileServer)

	return router
}
