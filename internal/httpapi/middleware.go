package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/soundmaxx-worker/internal/metrics"
	"github.com/jmylchreest/soundmaxx-worker/internal/signer"
)

// panicWithStack captures a panic value along with its stack trace, so a
// panic inside the timeout goroutine re-panics with context intact
// instead of silently hanging the request.
type panicWithStack struct {
	value any
	stack []byte
}

// requestTimeout bounds how long a handler may run before the client
// gets a 504. Job submission itself is fire-and-forget, so this only
// needs to cover the synchronous bookkeeping work, not job execution.
func requestTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			done := make(chan struct{})
			panicChan := make(chan *panicWithStack, 1)

			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicChan <- &panicWithStack{value: p, stack: debug.Stack()}
					}
				}()
				next.ServeHTTP(w, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case p := <-panicChan:
				panic(fmt.Sprintf("%v\n\n%s", p.value, p.stack))
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					w.WriteHeader(http.StatusGatewayTimeout)
				}
			}
		})
	}
}

// responseWriterMetrics captures the status code a handler wrote so
// recordMetrics can label the request after the fact.
type responseWriterMetrics struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriterMetrics) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// recordMetrics observes every request against HTTPRequestsTotal and
// HTTPRequestDuration, labeled by the matched chi route pattern rather
// than the raw path so per-job paths like /jobs/{externalJobId} don't
// create a distinct series per job.
func recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := &responseWriterMetrics{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		duration := time.Since(start)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())
	})
}

// bearerAuth rejects any request whose Authorization header doesn't
// carry the worker's single static API key, per §7's auth contract.
func bearerAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !signer.VerifyBearer(r.Header.Get("Authorization"), apiKey) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"missing or invalid bearer token"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
