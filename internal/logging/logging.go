// Package logging provides a process-wide zerolog logger with:
//   - TTY detection for human-readable console output vs JSON output
//   - LOG_FORMAT env var override (text/json)
//   - LOG_LEVEL env var (debug/info/warn/error)
//   - job-ID-scoped child loggers carried on context.Context
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

type ctxKey int

const jobIDKey ctxKey = iota

// New builds a zerolog.Logger from LOG_LEVEL and LOG_FORMAT. When
// LOG_FORMAT is unset, format defaults to a human-readable console writer
// if stdout is a TTY, else structured JSON.
func New() zerolog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))
	format := strings.ToLower(os.Getenv("LOG_FORMAT"))
	if format == "" {
		if isatty.IsTerminal(os.Stdout.Fd()) {
			format = "text"
		} else {
			format = "json"
		}
	}

	var writer = os.Stdout
	var logger zerolog.Logger
	if format == "text" {
		console := zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
		logger = zerolog.New(console)
	} else {
		logger = zerolog.New(writer)
	}

	return logger.Level(level).With().Timestamp().Logger()
}

func parseLevel(v string) zerolog.Level {
	switch strings.ToLower(v) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "info", "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDefault installs a freshly built logger as the zerolog global default
// and returns it for immediate use by main.
func SetDefault() zerolog.Logger {
	logger := New()
	zerolog.DefaultContextLogger = &logger
	return logger
}

// WithJobID returns a context carrying a child logger tagged with jobID,
// derived from the logger already on ctx (or the global default).
func WithJobID(ctx context.Context, jobID string) context.Context {
	l := zerolog.Ctx(ctx).With().Str("job_id", jobID).Logger()
	ctx = context.WithValue(ctx, jobIDKey, jobID)
	return l.WithContext(ctx)
}

// FromContext returns the logger carried on ctx, falling back to the
// global default logger when none was attached.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// GetJobID extracts the job ID previously attached by WithJobID, if any.
func GetJobID(ctx context.Context) string {
	v, _ := ctx.Value(jobIDKey).(string)
	return v
}
