// Package main is the entry point for the soundmaxx-worker process.
// Running it with a single "__sandbox-exec" argument re-execs it as a
// sandboxed stem-isolation child instead of starting the HTTP server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmylchreest/soundmaxx-worker/internal/config"
	"github.com/jmylchreest/soundmaxx-worker/internal/dataset"
	"github.com/jmylchreest/soundmaxx-worker/internal/httpapi"
	"github.com/jmylchreest/soundmaxx-worker/internal/jobengine"
	"github.com/jmylchreest/soundmaxx-worker/internal/logging"
	"github.com/jmylchreest/soundmaxx-worker/internal/sandbox"
	"github.com/jmylchreest/soundmaxx-worker/internal/sourcecache"
	"github.com/jmylchreest/soundmaxx-worker/internal/storage"
	"github.com/jmylchreest/soundmaxx-worker/internal/toolrunner"
	"github.com/jmylchreest/soundmaxx-worker/internal/version"
	"github.com/jmylchreest/soundmaxx-worker/internal/webhook"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == sandbox.ChildSubcommand {
		sandbox.RunChild()
		return
	}

	logger := logging.SetDefault()

	v := version.Get()
	logger.Info().
		Str("version", v.Version).
		Str("commit", v.Commit).
		Str("built", v.Date).
		Str("go_version", v.GoVersion).
		Msg("starting soundmaxx-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := sourcecache.New(cfg.SourceCacheRoot, cfg.SourceCacheMaxBytes, cfg.SourceCacheMaxFiles)
	mirror, err := storage.New(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize storage mirror")
		os.Exit(1)
	}

	engine := jobengine.New(
		cfg,
		cache,
		toolrunner.New(cfg),
		sandbox.New(),
		dataset.New(),
		webhook.NewSender(),
		mirror,
	)

	router := httpapi.NewRouter(cfg, engine)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info().Msg("shutting down server")

		cancel()
		engine.Drain(time.Duration(cfg.ShutdownGraceSec) * time.Second)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
	}()

	logger.Info().Int("port", cfg.Port).Str("base_url", cfg.WorkerPublicBaseURL).Msg("listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server error")
		os.Exit(1)
	}

	logger.Info().Msg("server stopped")
}
