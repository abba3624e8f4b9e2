// Package main boots the Kairos platform service and wires application dependencies.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/easeaico/project-kairos/internal/app"
	"github.com/easeaico/project-kairos/internal/config"
	"github.com/easeaico/project-kairos/internal/observability"
	"github.com/easeaico/project-kairos/internal/scheduler"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg := config.Load()

	logger := observability.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "provider", cfg.LLMProvider, "chat_model", cfg.LLMModel, "utility_model", cfg.UtilityModel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName: cfg.ServiceName,
		Version:     version,
		Exporter:    cfg.OTelExporter,
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.OTelSampleRatio,
	})
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}
	if err := a.Store.Migrate(ctx); err != nil {
		a.Close()
		log.Fatalf("failed to migrate database: %v", err)
	}

	sched, err := scheduler.New(cfg.DailyInsightSchedule, a.DailyJob, time.Hour)
	if err != nil {
		a.Close()
		log.Fatalf("failed to create scheduler: %v", err)
	}
	sched.Start()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server stopped", "error", err.Error())
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down http server", "error", err.Error())
	}
	sched.Stop()
	a.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err.Error())
	}
	slog.Info("platform shutdown complete")
}
