package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feeindex/internal/application"
	"feeindex/internal/bootstrap"
	"feeindex/internal/config"
	"feeindex/internal/infrastructure/logging"
	"feeindex/internal/infrastructure/telemetry"
	"feeindex/internal/interfaces/httpapi"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/api.log"
	}
	if writer, err := logging.Init(logging.Config{
		Service:    "feeindex-api",
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       logFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}); err != nil {
		slog.Error("logger init error", "err", err)
	} else if writer != nil {
		defer writer.Close()
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "feeindex-api", cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				slog.Warn("tracing shutdown error", "err", err)
			}
		}()
	}

	app, err := bootstrap.Build(cfg, httpapi.NewMetrics())
	if err != nil {
		slog.Error("startup error", "err", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dispatcher, err := app.Dispatcher(ctx)
	if err != nil {
		slog.Error("dispatcher error", "err", err)
		os.Exit(1)
	}
	if local, ok := dispatcher.(*application.LocalDispatcher); ok {
		defer local.Wait()
	}

	httpServer, err := httpapi.NewServer(app.HTTPDeps(dispatcher), app.Metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}

	slog.Info("fee api listening",
		"addr", cfg.HTTPAddr,
		"pool", cfg.PoolAddress,
		"cache", cfg.CacheBackend,
		"cursor", cfg.CursorBackend,
		"version", version,
	)
	if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("http server error", "err", err)
	}
}
