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
	"feeindex/internal/domain"
	"feeindex/internal/infrastructure/kafka"
	"feeindex/internal/infrastructure/logging"
	"feeindex/internal/infrastructure/telemetry"
	"feeindex/internal/interfaces/httpapi"

	"github.com/go-co-op/gocron/v2"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/scanner.log"
	}
	if writer, err := logging.Init(logging.Config{
		Service:    "feeindex-scanner",
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

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "feeindex-scanner", cfg.OtelEndpoint)
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

	go func() {
		slog.Info("metrics listening", "addr", cfg.HTTPAddr)
		if err := httpapi.ServeMetrics(ctx, cfg.HTTPAddr, app.Metrics); err != nil {
			slog.Error("metrics server error", "err", err)
		}
	}()

	scheduler, err := schedulePeriodicScan(ctx, app)
	if err != nil {
		slog.Error("scheduler error", "err", err)
		os.Exit(1)
	}
	if scheduler != nil {
		defer func() {
			if err := scheduler.Shutdown(); err != nil {
				slog.Warn("scheduler shutdown error", "err", err)
			}
		}()
	}

	if len(cfg.KafkaBrokers) == 0 {
		slog.Info("scanner running on schedule only", "interval", cfg.ScanInterval)
		<-ctx.Done()
		return
	}

	consumer, err := kafka.NewScanConsumer(kafka.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topic:   cfg.KafkaScanTopic,
		Pool:    cfg.PoolAddress,
	})
	if err != nil {
		slog.Error("kafka error", "err", err)
		os.Exit(1)
	}
	defer consumer.Close()

	slog.Info("scanner consuming scan requests",
		"topic", cfg.KafkaScanTopic,
		"group", cfg.KafkaGroupID,
		"pool", cfg.PoolAddress,
	)
	err = consumer.Run(ctx, func(ctx context.Context, task domain.ScanTask) error {
		_, err := application.RunTask(ctx, app.Scanner, app.Tasks, task)
		if errors.Is(err, application.ErrScanInProgress) {
			slog.Info("scan request skipped, scan already running", "task_id", task.ID)
			return nil
		}
		return err
	})
	if err != nil {
		slog.Error("scanner stopped", "err", err)
	}
}

// schedulePeriodicScan starts a singleton job that scans the configured
// action every ScanInterval. A zero interval disables it.
func schedulePeriodicScan(ctx context.Context, app *bootstrap.App) (gocron.Scheduler, error) {
	if app.Config.ScanInterval <= 0 {
		return nil, nil
	}
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(app.Config.ScanInterval),
		gocron.NewTask(func() {
			task, err := app.Tasks.Create(ctx, app.Config.ActionType)
			if err != nil {
				slog.Error("scheduled scan task create failed", "err", err)
				return
			}
			if _, err := application.RunTask(ctx, app.Scanner, app.Tasks, task); err != nil && !errors.Is(err, application.ErrScanInProgress) {
				slog.Error("scheduled scan failed", "task_id", task.ID, "err", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, err
	}
	scheduler.Start()
	return scheduler, nil
}
