package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/diarized-transcription/internal/cleanup"
	"github.com/codebuildervaibhav/diarized-transcription/internal/handlers"
	"github.com/codebuildervaibhav/diarized-transcription/internal/logging"
	"github.com/codebuildervaibhav/diarized-transcription/internal/queue"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP transcription server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logBuffer := logging.NewBuffer(1000)
	log := logging.New(cfg.Telemetry.LogLevel, cfg.Telemetry.LogFormat, logBuffer)
	slog.SetDefault(log)

	if err := cleanup.EnsureTempDirExists(cfg.Audio.TempDir); err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("initializing components", slog.String("version", version))
	svc, err := newService(ctx, cfg, log, serviceOptions{history: true, events: true})
	if err != nil {
		return err
	}
	defer svc.close(context.Background())

	svc.preload(ctx)

	pool := queue.NewWorkerPool(cfg.Workers.Count, cfg.Workers.QueueSize, svc.orchestrator, log)
	pool.Start()
	defer pool.Stop()

	scheduler := cleanup.NewScheduler(
		cfg.Audio.TempDir,
		time.Duration(cfg.Cleanup.IntervalMinutes)*time.Minute,
		time.Duration(cfg.Cleanup.MaxAgeMinutes)*time.Minute,
		log,
		cleanup.WithInUse(svc.orchestrator.Active),
	)
	scheduler.Start()
	defer scheduler.Stop()

	var history handlers.History
	if svc.history != nil {
		history = svc.history
	}
	maxBytes := int64(cfg.Server.BodyLimitMB) * 1024 * 1024
	api := handlers.NewAPIHandler(version, svc.cache, history, logBuffer, pool.Pending)
	if svc.publisher != nil {
		api.ReportEvents(svc.publisher.Healthy)
	}

	app := handlers.NewApp(cfg.Server, os.Stdout)
	handlers.Register(app, handlers.Routes{
		Transcribe: handlers.NewTranscribeHandler(pool, log),
		Stream:     handlers.NewStreamHandler(pool, maxBytes, log),
		API:        api,
		Metrics:    svc.telemetry.Handler,
	})

	go func() {
		<-ctx.Done()
		log.Info("shutting down gracefully")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Warn("server shutdown error", logging.Err(err))
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("server starting",
		slog.String("addr", addr),
		slog.String("whisper_backend", cfg.Whisper.Backend),
		slog.String("diarization_backend", cfg.Diarization.Backend),
		slog.Int("workers", cfg.Workers.Count))

	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
