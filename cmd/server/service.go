package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codebuildervaibhav/diarized-transcription/internal/config"
	"github.com/codebuildervaibhav/diarized-transcription/internal/device"
	"github.com/codebuildervaibhav/diarized-transcription/internal/diarization"
	"github.com/codebuildervaibhav/diarized-transcription/internal/events"
	"github.com/codebuildervaibhav/diarized-transcription/internal/logging"
	"github.com/codebuildervaibhav/diarized-transcription/internal/models"
	"github.com/codebuildervaibhav/diarized-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/diarized-transcription/internal/storage"
	"github.com/codebuildervaibhav/diarized-transcription/internal/telemetry"
	"github.com/codebuildervaibhav/diarized-transcription/internal/transcription"
)

// service holds the components shared by the serve and transcribe commands.
type service struct {
	cfg          config.Config
	log          *slog.Logger
	telemetry    *telemetry.Telemetry
	cache        *models.Cache
	orchestrator *pipeline.Orchestrator
	history      *storage.RequestLog
	publisher    *events.Publisher
	natsServer   *events.EmbeddedServer
}

type serviceOptions struct {
	history bool
	events  bool
}

func newService(ctx context.Context, cfg config.Config, log *slog.Logger, opts serviceOptions) (_ *service, err error) {
	s := &service{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			s.close(context.Background())
		}
	}()

	if s.telemetry, err = telemetry.Setup(ctx, cfg.Telemetry, version, log); err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics(s.telemetry.Meter)
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	selector, err := device.NewSelector(cfg.Device, log)
	if err != nil {
		return nil, err
	}
	loader, err := transcription.NewLoader(cfg.Whisper, log)
	if err != nil {
		return nil, err
	}
	if s.cache, err = models.NewCache(loader, selector, cfg.Models.MaxLoaded, log, models.WithObserver(metrics)); err != nil {
		return nil, err
	}

	// The diarization pipeline is placed once, when the service starts.
	diarizer, err := diarization.New(cfg.Diarization, selector.Select(), log)
	if err != nil {
		return nil, err
	}
	if cfg.Diarization.Backend == "none" {
		log.Warn("diarization disabled: transcripts will have no speaker breaks",
			slog.String("hint", "set diarization.backend to exec or http"))
	}

	pipelineOpts := []pipeline.Option{pipeline.WithMetrics(metrics)}
	if opts.history && cfg.Storage.Enabled {
		if s.history, err = storage.NewRequestLog(cfg.Storage.Database); err != nil {
			return nil, fmt.Errorf("open request log: %w", err)
		}
		pipelineOpts = append(pipelineOpts, pipeline.WithRecorder(s.history))
		log.Info("request history enabled", slog.String("database", cfg.Storage.Database))
	}
	if opts.events && cfg.Events.Enabled {
		eventsCfg := cfg.Events
		if cfg.Events.Embedded {
			if s.natsServer, err = events.StartEmbedded("127.0.0.1", cfg.Events.EmbeddedPort, log); err != nil {
				return nil, err
			}
			eventsCfg.Servers = []string{s.natsServer.ClientURL()}
		}
		if s.publisher, err = events.Connect(eventsCfg, log); err != nil {
			return nil, err
		}
		pipelineOpts = append(pipelineOpts, pipeline.WithPublisher(s.publisher))
	}

	s.orchestrator = pipeline.New(pipeline.Options{
		TempDir:          cfg.Audio.TempDir,
		DefaultModel:     cfg.Whisper.DefaultModel,
		DefaultLanguage:  cfg.Whisper.DefaultLanguage,
		AllowedModels:    cfg.Whisper.AllowedModels,
		AllowedLanguages: cfg.Whisper.AllowedLanguages,
		MaxUploadBytes:   int64(cfg.Server.BodyLimitMB) * 1024 * 1024,
	}, s.cache, transcription.NewFFmpegNormalizer(cfg.Audio.FFmpegPath, log), diarizer, log, pipelineOpts...)

	return s, nil
}

// preload loads the configured models up front. Failures are logged and
// retried on the first request that needs the model.
func (s *service) preload(ctx context.Context) {
	for _, id := range s.cfg.Whisper.Preload {
		if _, err := s.cache.GetOrLoad(ctx, id); err != nil {
			s.log.Warn("model preload failed", slog.String("model", id), logging.Err(err))
		}
	}
}

func (s *service) close(ctx context.Context) {
	if s.cache != nil {
		s.cache.Close()
	}
	if s.publisher != nil {
		s.publisher.Close()
	}
	s.natsServer.Shutdown()
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.log.Warn("failed to close request log", logging.Err(err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.log.Warn("telemetry shutdown error", logging.Err(err))
		}
	}
}
