// Package pipeline runs one transcription request from upload to formatted
// transcript and owns the request's temporary files.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codebuildervaibhav/diarized-transcription/internal/alignment"
	"github.com/codebuildervaibhav/diarized-transcription/internal/diarization"
	"github.com/codebuildervaibhav/diarized-transcription/internal/logging"
	"github.com/codebuildervaibhav/diarized-transcription/internal/models"
	"github.com/codebuildervaibhav/diarized-transcription/internal/transcription"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

const normalizedName = "normalized" + transcription.CanonicalExtension

// Request is one transcription request. Audio may be nil, which is reported
// as a validation failure. Size is the payload length if known, else -1.
// ID names the temp directory; it is generated when empty and must never
// come from a client.
type Request struct {
	ID       string
	Source   string
	Filename string
	Audio    io.Reader
	Size     int64
	Language string
	Model    string
}

// Result is a successfully formatted transcript.
type Result struct {
	ID             string        `json:"id"`
	Transcript     string        `json:"transcript"`
	Model          string        `json:"model"`
	Language       string        `json:"language"`
	Device         string        `json:"device"`
	Segments       int           `json:"segments"`
	Turns          int           `json:"turns"`
	SpeakerChanges int           `json:"speaker_changes"`
	Took           time.Duration `json:"-"`
}

// ModelProvider hands out loaded models. *models.Cache implements it.
type ModelProvider interface {
	GetOrLoad(ctx context.Context, modelID string) (*models.Handle, error)
}

// Normalizer converts an input file to 16 kHz mono WAV.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath, outputPath string) error
}

// Recorder stores request metadata.
type Recorder interface {
	Record(ctx context.Context, rec types.RequestRecord) error
}

// Publisher announces finished requests.
type Publisher interface {
	Publish(ctx context.Context, rec types.RequestRecord) error
}

// Metrics observes request outcomes and stage latency.
type Metrics interface {
	ObserveRequest(status, code string, took time.Duration)
	ObserveStage(stage string, took time.Duration)
}

// Options holds the request defaults and limits.
type Options struct {
	TempDir          string
	DefaultModel     string
	DefaultLanguage  string
	AllowedModels    []string
	AllowedLanguages []string
	MaxUploadBytes   int64
}

// Orchestrator validates a request, prepares the model and audio, runs
// diarization and transcription in sequence and merges the results.
type Orchestrator struct {
	opts       Options
	models     ModelProvider
	normalizer Normalizer
	diarizer   diarization.Diarizer
	log        *slog.Logger
	tracer     trace.Tracer

	recorder  Recorder
	publisher Publisher
	metrics   Metrics

	active sync.Map // request id -> struct{}
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithRecorder stores a metadata record for every finished request.
func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

// WithPublisher announces every finished request.
func WithPublisher(p Publisher) Option { return func(o *Orchestrator) { o.publisher = p } }

// WithMetrics reports request outcomes and stage latency.
func WithMetrics(m Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// New creates an Orchestrator. A nil diarizer attributes no speakers.
func New(opts Options, provider ModelProvider, normalizer Normalizer, diarizer diarization.Diarizer, log *slog.Logger, extra ...Option) *Orchestrator {
	if diarizer == nil {
		diarizer = diarization.Noop{}
	}
	o := &Orchestrator{
		opts:       opts,
		models:     provider,
		normalizer: normalizer,
		diarizer:   diarizer,
		log:        log,
		tracer:     otel.Tracer("github.com/codebuildervaibhav/diarized-transcription/internal/pipeline"),
	}
	for _, opt := range extra {
		opt(o)
	}
	return o
}

// Process runs the request to completion. The request directory under
// TempDir is removed before Process returns, whatever the outcome.
func (o *Orchestrator) Process(ctx context.Context, req Request) (res *Result, err error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Model == "" {
		req.Model = o.opts.DefaultModel
	}
	if req.Language == "" {
		req.Language = o.opts.DefaultLanguage
	}

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "transcribe.request", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.source", req.Source),
		attribute.String("model", req.Model),
		attribute.String("language", req.Language),
	))
	log := o.log.With(slog.String("request_id", req.ID))
	rec := types.RequestRecord{
		ID:        req.ID,
		Source:    req.Source,
		Filename:  displayName(req.Filename),
		Model:     req.Model,
		Language:  req.Language,
		Status:    types.StatusProcessing,
		CreatedAt: start.UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing request",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			res, err = nil, &TranscriptionError{Stage: "processing", Err: fmt.Errorf("panic: %v", r)}
		}
		o.finish(ctx, log, span, &rec, res, err, start)
	}()

	if err := o.validate(req); err != nil {
		return nil, err
	}

	var model *models.Handle
	if err := o.stage(ctx, "model", func(ctx context.Context) error {
		var err error
		model, err = o.models.GetOrLoad(ctx, req.Model)
		return err
	}); err != nil {
		return nil, &ModelLoadError{Model: req.Model, Err: err}
	}
	rec.Device = model.Device.String()

	o.active.Store(req.ID, struct{}{})
	defer o.active.Delete(req.ID)

	dir := filepath.Join(o.opts.TempDir, req.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &AudioConversionError{Err: fmt.Errorf("create request dir: %w", err)}
	}
	defer o.cleanup(log, dir)

	audioPath, err := o.prepareAudio(ctx, log, dir, req)
	if err != nil {
		return nil, err
	}

	var turns []types.Turn
	if err := o.stage(ctx, "diarization", func(ctx context.Context) error {
		var err error
		turns, err = o.diarizer.Diarize(ctx, audioPath)
		return err
	}); err != nil {
		return nil, &TranscriptionError{Stage: "diarization", Err: err}
	}
	rec.Turns = len(turns)

	var transcript *types.TranscriptionResult
	if err := o.stage(ctx, "transcription", func(ctx context.Context) error {
		var err error
		transcript, err = model.Transcribe(ctx, audioPath, req.Language)
		return err
	}); err != nil {
		return nil, &TranscriptionError{Stage: "transcription", Err: err}
	}
	if transcript == nil {
		transcript = &types.TranscriptionResult{}
	}
	rec.Segments = len(transcript.Segments)

	formatted := alignment.Format(transcript.Segments, turns)
	rec.SpeakerChanges = formatted.SpeakerChanges

	return &Result{
		ID:             req.ID,
		Transcript:     formatted.Text,
		Model:          req.Model,
		Language:       req.Language,
		Device:         rec.Device,
		Segments:       rec.Segments,
		Turns:          rec.Turns,
		SpeakerChanges: formatted.SpeakerChanges,
		Took:           time.Since(start),
	}, nil
}

// Active reports whether the request with this id still owns its
// directory under TempDir.
func (o *Orchestrator) Active(id string) bool {
	_, ok := o.active.Load(id)
	return ok
}

func (o *Orchestrator) validate(req Request) error {
	if req.Audio == nil {
		return &ValidationError{Code: CodeNoAudio, Message: "no audio file provided"}
	}
	if req.Size == 0 {
		return &ValidationError{Code: CodeEmptyAudio, Message: "audio file is empty"}
	}
	if o.opts.MaxUploadBytes > 0 && req.Size > o.opts.MaxUploadBytes {
		return tooLarge(o.opts.MaxUploadBytes)
	}
	if len(o.opts.AllowedModels) > 0 && !slices.Contains(o.opts.AllowedModels, req.Model) {
		return &ValidationError{Code: CodeInvalidModel, Message: fmt.Sprintf("unsupported model %q", req.Model)}
	}
	if len(o.opts.AllowedLanguages) > 0 && !slices.Contains(o.opts.AllowedLanguages, req.Language) {
		return &ValidationError{Code: CodeInvalidLang, Message: fmt.Sprintf("unsupported language %q", req.Language)}
	}
	return nil
}

func displayName(filename string) string {
	if filename == "" {
		return ""
	}
	return filepath.Base(filename)
}

func tooLarge(limit int64) error {
	return &ValidationError{
		Code:    CodeFileTooLarge,
		Message: fmt.Sprintf("audio file too large (max %dMB)", limit/(1024*1024)),
	}
}

// prepareAudio stores the upload inside dir under a generated name and
// converts it when its extension is not the canonical one.
func (o *Orchestrator) prepareAudio(ctx context.Context, log *slog.Logger, dir string, req Request) (string, error) {
	inputPath := filepath.Join(dir, "input"+transcription.SafeExtension(req.Filename))
	written, err := writeUpload(inputPath, req.Audio, o.opts.MaxUploadBytes)
	if err != nil {
		if errors.Is(err, errUploadTooLarge) {
			return "", tooLarge(o.opts.MaxUploadBytes)
		}
		return "", &AudioConversionError{Err: fmt.Errorf("store upload: %w", err)}
	}
	if written == 0 {
		return "", &ValidationError{Code: CodeEmptyAudio, Message: "audio file is empty"}
	}
	log.Debug("upload stored", slog.String("path", inputPath), slog.Int64("bytes", written))

	if !transcription.NeedsNormalization(req.Filename) {
		return inputPath, nil
	}

	outputPath := filepath.Join(dir, normalizedName)
	if err := o.stage(ctx, "normalization", func(ctx context.Context) error {
		return o.normalizer.Normalize(ctx, inputPath, outputPath)
	}); err != nil {
		return "", &AudioConversionError{Err: err}
	}
	return outputPath, nil
}

var errUploadTooLarge = errors.New("upload exceeds size limit")

func writeUpload(path string, r io.Reader, limit int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if limit > 0 && n > limit {
		return n, errUploadTooLarge
	}
	return n, nil
}

// stage runs fn inside a child span and reports its latency.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "transcribe."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if o.metrics != nil {
		o.metrics.ObserveStage(name, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// cleanup removes the request directory. Failures are only logged.
func (o *Orchestrator) cleanup(log *slog.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.Debug("temp cleanup failed", slog.String("dir", dir), logging.Err(err))
	}
}

func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, span trace.Span, rec *types.RequestRecord, res *Result, err error, start time.Time) {
	defer span.End()

	took := time.Since(start)
	rec.DurationMS = took.Milliseconds()
	code := ""
	if err != nil {
		_, code = Classify(err)
		rec.Status = types.StatusFailed
		rec.ErrorCode = code
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("transcription request failed",
			slog.String("model", rec.Model),
			slog.String("code", code),
			slog.Duration("took", took),
			logging.Err(err))
	} else {
		rec.Status = types.StatusCompleted
		log.Info("transcription request completed",
			slog.String("model", rec.Model),
			slog.String("device", rec.Device),
			slog.Int("segments", res.Segments),
			slog.Int("turns", res.Turns),
			slog.Int("speaker_changes", res.SpeakerChanges),
			slog.Duration("took", took))
	}

	if o.metrics != nil {
		o.metrics.ObserveRequest(rec.Status, code, took)
	}
	// Records are written even when the caller's context is done.
	bgCtx := context.WithoutCancel(ctx)
	if o.recorder != nil {
		if rerr := o.recorder.Record(bgCtx, *rec); rerr != nil {
			log.Warn("failed to record request", logging.Err(rerr))
		}
	}
	if o.publisher != nil {
		if perr := o.publisher.Publish(bgCtx, *rec); perr != nil {
			log.Warn("failed to publish request event", logging.Err(perr))
		}
	}
}
