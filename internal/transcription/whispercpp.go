//go:build whispercpp

package transcription

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/codebuildervaibhav/diarized-transcription/internal/config"
	"github.com/codebuildervaibhav/diarized-transcription/internal/device"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

func init() {
	whisperCppLoader = func(cfg config.WhisperConfig, log *slog.Logger) (Loader, error) {
		return &WhisperCppLoader{modelDir: cfg.ModelDir, threads: cfg.Threads, log: log}, nil
	}
}

// WhisperCppLoader loads ggml models from modelDir, named ggml-<id>.bin.
type WhisperCppLoader struct {
	modelDir string
	threads  int
	log      *slog.Logger
}

// Load opens the ggml model for modelID. The device is recorded on the
// handle; placement itself is decided by how libwhisper was compiled.
func (l *WhisperCppLoader) Load(_ context.Context, modelID string, kind device.Kind) (Model, error) {
	if strings.ContainsAny(modelID, `/\`) {
		return nil, fmt.Errorf("transcribe: invalid model id %q", modelID)
	}
	path := filepath.Join(l.modelDir, "ggml-"+modelID+".bin")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("transcribe: model file %q: %w", path, err)
	}

	l.log.Info("loading whisper.cpp model", slog.String("path", path), slog.String("device", kind.String()))
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("transcribe: load whisper model %q: %w", path, err)
	}
	return &WhisperCppModel{model: model, threads: l.threads}, nil
}

// WhisperCppModel wraps a whisper.cpp model for speech-to-text. The weights
// stay in memory until Close.
type WhisperCppModel struct {
	model   whisper.Model
	threads int
	mu      sync.Mutex
}

// Transcribe decodes a 16kHz mono WAV file and runs it through the model.
func (m *WhisperCppModel) Transcribe(ctx context.Context, audioPath, language string) (*types.TranscriptionResult, error) {
	samples, info, err := LoadSamples(audioPath)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if info.SampleRate != CanonicalSampleRate || info.Channels != CanonicalChannels {
		return nil, fmt.Errorf("transcribe: whisper.cpp needs %d Hz mono audio, got %d Hz / %d ch",
			CanonicalSampleRate, info.SampleRate, info.Channels)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	wctx, err := m.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("transcribe: create context: %w", err)
	}
	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			return nil, fmt.Errorf("transcribe: set language %q: %w", language, err)
		}
	}
	if m.threads > 0 {
		wctx.SetThreads(uint(m.threads))
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("transcribe: process: %w", err)
	}

	result := &types.TranscriptionResult{Language: language}
	var texts []string
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("transcribe: next segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		result.Segments = append(result.Segments, types.Segment{
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  text,
		})
		texts = append(texts, text)
	}
	result.Text = strings.Join(texts, " ")
	if n := len(result.Segments); n > 0 {
		result.Duration = result.Segments[n-1].End
	}
	return result, nil
}

// Close releases the whisper model resources.
func (m *WhisperCppModel) Close() error {
	if m.model != nil {
		return m.model.Close()
	}
	return nil
}
