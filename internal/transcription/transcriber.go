// Package transcription wraps the speech-to-text models and the audio
// preparation they need.
//
// Supported backends:
//   - exec: OpenAI Whisper driven through its Python CLI (default)
//   - whispercpp: whisper.cpp via Go bindings (build with -tags whispercpp)
package transcription

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codebuildervaibhav/diarized-transcription/internal/config"
	"github.com/codebuildervaibhav/diarized-transcription/internal/device"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// Model is a loaded speech-to-text model bound to one device.
type Model interface {
	// Transcribe returns chronological segments for the audio file at path.
	Transcribe(ctx context.Context, audioPath, language string) (*types.TranscriptionResult, error)
	// Close releases backend resources.
	Close() error
}

// Loader loads a model identified by a size name such as "base" onto a device.
type Loader interface {
	Load(ctx context.Context, modelID string, kind device.Kind) (Model, error)
}

// whisperCppLoader is set by whispercpp.go when built with the whispercpp tag.
var whisperCppLoader func(cfg config.WhisperConfig, log *slog.Logger) (Loader, error)

// NewLoader creates a Loader based on the config backend setting.
func NewLoader(cfg config.WhisperConfig, log *slog.Logger) (Loader, error) {
	switch cfg.Backend {
	case "exec", "":
		return NewWhisperLoader(cfg, log)
	case "whispercpp":
		if whisperCppLoader == nil {
			return nil, fmt.Errorf("transcribe: backend %q requires building with -tags whispercpp", cfg.Backend)
		}
		return whisperCppLoader(cfg, log)
	default:
		return nil, fmt.Errorf("transcribe: unknown backend %q (supported: exec, whispercpp)", cfg.Backend)
	}
}
