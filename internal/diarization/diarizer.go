// Package diarization produces speaker turns for an audio file.
package diarization

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codebuildervaibhav/diarized-transcription/internal/config"
	"github.com/codebuildervaibhav/diarized-transcription/internal/device"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// Diarizer partitions a 16 kHz mono WAV file into speaker turns.
// Turns are returned in the order the backend produced them.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string) ([]types.Turn, error)
}

// Noop returns no turns, so every segment ends up unattributed.
type Noop struct{}

func (Noop) Diarize(context.Context, string) ([]types.Turn, error) { return nil, nil }

// New creates a Diarizer based on the config backend setting. kind is the
// device the local pipeline runs on; it is chosen once, at startup.
func New(cfg config.DiarizationConfig, kind device.Kind, log *slog.Logger) (Diarizer, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch cfg.Backend {
	case "none", "":
		return Noop{}, nil
	case "exec":
		return NewExecDiarizer(cfg.Command, cfg.HFToken, kind, timeout, log)
	case "http":
		return NewHTTPDiarizer(cfg.URL, timeout, log), nil
	default:
		return nil, fmt.Errorf("diarize: unknown backend %q (supported: none, exec, http)", cfg.Backend)
	}
}

// turnsResponse is the JSON shape shared by the helper script and the sidecar.
// "segments" is accepted as an alias used by some sidecars.
type turnsResponse struct {
	Turns    []types.Turn `json:"turns"`
	Segments []types.Turn `json:"segments"`
}

func (r turnsResponse) list() []types.Turn {
	if len(r.Turns) > 0 {
		return r.Turns
	}
	return r.Segments
}

func validateTurns(turns []types.Turn) error {
	for i, t := range turns {
		if t.End < t.Start {
			return fmt.Errorf("diarize: turn %d ends before it starts (%.3f < %.3f)", i, t.End, t.Start)
		}
	}
	return nil
}
