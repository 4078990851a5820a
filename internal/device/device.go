// Package device decides where model weights are placed when a model is loaded.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/codebuildervaibhav/diarized-transcription/internal/config"
)

// Kind is the compute device a model is bound to.
type Kind string

const (
	KindAccelerated Kind = "cuda"
	KindCPU         Kind = "cpu"
)

func (k Kind) String() string { return string(k) }

// ProbeFunc reports whether an accelerated device is usable right now.
type ProbeFunc func(ctx context.Context) bool

const probeTimeout = 5 * time.Second

// Selector reports which device a newly loaded model should use.
// It holds no cached answer; every Select call re-probes in auto mode.
type Selector struct {
	mode  string
	probe ProbeFunc
	log   *slog.Logger
}

// NewSelector builds a selector from config. In auto mode the configured
// probe command (default "nvidia-smi -L") is run and a zero exit status
// means an accelerator is present.
func NewSelector(cfg config.DeviceConfig, log *slog.Logger) (*Selector, error) {
	var probe ProbeFunc
	if cfg.Mode == "auto" {
		args, err := shellwords.NewParser().Parse(cfg.ProbeCommand)
		if err != nil {
			return nil, fmt.Errorf("device: parse probe command: %w", err)
		}
		probe = CommandProbe(args)
	}
	return &Selector{mode: cfg.Mode, probe: probe, log: log}, nil
}

// NewSelectorWithProbe returns an auto-mode selector using probe.
func NewSelectorWithProbe(probe ProbeFunc, log *slog.Logger) *Selector {
	return &Selector{mode: "auto", probe: probe, log: log}
}

// Select never fails: any probe problem falls back to the CPU.
func (s *Selector) Select() Kind {
	kind := KindCPU
	switch s.mode {
	case "cuda":
		kind = KindAccelerated
	case "cpu":
	default:
		if s.probe != nil {
			ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
			if s.probe(ctx) {
				kind = KindAccelerated
			}
			cancel()
		}
	}
	s.log.Debug("device selected", slog.String("device", kind.String()), slog.String("mode", s.mode))
	return kind
}

// CommandProbe runs args and treats a clean exit as "accelerator available".
// A missing binary counts as no accelerator.
func CommandProbe(args []string) ProbeFunc {
	return func(ctx context.Context) bool {
		if len(args) == 0 {
			return false
		}
		if _, err := exec.LookPath(args[0]); err != nil {
			return false
		}
		return exec.CommandContext(ctx, args[0], args[1:]...).Run() == nil
	}
}
