package diarization

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/codebuildervaibhav/diarized-transcription/internal/device"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

//go:embed assets/pyannote_diarize.py
var pyannoteScript []byte

const helperScriptName = "diarize_helper.py"

// ExecDiarizer runs a local diarization command that prints turns as JSON.
// With no command configured, the embedded pyannote helper is run with python3.
type ExecDiarizer struct {
	cmd      []string
	embedded bool
	hfToken  string
	device   device.Kind
	timeout  time.Duration
	log      *slog.Logger
}

// NewExecDiarizer parses command. An empty command selects the embedded helper.
func NewExecDiarizer(command, hfToken string, kind device.Kind, timeout time.Duration, log *slog.Logger) (*ExecDiarizer, error) {
	d := &ExecDiarizer{hfToken: hfToken, device: kind, timeout: timeout, log: log}
	if strings.TrimSpace(command) == "" {
		py := os.Getenv("TRANSCRIBE_PY")
		if py == "" {
			py = "python3"
		}
		d.cmd = []string{py}
		d.embedded = true
		return d, nil
	}
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("diarize: parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("diarize: command is empty")
	}
	d.cmd = args
	return d, nil
}

// Diarize runs the command against audioPath and decodes its stdout.
func (d *ExecDiarizer) Diarize(ctx context.Context, audioPath string) ([]types.Turn, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	args := append([]string{}, d.cmd...)
	if d.embedded {
		// The helper is written into the request directory, which is removed
		// together with the audio.
		scriptPath := filepath.Join(filepath.Dir(audioPath), helperScriptName)
		if err := os.WriteFile(scriptPath, pyannoteScript, 0o644); err != nil {
			return nil, fmt.Errorf("diarize: write helper script: %w", err)
		}
		defer os.Remove(scriptPath)
		args = append(args, scriptPath)
	}
	args = append(args, "--audio", audioPath, "--device", d.device.String())

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = os.Environ()
	if d.hfToken != "" {
		cmd.Env = append(cmd.Env, "HF_TOKEN="+d.hfToken)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("diarize: command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp turnsResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("diarize: decode output: %w", err)
	}
	turns := resp.list()
	if err := validateTurns(turns); err != nil {
		return nil, err
	}

	d.log.Debug("diarization finished", slog.Int("turns", len(turns)), slog.Duration("took", time.Since(start)))
	return turns, nil
}
