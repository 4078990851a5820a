package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/codebuildervaibhav/diarized-transcription/internal/config"
	"github.com/codebuildervaibhav/diarized-transcription/internal/device"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// preloadScript fetches and instantiates the model once so that a bad
// identifier or missing weights fail at load time instead of mid-request.
const preloadScript = `import sys, whisper
root = sys.argv[3] if len(sys.argv) > 3 and sys.argv[3] else None
whisper.load_model(sys.argv[1], device=sys.argv[2], download_root=root)
`

// WhisperLoader loads OpenAI Whisper models driven through the Python CLI.
type WhisperLoader struct {
	command  []string
	python   string
	modelDir string
	threads  int
	fp16     bool
	log      *slog.Logger
}

// NewWhisperLoader parses the configured whisper command line.
func NewWhisperLoader(cfg config.WhisperConfig, log *slog.Logger) (*WhisperLoader, error) {
	args, err := shellwords.NewParser().Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("transcribe: parse whisper command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcribe: whisper command is empty")
	}
	python := cfg.Python
	if python == "" {
		python = "python"
	}
	return &WhisperLoader{
		command:  args,
		python:   python,
		modelDir: cfg.ModelDir,
		threads:  cfg.Threads,
		fp16:     cfg.FP16,
		log:      log,
	}, nil
}

// Load verifies the model can be instantiated on kind and returns a handle
// that runs the whisper CLI with the same model and device.
func (l *WhisperLoader) Load(ctx context.Context, modelID string, kind device.Kind) (Model, error) {
	l.log.Info("loading whisper model", slog.String("model", modelID), slog.String("device", kind.String()))

	cmd := exec.CommandContext(ctx, l.python, "-c", preloadScript, modelID, kind.String(), l.modelDir)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("transcribe: load whisper model %q: %v\nOutput: %s", modelID, err, strings.TrimSpace(string(output)))
	}

	return &WhisperModel{
		modelID: modelID,
		device:  kind,
		loader:  l,
	}, nil
}

// WhisperModel runs transcriptions for one model id whose weights were
// verified loadable at Load time. Nothing stays resident: every Transcribe
// starts a Python process that loads the weights again. Only the whispercpp
// backend keeps a model in memory between requests.
type WhisperModel struct {
	modelID string
	device  device.Kind
	loader  *WhisperLoader
}

// Transcribe processes an audio file and returns the transcript segments.
func (m *WhisperModel) Transcribe(ctx context.Context, audioPath, language string) (*types.TranscriptionResult, error) {
	absAudioPath, err := filepath.Abs(audioPath)
	if err != nil {
		return nil, fmt.Errorf("transcribe: absolute path: %w", err)
	}

	// Output lives next to the input, inside the request's own directory.
	outputDir := filepath.Join(filepath.Dir(absAudioPath), "whisper_output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("transcribe: create output dir: %w", err)
	}
	defer os.RemoveAll(outputDir)

	args := m.args(absAudioPath, outputDir, language)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("transcribe: whisper failed: %v\nOutput: %s", err, strings.TrimSpace(stderr.String()))
	}

	baseName := strings.TrimSuffix(filepath.Base(absAudioPath), filepath.Ext(absAudioPath))
	jsonData, err := os.ReadFile(filepath.Join(outputDir, baseName+".json"))
	if err != nil {
		return nil, fmt.Errorf("transcribe: read whisper output: %w", err)
	}

	result, err := parseWhisperOutput(jsonData)
	if err != nil {
		return nil, err
	}

	m.loader.log.Debug("whisper transcription finished",
		slog.String("model", m.modelID),
		slog.Int("segments", len(result.Segments)),
		slog.Float64("duration", result.Duration))
	return result, nil
}

func (m *WhisperModel) args(audioPath, outputDir, language string) []string {
	l := m.loader
	args := append([]string{}, l.command...)
	args = append(args,
		audioPath,
		"--model", m.modelID,
		"--device", m.device.String(),
		"--output_dir", outputDir,
		"--output_format", "json",
		"--language", language,
		"--fp16", pyBool(l.fp16 && m.device == device.KindAccelerated),
		"--verbose", "False",
	)
	if l.threads > 0 {
		args = append(args, "--threads", strconv.Itoa(l.threads))
	}
	if l.modelDir != "" {
		args = append(args, "--model_dir", l.modelDir)
	}
	return args
}

// Close is a no-op: the CLI process exits after every transcription.
func (m *WhisperModel) Close() error { return nil }

// WhisperOutput matches Python Whisper's JSON output format
type WhisperOutput struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []WhisperSegment `json:"segments"`
}

// WhisperSegment represents a timestamped segment from Whisper
type WhisperSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func parseWhisperOutput(data []byte) (*types.TranscriptionResult, error) {
	var out WhisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("transcribe: parse whisper JSON: %w", err)
	}

	segments := make([]types.Segment, len(out.Segments))
	for i, seg := range out.Segments {
		segments[i] = types.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
	}

	var duration float64
	if len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}

	return &types.TranscriptionResult{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
		Duration: duration,
		Segments: segments,
	}, nil
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
