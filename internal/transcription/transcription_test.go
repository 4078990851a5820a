package transcription

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/codebuildervaibhav/diarized-transcription/internal/config"
	"github.com/codebuildervaibhav/diarized-transcription/internal/device"
	"github.com/codebuildervaibhav/diarized-transcription/internal/logging"
)

func TestNeedsNormalization(t *testing.T) {
	cases := map[string]bool{
		"speech.wav":     false,
		"SPEECH.WAV":     false,
		"a.b.wav":        false,
		"speech.mp3":     true,
		"speech.m4a":     true,
		"speech":         true,
		"speech.wav.ogg": true,
		"wav":            true,
	}
	for name, want := range cases {
		if got := NeedsNormalization(name); got != want {
			t.Errorf("NeedsNormalization(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestSafeExtension(t *testing.T) {
	cases := map[string]string{
		"talk.MP3":              ".mp3",
		"../../etc/passwd":      "",
		"../../evil.wav":        ".wav",
		"noext":                 "",
		"weird.ext with spaces": "",
		"a.verylongextension":   "",
		"clip.webm":             ".webm",
	}
	for name, want := range cases {
		if got := SafeExtension(name); got != want {
			t.Errorf("SafeExtension(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestParseWhisperOutput(t *testing.T) {
	data := []byte(`{
		"text": " Hello there. General Kenobi. ",
		"language": "en",
		"segments": [
			{"id": 0, "start": 0.0, "end": 2.0, "text": " Hello there. "},
			{"id": 1, "start": 2.5, "end": 4.25, "text": " General Kenobi."}
		]
	}`)

	result, err := parseWhisperOutput(data)
	if err != nil {
		t.Fatalf("parseWhisperOutput: %v", err)
	}
	if result.Text != "Hello there. General Kenobi." {
		t.Errorf("unexpected text %q", result.Text)
	}
	if len(result.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(result.Segments))
	}
	if result.Segments[0].Text != "Hello there." {
		t.Errorf("segment text not trimmed: %q", result.Segments[0].Text)
	}
	if result.Duration != 4.25 {
		t.Errorf("expected duration 4.25, got %v", result.Duration)
	}
}

func TestParseWhisperOutputInvalid(t *testing.T) {
	if _, err := parseWhisperOutput([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestWhisperModelArgs(t *testing.T) {
	loader, err := NewWhisperLoader(config.WhisperConfig{
		Command:  "python3 -m whisper",
		ModelDir: "/models",
		Threads:  2,
		FP16:     true,
	}, logging.Discard())
	if err != nil {
		t.Fatalf("NewWhisperLoader: %v", err)
	}

	cpu := &WhisperModel{modelID: "small", device: device.KindCPU, loader: loader}
	args := strings.Join(cpu.args("/tmp/a.wav", "/tmp/out", "tr"), " ")
	for _, want := range []string{
		"python3 -m whisper /tmp/a.wav",
		"--model small",
		"--device cpu",
		"--language tr",
		"--fp16 False",
		"--threads 2",
		"--model_dir /models",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}

	gpu := &WhisperModel{modelID: "small", device: device.KindAccelerated, loader: loader}
	if args := strings.Join(gpu.args("/tmp/a.wav", "/tmp/out", "en"), " "); !strings.Contains(args, "--fp16 True") {
		t.Errorf("expected fp16 on accelerator, got %q", args)
	}
}

func TestNewLoaderBackends(t *testing.T) {
	if _, err := NewLoader(config.WhisperConfig{Backend: "onnx"}, logging.Discard()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := NewLoader(config.WhisperConfig{Backend: "exec", Command: ""}, logging.Discard()); err == nil {
		t.Fatal("expected error for empty command")
	}
	loader, err := NewLoader(config.WhisperConfig{Backend: "exec", Command: "python -m whisper"}, logging.Discard())
	if err != nil || loader == nil {
		t.Fatalf("expected exec loader, got %v", err)
	}
}

func TestWhisperLoadFailure(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}
	loader, err := NewWhisperLoader(config.WhisperConfig{Command: "whisper", Python: "false"}, logging.Discard())
	if err != nil {
		t.Fatalf("NewWhisperLoader: %v", err)
	}
	if _, err := loader.Load(context.Background(), "base", device.KindCPU); err == nil {
		t.Fatal("expected load error when preload command fails")
	}
}

// fakeWhisper mimics the whisper CLI: it writes <base>.json into --output_dir
// and appends one line per run to a "runs" file next to the script.
const fakeWhisper = `#!/bin/sh
echo run >> "$(dirname "$0")/runs"
audio="$1"; shift
while [ $# -gt 0 ]; do
  case "$1" in
    --output_dir) out="$2"; shift ;;
  esac
  shift
done
base=$(basename "$audio"); base="${base%.*}"
printf '{"text":" hi there","language":"en","segments":[{"id":0,"start":0,"end":1.5,"text":" hi "},{"id":1,"start":1.5,"end":3,"text":" there"}]}' > "$out/$base.json"
`

func TestWhisperTranscribeWithFakeCLI(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake")
	}
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-whisper.sh")
	if err := os.WriteFile(script, []byte(fakeWhisper), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	audioPath := filepath.Join(dir, "input.wav")
	if err := os.WriteFile(audioPath, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	loader, err := NewWhisperLoader(config.WhisperConfig{Command: script, Python: "true"}, logging.Discard())
	if err != nil {
		t.Fatalf("NewWhisperLoader: %v", err)
	}
	model, err := loader.Load(context.Background(), "base", device.KindCPU)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer model.Close()

	result, err := model.Transcribe(context.Background(), audioPath, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(result.Segments) != 2 || result.Segments[0].Text != "hi" {
		t.Fatalf("unexpected segments: %+v", result.Segments)
	}
	if _, err := os.Stat(filepath.Join(dir, "whisper_output")); !os.IsNotExist(err) {
		t.Fatalf("expected whisper output dir removed, stat err = %v", err)
	}

	// The exec backend keeps nothing resident: each call is a fresh process.
	if _, err := model.Transcribe(context.Background(), audioPath, "en"); err != nil {
		t.Fatalf("second Transcribe: %v", err)
	}
	runs, err := os.ReadFile(filepath.Join(dir, "runs"))
	if err != nil {
		t.Fatalf("read runs: %v", err)
	}
	if got := strings.Count(string(runs), "run\n"); got != 2 {
		t.Fatalf("expected one CLI process per Transcribe, got %d", got)
	}
}

func writeTestWAV(t *testing.T, path string, sampleRate, channels, frames int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   make([]int, frames*channels),
	}
	for i := range buf.Data {
		buf.Data[i] = (i % 200) * 100
	}
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
}

func TestInspectWAVAndLoadSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeTestWAV(t, path, 16000, 1, 16000)

	info, err := InspectWAV(path)
	if err != nil {
		t.Fatalf("InspectWAV: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 || info.BitDepth != 16 {
		t.Fatalf("unexpected header: %+v", info)
	}

	samples, _, err := LoadSamples(path)
	if err != nil {
		t.Fatalf("LoadSamples: %v", err)
	}
	if len(samples) != 16000 {
		t.Fatalf("expected 16000 samples, got %d", len(samples))
	}
	for i, s := range samples {
		if s < -1.0 || s > 1.0 {
			t.Fatalf("sample[%d] = %f out of range", i, s)
		}
	}
}

func TestInspectWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(path, []byte("definitely not audio"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := InspectWAV(path); err == nil {
		t.Fatal("expected error for invalid WAV")
	}
}

func TestNormalizeFailure(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}
	n := NewFFmpegNormalizer("false", logging.Discard())
	dir := t.TempDir()
	err := n.Normalize(context.Background(), filepath.Join(dir, "in.mp3"), filepath.Join(dir, "out.wav"))
	if err == nil {
		t.Fatal("expected error when ffmpeg fails")
	}
}

func TestNormalizeWithFFmpeg(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "stereo.wav")
	writeTestWAV(t, in, 44100, 2, 44100)
	out := filepath.Join(dir, "normalized.wav")

	n := NewFFmpegNormalizer("ffmpeg", logging.Discard())
	if err := n.Normalize(context.Background(), in, out); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	info, err := InspectWAV(out)
	if err != nil {
		t.Fatalf("InspectWAV: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 {
		t.Fatalf("expected 16kHz mono, got %+v", info)
	}
}
