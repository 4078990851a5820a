package diarization

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/codebuildervaibhav/diarized-transcription/internal/config"
	"github.com/codebuildervaibhav/diarized-transcription/internal/device"
	"github.com/codebuildervaibhav/diarized-transcription/internal/logging"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "normalized.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestNewBackends(t *testing.T) {
	d, err := New(config.DiarizationConfig{Backend: "none"}, device.KindCPU, logging.Discard())
	if err != nil {
		t.Fatalf("New(none): %v", err)
	}
	turns, err := d.Diarize(context.Background(), "ignored.wav")
	if err != nil || len(turns) != 0 {
		t.Fatalf("noop diarizer returned %v, %v", turns, err)
	}

	if _, err := New(config.DiarizationConfig{Backend: "http", URL: "http://localhost:1"}, device.KindCPU, logging.Discard()); err != nil {
		t.Fatalf("New(http): %v", err)
	}
	if _, err := New(config.DiarizationConfig{Backend: "exec"}, device.KindCPU, logging.Discard()); err != nil {
		t.Fatalf("New(exec) with embedded helper: %v", err)
	}
	if _, err := New(config.DiarizationConfig{Backend: "nemo"}, device.KindCPU, logging.Discard()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestEmbeddedHelperScript(t *testing.T) {
	if !strings.Contains(string(pyannoteScript), "itertracks(yield_label=True)") {
		t.Fatal("embedded helper script missing pyannote track iteration")
	}
}

func TestHTTPDiarizer(t *testing.T) {
	var gotField, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/diarize" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotField, gotBody = header.Filename, string(data)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"segments":[{"start":2.4,"end":5.0,"speaker":"B"},{"start":0.0,"end":2.1,"speaker":"A"}],"num_speakers":2}`)
	}))
	defer srv.Close()

	d := NewHTTPDiarizer(srv.URL+"/", 5*time.Second, logging.Discard())
	turns, err := d.Diarize(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if gotField != "normalized.wav" || gotBody != "RIFF....WAVE" {
		t.Fatalf("sidecar received %q / %q", gotField, gotBody)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	// Backend order is preserved; nothing is re-sorted here.
	if turns[0].Speaker != "B" || turns[1].Speaker != "A" {
		t.Fatalf("turn order changed: %+v", turns)
	}
}

func TestHTTPDiarizerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "pipeline not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewHTTPDiarizer(srv.URL, time.Second, logging.Discard())
	_, err := d.Diarize(context.Background(), writeAudio(t))
	if err == nil || !strings.Contains(err.Error(), "pipeline not loaded") {
		t.Fatalf("expected sidecar error body in error, got %v", err)
	}
}

func TestHTTPDiarizerRejectsInvertedTurn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"turns":[{"start":3,"end":1,"speaker":"A"}]}`)
	}))
	defer srv.Close()

	d := NewHTTPDiarizer(srv.URL, time.Second, logging.Discard())
	if _, err := d.Diarize(context.Background(), writeAudio(t)); err == nil {
		t.Fatal("expected error for turn ending before it starts")
	}
}

const fakeDiarizer = `#!/bin/sh
if [ "$HF_TOKEN" != "secret" ]; then echo "missing token" >&2; exit 3; fi
printf '{"turns":[{"start":0,"end":2.1,"speaker":"SPEAKER_00"},{"start":2.4,"end":5,"speaker":"SPEAKER_01"}]}'
`

func TestExecDiarizer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake")
	}
	script := filepath.Join(t.TempDir(), "fake-diarize.sh")
	if err := os.WriteFile(script, []byte(fakeDiarizer), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	d, err := NewExecDiarizer(script, "secret", device.KindCPU, 10*time.Second, logging.Discard())
	if err != nil {
		t.Fatalf("NewExecDiarizer: %v", err)
	}
	turns, err := d.Diarize(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Diarize: %v", err)
	}
	if len(turns) != 2 || turns[1].Speaker != "SPEAKER_01" {
		t.Fatalf("unexpected turns: %+v", turns)
	}

	noToken, err := NewExecDiarizer(script, "", device.KindCPU, 10*time.Second, logging.Discard())
	if err != nil {
		t.Fatalf("NewExecDiarizer: %v", err)
	}
	if _, err := noToken.Diarize(context.Background(), writeAudio(t)); err == nil || !strings.Contains(err.Error(), "missing token") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}
