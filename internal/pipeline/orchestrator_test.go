package pipeline

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codebuildervaibhav/diarized-transcription/internal/device"
	"github.com/codebuildervaibhav/diarized-transcription/internal/logging"
	"github.com/codebuildervaibhav/diarized-transcription/internal/models"
	"github.com/codebuildervaibhav/diarized-transcription/internal/transcription"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

type stubModel struct {
	mu       sync.Mutex
	segments []types.Segment
	err      error
	panicMsg string
	paths    []string
}

func (m *stubModel) Transcribe(_ context.Context, path, _ string) (*types.TranscriptionResult, error) {
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	m.mu.Lock()
	m.paths = append(m.paths, path)
	m.mu.Unlock()
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	return &types.TranscriptionResult{Segments: m.segments}, nil
}

func (m *stubModel) Close() error { return nil }

type stubLoader struct {
	mu    sync.Mutex
	loads int
	model *stubModel
	err   error
}

func (l *stubLoader) Load(context.Context, string, device.Kind) (transcription.Model, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	if l.err != nil {
		return nil, l.err
	}
	return l.model, nil
}

type fixedDevice struct{}

func (fixedDevice) Select() device.Kind { return device.KindCPU }

type stubNormalizer struct {
	calls []string
	err   error
}

func (n *stubNormalizer) Normalize(_ context.Context, in, out string) error {
	n.calls = append(n.calls, in)
	if n.err != nil {
		return n.err
	}
	return os.WriteFile(out, []byte("RIFF"), 0o644)
}

type stubDiarizer struct {
	turns []types.Turn
	err   error
	hook  func(audioPath string)
}

func (d *stubDiarizer) Diarize(_ context.Context, audioPath string) ([]types.Turn, error) {
	if d.hook != nil {
		d.hook(audioPath)
	}
	return d.turns, d.err
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []types.RequestRecord
}

func (r *memoryRecorder) Record(_ context.Context, rec types.RequestRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

type harness struct {
	orch       *Orchestrator
	loader     *stubLoader
	model      *stubModel
	normalizer *stubNormalizer
	diarizer   *stubDiarizer
	recorder   *memoryRecorder
	tempDir    string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		model:      &stubModel{segments: []types.Segment{{Start: 0, End: 2, Text: "Hello"}, {Start: 2.5, End: 4, Text: "World"}}},
		normalizer: &stubNormalizer{},
		diarizer:   &stubDiarizer{turns: []types.Turn{{Start: 0, End: 2.1, Speaker: "A"}, {Start: 2.4, End: 5, Speaker: "B"}}},
		recorder:   &memoryRecorder{},
		tempDir:    t.TempDir(),
	}
	h.loader = &stubLoader{model: h.model}
	cache, err := models.NewCache(h.loader, fixedDevice{}, 0, logging.Discard())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	opts.TempDir = h.tempDir
	if opts.DefaultModel == "" {
		opts.DefaultModel = "base"
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}
	h.orch = New(opts, cache, h.normalizer, h.diarizer, logging.Discard(), WithRecorder(h.recorder))
	return h
}

func (h *harness) assertTempEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("temp dir not cleaned up, found %d entries (first: %s)", len(entries), entries[0].Name())
	}
}

func upload(name, body string) Request {
	return Request{Filename: name, Audio: strings.NewReader(body), Size: int64(len(body)), Source: types.SourceUpload}
}

func TestProcessSuccess(t *testing.T) {
	h := newHarness(t, Options{})

	res, err := h.orch.Process(context.Background(), upload("meeting.mp3", "ID3 audio"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Transcript != "Hello\n\nWorld\n" {
		t.Fatalf("unexpected transcript %q", res.Transcript)
	}
	if res.SpeakerChanges != 1 || res.Model != "base" || res.Language != "en" || res.Device != "cpu" {
		t.Fatalf("unexpected result metadata: %+v", res)
	}
	if len(h.normalizer.calls) != 1 {
		t.Fatalf("expected mp3 to be normalized once, got %d calls", len(h.normalizer.calls))
	}
	if got := filepath.Base(h.model.paths[0]); got != normalizedName {
		t.Fatalf("model should read the normalized file, got %s", got)
	}
	h.assertTempEmpty(t)

	if len(h.recorder.records) != 1 || h.recorder.records[0].Status != types.StatusCompleted {
		t.Fatalf("expected one completed record, got %+v", h.recorder.records)
	}
}

func TestProcessMarksRequestActive(t *testing.T) {
	h := newHarness(t, Options{})
	var activeDuring bool
	h.diarizer.hook = func(audioPath string) {
		activeDuring = h.orch.Active("req-active")
		if filepath.Base(filepath.Dir(audioPath)) != "req-active" {
			t.Errorf("audio should live in the request dir, got %s", audioPath)
		}
	}

	req := upload("meeting.mp3", "ID3 audio")
	req.ID = "req-active"
	if _, err := h.orch.Process(context.Background(), req); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !activeDuring {
		t.Fatal("request should be active while its stages run")
	}
	if h.orch.Active("req-active") {
		t.Fatal("request should no longer be active after Process returns")
	}
	h.assertTempEmpty(t)
}

func TestProcessWAVSkipsNormalization(t *testing.T) {
	h := newHarness(t, Options{})

	if _, err := h.orch.Process(context.Background(), upload("clip.WAV", "RIFF")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(h.normalizer.calls) != 0 {
		t.Fatalf("wav input must not be normalized, got %v", h.normalizer.calls)
	}
	if got := filepath.Base(h.model.paths[0]); got != "input.wav" {
		t.Fatalf("model should read the stored upload, got %s", got)
	}
	h.assertTempEmpty(t)
}

func TestProcessNoAudioSkipsModelLoad(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.orch.Process(context.Background(), Request{Source: types.SourceUpload})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if status, code := Classify(err); status != http.StatusBadRequest || code != CodeNoAudio {
		t.Fatalf("unexpected classification %d %s", status, code)
	}
	if h.loader.loads != 0 {
		t.Fatalf("no model should be loaded, got %d loads", h.loader.loads)
	}
	h.assertTempEmpty(t)
	if rec := h.recorder.records[0]; rec.Status != types.StatusFailed || rec.ErrorCode != CodeNoAudio {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestProcessAllowLists(t *testing.T) {
	h := newHarness(t, Options{AllowedModels: []string{"base"}, AllowedLanguages: []string{"en", "de"}})

	req := upload("a.wav", "RIFF")
	req.Model = "gigantic"
	if _, code := Classify(mustFail(t, h, req)); code != CodeInvalidModel {
		t.Fatalf("expected %s, got %s", CodeInvalidModel, code)
	}

	req = upload("a.wav", "RIFF")
	req.Language = "xx"
	if _, code := Classify(mustFail(t, h, req)); code != CodeInvalidLang {
		t.Fatalf("expected %s, got %s", CodeInvalidLang, code)
	}
	if h.loader.loads != 0 {
		t.Fatalf("rejected requests must not load models, got %d", h.loader.loads)
	}
}

func TestProcessUploadLimit(t *testing.T) {
	h := newHarness(t, Options{MaxUploadBytes: 4})

	if _, code := Classify(mustFail(t, h, upload("a.wav", "too many bytes"))); code != CodeFileTooLarge {
		t.Fatalf("expected %s, got %s", CodeFileTooLarge, code)
	}

	// Unknown size is enforced while copying.
	req := Request{Filename: "a.wav", Audio: strings.NewReader("too many bytes"), Size: -1}
	if _, code := Classify(mustFail(t, h, req)); code != CodeFileTooLarge {
		t.Fatalf("expected %s, got %s", CodeFileTooLarge, code)
	}
	h.assertTempEmpty(t)
}

func TestProcessModelLoadFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.loader.err = errors.New("no such model")

	err := mustFail(t, h, upload("a.wav", "RIFF"))
	var lerr *ModelLoadError
	if !errors.As(err, &lerr) || lerr.Model != "base" {
		t.Fatalf("expected ModelLoadError for base, got %v", err)
	}
	if !strings.Contains(err.Error(), "no such model") {
		t.Fatalf("cause missing from %q", err.Error())
	}
	h.assertTempEmpty(t)
}

func TestProcessConversionFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.normalizer.err = errors.New("invalid data found when processing input")

	err := mustFail(t, h, upload("a.ogg", "OggS"))
	var cerr *AudioConversionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected AudioConversionError, got %v", err)
	}
	if len(h.model.paths) != 0 {
		t.Fatal("transcription must not run after a conversion failure")
	}
	h.assertTempEmpty(t)
}

func TestProcessCollaboratorFailures(t *testing.T) {
	t.Run("diarization", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.diarizer.err = errors.New("pipeline crashed")
		assertTranscriptionError(t, mustFail(t, h, upload("a.wav", "RIFF")), "diarization")
		h.assertTempEmpty(t)
	})
	t.Run("transcription", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.model.err = errors.New("cuda out of memory")
		assertTranscriptionError(t, mustFail(t, h, upload("a.wav", "RIFF")), "transcription")
		h.assertTempEmpty(t)
	})
	t.Run("panic", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.model.panicMsg = "index out of range"
		assertTranscriptionError(t, mustFail(t, h, upload("a.wav", "RIFF")), "processing")
		h.assertTempEmpty(t)
		if rec := h.recorder.records[0]; rec.Status != types.StatusFailed {
			t.Fatalf("panic should be recorded as failure, got %+v", rec)
		}
	})
}

func TestProcessUsesUniqueDirectories(t *testing.T) {
	h := newHarness(t, Options{})
	h.diarizer.turns = nil

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Process(context.Background(), upload("../../same-name.wav", "RIFF"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent request failed: %v", err)
		}
	}
	h.assertTempEmpty(t)
}

func TestProcessEmptyUpload(t *testing.T) {
	h := newHarness(t, Options{})
	if _, code := Classify(mustFail(t, h, upload("a.wav", ""))); code != CodeEmptyAudio {
		t.Fatalf("expected %s, got %s", CodeEmptyAudio, code)
	}
}

func mustFail(t *testing.T, h *harness, req Request) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.orch.Process(ctx, req)
	if err == nil {
		t.Fatalf("expected failure, got %+v", res)
	}
	return err
}

func assertTranscriptionError(t *testing.T, err error, stage string) {
	t.Helper()
	var terr *TranscriptionError
	if !errors.As(err, &terr) || terr.Stage != stage {
		t.Fatalf("expected TranscriptionError at %s, got %v", stage, err)
	}
	if status, code := Classify(err); status != http.StatusInternalServerError || code != CodeTranscription {
		t.Fatalf("unexpected classification %d %s", status, code)
	}
}

func TestClassifyUnknownError(t *testing.T) {
	if status, code := Classify(errors.New("boom")); status != http.StatusInternalServerError || code != CodeInternal {
		t.Fatalf("unexpected classification %d %s", status, code)
	}
}
