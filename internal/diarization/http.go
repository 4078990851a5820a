package diarization

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// HTTPDiarizer posts the audio to a diarization sidecar at {baseURL}/diarize.
type HTTPDiarizer struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewHTTPDiarizer creates a sidecar client. A zero timeout means no limit.
func NewHTTPDiarizer(baseURL string, timeout time.Duration, log *slog.Logger) *HTTPDiarizer {
	return &HTTPDiarizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Diarize uploads audioPath as the multipart field "file".
func (d *HTTPDiarizer) Diarize(ctx context.Context, audioPath string) ([]types.Turn, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("diarize: create form file: %w", err)
	}
	fd, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("diarize: open %s: %w", filepath.Base(audioPath), err)
	}
	defer fd.Close()
	if _, err = io.Copy(fw, fd); err != nil {
		return nil, fmt.Errorf("diarize: copy audio: %w", err)
	}
	if err = w.Close(); err != nil {
		return nil, fmt.Errorf("diarize: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/diarize", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("diarize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		const maxErr = 4096
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErr))
		return nil, fmt.Errorf("diarize %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out turnsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("diarize decode: %w", err)
	}
	turns := out.list()
	if err := validateTurns(turns); err != nil {
		return nil, err
	}

	d.log.Debug("diarization sidecar finished", slog.Int("turns", len(turns)), slog.Duration("took", time.Since(start)))
	return turns, nil
}
