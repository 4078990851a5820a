package models

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codebuildervaibhav/diarized-transcription/internal/device"
	"github.com/codebuildervaibhav/diarized-transcription/internal/transcription"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// Handle is a loaded model. ID, Device and LoadedAt are fixed at load time.
type Handle struct {
	ID       string
	Device   device.Kind
	LoadedAt time.Time

	model transcription.Model

	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
}

func newHandle(id string, kind device.Kind, model transcription.Model) *Handle {
	return &Handle{ID: id, Device: kind, LoadedAt: time.Now(), model: model}
}

// Transcribe runs the model. A retired handle stays usable until its last
// in-flight call returns, after which the model is closed.
func (h *Handle) Transcribe(ctx context.Context, audioPath, language string) (*types.TranscriptionResult, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("model %q was unloaded", h.ID)
	}
	h.refs++
	h.mu.Unlock()
	defer h.release()

	return h.model.Transcribe(ctx, audioPath, language)
}

func (h *Handle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refs--
	if h.refs == 0 && h.retired {
		h.closeLocked()
	}
}

// retire marks the handle as evicted and closes it once idle.
func (h *Handle) retire() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retired = true
	if h.refs == 0 {
		h.closeLocked()
	}
}

func (h *Handle) closeLocked() {
	if h.closed {
		return
	}
	h.closed = true
	_ = h.model.Close()
}

// Info is the public description of a loaded handle.
type Info struct {
	ID       string    `json:"id"`
	Device   string    `json:"device"`
	LoadedAt time.Time `json:"loaded_at"`
}

func (h *Handle) Info() Info {
	return Info{ID: h.ID, Device: h.Device.String(), LoadedAt: h.LoadedAt}
}
