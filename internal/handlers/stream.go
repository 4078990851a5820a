package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/diarized-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

const (
	endMessage     = "END"
	streamFilename = "stream.webm"
)

// streamHeader is the optional first text frame of a stream.
type streamHeader struct {
	Filename string `json:"filename"`
	Language string `json:"language"`
	Model    string `json:"model"`
}

// streamSession accumulates the frames of one WebSocket upload.
type streamSession struct {
	header   streamHeader
	buffer   bytes.Buffer
	maxBytes int64
	frames   int
}

// handleFrame consumes one frame and reports whether the stream has ended.
func (s *streamSession) handleFrame(messageType int, data []byte) (bool, error) {
	s.frames++
	switch messageType {
	case websocket.TextMessage:
		msg := strings.TrimSpace(string(data))
		if msg == endMessage {
			return true, nil
		}
		if s.buffer.Len() > 0 {
			return false, &pipeline.ValidationError{Code: pipeline.CodeNoAudio, Message: "header must precede audio frames"}
		}
		if err := json.Unmarshal([]byte(msg), &s.header); err != nil {
			return false, &pipeline.ValidationError{Code: pipeline.CodeNoAudio, Message: fmt.Sprintf("invalid stream header: %v", err)}
		}
	case websocket.BinaryMessage:
		if s.maxBytes > 0 && int64(s.buffer.Len()+len(data)) > s.maxBytes {
			return false, &pipeline.ValidationError{
				Code:    pipeline.CodeFileTooLarge,
				Message: fmt.Sprintf("audio stream too large (max %dMB)", s.maxBytes/(1024*1024)),
			}
		}
		s.buffer.Write(data)
	}
	return false, nil
}

// request builds the pipeline request. An empty stream carries no audio.
func (s *streamSession) request() pipeline.Request {
	req := pipeline.Request{
		Source:   types.SourceStream,
		Filename: s.header.Filename,
		Language: s.header.Language,
		Model:    s.header.Model,
	}
	if req.Filename == "" {
		req.Filename = streamFilename
	}
	if s.buffer.Len() > 0 {
		req.Audio = bytes.NewReader(s.buffer.Bytes())
		req.Size = int64(s.buffer.Len())
	}
	return req
}

// StreamHandler handles WebSocket audio streaming on GET /ws/transcribe.
type StreamHandler struct {
	jobs     Submitter
	maxBytes int64
	log      *slog.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(jobs Submitter, maxBytes int64, log *slog.Logger) *StreamHandler {
	return &StreamHandler{jobs: jobs, maxBytes: maxBytes, log: log}
}

// Handle buffers the stream until END, then replies with one JSON frame.
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	session := &streamSession{maxBytes: h.maxBytes}
	h.log.Debug("websocket connection established", slog.String("remote", c.RemoteAddr().String()))

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			h.log.Debug("websocket closed before END", slog.String("error", err.Error()))
			return
		}
		done, err := session.handleFrame(messageType, message)
		if err != nil {
			h.reply(c, errorReply(err))
			return
		}
		if done {
			break
		}
	}

	h.log.Info("stream received",
		slog.Int("bytes", session.buffer.Len()),
		slog.Int("frames", session.frames))

	res, err := h.jobs.Submit(context.Background(), session.request())
	if err != nil {
		h.reply(c, errorReply(err))
		return
	}
	h.reply(c, map[string]any{"id": res.ID, "transcript": res.Transcript})
}

func errorReply(err error) map[string]any {
	_, body := errorBody(err)
	return body
}

func (h *StreamHandler) reply(c *websocket.Conn, body map[string]any) {
	if err := c.WriteJSON(body); err != nil {
		h.log.Warn("failed to write websocket reply", slog.String("error", err.Error()))
	}
}
