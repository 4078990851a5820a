package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/codebuildervaibhav/diarized-transcription/internal/pipeline"
	"github.com/codebuildervaibhav/diarized-transcription/internal/queue"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// Submitter runs a request and waits for the result. *queue.WorkerPool
// implements it.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// TranscribeHandler handles multipart uploads on POST /transcribe.
type TranscribeHandler struct {
	jobs Submitter
	log  *slog.Logger
}

// NewTranscribeHandler creates a new transcribe handler
func NewTranscribeHandler(jobs Submitter, log *slog.Logger) *TranscribeHandler {
	return &TranscribeHandler{jobs: jobs, log: log}
}

// Handle reads the "audio" file and the optional "language" and "model"
// fields, runs the pipeline and answers {"transcript": ...}.
func (h *TranscribeHandler) Handle(c *fiber.Ctx) error {
	req := pipeline.Request{
		Source:   types.SourceUpload,
		Language: utils.CopyString(c.FormValue("language")),
		Model:    utils.CopyString(c.FormValue("model")),
		Size:     -1,
	}

	// A missing file is left to the pipeline, which rejects it before
	// touching any model.
	if file, err := c.FormFile("audio"); err == nil {
		f, err := file.Open()
		if err != nil {
			h.log.Warn("failed to open uploaded file", slog.String("error", err.Error()))
			return respondError(c, &pipeline.AudioConversionError{Err: err})
		}
		defer f.Close()
		req.Filename = file.Filename
		req.Audio = f
		req.Size = file.Size
	}

	res, err := h.jobs.Submit(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"id":         res.ID,
		"transcript": res.Transcript,
	})
}

// Error codes that do not come from the pipeline.
const (
	codeBusy         = "ERR_BUSY"
	codeShuttingDown = "ERR_SHUTTING_DOWN"
	codeNotFound     = "ERR_NOT_FOUND"
	codeUnavailable  = "ERR_UNAVAILABLE"
)

// errorBody maps err to a status and the {"error","code"} body.
func errorBody(err error) (int, fiber.Map) {
	status, code := pipeline.Classify(err)
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		status, code = http.StatusServiceUnavailable, codeBusy
	case errors.Is(err, queue.ErrStopped):
		status, code = http.StatusServiceUnavailable, codeShuttingDown
	}
	return status, fiber.Map{"error": err.Error(), "code": code}
}

func respondError(c *fiber.Ctx, err error) error {
	status, body := errorBody(err)
	return c.Status(status).JSON(body)
}

// ErrorHandler renders errors that escape handlers, including Fiber's own
// (body too large, unknown route) in the same JSON shape.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		switch fe.Code {
		case fiber.StatusRequestEntityTooLarge:
			return respondError(c, &pipeline.ValidationError{
				Code:    pipeline.CodeFileTooLarge,
				Message: "audio file too large",
			})
		case fiber.StatusNotFound:
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "code": codeNotFound})
		}
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "code": pipeline.CodeInternal})
	}
	return respondError(c, err)
}
