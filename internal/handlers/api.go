package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/diarized-transcription/internal/models"
	"github.com/codebuildervaibhav/diarized-transcription/internal/storage"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ModelLister reports the models currently loaded.
type ModelLister interface {
	Loaded() []models.Info
}

// History reads stored request metadata. *storage.RequestLog implements it.
type History interface {
	Get(ctx context.Context, id string) (types.RequestRecord, error)
	List(ctx context.Context, limit int) ([]types.RequestRecord, error)
}

// LogSource returns recent log lines.
type LogSource interface {
	Lines() []string
}

// APIHandler serves the read-only endpoints next to /transcribe.
type APIHandler struct {
	version string
	models  ModelLister
	history History
	logs    LogSource
	pending func() int
	events  func() bool
}

// NewAPIHandler creates the handler. history may be nil when request
// storage is disabled; pending may be nil.
func NewAPIHandler(version string, models ModelLister, history History, logs LogSource, pending func() int) *APIHandler {
	return &APIHandler{version: version, models: models, history: history, logs: logs, pending: pending}
}

// ReportEvents adds the event bus connection state to /health.
func (h *APIHandler) ReportEvents(healthy func() bool) *APIHandler {
	h.events = healthy
	return h
}

// Health handles GET /health.
func (h *APIHandler) Health(c *fiber.Ctx) error {
	body := fiber.Map{
		"status":  "healthy",
		"version": h.version,
		"models":  h.models.Loaded(),
	}
	if h.pending != nil {
		body["queued"] = h.pending()
	}
	if h.events != nil {
		body["events_connected"] = h.events()
	}
	return c.JSON(body)
}

// Models handles GET /models.
func (h *APIHandler) Models(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"models": h.models.Loaded()})
}

// ListRequests handles GET /requests?limit=N.
func (h *APIHandler) ListRequests(c *fiber.Ctx) error {
	if h.history == nil {
		return historyDisabled(c)
	}
	limit := c.QueryInt("limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	records, err := h.history.List(c.UserContext(), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"requests": records})
}

// GetRequest handles GET /requests/:id.
func (h *APIHandler) GetRequest(c *fiber.Ctx) error {
	if h.history == nil {
		return historyDisabled(c)
	}
	rec, err := h.history.Get(c.UserContext(), c.Params("id"))
	if errors.Is(err, storage.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "request not found", "code": codeNotFound})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}

// Logs handles GET /logs.
func (h *APIHandler) Logs(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"logs": h.logs.Lines()})
}

func historyDisabled(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "request history is disabled",
		"code":  codeUnavailable,
	})
}
