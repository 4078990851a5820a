// Package handlers exposes the transcription service over HTTP and WebSocket.
package handlers

import (
	"io"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/diarized-transcription/internal/config"
)

// NewApp creates the Fiber app with the common middleware. Access logs go
// to accessLog.
func NewApp(cfg config.ServerConfig, accessLog io.Writer) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "diarized-transcription",
		BodyLimit:             cfg.BodyLimitMB * 1024 * 1024,
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{Output: accessLog}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept",
	}))
	return app
}

// Routes groups the handlers mounted by Register. Metrics may be nil.
type Routes struct {
	Transcribe *TranscribeHandler
	Stream     *StreamHandler
	API        *APIHandler
	Metrics    http.Handler
}

// Register mounts every endpoint on app.
func Register(app *fiber.App, r Routes) {
	app.Post("/transcribe", r.Transcribe.Handle)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/transcribe", websocket.New(r.Stream.Handle))

	app.Get("/health", r.API.Health)
	app.Get("/models", r.API.Models)
	app.Get("/requests", r.API.ListRequests)
	app.Get("/requests/:id", r.API.GetRequest)
	app.Get("/logs", r.API.Logs)

	if r.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(r.Metrics))
	}
}
