// Package events announces finished transcription requests on NATS.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/codebuildervaibhav/diarized-transcription/internal/config"
	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// Publisher sends one message per finished request to
// <subject>.completed or <subject>.failed. A nil *Publisher is a no-op.
type Publisher struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger
}

// Connect dials the configured servers.
func Connect(cfg config.EventsConfig, log *slog.Logger) (*Publisher, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url,
		nats.Name("diarized-transcription"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout)*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url), slog.String("subject", cfg.Subject))
	return &Publisher{conn: conn, subject: cfg.Subject, log: log}, nil
}

// Subject returns the subject rec is published on.
func (p *Publisher) Subject(rec types.RequestRecord) string {
	if rec.Status == types.StatusCompleted {
		return p.subject + ".completed"
	}
	return p.subject + ".failed"
}

// Publish sends rec as JSON. The transcript is never part of the message.
func (p *Publisher) Publish(_ context.Context, rec types.RequestRecord) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(rec), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Healthy reports whether the connection is up.
func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.log.Info("closing NATS connection")
	_ = p.conn.Drain()
	p.conn.Close()
}
