// Package storage keeps a history of processed requests in SQLite.
// Only metadata is stored; transcripts never touch disk.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

// ErrNotFound is returned by Get for an unknown request id.
var ErrNotFound = errors.New("request not found")

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	filename TEXT NOT NULL,
	model TEXT NOT NULL,
	language TEXT NOT NULL,
	device TEXT NOT NULL,
	status TEXT NOT NULL,
	error_code TEXT NOT NULL,
	segments INTEGER NOT NULL,
	turns INTEGER NOT NULL,
	speaker_changes INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at);
`

const selectColumns = `id, source, filename, model, language, device, status, error_code,
	segments, turns, speaker_changes, duration_ms, created_at`

// RequestLog handles SQLite operations for request history.
type RequestLog struct {
	db *sql.DB
}

// NewRequestLog opens (and creates if needed) the database at path.
func NewRequestLog(path string) (*RequestLog, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer avoids SQLITE_BUSY between workers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &RequestLog{db: db}, nil
}

// Record inserts rec, replacing an earlier row with the same id.
func (l *RequestLog) Record(ctx context.Context, rec types.RequestRecord) error {
	const query = `
	INSERT OR REPLACE INTO requests (` + selectColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := l.db.ExecContext(ctx, query,
		rec.ID, rec.Source, rec.Filename, rec.Model, rec.Language, rec.Device,
		rec.Status, rec.ErrorCode, rec.Segments, rec.Turns, rec.SpeakerChanges,
		rec.DurationMS, rec.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save request %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record for id or ErrNotFound.
func (l *RequestLog) Get(ctx context.Context, id string) (types.RequestRecord, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM requests WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RequestRecord{}, ErrNotFound
	}
	if err != nil {
		return types.RequestRecord{}, fmt.Errorf("get request %s: %w", id, err)
	}
	return rec, nil
}

// List returns up to limit records, newest first.
func (l *RequestLog) List(ctx context.Context, limit int) ([]types.RequestRecord, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM requests ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	records := make([]types.RequestRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database connection.
func (l *RequestLog) Close() error {
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (types.RequestRecord, error) {
	var (
		rec       types.RequestRecord
		createdAt int64
	)
	err := s.Scan(&rec.ID, &rec.Source, &rec.Filename, &rec.Model, &rec.Language, &rec.Device,
		&rec.Status, &rec.ErrorCode, &rec.Segments, &rec.Turns, &rec.SpeakerChanges,
		&rec.DurationMS, &createdAt)
	if err != nil {
		return rec, err
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return rec, nil
}
