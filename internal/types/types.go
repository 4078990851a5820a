package types

import "time"

// Request status constants
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Source type constants
const (
	SourceUpload = "upload"
	SourceStream = "stream"
	SourceCLI    = "cli"
)

// Segment represents a timestamped segment of transcription
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Turn represents a span of audio attributed to one speaker
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// TranscriptionResult represents the output from a transcription model
type TranscriptionResult struct {
	Text     string
	Language string
	Duration float64
	Segments []Segment
}

// RequestRecord is the metadata kept for each processed request.
// It never carries the transcript itself.
type RequestRecord struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	Filename       string    `json:"filename"`
	Model          string    `json:"model"`
	Language       string    `json:"language"`
	Device         string    `json:"device"`
	Status         string    `json:"status"`
	ErrorCode      string    `json:"error_code,omitempty"`
	Segments       int       `json:"segments"`
	Turns          int       `json:"turns"`
	SpeakerChanges int       `json:"speaker_changes"`
	DurationMS     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}
