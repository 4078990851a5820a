package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned to clients next to the human readable message.
const (
	CodeNoAudio       = "ERR_NO_AUDIO"
	CodeEmptyAudio    = "ERR_EMPTY_AUDIO"
	CodeFileTooLarge  = "ERR_FILE_TOO_LARGE"
	CodeInvalidModel  = "ERR_INVALID_MODEL"
	CodeInvalidLang   = "ERR_INVALID_LANGUAGE"
	CodeModelLoad     = "ERR_MODEL_LOAD"
	CodeConversion    = "ERR_CONVERSION"
	CodeTranscription = "ERR_TRANSCRIPTION"
	CodeInternal      = "ERR_INTERNAL"
)

// ValidationError is a bad or missing request input. It never reaches a model.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string   { return e.Message }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }
func (e *ValidationError) ErrorCode() string {
	if e.Code == "" {
		return CodeNoAudio
	}
	return e.Code
}

// ModelLoadError means the requested model could not be made ready.
type ModelLoadError struct {
	Model string
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %q: %v", e.Model, e.Err)
}
func (e *ModelLoadError) Unwrap() error     { return e.Err }
func (e *ModelLoadError) StatusCode() int   { return http.StatusInternalServerError }
func (e *ModelLoadError) ErrorCode() string { return CodeModelLoad }

// AudioConversionError covers storing the upload and converting it to the
// canonical format.
type AudioConversionError struct {
	Err error
}

func (e *AudioConversionError) Error() string {
	return fmt.Sprintf("audio conversion failed: %v", e.Err)
}
func (e *AudioConversionError) Unwrap() error     { return e.Err }
func (e *AudioConversionError) StatusCode() int   { return http.StatusInternalServerError }
func (e *AudioConversionError) ErrorCode() string { return CodeConversion }

// TranscriptionError is a failure during diarization, transcription or
// formatting. Stage names the step that failed.
type TranscriptionError struct {
	Stage string
	Err   error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}
func (e *TranscriptionError) Unwrap() error     { return e.Err }
func (e *TranscriptionError) StatusCode() int   { return http.StatusInternalServerError }
func (e *TranscriptionError) ErrorCode() string { return CodeTranscription }

// StatusError is implemented by every pipeline error.
type StatusError interface {
	error
	StatusCode() int
	ErrorCode() string
}

// Classify maps err to an HTTP status and error code. Errors outside the
// pipeline taxonomy are reported as internal failures.
func Classify(err error) (int, string) {
	var se StatusError
	if errors.As(err, &se) {
		return se.StatusCode(), se.ErrorCode()
	}
	return http.StatusInternalServerError, CodeInternal
}
