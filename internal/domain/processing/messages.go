package processing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// validate checks message structure at the broker boundary so malformed
// payloads fail fast instead of propagating into handler logic.
var validate = validator.New(validator.WithRequiredStructEnabled())

// WorkMessage dispatches one unit of work to a single worker type. It is
// published once per (file, process type) at upload time; the broker
// redelivers it if a worker crashes before acknowledging.
type WorkMessage struct {
	FileID      uuid.UUID   `json:"file_id"      validate:"required"`
	StoragePath string      `json:"storage_path" validate:"required"`
	ProcessType ProcessType `json:"process_type" validate:"required,oneof=video_enhancement metadata_extraction"`
	Attempt     int         `json:"attempt"      validate:"gte=0"`

	// ClientID identifies the uploading client so workers can stamp it onto
	// status messages, sparing the relay a file-task lookup on every event.
	ClientID string `json:"client_id,omitempty"`
}

// NewWorkMessage creates the first-attempt work message for a file.
func NewWorkMessage(task FileTask, storagePath string, processType ProcessType) WorkMessage {
	return WorkMessage{
		FileID:      task.ID,
		StoragePath: storagePath,
		ProcessType: processType,
		Attempt:     0,
		ClientID:    task.ClientID,
	}
}

// NextAttempt returns a copy of the message with the attempt counter advanced.
func (m WorkMessage) NextAttempt() WorkMessage {
	m.Attempt++
	return m
}

// Marshal encodes the message for the wire.
func (m WorkMessage) Marshal() ([]byte, error) { return json.Marshal(m) }

// DecodeWorkMessage parses and validates a work message payload.
func DecodeWorkMessage(data []byte) (WorkMessage, error) {
	var m WorkMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return WorkMessage{}, fmt.Errorf("decoding work message: %w", err)
	}
	if err := validate.Struct(m); err != nil {
		return WorkMessage{}, fmt.Errorf("validating work message: %w", err)
	}
	return m, nil
}

// StatusMessage reports a processing state transition from a worker to the
// gateway. The originating client identifier is carried so the relay can
// route the event without a file-task lookup.
type StatusMessage struct {
	FileID      uuid.UUID   `json:"file_id"      validate:"required"`
	ProcessType ProcessType `json:"process_type" validate:"required,oneof=video_enhancement metadata_extraction"`
	ClientID    string      `json:"client_id,omitempty"`
	Status      Status      `json:"status"       validate:"required,oneof=pending processing completed failed"`
	Progress    int         `json:"progress"     validate:"gte=0,lte=100"`
	Error       string      `json:"error,omitempty"`
	Timestamp   time.Time   `json:"timestamp"    validate:"required"`
}

// NewStatusMessage creates a status message stamped with the current time.
func NewStatusMessage(work WorkMessage, status Status, progress int, errMsg string) StatusMessage {
	return StatusMessage{
		FileID:      work.FileID,
		ProcessType: work.ProcessType,
		ClientID:    work.ClientID,
		Status:      status,
		Progress:    progress,
		Error:       errMsg,
		Timestamp:   time.Now().UTC(),
	}
}

// Marshal encodes the message for the wire.
func (m StatusMessage) Marshal() ([]byte, error) { return json.Marshal(m) }

// DecodeStatusMessage parses and validates a status message payload.
func DecodeStatusMessage(data []byte) (StatusMessage, error) {
	var m StatusMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return StatusMessage{}, fmt.Errorf("decoding status message: %w", err)
	}
	if err := validate.Struct(m); err != nil {
		return StatusMessage{}, fmt.Errorf("validating status message: %w", err)
	}
	return m, nil
}
