package processing

import (
	"time"

	"github.com/google/uuid"
)

// Push event type constants as seen by connected clients.
const (
	EventTypeConnection   = "connection"
	EventTypeUploadStatus = "upload_status"
	EventTypeStatusUpdate = "status_update"
	EventTypeEventsMissed = "events_missed"
)

// StatusEvent is the normalized push event forwarded to a client when a
// status message is applied. Field order and names match the push-channel
// wire contract.
type StatusEvent struct {
	Type        string      `json:"type"`
	FileID      uuid.UUID   `json:"file_id"`
	ProcessType ProcessType `json:"process_type"`
	Status      Status      `json:"status"`
	Progress    int         `json:"progress"`
	Error       string      `json:"error,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// NewStatusEvent normalizes a broker status message into a push event.
func NewStatusEvent(msg StatusMessage) StatusEvent {
	return StatusEvent{
		Type:        EventTypeStatusUpdate,
		FileID:      msg.FileID,
		ProcessType: msg.ProcessType,
		Status:      msg.Status,
		Progress:    msg.Progress,
		Error:       msg.Error,
		Timestamp:   msg.Timestamp,
	}
}

// ConnectionEvent acknowledges a freshly attached push connection.
type ConnectionEvent struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	ClientID string `json:"client_id"`
}

// NewConnectionEvent creates the connection-acknowledged event.
func NewConnectionEvent(clientID string) ConnectionEvent {
	return ConnectionEvent{Type: EventTypeConnection, Status: "connected", ClientID: clientID}
}

// UploadEvent notifies the uploading client that its file was accepted.
type UploadEvent struct {
	Type      string    `json:"type"`
	FileID    uuid.UUID `json:"file_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUploadEvent creates the upload-accepted event for a file.
func NewUploadEvent(fileID uuid.UUID) UploadEvent {
	return UploadEvent{
		Type:      EventTypeUploadStatus,
		FileID:    fileID,
		Status:    "uploaded",
		Message:   "Video uploaded successfully",
		Timestamp: time.Now().UTC(),
	}
}

// EventsMissedEvent is the synthetic notice appended after a slow client's
// outbound queue overflowed and older events were dropped.
type EventsMissedEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewEventsMissedEvent creates the overflow notice.
func NewEventsMissedEvent() EventsMissedEvent {
	return EventsMissedEvent{
		Type:    EventTypeEventsMissed,
		Message: "events may have been missed, re-query status",
	}
}
