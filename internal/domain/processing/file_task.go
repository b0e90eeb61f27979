package processing

import (
	"time"

	"github.com/google/uuid"
)

// FileTask describes one uploaded file. It is immutable once created and is
// deleted only by an out-of-band retention process.
type FileTask struct {
	ID        uuid.UUID `json:"file_id"`
	Filename  string    `json:"filename"`
	ClientID  string    `json:"client_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewFileTask creates a FileTask for a freshly uploaded file.
func NewFileTask(filename, clientID string) FileTask {
	return FileTask{
		ID:        uuid.New(),
		Filename:  filename,
		ClientID:  clientID,
		CreatedAt: time.Now().UTC(),
	}
}
