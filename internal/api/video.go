package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/vidflow/internal/domain/processing"
)

// supportedFormats lists the accepted upload extensions, without the dot.
var supportedFormats = map[string]bool{
	"mp4": true, "avi": true, "mov": true, "mkv": true,
	"webm": true, "wmv": true, "flv": true, "m4v": true, "3gp": true,
}

// uploadResponse acknowledges an accepted upload.
type uploadResponse struct {
	FileID   uuid.UUID `json:"file_id"`
	Filename string    `json:"filename"`
	Status   string    `json:"status"`
	Message  string    `json:"message"`
}

// upload handles the multipart video upload. The file is validated, stored,
// and dispatched to every processing pipeline before the response is written.
func upload(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)

		file, header, err := r.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				respondError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("file exceeds maximum allowed size of %d bytes", cfg.MaxUploadBytes))
				return
			}
			respondError(w, http.StatusBadRequest, "missing file field in multipart form")
			return
		}
		defer file.Close()

		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
		if !supportedFormats[ext] {
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("unsupported file format %q", ext))
			return
		}

		clientID := r.FormValue("client_id")
		if clientID == "" {
			clientID = r.URL.Query().Get("client_id")
		}

		task, err := cfg.Service.Accept(r.Context(), clientID, header.Filename, file)
		if err != nil {
			cfg.Log.Error(r.Context(), "accepting upload failed",
				"filename", header.Filename, "error", err)
			respondError(w, http.StatusInternalServerError, "accepting upload failed")
			return
		}

		respond(w, http.StatusAccepted, uploadResponse{
			FileID:   task.ID,
			Filename: task.Filename,
			Status:   "uploaded",
			Message:  "Video uploaded successfully and queued for processing",
		})
	}
}

// statusResponse reports the current record for one processing pipeline.
type statusResponse struct {
	FileID      uuid.UUID              `json:"file_id"`
	ProcessType processing.ProcessType `json:"process_type"`
	Status      processing.Status      `json:"status"`
	Progress    int                    `json:"progress"`
	Error       string                 `json:"error,omitempty"`
	LastUpdated time.Time              `json:"last_updated"`
}

// status handles the synchronous status query for one (file, process type)
// pair.
func status(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID, err := uuid.Parse(r.PathValue("file_id"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid file identifier")
			return
		}

		processType, err := processing.ParseProcessType(r.PathValue("process_type"))
		if err != nil {
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("unknown process type %q", r.PathValue("process_type")))
			return
		}

		rec, err := cfg.Service.Status(r.Context(), fileID, processType)
		if err != nil {
			if errors.Is(err, processing.ErrNoRecord) {
				respondError(w, http.StatusNotFound,
					fmt.Sprintf("no processing record for file %s", fileID))
				return
			}
			cfg.Log.Error(r.Context(), "status query failed", "file_id", fileID, "error", err)
			respondError(w, http.StatusInternalServerError, "status query failed")
			return
		}

		respond(w, http.StatusOK, statusResponse{
			FileID:      fileID,
			ProcessType: processType,
			Status:      rec.Status,
			Progress:    rec.Progress,
			Error:       rec.Error,
			LastUpdated: rec.LastUpdated,
		})
	}
}
