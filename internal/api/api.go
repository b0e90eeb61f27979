// Package api exposes the gateway's HTTP surface: video upload, status
// queries, the per-client push socket, and health probes.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vidflow/internal/app/gateway"
	"github.com/ahrav/vidflow/internal/infra/connections"
	"github.com/ahrav/vidflow/pkg/common/logger"
)

// DefaultMaxUploadBytes caps multipart upload size at 500 MB.
const DefaultMaxUploadBytes = 500 << 20

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build  string
	Log    *logger.Logger
	Tracer trace.Tracer

	Service  *gateway.Service
	Registry *connections.ClientRegistry

	MaxUploadBytes int64
	QueueSize      int
}

// Routes constructs the handler with all gateway endpoints bound.
func Routes(cfg Config) http.Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}

	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		// Cross-origin clients are expected; access control happens upstream.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/videos", upload(cfg))
	mux.HandleFunc("GET /v1/videos/{file_id}/status/{process_type}", status(cfg))
	mux.HandleFunc("GET /ws/{client_id}", push(cfg, upgrader))
	mux.HandleFunc("GET /v1/liveness", liveness(cfg))
	mux.HandleFunc("GET /v1/readiness", readiness(cfg))
	return mux
}

// errorResponse is the uniform error body for every endpoint.
type errorResponse struct {
	Error string `json:"error"`
}

func respond(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, statusCode int, msg string) {
	respond(w, statusCode, errorResponse{Error: msg})
}
