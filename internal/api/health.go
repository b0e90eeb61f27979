package api

import "net/http"

// healthResponse represents the response for health checks.
type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build,omitempty"`
}

func liveness(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, healthResponse{Status: "ok", Build: cfg.Build})
	}
}

func readiness(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, healthResponse{Status: "ready"})
	}
}
