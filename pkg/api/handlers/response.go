package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/marmos91/shadowfs/internal/logger"
)

// Envelope statuses.
const (
	StatusOK        = "ok"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Response wraps every successful JSON reply and the health probes.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func envelope(status string, data any) Response {
	return Response{Status: status, Timestamp: time.Now().UTC(), Data: data}
}

// writeJSON buffers the encoding so a marshal failure still becomes a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		logger.Error("Encoding API response failed", logger.Err(err))
		InternalServerError(w, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope(StatusOK, data))
}

// decodeJSONBody rejects unknown fields. On failure it has already replied.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		BadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
