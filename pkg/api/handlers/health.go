package handlers

import (
	"net/http"
	"time"
)

// HealthInfo answers the liveness probe.
type HealthInfo struct {
	Service   string `json:"service"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_sec"`
}

// HealthHandler serves the unauthenticated probes. A nil mount is never
// ready.
type HealthHandler struct {
	mount     Mount
	startedAt time.Time
}

func NewHealthHandler(mount Mount) *HealthHandler {
	return &HealthHandler{mount: mount, startedAt: time.Now()}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	up := time.Since(h.startedAt).Round(time.Second)
	writeJSON(w, http.StatusOK, envelope(StatusHealthy, HealthInfo{
		Service:   "shadowfs",
		StartedAt: h.startedAt.UTC().Format(time.RFC3339),
		Uptime:    up.String(),
		UptimeSec: int64(up.Seconds()),
	}))
}

// Readiness handles GET /health/ready. The mount must be configured and out
// of standby.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	var reason string
	switch {
	case h.mount == nil || !h.mount.Configured():
		reason = "mount not configured"
	case h.mount.Standby():
		reason = "mount in standby"
	}
	if reason != "" {
		resp := envelope(StatusUnhealthy, nil)
		resp.Error = reason
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, envelope(StatusHealthy, map[string]string{"mount": h.mount.ID()}))
}
