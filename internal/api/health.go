package api

import (
	"net/http"
	"time"
)

const serviceName = "yt-transcripts"

// ConnChecker reports the state of an optional outbound connection.
type ConnChecker interface {
	IsConnected() bool
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Service       string            `json:"service"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

// HealthHandler answers liveness checks. It reports static configuration and
// the MQTT connection state only; it never reads the cache or calls upstream.
type HealthHandler struct {
	mqtt      ConnChecker // nil when notifications are disabled
	backend   string
	fetcher   string
	version   string
	startTime time.Time
}

func NewHealthHandler(mqtt ConnChecker, backend, fetcher, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		mqtt:      mqtt,
		backend:   backend,
		fetcher:   fetcher,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"cache_backend": h.backend,
		"fetcher":       h.fetcher,
		"mqtt":          "disabled",
	}
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "connected"
		} else {
			checks["mqtt"] = "disconnected"
		}
	}

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Service:       serviceName,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
