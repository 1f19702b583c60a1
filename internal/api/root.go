package api

import "net/http"

type rootInfo struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// RootHandler describes the service and its endpoints.
func RootHandler(version string, metricsEnabled bool) http.HandlerFunc {
	endpoints := map[string]string{
		"GET /transcript/{id}":      "transcript as JSON; ?force=1 bypasses the cache",
		"GET /transcript/{id}/text": "transcript as plain text",
		"GET /health":               "liveness and configuration",
	}
	if metricsEnabled {
		endpoints["GET /metrics"] = "Prometheus metrics"
	}
	info := rootInfo{Service: serviceName, Version: version, Endpoints: endpoints}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, info)
	}
}
