package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/snarg/yt-transcripts/internal/transcripts"
)

// retryAfterSeconds is sent with rate_limited failures.
const retryAfterSeconds = "30"

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON failure body of the given kind.
func WriteError(w http.ResponseWriter, status int, kind transcripts.Kind, msg string) {
	WriteJSON(w, status, transcripts.Failure{Kind: kind, Message: msg})
}

// WriteFailure writes f with the status code for its kind.
func WriteFailure(w http.ResponseWriter, f *transcripts.Failure) {
	status := StatusFor(f.Kind)
	if f.Kind == transcripts.KindRateLimited {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	WriteJSON(w, status, f)
}

// StatusFor maps a failure kind onto an HTTP status.
func StatusFor(kind transcripts.Kind) int {
	switch kind {
	case transcripts.KindInvalidRequest:
		return http.StatusBadRequest
	case transcripts.KindNotAvailable:
		return http.StatusNotFound
	case transcripts.KindUpstreamUnreachable:
		return http.StatusBadGateway
	case transcripts.KindRateLimited:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// QueryFlag reports whether a query parameter is set to "1" or "true"
// (case-insensitive). Anything else, including absence, is false.
func QueryFlag(r *http.Request, name string) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "1", "true":
		return true
	}
	return false
}
