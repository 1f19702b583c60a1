package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/snarg/yt-transcripts/internal/transcripts"
)

// TranscriptService resolves one transcript request into an Envelope.
type TranscriptService interface {
	Handle(ctx context.Context, rawID string, force bool) transcripts.Envelope
}

type TranscriptsHandler struct {
	svc     TranscriptService
	timeout time.Duration
}

func NewTranscriptsHandler(svc TranscriptService, timeout time.Duration) *TranscriptsHandler {
	return &TranscriptsHandler{svc: svc, timeout: timeout}
}

func (h *TranscriptsHandler) Routes(r chi.Router) {
	r.Get("/transcript/{id}", h.GetTranscript)
	r.Get("/transcript/{id}/text", h.GetTranscriptText)
}

func (h *TranscriptsHandler) handle(r *http.Request) transcripts.Envelope {
	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	return h.svc.Handle(ctx, chi.URLParam(r, "id"), QueryFlag(r, "force"))
}

// GET /transcript/{id}
func (h *TranscriptsHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	env := h.handle(r)
	if !env.OK() {
		WriteFailure(w, env.Failure)
		return
	}
	WriteJSON(w, http.StatusOK, env.Success)
}

// GET /transcript/{id}/text
func (h *TranscriptsHandler) GetTranscriptText(w http.ResponseWriter, r *http.Request) {
	env := h.handle(r)
	if !env.OK() {
		WriteFailure(w, env.Failure)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(env.Success.Transcript.Flatten()))
}
