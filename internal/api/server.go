package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/yt-transcripts/internal/config"
	"github.com/snarg/yt-transcripts/internal/metrics"
	"github.com/snarg/yt-transcripts/internal/transcripts"
)

type ServerOptions struct {
	Config    *config.Config
	Service   TranscriptService
	MQTT      ConnChecker // nil when notifications are disabled
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	r := NewRouter(opts)

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// NewRouter builds the HTTP handler tree. Exposed separately so tests can
// drive it with httptest without binding a port.
func NewRouter(opts ServerOptions) chi.Router {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware. Recoverer sits inside Logger and InstrumentHandler so
	// a recovered panic is logged with its request_id and counted as a 500.
	r.Use(RequestID)
	r.Use(Logger(opts.Log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)
	r.Use(Recoverer)

	r.Get("/", RootHandler(opts.Version, cfg.MetricsEnabled))

	health := NewHealthHandler(opts.MQTT, cfg.CacheBackend, cfg.Fetch.Provider, opts.Version, opts.StartTime)
	r.Get("/health", health.ServeHTTP)

	NewTranscriptsHandler(opts.Service, cfg.RequestTimeout).Routes(r)

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, transcripts.KindInvalidRequest, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, transcripts.KindInvalidRequest, r.Method+" is not allowed")
	})
	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
