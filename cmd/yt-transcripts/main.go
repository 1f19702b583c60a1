package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/snarg/yt-transcripts/internal/api"
	"github.com/snarg/yt-transcripts/internal/cache"
	"github.com/snarg/yt-transcripts/internal/config"
	"github.com/snarg/yt-transcripts/internal/events"
	"github.com/snarg/yt-transcripts/internal/fetcher"
	"github.com/snarg/yt-transcripts/internal/metrics"
	"github.com/snarg/yt-transcripts/internal/transcripts"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.CacheBackend, "cache-backend", "", "local, sqlite, postgres or s3 (overrides CACHE_BACKEND)")
	flag.StringVar(&overrides.CacheDir, "cache-dir", "", "Cache directory (overrides CACHE_DIR)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	flag.Parse()

	if *showVersion {
		fmt.Println("yt-transcripts", version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("cache_backend", cfg.CacheBackend).
		Str("fetcher", cfg.Fetch.Provider).
		Msg("yt-transcripts starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Cache
	cacheLog := log.With().Str("component", "cache").Logger()
	store, services, err := cache.New(ctx, cfg, cacheLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open transcript cache")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("cache close error")
		}
	}()
	for _, s := range services {
		s.Start()
	}

	// Fetcher
	fetchLog := log.With().Str("component", "fetcher").Logger()
	f, err := fetcher.New(cfg.Fetch, cfg.Proxy, fetchLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build transcript fetcher")
	}

	// MQTT notifications are optional
	var notifier *events.Notifier
	if cfg.MQTT.BrokerURL != "" {
		notifier, err = events.Connect(events.Options{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			Log:         log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer notifier.Close()
	}

	svcOpts := transcripts.Options{
		Store:         store,
		Fetcher:       f,
		MaxConcurrent: cfg.Fetch.MaxConcurrent,
		Coalesce:      cfg.Fetch.Coalesce,
		Log:           log,
	}
	serverOpts := api.ServerOptions{
		Config:    cfg,
		Version:   version,
		StartTime: startTime,
		Log:       log.With().Str("component", "http").Logger(),
	}
	if notifier != nil {
		svcOpts.Notifier = notifier
		serverOpts.MQTT = notifier
	}
	svc := transcripts.New(svcOpts)
	serverOpts.Service = svc

	// Scrape-time gauges
	if cfg.MetricsEnabled {
		prometheus.MustRegister(metrics.NewCollector(poolOf(store), svc, uploaderOf(services)))
	}

	// HTTP Server
	srv := api.NewServer(serverOpts)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	// Drain background uploads before the store closes.
	for i := len(services) - 1; i >= 0; i-- {
		services[i].Stop()
	}

	log.Info().Msg("yt-transcripts stopped")
}

func poolOf(store cache.Store) *pgxpool.Pool {
	if pg, ok := store.(*cache.PostgresStore); ok {
		return pg.DB().Pool
	}
	return nil
}

func uploaderOf(services []cache.BackgroundService) metrics.UploadStats {
	for _, s := range services {
		if u, ok := s.(*cache.AsyncUploader); ok {
			return u
		}
	}
	return nil
}
