package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/yt-transcripts/internal/config"
	"github.com/snarg/yt-transcripts/internal/database"
	"github.com/snarg/yt-transcripts/internal/transcript"
	"github.com/snarg/yt-transcripts/internal/videoid"
)

// Store persists one transcript entry per video ID.
//
// Get returns (nil, nil) on a miss. Any other failure is returned as *Error so
// callers can tell a broken store apart from an absent entry.
type Store interface {
	Get(ctx context.Context, id videoid.ID) (*transcript.Entry, error)

	// Put writes the transcript with FetchedAt set to now, replacing any
	// existing entry. The write is atomic per entry.
	Put(ctx context.Context, id videoid.ID, t transcript.Transcript) error

	Exists(ctx context.Context, id videoid.ID) (bool, error)
	Delete(ctx context.Context, id videoid.ID) error

	// List returns every cached ID. Intended for operator tooling.
	List(ctx context.Context) ([]videoid.ID, error)

	// Type returns "local", "sqlite", "postgres", "s3", or "tiered".
	Type() string
	Close() error
}

// entryWriter stores a complete entry without touching FetchedAt. Tiered
// copies between backends go through it so timestamps survive.
type entryWriter interface {
	putEntry(ctx context.Context, e *transcript.Entry) error
}

// ErrCache is matched by every *Error via errors.Is.
var ErrCache = errors.New("cache error")

// Error is a storage-layer failure. It is never used for a cache miss.
type Error struct {
	Op  string
	ID  videoid.ID
	Err error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrCache }

func wrap(op string, id videoid.ID, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Op: op, ID: id, Err: err}
}

func newEntry(id videoid.ID, t transcript.Transcript) *transcript.Entry {
	if t == nil {
		t = transcript.Transcript{}
	}
	return &transcript.Entry{
		VideoID:    id.String(),
		Transcript: t,
		FetchedAt:  time.Now().UTC(),
	}
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}

// New creates a Store based on config. Returns the store and optional
// background services (uploader, reconciler) that the caller must Start/Stop.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, []BackgroundService, error) {
	switch cfg.CacheBackend {
	case "local":
		return NewLocalStore(cfg.CacheDir), nil, nil

	case "sqlite":
		s, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("sqlite cache opened")
		return s, nil, nil

	case "postgres":
		db, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolOptions{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		}, log.With().Str("component", "database").Logger())
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
		return NewPostgresStore(db), nil, nil

	case "s3":
		return newS3Backed(ctx, cfg, log)
	}
	return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
}

func newS3Backed(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, []BackgroundService, error) {
	s3store, err := NewS3Store(cfg.S3, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(checkCtx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.S3.Bucket, cfg.S3.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.S3.Bucket).Str("endpoint", cfg.S3.Endpoint).Msg("S3 connection verified")

	if !cfg.S3.LocalCache {
		return s3store, nil, nil
	}

	// Tiered mode: local primary + S3 backup
	local := NewLocalStore(cfg.CacheDir)
	var services []BackgroundService
	var uploader *AsyncUploader
	if cfg.S3.AsyncUpload {
		uploader = NewAsyncUploader(s3store, cfg.S3.UploadBuffer, 2, log)
		services = append(services, uploader)
	}
	tiered := NewTieredStore(s3store, local, uploader, log)

	if cfg.S3.Reconcile > 0 {
		services = append(services, NewUploadReconciler(local, s3store, cfg.S3.Reconcile, log))
	}
	return tiered, services, nil
}
