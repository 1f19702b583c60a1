package transcripts

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/yt-transcripts/internal/cache"
	"github.com/snarg/yt-transcripts/internal/events"
	"github.com/snarg/yt-transcripts/internal/fetcher"
	"github.com/snarg/yt-transcripts/internal/metrics"
	"github.com/snarg/yt-transcripts/internal/transcript"
	"github.com/snarg/yt-transcripts/internal/videoid"
	"golang.org/x/sync/singleflight"
)

// Notifier is told about every transcript fetched from upstream.
// Implementations must not block.
type Notifier interface {
	TranscriptFetched(ev events.Fetched)
}

type Options struct {
	Store    cache.Store
	Fetcher  fetcher.Fetcher
	Notifier Notifier // optional

	// MaxConcurrent bounds simultaneous upstream fetches. 0 means unbounded.
	MaxConcurrent int
	// Coalesce shares one in-flight fetch between concurrent requests for the
	// same video.
	Coalesce bool

	Log zerolog.Logger
}

// Service is the cache-and-fetch orchestrator. It holds no per-request state
// and is safe for concurrent use.
type Service struct {
	store    cache.Store
	fetcher  fetcher.Fetcher
	notifier Notifier
	coalesce bool
	sem      chan struct{}
	group    singleflight.Group
	log      zerolog.Logger

	inFlight atomic.Int64
	waiting  atomic.Int64
}

func New(opts Options) *Service {
	s := &Service{
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		notifier: opts.Notifier,
		coalesce: opts.Coalesce,
		log:      opts.Log.With().Str("component", "transcripts").Logger(),
	}
	if opts.MaxConcurrent > 0 {
		s.sem = make(chan struct{}, opts.MaxConcurrent)
	}
	return s
}

// Handle resolves one transcript request. It never returns an error: every
// outcome, including invalid input, is an Envelope.
func (s *Service) Handle(ctx context.Context, rawID string, force bool) Envelope {
	start := time.Now()

	id, err := videoid.Validate(rawID)
	if err != nil {
		return failure(KindInvalidRequest, msgInvalidRequest)
	}
	log := s.log.With().Str("video_id", id.String()).Logger()

	if !force {
		if e := s.lookup(ctx, id, log); e != nil {
			return success(id, e.Transcript, true, start)
		}
	} else {
		metrics.CacheLookupsTotal.WithLabelValues(s.store.Type(), "skipped").Inc()
	}

	segs, err := s.fetch(ctx, id, force, log)
	if err != nil {
		env := fetchFailure(err)
		log.Info().
			Str("kind", string(env.Failure.Kind)).
			Str("message", env.Failure.Message).
			Bool("force", force).
			Msg("transcript fetch failed")
		return env
	}
	return success(id, segs, false, start)
}

// lookup returns the cached entry or nil. A read error counts as a miss.
func (s *Service) lookup(ctx context.Context, id videoid.ID, log zerolog.Logger) *transcript.Entry {
	backend := s.store.Type()
	e, err := s.store.Get(ctx, id)
	switch {
	case err != nil:
		metrics.CacheLookupsTotal.WithLabelValues(backend, "error").Inc()
		log.Warn().Err(err).Msg("cache read failed, fetching instead")
		return nil
	case e == nil:
		metrics.CacheLookupsTotal.WithLabelValues(backend, "miss").Inc()
		return nil
	}
	metrics.CacheLookupsTotal.WithLabelValues(backend, "hit").Inc()
	return e
}

func (s *Service) fetch(ctx context.Context, id videoid.ID, force bool, log zerolog.Logger) (transcript.Transcript, error) {
	// A forced refresh must not reuse a fetch that started before it.
	if !s.coalesce || force {
		return s.fetchAndStore(ctx, id, force, log)
	}

	// The shared call must outlive any single caller; the fetcher's own
	// timeout bounds it.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(id.String(), func() (any, error) {
		return s.fetchAndStore(shared, id, force, log)
	})
	select {
	case res := <-ch:
		if res.Shared {
			metrics.CoalescedFetchesTotal.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(transcript.Transcript), nil
	case <-ctx.Done():
		return nil, &fetcher.FetchError{Kind: fetcher.KindUpstreamUnreachable, Message: "request ended while waiting for fetch", Err: ctx.Err()}
	}
}

// fetchAndStore runs the upstream fetch under the concurrency limit, then
// writes the result back. A failed write is logged and does not fail the fetch.
func (s *Service) fetchAndStore(ctx context.Context, id videoid.ID, force bool, log zerolog.Logger) (transcript.Transcript, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	s.inFlight.Add(1)
	name := s.fetcher.Name()
	start := time.Now()
	segs, err := s.fetcher.Fetch(ctx, id)
	elapsed := time.Since(start)
	s.inFlight.Add(-1)
	release()

	metrics.FetchDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		metrics.FetchesTotal.WithLabelValues(name, string(fetcher.KindOf(err))).Inc()
		return nil, err
	}
	metrics.FetchesTotal.WithLabelValues(name, "ok").Inc()
	if segs == nil {
		segs = transcript.Transcript{}
	}

	backend := s.store.Type()
	if err := s.store.Put(ctx, id, segs); err != nil {
		metrics.CacheWritesTotal.WithLabelValues(backend, "error").Inc()
		log.Error().Err(err).Msg("cache write failed, returning uncached transcript")
	} else {
		metrics.CacheWritesTotal.WithLabelValues(backend, "ok").Inc()
	}

	log.Info().
		Int("segments", len(segs)).
		Dur("fetch_time", elapsed).
		Bool("force", force).
		Str("fetcher", name).
		Msg("transcript fetched")

	if s.notifier != nil {
		s.notifier.TranscriptFetched(events.Fetched{
			VideoID:   id.String(),
			Segments:  len(segs),
			Duration:  segs.Duration(),
			Forced:    force,
			Fetcher:   name,
			FetchedAt: time.Now().UTC(),
		})
	}
	return segs, nil
}

func (s *Service) acquire(ctx context.Context) (func(), error) {
	if s.sem == nil {
		return func() {}, nil
	}
	s.waiting.Add(1)
	defer s.waiting.Add(-1)
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		return nil, &fetcher.FetchError{
			Kind:    fetcher.KindUpstreamUnreachable,
			Message: fmt.Sprintf("timed out waiting for one of %d fetch slots", cap(s.sem)),
			Err:     ctx.Err(),
		}
	}
}

// InFlight returns the number of fetches currently talking to upstream.
func (s *Service) InFlight() int { return int(s.inFlight.Load()) }

// Waiting returns the number of requests queued for a fetch slot.
func (s *Service) Waiting() int { return int(s.waiting.Load()) }

func success(id videoid.ID, segs transcript.Transcript, cached bool, start time.Time) Envelope {
	if segs == nil {
		segs = transcript.Transcript{}
	}
	msg := msgFetched
	if cached {
		msg = msgCached
	}
	ms := math.Round(float64(time.Since(start).Microseconds())/10) / 100
	return Envelope{Success: &Success{
		VideoID:     id.String(),
		Transcript:  segs,
		Cached:      cached,
		Message:     msg,
		RetrievalMS: ms,
	}}
}
