package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/yt-transcripts/internal/transcript"
)

// AsyncUploader handles background remote uploads without blocking the request path.
// Entries are already written locally before being enqueued here.
type AsyncUploader struct {
	remote   entryWriter
	ch       chan *transcript.Entry
	workers  int
	log      zerolog.Logger
	mu       sync.RWMutex // guards stopped against a send on the closed channel
	stopped  bool
	wg       sync.WaitGroup

	uploaded atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

// NewAsyncUploader creates an async uploader with the given buffer size and worker count.
func NewAsyncUploader(remote entryWriter, bufferSize, workers int, log zerolog.Logger) *AsyncUploader {
	if workers < 1 {
		workers = 1
	}
	return &AsyncUploader{
		remote:  remote,
		ch:      make(chan *transcript.Entry, bufferSize),
		workers: workers,
		log:     log.With().Str("component", "async-uploader").Logger(),
	}
}

// Enqueue adds an upload job. Non-blocking: drops with a warning if full or stopped.
// Safe because the entry is already in the local cache.
func (u *AsyncUploader) Enqueue(e *transcript.Entry) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.stopped {
		return
	}
	select {
	case u.ch <- e:
	default:
		u.dropped.Add(1)
		u.log.Warn().Str("video_id", e.VideoID).Msg("async upload queue full, skipping (entry safe in local cache)")
	}
}

// Start launches worker goroutines.
func (u *AsyncUploader) Start() {
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", u.workers).Int("buffer", cap(u.ch)).Msg("async uploader started")
}

// Stop stops accepting jobs and waits for queued uploads to drain.
func (u *AsyncUploader) Stop() {
	u.mu.Lock()
	if !u.stopped {
		u.stopped = true
		close(u.ch)
	}
	u.mu.Unlock()
	u.wg.Wait()
}

// Stats returns upload counters since start.
func (u *AsyncUploader) Stats() (uploaded, failed, dropped int64) {
	return u.uploaded.Load(), u.failed.Load(), u.dropped.Load()
}

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for e := range u.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := u.remote.putEntry(ctx, e); err != nil {
			u.failed.Add(1)
			u.log.Error().Err(err).Str("video_id", e.VideoID).Msg("async upload failed (entry safe in local cache)")
		} else {
			u.uploaded.Add(1)
		}
		cancel()
	}
}
