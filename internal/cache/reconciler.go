package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// UploadReconciler scans the local cache for entries missing from the remote
// and re-uploads them. Handles failed/dropped async uploads and crash recovery.
type UploadReconciler struct {
	local        *LocalStore
	remote       remoteStore
	interval     time.Duration
	initialDelay time.Duration
	log          zerolog.Logger
	stop         chan struct{}
	done         chan struct{}
}

// NewUploadReconciler creates a reconciler that checks for missing remote uploads.
func NewUploadReconciler(local *LocalStore, remote remoteStore, interval time.Duration, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		local:        local,
		remote:       remote,
		interval:     interval,
		initialDelay: time.Minute,
		log:          log.With().Str("component", "upload-reconciler").Logger(),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }

func (r *UploadReconciler) Stop() {
	close(r.stop)
	<-r.done
}

func (r *UploadReconciler) loop() {
	defer close(r.done)

	// Delay first run to let startup uploads settle
	select {
	case <-time.After(r.initialDelay):
	case <-r.stop:
		return
	}

	r.run()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.run()
		case <-r.stop:
			return
		}
	}
}

func (r *UploadReconciler) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	uploaded, failed, checked := r.reconcile(ctx)
	if uploaded > 0 || failed > 0 {
		r.log.Info().
			Int("uploaded", uploaded).
			Int("failed", failed).
			Int("checked", checked).
			Msg("reconcile complete")
	}
}

func (r *UploadReconciler) reconcile(ctx context.Context) (uploaded, failed, checked int) {
	ids, err := r.local.List(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("reconcile: list local cache failed")
		return 0, 0, 0
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		checked++

		headCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		exists, err := r.remote.Exists(headCtx, id)
		cancel()
		if err == nil && exists {
			continue
		}

		e, err := r.local.Get(ctx, id)
		if err != nil || e == nil {
			continue
		}

		putCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := r.remote.putEntry(putCtx, e); err != nil {
			r.log.Warn().Err(err).Str("video_id", id.String()).Msg("reconcile upload failed")
			failed++
		} else {
			uploaded++
		}
		cancel()
	}
	return
}
