package cache

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"
	"github.com/snarg/yt-transcripts/internal/transcript"
	"github.com/snarg/yt-transcripts/internal/videoid"
)

// remoteStore is a backend that can also take a pre-built entry. S3Store
// satisfies it.
type remoteStore interface {
	Store
	entryWriter
}

// TieredStore combines local disk (source of truth) with a remote store (backup/durability).
// Write path: save locally first (never block on the remote), then push to the remote.
// Read path: local first, remote fallback with cache-on-read.
type TieredStore struct {
	remote   remoteStore
	local    *LocalStore
	uploader *AsyncUploader
	log      zerolog.Logger
}

// NewTieredStore creates a tiered local-primary + remote-backup store. A nil
// uploader means remote writes happen inline after the local write.
func NewTieredStore(remote remoteStore, local *LocalStore, uploader *AsyncUploader, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		remote:   remote,
		local:    local,
		uploader: uploader,
		log:      log.With().Str("component", "tiered-store").Logger(),
	}
}

// Get checks local disk first, then falls back to the remote. On a remote
// hit the entry is cached locally with its original FetchedAt.
func (s *TieredStore) Get(ctx context.Context, id videoid.ID) (*transcript.Entry, error) {
	e, err := s.local.Get(ctx, id)
	if err == nil && e != nil {
		return e, nil
	}
	if err != nil {
		s.log.Warn().Err(err).Str("video_id", id.String()).Msg("local cache read failed, trying remote")
	}

	e, err = s.remote.Get(ctx, id)
	if err != nil || e == nil {
		return e, err
	}
	// A Put may have landed locally while the remote read was in flight.
	if cur, _ := s.local.Get(ctx, id); cur != nil && !cur.FetchedAt.Before(e.FetchedAt) {
		return cur, nil
	}
	if cacheErr := s.local.putEntry(ctx, e); cacheErr != nil {
		s.log.Warn().Err(cacheErr).Str("video_id", id.String()).Msg("failed to cache remote entry locally")
	}
	return e, nil
}

// Put writes to local disk first (fatal on failure), then the remote (warning on failure).
// Remote failures are non-fatal; the upload reconciler will catch them.
func (s *TieredStore) Put(ctx context.Context, id videoid.ID, t transcript.Transcript) error {
	e := newEntry(id, t)
	if err := s.local.putEntry(ctx, e); err != nil {
		return err
	}
	if s.uploader != nil {
		s.uploader.Enqueue(e)
		return nil
	}
	if err := s.remote.putEntry(ctx, e); err != nil {
		s.log.Warn().Err(err).Str("video_id", id.String()).Msg("remote backup write failed, reconciler will retry")
	}
	return nil
}

func (s *TieredStore) Exists(ctx context.Context, id videoid.ID) (bool, error) {
	if ok, err := s.local.Exists(ctx, id); err == nil && ok {
		return true, nil
	}
	return s.remote.Exists(ctx, id)
}

// Delete removes the entry from both tiers.
func (s *TieredStore) Delete(ctx context.Context, id videoid.ID) error {
	return errors.Join(s.local.Delete(ctx, id), s.remote.Delete(ctx, id))
}

// List returns the union of both tiers.
func (s *TieredStore) List(ctx context.Context) ([]videoid.ID, error) {
	localIDs, err := s.local.List(ctx)
	if err != nil {
		return nil, err
	}
	remoteIDs, err := s.remote.List(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[videoid.ID]bool, len(localIDs)+len(remoteIDs))
	var ids []videoid.ID
	for _, id := range append(localIDs, remoteIDs...) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *TieredStore) Type() string { return "tiered" }

func (s *TieredStore) Close() error {
	return errors.Join(s.local.Close(), s.remote.Close())
}

// Local returns the local tier (used by the reconciler).
func (s *TieredStore) Local() *LocalStore { return s.local }
