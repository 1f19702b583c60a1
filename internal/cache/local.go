package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/snarg/yt-transcripts/internal/transcript"
	"github.com/snarg/yt-transcripts/internal/videoid"
)

const (
	entryExt      = ".json"
	tmpPrefix     = ".entry-"
	tmpSuffix     = ".tmp"
	localFileMode = 0o644
)

// LocalStore keeps one JSON document per video ID under a directory:
// {dir}/{id}.json
type LocalStore struct {
	dir string
}

// NewLocalStore creates a filesystem-backed store. The directory is created on
// first write.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

// Path returns the document path for id.
func (s *LocalStore) Path(id videoid.ID) string {
	return filepath.Join(s.dir, id.String()+entryExt)
}

func (s *LocalStore) Get(ctx context.Context, id videoid.ID) (*transcript.Entry, error) {
	path := s.Path(id)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("read", id, err)
	}

	entry, err := transcript.DecodeEntry(data)
	if err != nil {
		return nil, wrap("decode", id, err)
	}
	if entry.VideoID == "" {
		entry.VideoID = id.String()
	}
	if entry.FetchedAt.IsZero() {
		// Legacy documents carry no timestamp; the file mtime is the best we have.
		if info, statErr := os.Stat(path); statErr == nil {
			entry.FetchedAt = info.ModTime().UTC()
		}
	}
	return entry, nil
}

func (s *LocalStore) Put(ctx context.Context, id videoid.ID, t transcript.Transcript) error {
	return s.putEntry(ctx, newEntry(id, t))
}

func (s *LocalStore) putEntry(ctx context.Context, e *transcript.Entry) error {
	id := videoid.ID(e.VideoID)
	data, err := transcript.EncodeEntry(e)
	if err != nil {
		return wrap("encode", id, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return wrap("write", id, fmt.Errorf("mkdir %s: %w", s.dir, err))
	}

	// Atomic write: temp file + rename
	tmp, err := os.CreateTemp(s.dir, tmpPrefix+"*"+tmpSuffix)
	if err != nil {
		return wrap("write", id, fmt.Errorf("create temp: %w", err))
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return wrap("write", id, fmt.Errorf("write: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return wrap("write", id, fmt.Errorf("close: %w", err))
	}
	if err := os.Chmod(tmpPath, localFileMode); err != nil {
		os.Remove(tmpPath)
		return wrap("write", id, fmt.Errorf("chmod: %w", err))
	}
	if err := os.Rename(tmpPath, s.Path(id)); err != nil {
		os.Remove(tmpPath)
		return wrap("write", id, fmt.Errorf("rename: %w", err))
	}
	return nil
}

func (s *LocalStore) Exists(ctx context.Context, id videoid.ID) (bool, error) {
	_, err := os.Stat(s.Path(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, wrap("stat", id, err)
}

func (s *LocalStore) Delete(ctx context.Context, id videoid.ID) error {
	err := os.Remove(s.Path(id))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return wrap("delete", id, err)
}

// List returns IDs of well-formed entry files, sorted. Temp files and files
// whose names are not valid IDs (e.g. flattened text exports) are skipped.
func (s *LocalStore) List(ctx context.Context) ([]videoid.ID, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("list", "", err)
	}

	var ids []videoid.ID
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tmpPrefix) {
			continue
		}
		base, ok := strings.CutSuffix(name, entryExt)
		if !ok {
			continue
		}
		id, err := videoid.Validate(base)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *LocalStore) Type() string { return "local" }

func (s *LocalStore) Close() error { return nil }

// Dir returns the cache directory path.
func (s *LocalStore) Dir() string { return s.dir }
