package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/yt-transcripts/internal/transcript"
	"github.com/snarg/yt-transcripts/internal/videoid"
)

// memRemote is an in-memory remoteStore.
type memRemote struct {
	mu      sync.Mutex
	entries map[videoid.ID]transcript.Entry
	puts    int
	failPut error
	failGet error
	onGet   func() // runs after the remote read, before Get returns
}

func newMemRemote() *memRemote {
	return &memRemote{entries: make(map[videoid.ID]transcript.Entry)}
}

func (m *memRemote) Get(ctx context.Context, id videoid.ID) (*transcript.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, wrap("read", id, m.failGet)
	}
	e, ok := m.entries[id]
	if m.onGet != nil {
		m.onGet()
	}
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memRemote) Put(ctx context.Context, id videoid.ID, t transcript.Transcript) error {
	return m.putEntry(ctx, newEntry(id, t))
}

func (m *memRemote) putEntry(ctx context.Context, e *transcript.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failPut != nil {
		return wrap("write", videoid.ID(e.VideoID), m.failPut)
	}
	m.entries[videoid.ID(e.VideoID)] = *e
	return nil
}

func (m *memRemote) Exists(ctx context.Context, id videoid.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[id]
	return ok, nil
}

func (m *memRemote) Delete(ctx context.Context, id videoid.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *memRemote) List(ctx context.Context) ([]videoid.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []videoid.ID
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memRemote) Type() string { return "mem" }
func (m *memRemote) Close() error { return nil }

func (m *memRemote) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func TestTieredStore_PutWritesBothTiers(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	local := NewLocalStore(t.TempDir())
	s := NewTieredStore(remote, local, nil, zerolog.Nop())
	id := mustID(t, "dQw4w9WgXcQ")

	if err := s.Put(ctx, id, sample); err != nil {
		t.Fatalf("Put: %v", err)
	}
	le, err := local.Get(ctx, id)
	if err != nil || le == nil {
		t.Fatalf("local Get = (%v, %v)", le, err)
	}
	re, _ := remote.Get(ctx, id)
	if re == nil {
		t.Fatal("remote missing entry")
	}
	if !le.FetchedAt.Equal(re.FetchedAt) {
		t.Errorf("FetchedAt differs between tiers: local %v, remote %v", le.FetchedAt, re.FetchedAt)
	}
}

func TestTieredStore_RemoteFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	remote.failPut = errors.New("bucket unreachable")
	s := NewTieredStore(remote, NewLocalStore(t.TempDir()), nil, zerolog.Nop())

	if err := s.Put(ctx, mustID(t, "dQw4w9WgXcQ"), sample); err != nil {
		t.Fatalf("Put error = %v, want nil when only the remote fails", err)
	}
}

func TestTieredStore_LocalFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	s := NewTieredStore(remote, unwritableLocal(t), nil, zerolog.Nop())

	err := s.Put(ctx, mustID(t, "dQw4w9WgXcQ"), sample)
	if !errors.Is(err, ErrCache) {
		t.Fatalf("Put error = %v, want ErrCache", err)
	}
	if remote.putCount() != 0 {
		t.Error("remote should not be written when the local write fails")
	}
}

func TestTieredStore_CacheOnRead(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	local := NewLocalStore(t.TempDir())
	s := NewTieredStore(remote, local, nil, zerolog.Nop())
	id := mustID(t, "dQw4w9WgXcQ")
	fetched := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)
	remote.entries[id] = transcript.Entry{VideoID: id.String(), Transcript: sample, FetchedAt: fetched}

	got, err := s.Get(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("Get = (%v, %v)", got, err)
	}
	cached, err := local.Get(ctx, id)
	if err != nil || cached == nil {
		t.Fatalf("local copy missing after remote hit: (%v, %v)", cached, err)
	}
	if !cached.FetchedAt.Equal(fetched) {
		t.Errorf("local FetchedAt = %v, want %v", cached.FetchedAt, fetched)
	}

	// Second read is served locally even if the remote breaks.
	remote.failGet = errors.New("gone")
	if got, err := s.Get(ctx, id); err != nil || got == nil {
		t.Errorf("second Get = (%v, %v), want local hit", got, err)
	}
}

func TestTieredStore_CacheOnReadKeepsNewerLocal(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	local := NewLocalStore(t.TempDir())
	s := NewTieredStore(remote, local, nil, zerolog.Nop())
	id := mustID(t, "dQw4w9WgXcQ")
	stale := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	remote.entries[id] = transcript.Entry{VideoID: id.String(), Transcript: sample, FetchedAt: stale}

	fresh := transcript.Transcript{{Text: "refreshed", Start: 0, Duration: 1}}
	remote.onGet = func() {
		// A forced refresh writes locally while the remote read is in flight.
		if err := local.Put(ctx, id, fresh); err != nil {
			t.Errorf("local Put: %v", err)
		}
	}

	got, err := s.Get(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("Get = (%v, %v)", got, err)
	}
	if !got.Transcript.Equal(fresh) {
		t.Errorf("Get returned %v, want the refreshed transcript", got.Transcript)
	}
	cached, err := local.Get(ctx, id)
	if err != nil || cached == nil {
		t.Fatalf("local Get = (%v, %v)", cached, err)
	}
	if !cached.Transcript.Equal(fresh) {
		t.Errorf("local entry overwritten with stale remote copy: %v", cached.Transcript)
	}
}

func TestTieredStore_MissInBothTiers(t *testing.T) {
	s := NewTieredStore(newMemRemote(), NewLocalStore(t.TempDir()), nil, zerolog.Nop())
	got, err := s.Get(context.Background(), mustID(t, "dQw4w9WgXcQ"))
	if err != nil || got != nil {
		t.Errorf("Get = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestTieredStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	local := NewLocalStore(t.TempDir())
	s := NewTieredStore(remote, local, nil, zerolog.Nop())

	both := mustID(t, "dQw4w9WgXcQ")
	remoteOnly := mustID(t, "AAAAAAAAAAA")
	if err := s.Put(ctx, both, sample); err != nil {
		t.Fatal(err)
	}
	if err := remote.Put(ctx, remoteOnly, sample); err != nil {
		t.Fatal(err)
	}

	ids, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 || ids[0] != remoteOnly || ids[1] != both {
		t.Errorf("List = %v, want [%s %s]", ids, remoteOnly, both)
	}

	if err := s.Delete(ctx, both); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, both); ok {
		t.Error("entry still exists after Delete")
	}
	if ok, _ := s.Exists(ctx, remoteOnly); !ok {
		t.Error("remote-only entry should be reported by Exists")
	}
}

func TestAsyncUploader_DrainsOnStop(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	local := NewLocalStore(t.TempDir())
	u := NewAsyncUploader(remote, 16, 2, zerolog.Nop())
	u.Start()
	s := NewTieredStore(remote, local, u, zerolog.Nop())

	ids := []string{"AAAAAAAAAAA", "BBBBBBBBBBB", "CCCCCCCCCCC"}
	for _, raw := range ids {
		if err := s.Put(ctx, mustID(t, raw), sample); err != nil {
			t.Fatal(err)
		}
	}
	u.Stop()

	for _, raw := range ids {
		if ok, _ := remote.Exists(ctx, mustID(t, raw)); !ok {
			t.Errorf("%s not uploaded", raw)
		}
	}
	uploaded, failed, dropped := u.Stats()
	if uploaded != 3 || failed != 0 || dropped != 0 {
		t.Errorf("Stats = (%d, %d, %d), want (3, 0, 0)", uploaded, failed, dropped)
	}

	// Enqueue after Stop is a no-op.
	u.Enqueue(newEntry(mustID(t, "DDDDDDDDDDD"), sample))
	u.Stop()
}

func TestAsyncUploader_DropsWhenFull(t *testing.T) {
	u := NewAsyncUploader(newMemRemote(), 1, 1, zerolog.Nop())
	// Not started, so the single buffer slot fills immediately.
	u.Enqueue(newEntry(mustID(t, "AAAAAAAAAAA"), sample))
	u.Enqueue(newEntry(mustID(t, "BBBBBBBBBBB"), sample))
	if _, _, dropped := u.Stats(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestUploadReconciler_UploadsMissing(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	local := NewLocalStore(t.TempDir())
	for _, raw := range []string{"AAAAAAAAAAA", "BBBBBBBBBBB"} {
		if err := local.Put(ctx, mustID(t, raw), sample); err != nil {
			t.Fatal(err)
		}
	}
	if err := remote.Put(ctx, mustID(t, "AAAAAAAAAAA"), sample); err != nil {
		t.Fatal(err)
	}

	r := NewUploadReconciler(local, remote, time.Hour, zerolog.Nop())
	uploaded, failed, checked := r.reconcile(ctx)
	if uploaded != 1 || failed != 0 || checked != 2 {
		t.Errorf("reconcile = (%d, %d, %d), want (1, 0, 2)", uploaded, failed, checked)
	}
	if ok, _ := remote.Exists(ctx, mustID(t, "BBBBBBBBBBB")); !ok {
		t.Error("missing entry was not uploaded")
	}

	remote.failPut = errors.New("denied")
	if err := local.Put(ctx, mustID(t, "CCCCCCCCCCC"), sample); err != nil {
		t.Fatal(err)
	}
	if _, failed, _ := r.reconcile(ctx); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

func TestUploadReconciler_StopBeforeFirstRun(t *testing.T) {
	r := NewUploadReconciler(NewLocalStore(t.TempDir()), newMemRemote(), time.Hour, zerolog.Nop())
	r.Start()
	r.Stop()
}

func TestS3Store_ObjectKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{"no_prefix", "", "transcripts/dQw4w9WgXcQ.json"},
		{"prefix", "prod", "prod/transcripts/dQw4w9WgXcQ.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &S3Store{prefix: tt.prefix}
			key := s.objectKey("dQw4w9WgXcQ")
			if key != tt.want {
				t.Errorf("objectKey = %q, want %q", key, tt.want)
			}
			id, ok := s.idFromKey(key)
			if !ok || id != "dQw4w9WgXcQ" {
				t.Errorf("idFromKey(%q) = (%q, %v)", key, id, ok)
			}
		})
	}

	s := &S3Store{prefix: "prod"}
	for _, key := range []string{
		"prod/transcripts/nested/dQw4w9WgXcQ.json",
		"prod/transcripts/dQw4w9WgXcQ.txt",
		"prod/transcripts/short.json",
		"other/transcripts/dQw4w9WgXcQ.json",
	} {
		if _, ok := s.idFromKey(key); ok {
			t.Errorf("idFromKey(%q) accepted a foreign key", key)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	if isNotFound(nil) {
		t.Error("isNotFound(nil) = true")
	}
	if isNotFound(errors.New("boom")) {
		t.Error("isNotFound(plain error) = true")
	}
}
