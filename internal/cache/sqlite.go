package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/snarg/yt-transcripts/internal/transcript"
	"github.com/snarg/yt-transcripts/internal/videoid"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS transcripts (
	video_id   TEXT PRIMARY KEY,
	transcript TEXT NOT NULL,
	fetched_at TEXT NOT NULL
)`

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteStore keeps entries in a single SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id videoid.ID) (*transcript.Entry, error) {
	var body, fetchedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT transcript, fetched_at FROM transcripts WHERE video_id = ?`, id.String(),
	).Scan(&body, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("read", id, err)
	}

	var segs transcript.Transcript
	if err := json.Unmarshal([]byte(body), &segs); err != nil {
		return nil, wrap("decode", id, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, fetchedAt)
	if err != nil {
		return nil, wrap("decode", id, fmt.Errorf("fetched_at %q: %w", fetchedAt, err))
	}
	return &transcript.Entry{VideoID: id.String(), Transcript: segs, FetchedAt: ts}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, id videoid.ID, t transcript.Transcript) error {
	return s.putEntry(ctx, newEntry(id, t))
}

func (s *SQLiteStore) putEntry(ctx context.Context, e *transcript.Entry) error {
	id := videoid.ID(e.VideoID)
	body, err := json.Marshal(e.Transcript)
	if err != nil {
		return wrap("encode", id, err)
	}
	err = retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO transcripts (video_id, transcript, fetched_at) VALUES (?, ?, ?)
			ON CONFLICT(video_id) DO UPDATE SET transcript = excluded.transcript, fetched_at = excluded.fetched_at`,
			e.VideoID, string(body), e.FetchedAt.UTC().Format(time.RFC3339Nano),
		)
		return execErr
	})
	return wrap("write", id, err)
}

func (s *SQLiteStore) Exists(ctx context.Context, id videoid.ID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transcripts WHERE video_id = ?)`, id.String(),
	).Scan(&exists)
	if err != nil {
		return false, wrap("stat", id, err)
	}
	return exists, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id videoid.ID) error {
	err := retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE video_id = ?`, id.String())
		return execErr
	})
	return wrap("delete", id, err)
}

func (s *SQLiteStore) List(ctx context.Context) ([]videoid.ID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT video_id FROM transcripts ORDER BY video_id`)
	if err != nil {
		return nil, wrap("list", "", err)
	}
	defer rows.Close()

	var ids []videoid.ID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, wrap("list", "", err)
		}
		if id, err := videoid.Validate(raw); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, wrap("list", "", rows.Err())
}

func (s *SQLiteStore) Type() string { return "sqlite" }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > busyRetryMaxBackoff {
			delay = busyRetryMaxBackoff
		}
	}
	return lastErr
}
