package cache

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/snarg/yt-transcripts/internal/database"
	"github.com/snarg/yt-transcripts/internal/transcript"
	"github.com/snarg/yt-transcripts/internal/videoid"
)

// PostgresStore keeps entries in the transcripts table. The transcript is
// stored as jsonb in the same shape as the local document.
type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, id videoid.ID) (*transcript.Entry, error) {
	var body []byte
	e := &transcript.Entry{VideoID: id.String()}
	err := s.db.Pool.QueryRow(ctx,
		`SELECT transcript, fetched_at FROM transcripts WHERE video_id = $1`, id.String(),
	).Scan(&body, &e.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("read", id, err)
	}
	if err := json.Unmarshal(body, &e.Transcript); err != nil {
		return nil, wrap("decode", id, err)
	}
	if e.Transcript == nil {
		e.Transcript = transcript.Transcript{}
	}
	e.FetchedAt = e.FetchedAt.UTC()
	return e, nil
}

func (s *PostgresStore) Put(ctx context.Context, id videoid.ID, t transcript.Transcript) error {
	return s.putEntry(ctx, newEntry(id, t))
}

func (s *PostgresStore) putEntry(ctx context.Context, e *transcript.Entry) error {
	id := videoid.ID(e.VideoID)
	segs := e.Transcript
	if segs == nil {
		segs = transcript.Transcript{}
	}
	body, err := json.Marshal(segs)
	if err != nil {
		return wrap("encode", id, err)
	}
	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO transcripts (video_id, transcript, fetched_at, segment_count)
		VALUES ($1, $2::jsonb, $3, $4)
		ON CONFLICT (video_id) DO UPDATE SET
			transcript    = EXCLUDED.transcript,
			fetched_at    = EXCLUDED.fetched_at,
			segment_count = EXCLUDED.segment_count`,
		e.VideoID, string(body), e.FetchedAt, len(segs),
	)
	return wrap("write", id, err)
}

func (s *PostgresStore) Exists(ctx context.Context, id videoid.ID) (bool, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transcripts WHERE video_id = $1)`, id.String(),
	).Scan(&exists)
	if err != nil {
		return false, wrap("stat", id, err)
	}
	return exists, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id videoid.ID) error {
	_, err := s.db.Pool.Exec(ctx, `DELETE FROM transcripts WHERE video_id = $1`, id.String())
	return wrap("delete", id, err)
}

func (s *PostgresStore) List(ctx context.Context) ([]videoid.ID, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT video_id FROM transcripts ORDER BY video_id`)
	if err != nil {
		return nil, wrap("list", "", err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrap("list", "", err)
	}
	ids := make([]videoid.ID, 0, len(raw))
	for _, r := range raw {
		if id, err := videoid.Validate(r); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *PostgresStore) Type() string { return "postgres" }

// DB exposes the pool for health checks and pool metrics.
func (s *PostgresStore) DB() *database.DB { return s.db }

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
