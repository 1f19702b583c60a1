package database

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type migration struct {
	name  string
	sql   string
	check string // returns true when the step is already present
}

// migrations run in order. Every statement is guarded with IF NOT EXISTS.
var migrations = []migration{
	{
		name: "create transcripts",
		sql: `CREATE TABLE IF NOT EXISTS transcripts (
			video_id   text PRIMARY KEY,
			transcript jsonb NOT NULL,
			fetched_at timestamptz NOT NULL DEFAULT now()
		)`,
		check: `SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'transcripts')`,
	},
	{
		name:  "add transcripts.segment_count",
		sql:   `ALTER TABLE transcripts ADD COLUMN IF NOT EXISTS segment_count int NOT NULL DEFAULT 0`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'transcripts' AND column_name = 'segment_count')`,
	},
	{
		name:  "add transcripts fetched_at index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_transcripts_fetched_at ON transcripts (fetched_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_transcripts_fetched_at')`,
	},
}

// migrateLockID keys the advisory lock held while migrations run, so several
// instances starting against one database apply each step once.
const migrateLockID int64 = 0x79745f7472616e73 // "yt_trans"

// Migrate brings the schema up to date. Each step is skipped when its check
// query reports it present. The first failing step stops the run with a
// *MigrationError, which callers treat as fatal.
func (db *DB) Migrate(ctx context.Context) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("take migration lock: %w", err)
	}
	defer conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrateLockID)

	pending := make([]migration, 0, len(migrations))
	for _, m := range migrations {
		var present bool
		if err := conn.QueryRow(ctx, m.check).Scan(&present); err == nil && present {
			continue
		}
		pending = append(pending, m)
	}
	if len(pending) == 0 {
		db.log.Debug().Int("migrations", len(migrations)).Msg("schema up to date")
		return nil
	}

	for i, m := range pending {
		start := time.Now()
		if _, err := conn.Exec(ctx, m.sql); err != nil {
			return &MigrationError{failed: m, pending: pending[i:], err: err}
		}
		db.log.Info().
			Str("migration", m.name).
			Dur("took", time.Since(start)).
			Msg("schema migration applied")
	}
	db.log.Info().Int("applied", len(pending)).Msg("schema migrations complete")
	return nil
}

// MigrationError reports the failed step and renders the SQL an operator can
// run by hand to finish the remaining steps.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	fmt.Fprintf(&b, "%d step(s) left. Apply them as a role that owns the transcripts table:\n\n", len(e.pending))
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  -- %s\n  %s;\n", m.name, m.sql)
	}
	b.WriteString("\nThen restart yt-transcripts.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
