// Package postgres provides a PostgreSQL-backed transcript.Store.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.WriteEntry(ctx, transcript.Entry{RunID: runID, Content: "hello"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id            BIGSERIAL    PRIMARY KEY,
    run_id        TEXT         NOT NULL DEFAULT '',
    timestamp     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    content       TEXT         NOT NULL,
    segment_index INTEGER      NOT NULL DEFAULT 0,
    start_ms      BIGINT       NOT NULL DEFAULT 0,
    end_ms        BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transcripts_run_id
    ON transcripts (run_id);

CREATE INDEX IF NOT EXISTS idx_transcripts_timestamp
    ON transcripts (timestamp);
`

// Migrate creates the transcripts table and its indexes if they do not
// exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("migrate transcripts: %w", err)
	}
	return nil
}
