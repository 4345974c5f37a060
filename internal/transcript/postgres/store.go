package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/vadscribe/internal/transcript"
)

var _ transcript.Store = (*Store)(nil)

// Store writes transcript entries to the transcripts table. All methods are
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a connection pool to the PostgreSQL database at dsn,
// verifies connectivity and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping checks that the database is reachable. It backs the readiness
// check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// WriteEntry implements [transcript.Store]. A zero Timestamp is stored as
// the database's current time.
func (s *Store) WriteEntry(ctx context.Context, e transcript.Entry) error {
	const q = `
		INSERT INTO transcripts
		    (run_id, timestamp, content, segment_index, start_ms, end_ms)
		VALUES ($1, COALESCE($2::timestamptz, now()), $3, $4, $5, $6)`

	var ts *time.Time
	if !e.Timestamp.IsZero() {
		ts = &e.Timestamp
	}
	_, err := s.pool.Exec(ctx, q,
		e.RunID,
		ts,
		e.Content,
		e.SegmentIndex,
		e.Start.Milliseconds(),
		e.End.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("transcript store: write entry: %w", err)
	}
	return nil
}

// Recent implements [transcript.Store].
func (s *Store) Recent(ctx context.Context, runID string, limit int) ([]transcript.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	const q = `
		SELECT run_id, timestamp, content, segment_index, start_ms, end_ms
		FROM (
		    SELECT id, run_id, timestamp, content, segment_index, start_ms, end_ms
		    FROM   transcripts
		    WHERE  $1 = '' OR run_id = $1
		    ORDER  BY id DESC
		    LIMIT  $2
		) recent
		ORDER BY id`

	rows, err := s.pool.Query(ctx, q, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("transcript store: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Entry, error) {
		var (
			e              transcript.Entry
			startMS, endMS int64
		)
		if err := row.Scan(&e.RunID, &e.Timestamp, &e.Content, &e.SegmentIndex, &startMS, &endMS); err != nil {
			return e, err
		}
		e.Start = time.Duration(startMS) * time.Millisecond
		e.End = time.Duration(endMS) * time.Millisecond
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan: %w", err)
	}
	return entries, nil
}
