// Package transcript defines the persisted form of transcribed speech and
// the Store that records it.
//
// Every piece a transcriber produces becomes one Entry: the wall-clock time
// it was recorded, its text, the segment it came from and its offsets within
// that segment. Entries from one process run share a RunID so that
// concurrent or successive runs writing to the same table can be told apart.
//
// Text shown to the user and text written to the store may differ: the
// ScriptNormalizer converts Chinese script variants for storage only.
package transcript

import (
	"context"
	"time"
)

// Entry is one stored transcript row.
type Entry struct {
	// RunID identifies the process run that produced the entry.
	RunID string

	// Timestamp is the wall-clock time at which the text was produced.
	Timestamp time.Time

	// Content is the stored (possibly script-normalized) text.
	Content string

	// SegmentIndex is the 1-based index of the speech segment the text came
	// from.
	SegmentIndex int

	// Start and End are the offsets of the text within its segment.
	Start time.Duration
	End   time.Duration
}

// Store persists transcript entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// WriteEntry appends e to the store.
	WriteEntry(ctx context.Context, e Entry) error

	// Recent returns up to limit entries for runID, newest last. An empty
	// runID matches every run.
	Recent(ctx context.Context, runID string, limit int) ([]Entry, error)
}
