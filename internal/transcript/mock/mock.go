// Package mock provides an in-memory transcript.Store for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vadscribe/internal/transcript"
)

// Store is a mock implementation of transcript.Store that keeps entries in
// memory.
type Store struct {
	mu sync.Mutex

	// WriteErr, if non-nil, is returned by every WriteEntry call and the
	// entry is not stored. When WriteErrAt is set it is returned only by that
	// call.
	WriteErr error

	// WriteErrAt is the 1-based WriteEntry call that fails with WriteErr.
	// Zero fails every call.
	WriteErrAt int

	// WriteCallCount counts every WriteEntry call, failed ones included.
	WriteCallCount int

	// RecentErr, if non-nil, is returned by Recent.
	RecentErr error

	// Entries holds every successfully written entry in order.
	Entries []transcript.Entry
}

// WriteEntry records e unless WriteErr is set.
func (s *Store) WriteEntry(_ context.Context, e transcript.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WriteCallCount++
	if s.WriteErr != nil && (s.WriteErrAt == 0 || s.WriteErrAt == s.WriteCallCount) {
		return s.WriteErr
	}
	s.Entries = append(s.Entries, e)
	return nil
}

// Recent returns up to limit stored entries for runID, newest last.
func (s *Store) Recent(_ context.Context, runID string, limit int) ([]transcript.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	if limit <= 0 {
		return nil, nil
	}
	var out []transcript.Entry
	for _, e := range s.Entries {
		if runID == "" || e.RunID == runID {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Snapshot returns a copy of Entries. Thread-safe.
func (s *Store) Snapshot() []transcript.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transcript.Entry(nil), s.Entries...)
}

var _ transcript.Store = (*Store)(nil)
