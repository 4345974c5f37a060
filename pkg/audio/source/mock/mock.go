// Package mock provides a scripted source.Source for tests.
//
// Example:
//
//	src := &mock.Source{Chunks: [][]int16{silence, speech, speech}}
//	chunk, err := src.Next(ctx) // silence, speech, speech, then io.EOF
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/vadscribe/pkg/audio/source"
)

// Source replays Chunks in order and then reports io.EOF.
type Source struct {
	mu sync.Mutex

	// Chunks are returned one per Next call.
	Chunks [][]int16

	// Err, if non-nil, is returned by the Next call at index ErrAt instead
	// of a chunk.
	Err   error
	ErrAt int

	// NextCallCount is the number of times Next was called.
	NextCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	pos int
}

// Next implements source.Source.
func (s *Source) Next(ctx context.Context) ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.NextCallCount
	s.NextCallCount++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil && idx == s.ErrAt {
		return nil, s.Err
	}
	if s.pos >= len(s.Chunks) {
		return nil, io.EOF
	}
	c := s.Chunks[s.pos]
	s.pos++
	return c, nil
}

// Close implements source.Source.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

var _ source.Source = (*Source)(nil)
