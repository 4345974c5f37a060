// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script per-chunk probabilities and inspect the chunks that
// were scored.
//
// Example:
//
//	sess := &mock.Session{Probabilities: []float64{0.1, 0.9, 0.9, 0.2}}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/vadscribe/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Probabilities are returned one per Score call. Once exhausted,
	// Default is returned.
	Probabilities []float64

	// Default is returned after Probabilities runs out.
	Default float64

	// ScoreErr, if non-nil, is returned by the Score call at index ErrAt.
	ScoreErr error
	ErrAt    int

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// Chunks holds a copy of every chunk passed to Score, in order.
	Chunks [][]int16

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Score records the chunk and returns the next scripted probability.
func (s *Session) Score(chunk []int16) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.Chunks)
	s.Chunks = append(s.Chunks, append([]int16(nil), chunk...))
	if s.ScoreErr != nil && idx == s.ErrAt {
		return 0, s.ScoreErr
	}
	if idx < len(s.Probabilities) {
		return s.Probabilities[idx], nil
	}
	return s.Default, nil
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ScoreCallCount returns the number of Score calls. Thread-safe.
func (s *Session) ScoreCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Chunks)
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)
